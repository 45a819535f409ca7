package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

func newTestApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: HttpErrorHandler})
	app.Use(RecoveryMiddleware())
	app.Use(HttpRequestID())
	app.Use(HttpRealIP())
	return app
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestResponseError_MapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", &campaign.NotFoundError{Resource: "campaign", ID: "x"}, http.StatusNotFound},
		{"state", &campaign.StateError{ID: "x", Op: "execute", Status: campaign.StatusRunning}, http.StatusConflict},
		{"wrapped state", fmt.Errorf("execute: %w", &campaign.StateError{ID: "x", Op: "execute", Err: campaign.ErrAlreadyRunning}), http.StatusConflict},
		{"validation", &campaign.ValidationError{Err: errors.New("name: cannot be blank.")}, http.StatusBadRequest},
		{"fiber", fiber.NewError(http.StatusRequestEntityTooLarge, "too big"), http.StatusRequestEntityTooLarge},
		{"channel down", fmt.Errorf("list contacts: %w", campaign.ErrChannelNotReady), http.StatusServiceUnavailable},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp()
			app.Get("/", func(c *fiber.Ctx) error { return ResponseError(c, tc.err) })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tc.code, resp.StatusCode)

			body := decode(t, resp)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, float64(tc.code), body["code"])
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestResponseError_ValidationFields(t *testing.T) {
	app := newTestApp()
	app.Get("/", func(c *fiber.Ctx) error {
		return ResponseError(c, &campaign.ValidationError{Err: validation.Errors{
			"name": errors.New("cannot be blank"),
		}})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode(t, resp)
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "cannot be blank", data["name"])
}

func TestHttpErrorHandler_ReturnedError(t *testing.T) {
	app := newTestApp()
	app.Get("/missing", func(*fiber.Ctx) error {
		return &campaign.NotFoundError{Resource: "campaign", ID: "gone"}
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "campaign gone not found", decode(t, resp)["message"])
}

func TestResponseSuccessWith_Flattens(t *testing.T) {
	app := newTestApp()
	app.Post("/", func(c *fiber.Ctx) error {
		return ResponseSuccessWith(c, fiber.Map{"totalTargets": 5, "success": "ignored"})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(5), body["totalTargets"])
}

func TestRecoveryMiddleware(t *testing.T) {
	app := newTestApp()
	app.Get("/panic", func(*fiber.Ctx) error { panic("kaboom") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "kaboom", body["message"])
}

func TestHttpRequestID(t *testing.T) {
	app := newTestApp()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("request_id").(string))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.Header.Get(RequestIDHeader))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Len(t, resp.Header.Get(RequestIDHeader), 36)
}

func TestHttpRealIP(t *testing.T) {
	app := newTestApp()
	app.Get("/", func(c *fiber.Ctx) error {
		ip, _ := c.Locals("remote_ip").(string)
		return c.SendString(ip)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "203.0.113.9", string(body))
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "", NormalizeBaseURL(""))
	assert.Equal(t, "", NormalizeBaseURL("/"))
	assert.Equal(t, "/api", NormalizeBaseURL("api/"))
	assert.Equal(t, "/api/v1", NormalizeBaseURL(" /api/v1/ "))
}

func TestParseBodyLimit(t *testing.T) {
	assert.Equal(t, 8*1024*1024, parseBodyLimit(""))
	assert.Equal(t, 8*1024*1024, parseBodyLimit("lots"))
	assert.Equal(t, 512*1024, parseBodyLimit("512K"))
	assert.Equal(t, 2*1024*1024*1024, parseBodyLimit("2g"))
}
