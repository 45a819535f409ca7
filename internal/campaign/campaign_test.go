package campaign_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctlCampaign "github.com/gdbrns/go-whatsapp-campaign-engine/internal/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/router"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/store"
)

type stubChannel struct {
	mu    sync.Mutex
	sent  []string
	media []campaign.Media
}

func (s *stubChannel) SendText(_ context.Context, recipient string, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, recipient)
	return "id", nil
}

func (s *stubChannel) SendMedia(_ context.Context, recipient string, _ string, media campaign.Media) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, recipient)
	s.media = append(s.media, media)
	return "id", nil
}

func (s *stubChannel) IsReady() bool { return true }

func (s *stubChannel) GetContacts(context.Context) ([]campaign.Contact, error) {
	return []campaign.Contact{{ID: "628111111111"}, {ID: "628222222222"}}, nil
}

func (s *stubChannel) GetGroupParticipants(_ context.Context, groupID string) ([]campaign.Contact, error) {
	return nil, &campaign.NotFoundError{Resource: "whatsapp group", ID: groupID}
}

func (s *stubChannel) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type fixture struct {
	app     *fiber.App
	svc     *campaign.Service
	channel *stubChannel
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	campaigns := store.NewMemoryCampaignStore()
	groups := store.NewMemoryContactGroupStore()
	ch := &stubChannel{}
	runner := campaign.NewRunner(campaigns, ch, nil,
		campaign.WithInterval(func(int, int) time.Duration { return time.Millisecond }))
	svc := campaign.NewService(campaigns, campaign.NewTargetResolver(groups, ch), runner)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})

	dir := t.TempDir()
	h := ctlCampaign.New(svc, dir)
	app := fiber.New(fiber.Config{ErrorHandler: router.HttpErrorHandler})
	app.Post("/campaigns", h.Create)
	app.Get("/campaigns", h.List)
	app.Get("/campaigns/:id", h.Get)
	app.Delete("/campaigns/:id", h.Delete)
	app.Post("/campaigns/:id/execute", h.Execute)
	app.Post("/campaigns/:id/pause", h.Pause)
	app.Post("/campaigns/:id/resume", h.Resume)
	app.Post("/campaigns/:id/restart", h.Restart)

	return &fixture{app: app, svc: svc, channel: ch, dir: dir}
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, target, bytes.NewReader(raw))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return f.send(t, req)
}

func (f *fixture) send(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func draft(t *testing.T, f *fixture) string {
	t.Helper()
	code, body := f.do(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"name":         "Promo",
		"message":      "Hello there",
		"targetType":   "local_contacts",
		"scheduleType": "immediate",
		"minInterval":  1,
		"maxInterval":  2,
	})
	require.Equal(t, http.StatusCreated, code, body)
	created := body["campaign"].(map[string]interface{})
	return created["id"].(string)
}

func TestCreate_JSON(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"name":         "  Promo  ",
		"message":      "Hello there",
		"targetType":   "local_contacts",
		"scheduleType": "daytime",
		"minInterval":  5,
		"maxInterval":  10,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, body["success"])

	created := body["campaign"].(map[string]interface{})
	assert.Equal(t, "Promo", created["name"])
	assert.Equal(t, "draft", created["status"])
	assert.Equal(t, float64(2), created["totalTargets"])
	assert.NotEmpty(t, created["scheduleHours"])
}

func TestCreate_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"name":         "Broken",
		"targetType":   "contact_group",
		"scheduleType": "immediate",
		"minInterval":  10,
		"maxInterval":  5,
	})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])

	fields := body["data"].(map[string]interface{})
	assert.Contains(t, fields, "message")
	assert.Contains(t, fields, "contactGroupId")
	assert.Contains(t, fields, "maxInterval")
}

func TestCreate_UnknownContactGroup(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"name":           "Group",
		"message":        "hi",
		"targetType":     "contact_group",
		"contactGroupId": "missing",
		"scheduleType":   "immediate",
		"minInterval":    1,
		"maxInterval":    1,
	})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreate_MultipartStoresMedia(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"name":         "Flyer",
		"message":      "See attached",
		"targetType":   "local_contacts",
		"scheduleType": "scheduled",
		"timePost":     time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"minInterval":  "1",
		"maxInterval":  "3",
	} {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("media", "flyer.PNG")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/campaigns", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	code, body := f.send(t, req)
	require.Equal(t, http.StatusCreated, code, body)

	created := body["campaign"].(map[string]interface{})
	assert.Equal(t, "image", created["mediaType"])
	assert.NotEmpty(t, created["timePost"])

	mediaURL := created["mediaUrl"].(string)
	require.True(t, strings.HasPrefix(mediaURL, "/media/"), mediaURL)
	assert.True(t, strings.HasSuffix(mediaURL, ".png"))

	data, err := os.ReadFile(filepath.Join(f.dir, strings.TrimPrefix(mediaURL, "/media/")))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG\r\n\x1a\nfake", string(data))
}

func TestCreate_MultipartBadNumber(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("name", "x"))
	require.NoError(t, w.WriteField("minInterval", "soon"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/campaigns", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	code, body := f.send(t, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "minInterval must be a number", body["message"])
}

func TestCreate_RejectsBadMediaURL(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"name":         "Media",
		"message":      "hi",
		"targetType":   "local_contacts",
		"scheduleType": "immediate",
		"mediaUrl":     "not a url",
		"mediaType":    "image",
		"minInterval":  1,
		"maxInterval":  1,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["data"], "mediaUrl")
}

func TestExecute_SendsToEveryTarget(t *testing.T) {
	f := newFixture(t)
	id := draft(t, f)

	code, body := f.do(t, http.MethodPost, "/campaigns/"+id+"/execute", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["totalTargets"])
	assert.Equal(t, "less than 1m", body["estimatedDuration"])

	require.NoError(t, f.svc.Runner().Wait(context.Background(), id))
	assert.Equal(t, []string{"628111111111", "628222222222"}, f.channel.Sent())

	code, body = f.do(t, http.MethodGet, "/campaigns/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	got := body["campaign"].(map[string]interface{})
	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, float64(2), got["sentCount"])

	code, _ = f.do(t, http.MethodPost, "/campaigns/"+id+"/execute", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestRestart_ResetsToDraft(t *testing.T) {
	f := newFixture(t)
	id := draft(t, f)

	code, _ := f.do(t, http.MethodPost, "/campaigns/"+id+"/execute", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, f.svc.Runner().Wait(context.Background(), id))

	code, body := f.do(t, http.MethodPost, "/campaigns/"+id+"/restart", nil)
	require.Equal(t, http.StatusOK, code)
	got := body["campaign"].(map[string]interface{})
	assert.Equal(t, "draft", got["status"])
	assert.Equal(t, float64(0), got["sentCount"])
	assert.Nil(t, got["lastExecuted"])
}

func TestPauseResume_NoOpOutsideTheirStates(t *testing.T) {
	f := newFixture(t)
	id := draft(t, f)

	code, body := f.do(t, http.MethodPost, "/campaigns/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "draft", body["campaign"].(map[string]interface{})["status"])

	code, body = f.do(t, http.MethodPost, "/campaigns/"+id+"/resume", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "draft", body["campaign"].(map[string]interface{})["status"])
}

func TestUnknownCampaign(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/campaigns/nope"},
		{http.MethodPost, "/campaigns/nope/execute"},
		{http.MethodPost, "/campaigns/nope/pause"},
		{http.MethodPost, "/campaigns/nope/resume"},
		{http.MethodPost, "/campaigns/nope/restart"},
		{http.MethodDelete, "/campaigns/nope"},
	} {
		code, body := f.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, code, tc.path)
		assert.Equal(t, "campaign nope not found", body["message"], tc.path)
	}
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/campaigns", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["campaigns"])

	id := draft(t, f)
	_, body = f.do(t, http.MethodGet, "/campaigns", nil)
	assert.Len(t, body["campaigns"], 1)

	code, body = f.do(t, http.MethodDelete, "/campaigns/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, _ = f.do(t, http.MethodGet, "/campaigns/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
