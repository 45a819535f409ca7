package router

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
)

type Response struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// statusCoder is implemented by domain errors that know their HTTP status.
type statusCoder interface {
	StatusCode() int
}

func logSuccess(c *fiber.Ctx, code int, message string) {
	statusMessage := http.StatusText(code)

	if statusMessage == message || c.OriginalURL() == BaseURL {
		log.Print(c).Info(fmt.Sprintf("%d %v", code, statusMessage))
	} else {
		log.Print(c).Info(fmt.Sprintf("%d %v", code, message))
	}
}

func logError(c *fiber.Ctx, code int, message string) {
	statusMessage := http.StatusText(code)
	entry := log.Print(c)
	if id, ok := c.Locals("request_id").(string); ok && id != "" {
		entry = entry.WithField("request_id", id)
	}

	if code >= http.StatusInternalServerError {
		entry.Error(fmt.Sprintf("%d %v", code, message))
		return
	}
	if statusMessage == message {
		entry.Warn(fmt.Sprintf("%d %v", code, statusMessage))
	} else {
		entry.Warn(fmt.Sprintf("%d %v", code, message))
	}
}

func ResponseSuccess(c *fiber.Ctx, message string) error {
	response := Response{
		Success: true,
		Code:    http.StatusOK,
	}

	if strings.TrimSpace(message) == "" {
		message = http.StatusText(response.Code)
	}
	response.Message = message

	logSuccess(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

func ResponseSuccessWithData(c *fiber.Ctx, message string, data interface{}) error {
	response := Response{
		Success: true,
		Code:    http.StatusOK,
		Data:    data,
	}

	if strings.TrimSpace(message) == "" {
		message = http.StatusText(response.Code)
	}
	response.Message = message

	logSuccess(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

// ResponseSuccessWith writes fields at the top level next to "success".
func ResponseSuccessWith(c *fiber.Ctx, fields fiber.Map) error {
	return responseFlat(c, http.StatusOK, fields)
}

func ResponseCreatedWith(c *fiber.Ctx, fields fiber.Map) error {
	return responseFlat(c, http.StatusCreated, fields)
}

func responseFlat(c *fiber.Ctx, code int, fields fiber.Map) error {
	body := fiber.Map{}
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true

	logSuccess(c, code, http.StatusText(code))
	return c.Status(code).JSON(body)
}

func ResponseNoContent(c *fiber.Ctx) error {
	return c.SendStatus(http.StatusNoContent)
}

func responseFailure(c *fiber.Ctx, code int, message string, data interface{}) error {
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(code)
	}
	response := Response{
		Success: false,
		Code:    code,
		Message: message,
		Data:    data,
		Error:   message,
	}

	logError(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

func ResponseBadRequest(c *fiber.Ctx, message string) error {
	return responseFailure(c, http.StatusBadRequest, message, nil)
}

func ResponseConflict(c *fiber.Ctx, message string) error {
	return responseFailure(c, http.StatusConflict, message, nil)
}

func ResponseInternalError(c *fiber.Ctx, message string) error {
	return responseFailure(c, http.StatusInternalServerError, message, nil)
}

func ResponseBadGateway(c *fiber.Ctx, message string) error {
	return responseFailure(c, http.StatusBadGateway, message, nil)
}

func ResponseServiceUnavailable(c *fiber.Ctx, message string) error {
	return responseFailure(c, http.StatusServiceUnavailable, message, nil)
}

// ResponseError picks the status from the error chain. Field-level
// validation failures are returned under "data".
func ResponseError(c *fiber.Ctx, err error) error {
	if err == nil {
		return ResponseInternalError(c, "")
	}

	code := http.StatusInternalServerError
	var coder statusCoder
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
	case errors.As(err, &coder):
		code = coder.StatusCode()
	case errors.Is(err, campaign.ErrChannelNotReady):
		code = http.StatusServiceUnavailable
	}

	var fields validation.Errors
	if errors.As(err, &fields) {
		return responseFailure(c, code, err.Error(), fields)
	}
	return responseFailure(c, code, err.Error(), nil)
}
