package response

import (
	"apolice-backend/internal/pkg/apperrors"

	"github.com/gofiber/fiber/v2"
)

// SuccessBody wraps every successful API payload.
type SuccessBody struct {
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data"`
	Metadata interface{} `json:"metadata,omitempty"`
}

// ErrorBody wraps every failed API call.
type ErrorBody struct {
	Status string      `json:"status"`
	Error  ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
	Details    interface{} `json:"details,omitempty"`
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

func send(c *fiber.Ctx, code int, message string, data, metadata interface{}) error {
	if metadata == nil {
		metadata = fiber.Map{}
	}
	return c.Status(code).JSON(SuccessBody{Status: statusSuccess, Message: message, Data: data, Metadata: metadata})
}

// Success answers 200 with data and optional metadata (counts, filters).
func Success(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	return send(c, fiber.StatusOK, message, data, metadata)
}

// SuccessCreated answers 201.
func SuccessCreated(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	return send(c, fiber.StatusCreated, message, data, metadata)
}

func Error(c *fiber.Ctx, message string, statusCode int, details interface{}) error {
	if details == nil {
		details = fiber.Map{}
	}
	return c.Status(statusCode).JSON(ErrorBody{
		Status: statusError,
		Error:  ErrorDetail{Message: message, StatusCode: statusCode, Details: details},
	})
}

// Problem renders a service error with its status, public message and kind.
func Problem(c *fiber.Ctx, err error) error {
	return Error(c, apperrors.PublicMessage(err), apperrors.HTTPStatus(err), fiber.Map{"kind": apperrors.KindOf(err).String()})
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, message, fiber.StatusUnauthorized, nil)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, message, fiber.StatusForbidden, nil)
}
