package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sonicgenius/api/internal/analysis"
	"github.com/sonicgenius/api/internal/model"
)

// Error codes
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeAnalysisInProgress = "ANALYSIS_IN_PROGRESS"
	CodeJobFailed          = "JOB_FAILED"
	CodeServiceError       = "SERVICE_ERROR"
	CodeInputReadError     = "INPUT_READ_ERROR"
	CodeAIError            = "AI_ERROR"
	CodeEmptyResponse      = "EMPTY_RESPONSE"
	CodeMalformedResponse  = "MALFORMED_RESPONSE"
	CodeSchemaViolation    = "SCHEMA_VIOLATION"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, CodeForbidden, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, CodeConflict, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func AnalysisInProgress(c *fiber.Ctx) error {
	return Error(c, fiber.StatusConflict, CodeAnalysisInProgress, "An analysis is already running", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func AIError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadGateway, CodeAIError, message, nil)
}

// StatusFor maps an analysis failure to an HTTP status and error code.
// Errors that are not analysis errors map to 500.
func StatusFor(err error) (int, string) {
	switch analysis.KindOf(err) {
	case analysis.KindInvalidRequest:
		return fiber.StatusBadRequest, CodeValidationError
	case analysis.KindInputReadFailure:
		return fiber.StatusBadRequest, CodeInputReadError
	case analysis.KindTransportFailure:
		return fiber.StatusBadGateway, CodeAIError
	case analysis.KindEmptyResponse:
		return fiber.StatusBadGateway, CodeEmptyResponse
	case analysis.KindMalformedResponse:
		return fiber.StatusBadGateway, CodeMalformedResponse
	case analysis.KindSchemaViolation:
		return fiber.StatusBadGateway, CodeSchemaViolation
	default:
		return fiber.StatusInternalServerError, CodeServiceError
	}
}

// AnalysisError writes the envelope for a failed analysis
func AnalysisError(c *fiber.Ctx, err error, mode model.AnalysisMode) error {
	status, code := StatusFor(err)

	var details interface{}
	var ae *analysis.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case analysis.KindSchemaViolation:
			details = fiber.Map{"fields": ae.Fields}
		case analysis.KindInvalidRequest:
			if ae.Field != "" {
				details = fiber.Map{"field": ae.Field}
			}
		}
	}

	return Error(c, status, code, analysis.Describe(err, mode), details)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
