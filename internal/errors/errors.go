package errors

import (
	"net/http"
	"os"
	"strings"

	"codeberg.org/lessonforge/server/internal/logger"
	"github.com/gin-gonic/gin"
)

// Error Handling Guidelines:
//
// For HTTP REST handlers:
//   - Use errors.FromError() for anything coming back from a service; it maps the
//     domain taxonomy (quota, blocked, outage, configuration) onto status codes
//   - Use errors.BadRequest(), errors.NotFound(), etc. for request-level problems
//   - Never call both logger.ErrorErr() and errors.InternalError() for the same error
//
// For services/internal packages:
//   - Return wrapped errors with context using fmt.Errorf("context: %w", err)
//   - Wrap the taxonomy sentinels (ErrQuotaExceeded, ErrContentBlocked, ...) so the
//     handler can classify them
//   - Do not log errors that are returned (avoid double logging); log only what
//     is recovered locally (retries, skipped candidates, storage fallbacks)

// standard error codes
const (
	CodeForbidden           = "forbidden"
	CodeNotFound            = "not_found"
	CodeValidationError     = "validation_error"
	CodeServerError         = "server_error"
	CodeBadRequest          = "bad_request"
	CodeTooManyRequests     = "too_many_requests"
	CodeQuotaExceeded       = "quota_exceeded"
	CodeContentBlocked      = "content_blocked"
	CodeProviderUnavailable = "provider_unavailable"
	CodeConfiguration       = "configuration_error"
	CodeTimeout             = "timeout"
	CodeImageNotFound       = "image_not_found"
)

// returns a 403 forbidden error
func Forbidden(c *gin.Context, message string) {
	if message == "" {
		message = "permission denied"
	}

	c.JSON(http.StatusForbidden, ErrorResponse{
		Error:   CodeForbidden,
		Message: message,
	})
}

// returns a 404 not found error
func NotFound(c *gin.Context, resource string) {
	message := "resource not found"

	if resource != "" {
		message = resource + " not found"
	}

	c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   CodeNotFound,
		Message: message,
	})
}

// returns a 400 bad request error
func BadRequest(c *gin.Context, message string, err error) {
	if message == "" {
		message = "invalid request"
	}

	response := ErrorResponse{
		Error:   CodeBadRequest,
		Message: message,
	}

	if err != nil {
		response.Details = sanitizeError(err)
	}

	c.JSON(http.StatusBadRequest, response)
}

// returns a 400 bad request error for validation failures
func ValidationError(c *gin.Context, err error) {
	message := "validation failed"
	details := ""

	if err != nil {
		details = sanitizeError(err)
		if strings.Contains(err.Error(), "binding") || strings.Contains(err.Error(), "validation") {
			message = "request validation failed"
		}
	}

	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   CodeValidationError,
		Message: message,
		Details: details,
	})
}

// returns a 500 internal server error
func InternalError(c *gin.Context, message string, err error) {
	if message == "" {
		message = "an error occurred"
	}

	logger.ErrorErr(err, message,
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"client_id", c.GetString("client_id"),
	)

	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   CodeServerError,
		Message: message,
		Details: sanitizeError(err),
	})
}

// returns a 429 too many requests error
func TooManyRequests(c *gin.Context, message string) {
	if message == "" {
		message = "too many requests"
	}

	c.JSON(http.StatusTooManyRequests, ErrorResponse{
		Error:   CodeTooManyRequests,
		Message: message,
	})
}

// returns a 429 error for an exhausted daily allowance
func QuotaExceeded(c *gin.Context, resource string) {
	message := categoryMessages[CategoryQuota]
	if resource != "" {
		message = "daily " + resource + " limit reached, try again tomorrow"
	}

	c.JSON(http.StatusTooManyRequests, ErrorResponse{
		Error:   CodeQuotaExceeded,
		Message: message,
	})
}

// returns a 422 error when the provider's safety filter refused the request
func ContentBlocked(c *gin.Context) {
	c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
		Error:   CodeContentBlocked,
		Message: categoryMessages[CategoryBlocked],
	})
}

// returns a 503 when the provider or the usage store cannot be reached
func ProviderUnavailable(c *gin.Context, message string) {
	if message == "" {
		message = categoryMessages[CategoryOutage]
	}

	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:   CodeProviderUnavailable,
		Message: message,
	})
}

// writes the response matching the error's category and logs unexpected failures
func FromError(c *gin.Context, err error) {
	info := classifyError(err)

	switch info.category {
	case CategoryQuota:
		QuotaExceeded(c, "")
	case CategoryBlocked:
		ContentBlocked(c)
	case CategoryNotFound:
		NotFound(c, "")
	case CategoryValidation:
		ValidationError(c, err)
	case CategoryAsset:
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   CodeImageNotFound,
			Message: info.sanitized,
		})
	case CategoryOutage, CategoryStorage:
		logger.ErrorErr(err, "upstream unavailable", "path", c.Request.URL.Path)
		ProviderUnavailable(c, categoryMessages[info.category])
	case CategoryConfiguration:
		logger.ErrorErr(err, "provider rejected credentials or request", "path", c.Request.URL.Path)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   CodeConfiguration,
			Message: categoryMessages[CategoryConfiguration],
		})
	case CategoryTimeout:
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{
			Error:   CodeTimeout,
			Message: categoryMessages[CategoryTimeout],
		})
	default:
		InternalError(c, "", err)
	}
}

// sanitizes error messages for production
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}

	if os.Getenv("ENVIRONMENT") != "production" {
		return err.Error()
	}

	return categoryMessages[categorize(err)]
}
