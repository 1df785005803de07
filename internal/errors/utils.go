package errors

import (
	"context"
	"errors"
	"os"
	"strings"
)

// error categories for classification
const (
	CategoryQuota         = "quota"
	CategoryBlocked       = "blocked"
	CategoryOutage        = "outage"
	CategoryConfiguration = "configuration"
	CategoryAsset         = "asset"
	CategoryStorage       = "storage"
	CategoryValidation    = "validation"
	CategoryNotFound      = "not_found"
	CategoryTimeout       = "timeout"
	CategoryUnknown       = "unknown"
)

// user-facing messages per category; raw provider text never reaches clients
var categoryMessages = map[string]string{
	CategoryQuota:         "daily limit reached, try again tomorrow",
	CategoryBlocked:       "the request was blocked by the content safety filter",
	CategoryOutage:        "the generation service is temporarily unavailable",
	CategoryConfiguration: "the generation service is misconfigured",
	CategoryAsset:         "no suitable image could be found",
	CategoryStorage:       "usage data is temporarily unavailable",
	CategoryValidation:    "validation failed",
	CategoryNotFound:      "resource not found",
	CategoryTimeout:       "request timed out",
	CategoryUnknown:       "an error occurred",
}

// Classify analyzes an error and returns its category and sanitized message.
func Classify(err error) ErrorInfo {
	return classifyError(err)
}

// analyzes an error and returns its category and sanitized message
func classifyError(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{CategoryUnknown, ""}
	}

	isProduction := os.Getenv("ENVIRONMENT") == "production"

	category := categorize(err)
	msg := categoryMessages[category]

	// outside production the quota/blocked messages stay generic too,
	// everything else keeps the raw error for debugging
	switch category {
	case CategoryQuota, CategoryBlocked, CategoryAsset:
		return ErrorInfo{category, msg}
	}

	return ErrorInfo{category, ternary(isProduction, msg, err.Error())}
}

func categorize(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return CategoryQuota
	case errors.Is(err, ErrContentBlocked):
		return CategoryBlocked
	case errors.Is(err, ErrAssetResolution):
		return CategoryAsset
	case errors.Is(err, ErrStorageAccess):
		return CategoryStorage
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, context.Canceled):
		return CategoryTimeout
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Terminal {
			return CategoryConfiguration
		}

		return CategoryOutage
	}

	// fallback to string matching for unknown error types
	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		return CategoryTimeout
	case strings.Contains(errMsg, "not found"):
		return CategoryNotFound
	case strings.Contains(errMsg, "validation") || strings.Contains(errMsg, "binding") ||
		strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "required"):
		return CategoryValidation
	case strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "dial"):
		return CategoryOutage
	}

	return CategoryUnknown
}

// ternary helper for cleaner conditional assignment
func ternary(condition bool, trueVal, falseVal string) string {
	if condition {
		return trueVal
	}

	return falseVal
}
