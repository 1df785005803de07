package errors

import (
	"errors"
	"fmt"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string `json:"error"`             // error code (e.g., "quota_exceeded", "not_found")
	Message string `json:"message"`           // user-friendly message
	Details string `json:"details,omitempty"` // optional details (sanitized in production)
}

type ErrorInfo struct {
	category  string
	sanitized string
}

// Category returns the classification bucket of the analyzed error.
func (i ErrorInfo) Category() string { return i.category }

// Sanitized returns the message that is safe to show to end users.
func (i ErrorInfo) Sanitized() string { return i.sanitized }

// domain errors; callers wrap them with fmt.Errorf("...: %w", err)
var (
	// daily allowance for the requested resource is used up
	ErrQuotaExceeded = errors.New("daily quota exceeded")

	// the provider refused to produce output (safety filter)
	ErrContentBlocked = errors.New("content blocked by provider")

	// no image candidate could be materialized
	ErrAssetResolution = errors.New("no image candidate could be resolved")

	// persisted quota storage could not be read or written
	ErrStorageAccess = errors.New("storage access failed")

	// requested record does not exist (or expired)
	ErrNotFound = errors.New("not found")
)

// ProviderError describes a failed call to an external generation provider.
type ProviderError struct {
	Provider  string
	Model     string
	Status    int // HTTP status when known, 0 otherwise
	Retryable bool
	Terminal  bool // credentials, billing, permission: no point trying other models
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "provider error"
	switch {
	case e.Retryable:
		kind = "transient provider error"
	case e.Terminal:
		kind = "terminal provider error"
	}

	if e.Status > 0 {
		return fmt.Sprintf("%s (%s/%s, status %d): %v", kind, e.Provider, e.Model, e.Status, e.Err)
	}

	return fmt.Sprintf("%s (%s/%s): %v", kind, e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// reports whether err is a provider error that may succeed on retry
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// reports whether err is a provider error that must abort the whole attempt
func IsTerminal(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Terminal
}
