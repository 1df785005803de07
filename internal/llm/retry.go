package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"google.golang.org/api/googleapi"
)

const defaultAttemptsPerModel = 3

// RetryPolicy bounds how a single model call is retried on transient errors.
type RetryPolicy struct {
	MaxAttempts int           // per model, including the first
	BaseDelay   time.Duration // delay after the first failure, doubled each time
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay added or removed at random

	// injectable for tests
	Rand  func() float64
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultAttemptsPerModel,
		BaseDelay:   800 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      0.25,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = d.Jitter
	}
	if p.Rand == nil {
		p.Rand = rand.Float64
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Delay returns the pause after the given failed attempt (1-based):
// BaseDelay doubled per attempt, jittered, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	d *= 1 + p.Jitter*(2*p.Rand()-1)

	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	return time.Duration(d)
}

type retryState int

const (
	stateAttempt retryState = iota
	stateClassify
	stateDelay
	stateSuspend
	stateDone
	stateAbort
)

// retrier is the per-call state: attempt counter, last error and next delay
type retrier struct {
	policy   RetryPolicy
	model    string
	observer RetryObserver

	state   retryState
	attempt int
	err     error
	delay   time.Duration
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. Only errors.IsTransient errors are retried.
func (p RetryPolicy) Do(ctx context.Context, model string, observer RetryObserver, fn func(ctx context.Context) error) error {
	r := &retrier{policy: p.withDefaults(), model: model, observer: observer}

	for {
		switch r.state {
		case stateAttempt:
			r.attempt++
			r.err = fn(ctx)
			r.state = stateClassify

		case stateClassify:
			switch {
			case r.err == nil:
				r.state = stateDone
			case !apperrors.IsTransient(r.err):
				r.state = stateAbort
			case r.attempt >= r.policy.MaxAttempts:
				r.state = stateAbort
			case ctx.Err() != nil:
				r.err = ctx.Err()
				r.state = stateAbort
			default:
				r.state = stateDelay
			}

		case stateDelay:
			r.delay = r.policy.Delay(r.attempt)
			if r.observer != nil {
				r.observer(RetryEvent{Model: r.model, Attempt: r.attempt, Delay: r.delay, Err: r.err})
			}
			r.state = stateSuspend

		case stateSuspend:
			if err := r.policy.Sleep(ctx, r.delay); err != nil {
				r.err = err
				r.state = stateAbort
				continue
			}
			r.state = stateAttempt

		case stateDone:
			return nil

		case stateAbort:
			return r.err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithModelFallback tries each model in order, retrying transient failures per
// policy. A terminal provider error, blocked content or an expired context
// ends the chain; any other failure moves on to the next model.
func WithModelFallback[T any](ctx context.Context, models []string, policy RetryPolicy, observer RetryObserver, fn func(ctx context.Context, model string) (T, error)) (T, string, error) {
	var zero T

	if len(models) == 0 {
		return zero, "", fmt.Errorf("no models configured")
	}

	var errs []error
	for _, model := range models {
		var result T

		err := policy.Do(ctx, model, observer, func(ctx context.Context) error {
			v, err := fn(ctx, model)
			if err != nil {
				return err
			}
			result = v
			return nil
		})

		if err == nil {
			return result, model, nil
		}

		if errors.Is(err, apperrors.ErrContentBlocked) || apperrors.IsTerminal(err) {
			return zero, model, err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, model, fmt.Errorf("generation stopped: %w", ctxErr)
		}

		errs = append(errs, err)
	}

	return zero, models[len(models)-1], fmt.Errorf("all %d models failed: %w", len(models), errors.Join(errs...))
}

// non-2xx reply from a REST provider
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.Status, e.Body)
}

func (e *statusError) HTTPCode() int {
	return e.Status
}

var (
	transientPatterns = []string{
		"overloaded", "unavailable", "try again", "rate limit", "resource exhausted",
		"resource_exhausted", "temporarily", "timeout", "connection reset", "internal error",
	}
	terminalPatterns = []string{
		"api key", "api_key", "x-api-key", "permission denied", "permission_denied",
		"billing", "unauthenticated", "credit balance",
	}
)

// ClassifyError turns any provider failure into an *errors.ProviderError,
// deciding whether it is transient (retry), terminal (abort everything) or
// neither (try the next model). Blocked content and context errors pass through.
func ClassifyError(provider Provider, model string, err error) error {
	if err == nil {
		return nil
	}

	var pe *apperrors.ProviderError
	if errors.As(err, &pe) ||
		errors.Is(err, apperrors.ErrContentBlocked) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := statusOf(err)
	msg := strings.ToLower(err.Error())

	out := &apperrors.ProviderError{
		Provider: string(provider),
		Model:    model,
		Status:   status,
		Err:      err,
	}

	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		out.Retryable = true
		return out
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden:
		out.Terminal = true
		return out
	}

	if containsAny(msg, terminalPatterns) {
		out.Terminal = true
		return out
	}

	if containsAny(msg, transientPatterns) {
		out.Retryable = true
	}

	return out
}

// extracts an HTTP status from googleapi, apierror or our own REST errors
func statusOf(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}

	var coded interface{ HTTPCode() int }
	if errors.As(err, &coded) {
		return coded.HTTPCode()
	}

	return 0
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
