package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

var (
	// ErrInvalidConfig marks configuration errors. They are raised before any work starts.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")
	// ErrUnauthorized marks authentication/authorization failures from the extractor.
	ErrUnauthorized = errors.New("extractor unauthorized")
	// ErrRunCanceled is recorded on batches that never ran because the run stopped.
	ErrRunCanceled = errors.New("document run canceled")
)

// ErrorClass drives the executor's retry decision.
type ErrorClass int

const (
	Retryable ErrorClass = iota
	RateLimited
	Fatal
)

func (c ErrorClass) String() string {
	switch c {
	case RateLimited:
		return "rate-limited"
	case Fatal:
		return "fatal"
	default:
		return "retryable"
	}
}

// StatusError carries an HTTP-equivalent status code from an extraction backend.
type StatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("status %d: %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// FatalError aborts a document run. It unwraps to ErrUnauthorized.
type FatalError struct {
	BatchNumber int
	Err         error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("batch %d: fatal extractor error: %v", e.BatchNumber, e.Err)
}

func (e *FatalError) Unwrap() []error {
	return []error{ErrUnauthorized, e.Err}
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

var (
	fatalMarkers = []string{
		"401", "403", "unauthorized", "unauthenticated", "forbidden",
		"permission denied", "invalid api key", "api key not valid",
	}
	rateLimitMarkers = []string{
		"429", "rate limit", "ratelimit", "too many requests", "quota", "resource exhausted",
		"resource_exhausted",
	}
)

// Classify maps an extractor error to a retry class. Status codes win over message text.
func Classify(err error) ErrorClass {
	if err == nil {
		return Retryable
	}
	if errors.Is(err, ErrUnauthorized) {
		return Fatal
	}

	var se *StatusError
	if errors.As(err, &se) && se.StatusCode != 0 {
		switch {
		case se.StatusCode == http.StatusUnauthorized, se.StatusCode == http.StatusForbidden:
			return Fatal
		case se.StatusCode == http.StatusTooManyRequests:
			return RateLimited
		default:
			return Retryable
		}
	}

	// A per-call timeout is transient; the parent context is checked by the executor.
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if containsMarker(msg, m) {
			return Fatal
		}
	}
	for _, m := range rateLimitMarkers {
		if containsMarker(msg, m) {
			return RateLimited
		}
	}
	return Retryable
}

// containsMarker matches numeric markers only as whole tokens so "14010" is not a 401.
func containsMarker(msg, marker string) bool {
	if _, err := strconv.Atoi(marker); err != nil {
		return strings.Contains(msg, marker)
	}
	for idx := 0; ; {
		i := strings.Index(msg[idx:], marker)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(marker)
		before := start == 0 || !isDigit(msg[start-1])
		after := end == len(msg) || !isDigit(msg[end])
		if before && after {
			return true
		}
		idx = end
	}
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
