package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"status 401", &StatusError{StatusCode: 401}, Fatal},
		{"status 403 wrapped", fmt.Errorf("batch 2: %w", &StatusError{StatusCode: 403}), Fatal},
		{"status 429", &StatusError{StatusCode: 429}, RateLimited},
		{"status 500", &StatusError{StatusCode: 500}, Retryable},
		{"status 503", &StatusError{StatusCode: 503}, Retryable},
		{"status wins over message", &StatusError{StatusCode: 503, Message: "unauthorized proxy"}, Retryable},
		{"sentinel", fmt.Errorf("vertex: %w", ErrUnauthorized), Fatal},
		{"message 401", errors.New("HTTP 401 from backend"), Fatal},
		{"message permission", errors.New("Permission denied on resource project"), Fatal},
		{"message api key", errors.New("API key not valid. Please pass a valid API key."), Fatal},
		{"message 429", errors.New("got 429 from upstream"), RateLimited},
		{"message quota", errors.New("Quota exceeded for aiplatform.googleapis.com"), RateLimited},
		{"message resource exhausted", errors.New("rpc error: code = ResourceExhausted desc = Resource exhausted"), RateLimited},
		{"message rate limit", errors.New("rate limit reached"), RateLimited},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), Retryable},
		{"network", errors.New("connection reset by peer"), Retryable},
		{"number containing 401", errors.New("request id 14010 failed"), Retryable},
		{"nil", nil, Retryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFatalError_Unwrap(t *testing.T) {
	cause := &StatusError{StatusCode: 403, Message: "forbidden"}
	err := fmt.Errorf("run: %w", &FatalError{BatchNumber: 4, Err: cause})

	assert.ErrorIs(t, err, ErrUnauthorized)
	var se *StatusError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, 403, se.StatusCode)
	assert.Contains(t, err.Error(), "batch 4")
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "retryable", Retryable.String())
	assert.Equal(t, "rate-limited", RateLimited.String())
	assert.Equal(t, "fatal", Fatal.String())
}
