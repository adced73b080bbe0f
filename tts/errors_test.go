package tts

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSynthesisError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SynthesisError
		want string
	}{
		{
			name: "with cause",
			err: &SynthesisError{
				Provider: "openai",
				Code:     "rate_limit",
				Message:  "rate limited",
				Cause:    ErrRateLimited,
			},
			want: "openai: rate limited: rate limit exceeded",
		},
		{
			name: "without cause",
			err: &SynthesisError{
				Provider: "elevenlabs",
				Code:     "invalid_voice",
				Message:  "voice not found",
			},
			want: "elevenlabs: voice not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("SynthesisError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSynthesisError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &SynthesisError{
		Provider: "test",
		Message:  "test error",
		Cause:    cause,
	}

	if err.Unwrap() != cause {
		t.Errorf("SynthesisError.Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
}

func TestNewSynthesisError(t *testing.T) {
	cause := errors.New("test cause")
	err := NewSynthesisError("openai", "500", "internal error", cause, true)

	if err.Provider != "openai" {
		t.Errorf("Provider = %v, want openai", err.Provider)
	}

	if err.Code != "500" {
		t.Errorf("Code = %v, want 500", err.Code)
	}

	if err.Message != "internal error" {
		t.Errorf("Message = %v, want internal error", err.Message)
	}

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}

	if !err.Retryable {
		t.Error("Retryable = false, want true")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable synthesis error", NewSynthesisError("openai", "500", "boom", nil, true), true},
		{"permanent synthesis error", NewSynthesisError("openai", "400", "bad", nil, false), false},
		{"empty text", ErrEmptyText, false},
		{"wrapped invalid voice", fmt.Errorf("speak: %w", ErrInvalidVoice), false},
		{"transport error", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status    int
		cause     error
		retryable bool
	}{
		{http.StatusTooManyRequests, ErrRateLimited, true},
		{http.StatusNotFound, ErrInvalidVoice, false},
		{http.StatusServiceUnavailable, ErrServiceUnavailable, true},
		{http.StatusBadGateway, nil, true},
		{http.StatusBadRequest, nil, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := statusError("elevenlabs", tt.status, "", "")
			if err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", err.Retryable, tt.retryable)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("error %v should wrap %v", err, tt.cause)
			}
			if err.Code != fmt.Sprint(tt.status) {
				t.Errorf("Code = %q, want %d", err.Code, tt.status)
			}
		})
	}
}
