package tts

import (
	"errors"
	"fmt"
	"net/http"
)

// Common TTS errors.
var (
	// ErrInvalidVoice is returned when the requested voice is not available.
	ErrInvalidVoice = errors.New("invalid or unsupported voice")

	// ErrInvalidFormat is returned when the requested format is not supported.
	ErrInvalidFormat = errors.New("invalid or unsupported audio format")

	// ErrEmptyAudio is returned when a provider answers with no audio.
	ErrEmptyAudio = errors.New("synthesis returned no audio")

	// ErrEmptyText is returned when attempting to synthesize empty text.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrSynthesisFailed is returned when TTS synthesis fails.
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// ErrRateLimited is returned when API rate limits are exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrServiceUnavailable is returned when the TTS service is unavailable.
	ErrServiceUnavailable = errors.New("TTS service unavailable")
)

// SynthesisError provides detailed error information from TTS providers.
type SynthesisError struct {
	// Provider is the TTS provider that returned the error.
	Provider string

	// Code is the provider-specific error code.
	Code string

	// Message is the error message.
	Message string

	// Cause is the underlying error (if any).
	Cause error

	// Retryable indicates if the error is transient and retry may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

// Unwrap returns the underlying error.
func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// NewSynthesisError creates a new SynthesisError.
func NewSynthesisError(provider, code, message string, cause error, retryable bool) *SynthesisError {
	return &SynthesisError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsRetryable reports whether a synthesis failure is worth one more attempt.
// Timeouts and transport errors are; rejected requests are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *SynthesisError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return !errors.Is(err, ErrEmptyText) && !errors.Is(err, ErrInvalidVoice) &&
		!errors.Is(err, ErrInvalidFormat)
}

// statusError builds a SynthesisError for a non-200 provider response.
func statusError(provider string, status int, code, message string) *SynthesisError {
	retryable := status == http.StatusTooManyRequests || status >= http.StatusInternalServerError

	var cause error
	switch status {
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusUnauthorized:
		cause = fmt.Errorf("invalid API key")
	case http.StatusNotFound:
		cause = ErrInvalidVoice
	case http.StatusServiceUnavailable:
		cause = ErrServiceUnavailable
	}
	if code == "" {
		code = fmt.Sprintf("%d", status)
	}
	if message == "" {
		message = "unexpected status"
	}
	return NewSynthesisError(provider, code, message, cause, retryable)
}
