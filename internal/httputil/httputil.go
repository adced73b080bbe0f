// Package httputil builds the HTTP clients used by the request/response
// collaborators, so they share timeout defaults.
package httputil

import (
	"net/http"
	"time"
)

const (
	// DefaultSynthesisTimeout bounds one text-to-speech request. Audio for
	// a long utterance can take several seconds to render.
	DefaultSynthesisTimeout = 45 * time.Second

	// DefaultTranscriptionTimeout bounds one batch transcription request.
	// Segments are a few seconds of speech.
	DefaultTranscriptionTimeout = 15 * time.Second
)

// NewHTTPClient returns an *http.Client configured with the given timeout.
// Pass one of the Default*Timeout constants, or a custom duration.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
