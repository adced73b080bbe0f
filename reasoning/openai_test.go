package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	o, err := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1/"})
	require.NoError(t, err)
	return o
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestOpenAI_Extract(t *testing.T) {
	var body map[string]any
	o := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatCompletion(`{"extracted_info": {"hours": "6am-10pm"}, "confidence": "high"}`))
	})

	out, err := o.Extract(context.Background(), ExtractRequest{
		Topic:  "your gym",
		Fields: testFields,
		Latest: "We're open six to ten.",
	})
	require.NoError(t, err)
	assert.Equal(t, "6am-10pm", out.Values["hours"].Text)
	assert.InDelta(t, confidenceHigh, out.Confidence, 1e-9)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.InDelta(t, 0.1, body["temperature"], 1e-6)
	assert.EqualValues(t, 500, body["max_tokens"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
}

func TestOpenAI_ExtractInvalidOutput(t *testing.T) {
	o := newOpenAITestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatCompletion("sorry, no idea"))
	})

	_, err := o.Extract(context.Background(), ExtractRequest{Fields: testFields})
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestOpenAI_Respond(t *testing.T) {
	var body map[string]any
	o := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatCompletion(`"Thanks! How much is a day pass?"`))
	})

	text, err := o.Respond(context.Background(), RespondRequest{Fields: testFields})
	require.NoError(t, err)
	assert.Equal(t, "Thanks! How much is a day pass?", text)
	assert.EqualValues(t, 40, body["max_tokens"])
	assert.Nil(t, body["response_format"])
}

func TestOpenAI_RespondEmpty(t *testing.T) {
	o := newOpenAITestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatCompletion(`  ""  `))
	})

	_, err := o.Respond(context.Background(), RespondRequest{Fields: testFields})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAI_StatusError(t *testing.T) {
	o := newOpenAITestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit_error"}}`))
	})

	_, err := o.Respond(context.Background(), RespondRequest{Fields: testFields})
	require.Error(t, err)

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "openai", rerr.Provider)
	assert.Equal(t, "respond", rerr.Operation)
	assert.Equal(t, http.StatusTooManyRequests, rerr.StatusCode)
}
