package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AltairaLabs/callkit/internal/httputil"
	"github.com/AltairaLabs/callkit/logger"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openAITTSEndpoint = "/audio/speech"
	openAIProvider    = "openai"

	// ModelTTS1 is the OpenAI TTS model optimized for speed.
	ModelTTS1 = "tts-1"
	// ModelTTS1HD is the OpenAI TTS model optimized for quality.
	ModelTTS1HD = "tts-1-hd"

	// openAIPCMRate is the fixed rate of OpenAI "pcm" output.
	openAIPCMRate = 24000
)

// OpenAI voices.
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// OpenAIService implements TTS using OpenAI's text-to-speech API.
type OpenAIService struct {
	apiKey  string
	baseURL string
	client  *http.Client
	model   string
	voice   string
}

// OpenAIOption configures the OpenAI TTS service.
type OpenAIOption func(*OpenAIService)

// WithOpenAIBaseURL sets a custom base URL (for testing or proxies).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(s *OpenAIService) {
		s.baseURL = url
	}
}

// WithOpenAIClient sets a custom HTTP client.
func WithOpenAIClient(client *http.Client) OpenAIOption {
	return func(s *OpenAIService) {
		s.client = client
	}
}

// WithOpenAIModel sets the TTS model to use.
func WithOpenAIModel(model string) OpenAIOption {
	return func(s *OpenAIService) {
		s.model = model
	}
}

// WithOpenAIVoice sets the default voice.
func WithOpenAIVoice(voice string) OpenAIOption {
	return func(s *OpenAIService) {
		s.voice = voice
	}
}

// NewOpenAI creates an OpenAI TTS service.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIService {
	s := &OpenAIService{
		apiKey:  apiKey,
		baseURL: openAIBaseURL,
		client:  httputil.NewHTTPClient(httputil.DefaultSynthesisTimeout),
		model:   ModelTTS1HD,
		voice:   VoiceNova,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider identifier.
func (s *OpenAIService) Name() string {
	return openAIProvider
}

type openAIRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize converts text to 24 kHz PCM16 using OpenAI's TTS API.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value to satisfy Service interface
func (s *OpenAIService) Synthesize(
	ctx context.Context, text string, config SynthesisConfig,
) (io.ReadCloser, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if config.Format.Name != "" && (config.Format.Name != "pcm" || config.Format.SampleRate != openAIPCMRate) {
		return nil, fmt.Errorf("%w: openai returns pcm at %d Hz only, got %s",
			ErrInvalidFormat, openAIPCMRate, config.Format)
	}

	voice := config.Voice
	if voice == "" {
		voice = s.voice
	}
	speed := config.Speed
	if speed == 0 {
		speed = 1.0
	}
	model := config.Model
	if model == "" {
		model = s.model
	}

	bodyBytes, err := json.Marshal(openAIRequest{
		Model:          model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "pcm",
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+openAITTSEndpoint,
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		logger.CollaboratorError(ctx, openAIProvider, "synthesize", err)
		return nil, NewSynthesisError(openAIProvider, "", "request failed", err, true)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		synthErr := s.handleError(resp)
		logger.CollaboratorError(ctx, openAIProvider, "synthesize", synthErr, "status", resp.StatusCode)
		return nil, synthErr
	}

	logger.CollaboratorCall(ctx, openAIProvider, "synthesize", time.Since(start),
		"model", model, "voice", voice, "chars", len(text))
	return resp.Body, nil
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (s *OpenAIService) handleError(resp *http.Response) error {
	var errResp openAIErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return statusError(openAIProvider, resp.StatusCode, "", "unknown error")
	}

	synthErr := statusError(openAIProvider, resp.StatusCode, errResp.Error.Code, errResp.Error.Message)
	if resp.StatusCode == http.StatusBadRequest && errResp.Error.Code == "invalid_voice" {
		synthErr.Cause = ErrInvalidVoice
	}
	return synthErr
}
