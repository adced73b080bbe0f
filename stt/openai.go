package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/AltairaLabs/callkit/internal/httputil"
	"github.com/AltairaLabs/callkit/logger"
)

const (
	openAIBaseURL            = "https://api.openai.com/v1"
	openAITranscribeEndpoint = "/audio/transcriptions"
	openAIProvider           = "openai"

	// ModelWhisper1 is the OpenAI Whisper model for transcription.
	ModelWhisper1 = "whisper-1"

	// DefaultNoSpeechThreshold drops Whisper segments that are more likely
	// line noise than words. Whisper tends to invent short phrases such as
	// "Thank you." for hiss and hold music.
	DefaultNoSpeechThreshold = 0.6

	openAIServerErrorThreshold = 500
)

// OpenAIService transcribes caller speech segments with OpenAI's
// transcription API. It backs BatchRecognizer when no streaming
// recognizer is configured.
type OpenAIService struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	model    string
	noSpeech float64
}

// OpenAIOption configures the OpenAI STT service.
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

// WithOpenAIModel sets the STT model to use.
func WithOpenAIModel(model string) OpenAIOption {
	return func(s *OpenAIService) {
		s.model = model
	}
}

// WithNoSpeechThreshold sets the no-speech probability above which a
// Whisper segment is discarded. 1 keeps everything.
func WithNoSpeechThreshold(p float64) OpenAIOption {
	return func(s *OpenAIService) {
		s.noSpeech = p
	}
}

// NewOpenAI creates an OpenAI STT service using Whisper.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIService {
	s := &OpenAIService{
		apiKey:   apiKey,
		baseURL:  openAIBaseURL,
		client:   httputil.NewHTTPClient(httputil.DefaultTranscriptionTimeout),
		model:    ModelWhisper1,
		noSpeech: DefaultNoSpeechThreshold,
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

// transcriptionResponse covers both the json and verbose_json formats.
type transcriptionResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text         string  `json:"text"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Transcribe converts one speech segment to text. Call audio arrives as
// raw PCM and is uploaded as WAV. An empty result means the segment held
// no speech.
//
//nolint:gocritic // hugeParam: TranscriptionConfig passed by value to satisfy Service interface
func (s *OpenAIService) Transcribe(
	ctx context.Context, audio []byte, config TranscriptionConfig,
) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	start := time.Now()

	body, contentType, err := s.form(audio, config)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+openAITranscribeEndpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		logger.CollaboratorError(ctx, openAIProvider, "transcribe", err)
		return "", NewTranscriptionError(openAIProvider, "", "request failed", err, true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := s.handleError(resp.StatusCode, raw)
		logger.CollaboratorError(ctx, openAIProvider, "transcribe", err, "status", resp.StatusCode)
		return "", err
	}

	var result transcriptionResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	text, kept := s.speech(result)

	logger.CollaboratorCall(ctx, openAIProvider, "transcribe", time.Since(start),
		"audio_bytes", len(audio), "chars", len(text), "segments", len(result.Segments), "kept", kept)
	return text, nil
}

// form builds the multipart upload for one segment.
//
//nolint:gocritic // hugeParam: mirrors Transcribe
func (s *OpenAIService) form(audio []byte, config TranscriptionConfig) (io.Reader, string, error) {
	d := DefaultTranscriptionConfig()
	rate, channels, depth := config.SampleRate, config.Channels, config.BitDepth
	if rate == 0 {
		rate = d.SampleRate
	}
	if channels == 0 {
		channels = d.Channels
	}
	if depth == 0 {
		depth = d.BitDepth
	}
	if config.Format == FormatPCM || config.Format == "" {
		audio = WrapPCMAsWAV(audio, rate, channels, depth)
	}

	model := config.Model
	if model == "" {
		model = s.model
	}
	// Only whisper-1 reports per-segment no-speech probabilities.
	responseFormat := "json"
	if model == ModelWhisper1 {
		responseFormat = "verbose_json"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}
	fields := [][2]string{
		{"model", model},
		{"response_format", responseFormat},
		{"temperature", "0"},
		{"language", config.Language},
		{"prompt", config.Prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// speech joins the segments likely to hold words. Responses without
// segments are taken as-is.
func (s *OpenAIService) speech(r transcriptionResponse) (string, int) {
	if len(r.Segments) == 0 {
		return strings.TrimSpace(r.Text), 0
	}
	parts := make([]string, 0, len(r.Segments))
	for _, seg := range r.Segments {
		if seg.NoSpeechProb > s.noSpeech {
			continue
		}
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), len(parts)
}

// handleError processes an error response from OpenAI.
func (s *OpenAIService) handleError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	retryable := statusCode == http.StatusTooManyRequests || statusCode >= openAIServerErrorThreshold
	if err := json.Unmarshal(body, &errResp); err != nil {
		return NewTranscriptionError(openAIProvider, fmt.Sprint(statusCode), string(body), nil, retryable)
	}

	var cause error
	switch statusCode {
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusUnauthorized:
		cause = fmt.Errorf("invalid API key")
	case http.StatusBadRequest:
		if errResp.Error.Code == "audio_too_short" {
			cause = ErrAudioTooShort
		}
	}
	return NewTranscriptionError(openAIProvider, errResp.Error.Code, errResp.Error.Message, cause, retryable)
}

// SupportedFormats returns the formats this service accepts. PCM is
// wrapped as WAV before upload.
func (s *OpenAIService) SupportedFormats() []string {
	return []string{FormatPCM, FormatWAV}
}

// VocabularyPrompt builds a recognition prompt that primes the model with
// the call topic and the terms callers are likely to use.
func VocabularyPrompt(topic string, terms []string) string {
	var b strings.Builder
	if topic != "" {
		b.WriteString("A phone call about ")
		b.WriteString(topic)
		b.WriteString(".")
	}
	if len(terms) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("Topics: ")
		b.WriteString(strings.Join(terms, ", "))
		b.WriteString(".")
	}
	return b.String()
}
