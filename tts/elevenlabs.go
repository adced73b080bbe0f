package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/AltairaLabs/callkit/internal/httputil"
	"github.com/AltairaLabs/callkit/logger"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	elevenLabsProvider = "elevenlabs"

	// ElevenLabsModelTurbo is the fast turbo v2.5 model.
	ElevenLabsModelTurbo = "eleven_turbo_v2_5"
	// ElevenLabsModelMultilingual is the multilingual v2 model.
	ElevenLabsModelMultilingual = "eleven_multilingual_v2"

	// ElevenLabsDefaultVoice is the "Rachel" voice.
	ElevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM"
)

// VoiceSettings tunes ElevenLabs delivery.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// TelephonyVoiceSettings favour clear, consistent speech over a phone line:
// high stability, moderate similarity, no style exaggeration, speaker boost on.
func TelephonyVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.7,
		SimilarityBoost: 0.65,
		Style:           0,
		UseSpeakerBoost: true,
	}
}

// ElevenLabsService implements TTS using ElevenLabs' API.
type ElevenLabsService struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	model    string
	voice    string
	settings VoiceSettings
}

// ElevenLabsOption configures the ElevenLabs TTS service.
type ElevenLabsOption func(*ElevenLabsService)

// WithElevenLabsBaseURL sets a custom base URL.
func WithElevenLabsBaseURL(u string) ElevenLabsOption {
	return func(s *ElevenLabsService) {
		s.baseURL = u
	}
}

// WithElevenLabsClient sets a custom HTTP client.
func WithElevenLabsClient(client *http.Client) ElevenLabsOption {
	return func(s *ElevenLabsService) {
		s.client = client
	}
}

// WithElevenLabsModel sets the TTS model.
func WithElevenLabsModel(model string) ElevenLabsOption {
	return func(s *ElevenLabsService) {
		s.model = model
	}
}

// WithElevenLabsVoice sets the default voice ID.
func WithElevenLabsVoice(voice string) ElevenLabsOption {
	return func(s *ElevenLabsService) {
		s.voice = voice
	}
}

// WithVoiceSettings overrides the voice settings.
func WithVoiceSettings(vs VoiceSettings) ElevenLabsOption {
	return func(s *ElevenLabsService) {
		s.settings = vs
	}
}

// NewElevenLabs creates an ElevenLabs TTS service.
func NewElevenLabs(apiKey string, opts ...ElevenLabsOption) *ElevenLabsService {
	s := &ElevenLabsService{
		apiKey:   apiKey,
		baseURL:  elevenLabsBaseURL,
		client:   httputil.NewHTTPClient(httputil.DefaultSynthesisTimeout),
		model:    ElevenLabsModelTurbo,
		voice:    ElevenLabsDefaultVoice,
		settings: TelephonyVoiceSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider identifier.
func (s *ElevenLabsService) Name() string {
	return elevenLabsProvider
}

type elevenLabsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id,omitempty"`
	VoiceSettings *VoiceSettings `json:"voice_settings,omitempty"`
}

// Synthesize requests raw PCM. The output format is a query parameter,
// not part of the body.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value to satisfy Service interface
func (s *ElevenLabsService) Synthesize(
	ctx context.Context, text string, config SynthesisConfig,
) (io.ReadCloser, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	voice := config.Voice
	if voice == "" {
		voice = s.voice
	}
	model := config.Model
	if model == "" {
		model = s.model
	}
	format, err := elevenLabsFormat(config.Format)
	if err != nil {
		return nil, err
	}

	settings := s.settings
	bodyBytes, err := json.Marshal(elevenLabsRequest{
		Text:          text,
		ModelID:       model,
		VoiceSettings: &settings,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		s.baseURL, url.PathEscape(voice), format)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		logger.CollaboratorError(ctx, elevenLabsProvider, "synthesize", err)
		return nil, NewSynthesisError(elevenLabsProvider, "", "request failed", err, true)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		synthErr := s.handleError(resp)
		logger.CollaboratorError(ctx, elevenLabsProvider, "synthesize", synthErr, "status", resp.StatusCode)
		return nil, synthErr
	}

	logger.CollaboratorCall(ctx, elevenLabsProvider, "synthesize", time.Since(start),
		"model", model, "format", format, "chars", len(text))
	return resp.Body, nil
}

// elevenLabsFormat maps an AudioFormat to the output_format parameter.
func elevenLabsFormat(f AudioFormat) (string, error) {
	if f.Name == "" {
		f = FormatPCM24k
	}
	if f.Name != "pcm" {
		return "", fmt.Errorf("%w: %s", ErrInvalidFormat, f.Name)
	}
	switch f.SampleRate {
	case 16000, 22050, 24000, 44100:
		return f.String(), nil
	default:
		return "", fmt.Errorf("%w: pcm at %d Hz", ErrInvalidFormat, f.SampleRate)
	}
}

type elevenLabsErrorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

func (s *ElevenLabsService) handleError(resp *http.Response) error {
	var errResp elevenLabsErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return statusError(elevenLabsProvider, resp.StatusCode, "", "unknown error")
	}
	return statusError(elevenLabsProvider, resp.StatusCode, errResp.Detail.Status, errResp.Detail.Message)
}
