package reasoning

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/AltairaLabs/callkit/logger"
)

// DefaultAnthropicModel is a small, fast model suited to per-turn calls.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

const anthropicProvider = "anthropic"

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Anthropic is a Reasoner backed by the Anthropic Messages API. It uses
// the same prompts as the OpenAI backend; extraction JSON is read from
// the text block.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates the Anthropic backend. The SDK's own retries are
// disabled; callers bound each call with a timeout instead.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: model}, nil
}

// Name returns "anthropic".
func (a *Anthropic) Name() string {
	return anthropicProvider
}

// Extract runs the extraction prompt and parses the JSON from the reply.
func (a *Anthropic) Extract(ctx context.Context, req ExtractRequest) (Extraction, error) {
	start := time.Now()
	text, err := a.complete(ctx, extractionSystemPrompt(req), extractionUserMessage(req),
		extractTemperature, extractMaxTokens)
	if err != nil {
		return Extraction{}, a.wrapError("extract", err)
	}
	logger.CollaboratorCall(ctx, anthropicProvider, "extract", time.Since(start))

	out, err := ParseExtraction(text, req.Fields)
	if err != nil {
		return Extraction{}, &Error{Provider: anthropicProvider, Operation: "extract", Err: err}
	}
	return out, nil
}

// Respond generates the agent's next short utterance.
func (a *Anthropic) Respond(ctx context.Context, req RespondRequest) (string, error) {
	start := time.Now()
	text, err := a.complete(ctx, responseSystemPrompt(req), responseUserMessage(req),
		respondTemperature, respondMaxTokens)
	if err != nil {
		return "", a.wrapError("respond", err)
	}
	logger.CollaboratorCall(ctx, anthropicProvider, "respond", time.Since(start))

	text = CleanResponse(text)
	if text == "" {
		return "", &Error{Provider: anthropicProvider, Operation: "respond", Err: ErrEmptyResponse}
	}
	return text, nil
}

func (a *Anthropic) complete(ctx context.Context, system, user string, temperature float64, maxTokens int64) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
		Temperature: anthropic.Float(temperature),
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

func (a *Anthropic) wrapError(operation string, err error) error {
	status := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return wrapError(anthropicProvider, operation, status, err)
}
