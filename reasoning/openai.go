package reasoning

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AltairaLabs/callkit/logger"
)

// DefaultOpenAIModel is the chat model used for extraction and responses.
const DefaultOpenAIModel = openai.GPT4oMini

const openAIProvider = "openai"

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey string
	// Model defaults to DefaultOpenAIModel.
	Model string
	// BaseURL overrides the API endpoint (including the /v1 prefix).
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAI is a Reasoner backed by the OpenAI chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates the OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), model: model}, nil
}

// Name returns "openai".
func (o *OpenAI) Name() string {
	return openAIProvider
}

// Extract runs a JSON-mode extraction over the latest utterance.
func (o *OpenAI) Extract(ctx context.Context, req ExtractRequest) (Extraction, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: extractionUserMessage(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: extractTemperature,
		MaxTokens:   extractMaxTokens,
	})
	if err != nil {
		return Extraction{}, o.wrapError("extract", err)
	}

	content, err := firstChoice(resp)
	if err != nil {
		return Extraction{}, &Error{Provider: openAIProvider, Operation: "extract", Err: err}
	}
	logger.CollaboratorCall(ctx, openAIProvider, "extract", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	out, err := ParseExtraction(content, req.Fields)
	if err != nil {
		return Extraction{}, &Error{Provider: openAIProvider, Operation: "extract", Err: err}
	}
	return out, nil
}

// Respond generates the agent's next short utterance.
func (o *OpenAI) Respond(ctx context.Context, req RespondRequest) (string, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: responseSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: responseUserMessage(req)},
		},
		Temperature: respondTemperature,
		MaxTokens:   respondMaxTokens,
	})
	if err != nil {
		return "", o.wrapError("respond", err)
	}

	content, err := firstChoice(resp)
	if err != nil {
		return "", &Error{Provider: openAIProvider, Operation: "respond", Err: err}
	}
	logger.CollaboratorCall(ctx, openAIProvider, "respond", time.Since(start),
		"completion_tokens", resp.Usage.CompletionTokens)

	text := CleanResponse(content)
	if text == "" {
		return "", &Error{Provider: openAIProvider, Operation: "respond", Err: ErrEmptyResponse}
	}
	return text, nil
}

func firstChoice(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) wrapError(operation string, err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return wrapError(openAIProvider, operation, status, err)
}
