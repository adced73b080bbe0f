package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/AltairaLabs/callkit/audio"
	"github.com/AltairaLabs/callkit/dialogue"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Value   string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return "config validation error: " + e.Field + ": " + e.Message + " (got: " + e.Value + ")"
	}
	return "config validation error: " + e.Field + ": " + e.Message
}

var logLevels = []string{"trace", "debug", "info", "warn", "warning", "error"}

// Validate checks the configuration and returns every problem found,
// joined. Each one is a *ValidationError.
func (c *Config) Validate() error {
	var v validator

	v.require("server.addr", c.Server.Addr)
	if c.Server.PublicBaseURL != "" {
		u, err := url.Parse(c.Server.PublicBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.add("server.public_base_url", "must be an absolute http or https URL", c.Server.PublicBaseURL)
		}
	}
	v.positive("server.shutdown_timeout", int64(c.Server.ShutdownTimeout))
	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		v.add("twilio.auth_token", "is required when signature validation is enabled", "")
	}

	switch c.Recognition.Provider {
	case ProviderDeepgram:
		v.key("keys.deepgram", c.Keys.Deepgram, c.Recognition.Provider)
	case ProviderOpenAI:
		v.key("keys.openai", c.Keys.OpenAI, c.Recognition.Provider)
	default:
		v.add("recognition.provider", "must be one of: deepgram, openai", c.Recognition.Provider)
	}
	if c.Recognition.MaxRetries < 0 {
		v.add("recognition.max_retries", "must not be negative", fmt.Sprint(c.Recognition.MaxRetries))
	}

	switch c.Reasoning.Provider {
	case ProviderOpenAI:
		v.key("keys.openai", c.Keys.OpenAI, c.Reasoning.Provider)
	case ProviderAnthropic:
		v.key("keys.anthropic", c.Keys.Anthropic, c.Reasoning.Provider)
	case ProviderRules:
	default:
		v.add("reasoning.provider", "must be one of: openai, anthropic, rules", c.Reasoning.Provider)
	}
	v.positive("reasoning.timeout", int64(c.Reasoning.Timeout))

	switch c.Synthesis.Provider {
	case ProviderOpenAI:
		v.key("keys.openai", c.Keys.OpenAI, c.Synthesis.Provider)
	case ProviderElevenLabs:
		v.key("keys.elevenlabs", c.Keys.ElevenLabs, c.Synthesis.Provider)
	default:
		v.add("synthesis.provider", "must be one of: openai, elevenlabs", c.Synthesis.Provider)
	}
	v.positive("synthesis.timeout", int64(c.Synthesis.Timeout))
	if c.Synthesis.Speed < 0.25 || c.Synthesis.Speed > 4 {
		v.add("synthesis.speed", "must be between 0.25 and 4", fmt.Sprint(c.Synthesis.Speed))
	}

	if _, err := audio.ParseBargeInPolicy(c.Dialogue.BargeIn); err != nil {
		v.add("dialogue.barge_in", "must be one of: ignore, immediate, deferred", c.Dialogue.BargeIn)
	}
	if c.Dialogue.MaxExchanges <= 0 {
		v.add("dialogue.max_exchanges", "must be positive", fmt.Sprint(c.Dialogue.MaxExchanges))
	}
	if cat, err := c.Catalogue(); err != nil {
		v.add("dialogue.catalogue_file", err.Error(), c.Dialogue.CatalogueFile)
	} else if policy, err := dialogue.ParseCompletionPolicy(c.Dialogue.Completion); err != nil {
		v.add("dialogue.completion", err.Error(), c.Dialogue.Completion)
	} else if err := policy.Validate(cat); err != nil {
		v.add("dialogue.completion", err.Error(), c.Dialogue.Completion)
	}
	if dc, err := c.DialogueConfig(); err == nil {
		if err := dc.Validate(); err != nil {
			v.add("dialogue", err.Error(), "")
		}
	}

	if err := c.FramerConfig().Validate(); err != nil {
		v.add("audio", err.Error(), "")
	}

	if c.Pool.MaxConcurrent <= 0 {
		v.add("pool.max_concurrent", "must be positive", fmt.Sprint(c.Pool.MaxConcurrent))
	}
	if c.Pool.Rate < 0 {
		v.add("pool.rate", "must not be negative", fmt.Sprint(c.Pool.Rate))
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		v.require("store.redis_url", c.Store.RedisURL)
	case StoreBadger:
		v.require("store.badger_dir", c.Store.BadgerDir)
	default:
		v.add("store.backend", "must be one of: memory, redis, badger", c.Store.Backend)
	}

	if c.Metrics.Enabled {
		v.require("metrics.addr", c.Metrics.Addr)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		v.add("telemetry.sample_ratio", "must be between 0 and 1", fmt.Sprint(c.Telemetry.SampleRatio))
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		v.add("logging.level", "must be one of: trace, debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		v.add("logging.format", "must be one of: json, text", c.Logging.Format)
	}
	for module, level := range c.Logging.Modules {
		if !slices.Contains(logLevels, strings.ToLower(level)) {
			v.add("logging.modules."+module, "must be one of: trace, debug, info, warn, error", level)
		}
	}

	return v.err()
}

type validator struct {
	errs []error
}

func (v *validator) add(field, msg, value string) {
	v.errs = append(v.errs, &ValidationError{Field: field, Message: msg, Value: value})
}

func (v *validator) require(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, "is required", "")
	}
}

func (v *validator) key(field, value, provider string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, "is required by the "+provider+" provider", "")
	}
}

func (v *validator) positive(field string, n int64) {
	if n <= 0 {
		v.add(field, "must be positive", "")
	}
}

func (v *validator) err() error {
	return errors.Join(v.errs...)
}
