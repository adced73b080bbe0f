// Package config holds the service configuration of the call agent.
//
// Values are layered, lowest precedence first: built-in defaults, an
// optional YAML file, a .env file, environment variables and command-line
// flags. Environment variables use the CALLKIT_ prefix with dots replaced
// by underscores (CALLKIT_SERVER_ADDR), and the vendor credentials also
// accept their conventional names (OPENAI_API_KEY and friends).
package config

import (
	"time"
)

// Provider names.
const (
	ProviderDeepgram   = "deepgram"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderElevenLabs = "elevenlabs"
	ProviderRules      = "rules"
)

// Record store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreBadger = "badger"
)

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Twilio      TwilioConfig      `mapstructure:"twilio" yaml:"twilio"`
	Recognition RecognitionConfig `mapstructure:"recognition" yaml:"recognition"`
	Reasoning   ReasoningConfig   `mapstructure:"reasoning" yaml:"reasoning"`
	Synthesis   SynthesisConfig   `mapstructure:"synthesis" yaml:"synthesis"`
	Dialogue    DialogueConfig    `mapstructure:"dialogue" yaml:"dialogue"`
	Audio       AudioConfig       `mapstructure:"audio" yaml:"audio"`
	Pool        PoolConfig        `mapstructure:"pool" yaml:"pool"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Keys        Keys              `mapstructure:"keys" yaml:"keys"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// PublicBaseURL is where Twilio reaches this service. The media stream
	// URL handed out in TwiML is derived from it.
	PublicBaseURL   string        `mapstructure:"public_base_url" yaml:"public_base_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// AllowedOrigins restricts WebSocket origins. Empty accepts any.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

// TwilioConfig holds webhook verification settings.
type TwilioConfig struct {
	AuthToken         string `mapstructure:"auth_token" yaml:"auth_token,omitempty"`
	ValidateSignature bool   `mapstructure:"validate_signature" yaml:"validate_signature"`
}

// RecognitionConfig selects the speech recognizer.
type RecognitionConfig struct {
	Provider   string        `mapstructure:"provider" yaml:"provider"`
	Model      string        `mapstructure:"model" yaml:"model,omitempty"`
	Language   string        `mapstructure:"language" yaml:"language"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	KeepAlive  time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
}

// ReasoningConfig selects the reasoning backend.
type ReasoningConfig struct {
	Provider string        `mapstructure:"provider" yaml:"provider"`
	Model    string        `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SynthesisConfig selects the speech synthesizer.
type SynthesisConfig struct {
	Provider string        `mapstructure:"provider" yaml:"provider"`
	Model    string        `mapstructure:"model" yaml:"model,omitempty"`
	Voice    string        `mapstructure:"voice" yaml:"voice,omitempty"`
	Speed    float64       `mapstructure:"speed" yaml:"speed"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxChars int           `mapstructure:"max_chars" yaml:"max_chars"`
}

// DialogueConfig tunes turn-taking.
type DialogueConfig struct {
	SilenceThreshold     time.Duration `mapstructure:"silence_threshold" yaml:"silence_threshold"`
	MaxTurnDuration      time.Duration `mapstructure:"max_turn_duration" yaml:"max_turn_duration"`
	GreetingGrace        time.Duration `mapstructure:"greeting_grace" yaml:"greeting_grace"`
	PostSpeechCooldown   time.Duration `mapstructure:"post_speech_cooldown" yaml:"post_speech_cooldown"`
	MaxExchanges         int           `mapstructure:"max_exchanges" yaml:"max_exchanges"`
	SpeakTimeout         time.Duration `mapstructure:"speak_timeout" yaml:"speak_timeout"`
	BargeIn              string        `mapstructure:"barge_in" yaml:"barge_in"`
	BargeInMinSpeech     time.Duration `mapstructure:"barge_in_min_speech" yaml:"barge_in_min_speech"`
	DegradedTurnInterval time.Duration `mapstructure:"degraded_turn_interval" yaml:"degraded_turn_interval"`
	// Completion is "core", "all" or a comma-separated list of slot names.
	Completion string `mapstructure:"completion" yaml:"completion"`
	// CatalogueFile is an optional YAML field-slot catalogue.
	CatalogueFile string `mapstructure:"catalogue_file" yaml:"catalogue_file,omitempty"`
	OpeningLine   string `mapstructure:"opening_line" yaml:"opening_line,omitempty"`
	ClosingLine   string `mapstructure:"closing_line" yaml:"closing_line,omitempty"`
}

// AudioConfig tunes inbound audio analysis.
type AudioConfig struct {
	SpeechThreshold float64       `mapstructure:"speech_threshold" yaml:"speech_threshold"`
	WindowDuration  time.Duration `mapstructure:"window_duration" yaml:"window_duration"`
}

// PoolConfig bounds collaborator use across calls.
type PoolConfig struct {
	MaxConcurrent int     `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	Rate          float64 `mapstructure:"rate" yaml:"rate"`
	Burst         int     `mapstructure:"burst" yaml:"burst"`
}

// StoreConfig selects where finished calls are exported.
type StoreConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	RedisURL      string        `mapstructure:"redis_url" yaml:"redis_url,omitempty"`
	Prefix        string        `mapstructure:"prefix" yaml:"prefix"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	BadgerDir     string        `mapstructure:"badger_dir" yaml:"badger_dir,omitempty"`
	RegistryGrace time.Duration `mapstructure:"registry_grace" yaml:"registry_grace"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// TelemetryConfig configures OpenTelemetry tracing. An empty endpoint
// disables export.
type TelemetryConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// Modules overrides the level per module, for example telephony: debug.
	Modules map[string]string `mapstructure:"modules" yaml:"modules,omitempty"`
}

// Keys are collaborator credentials.
type Keys struct {
	OpenAI     string `mapstructure:"openai" yaml:"openai,omitempty"`
	Anthropic  string `mapstructure:"anthropic" yaml:"anthropic,omitempty"`
	Deepgram   string `mapstructure:"deepgram" yaml:"deepgram,omitempty"`
	ElevenLabs string `mapstructure:"elevenlabs" yaml:"elevenlabs,omitempty"`
}

// defaults maps every key to its built-in value. Every key must appear
// here so environment variables can override it.
var defaults = map[string]any{
	"server.addr":             ":8000",
	"server.public_base_url":  "http://localhost:8000",
	"server.read_timeout":     "15s",
	"server.shutdown_timeout": "30s",
	"server.allowed_origins":  []string{},

	"twilio.auth_token":         "",
	"twilio.validate_signature": false,

	"recognition.provider":    ProviderDeepgram,
	"recognition.model":       "",
	"recognition.language":    "en",
	"recognition.max_retries": 3,
	"recognition.keep_alive":  "5s",

	"reasoning.provider": ProviderOpenAI,
	"reasoning.model":    "",
	"reasoning.base_url": "",
	"reasoning.timeout":  "5s",

	"synthesis.provider":  ProviderOpenAI,
	"synthesis.model":     "",
	"synthesis.voice":     "",
	"synthesis.speed":     1.0,
	"synthesis.timeout":   "45s",
	"synthesis.max_chars": 800,

	"dialogue.silence_threshold":      "2.5s",
	"dialogue.max_turn_duration":      "20s",
	"dialogue.greeting_grace":         "1.5s",
	"dialogue.post_speech_cooldown":   "1s",
	"dialogue.max_exchanges":          10,
	"dialogue.speak_timeout":          "60s",
	"dialogue.barge_in":               "ignore",
	"dialogue.barge_in_min_speech":    "300ms",
	"dialogue.degraded_turn_interval": "6s",
	"dialogue.completion":             "core",
	"dialogue.catalogue_file":         "",
	"dialogue.opening_line":           "",
	"dialogue.closing_line":           "",

	"audio.speech_threshold": 0.02,
	"audio.window_duration":  "1s",

	"pool.max_concurrent": 16,
	"pool.rate":           0.0,
	"pool.burst":          0,

	"store.backend":        StoreMemory,
	"store.redis_url":      "",
	"store.prefix":         "callkit",
	"store.ttl":            "24h",
	"store.badger_dir":     "",
	"store.registry_grace": "5m",

	"metrics.enabled": true,
	"metrics.addr":    ":9090",

	"telemetry.endpoint":     "",
	"telemetry.service_name": "callkit",
	"telemetry.environment":  "dev",
	"telemetry.sample_ratio": 1.0,

	"logging.level":   "info",
	"logging.format":  "text",
	"logging.modules": map[string]string{},

	"keys.openai":     "",
	"keys.anthropic":  "",
	"keys.deepgram":   "",
	"keys.elevenlabs": "",
}

// vendorEnv lists conventional environment names accepted besides the
// CALLKIT_ ones.
var vendorEnv = map[string]string{
	"keys.openai":       "OPENAI_API_KEY",
	"keys.anthropic":    "ANTHROPIC_API_KEY",
	"keys.deepgram":     "DEEPGRAM_API_KEY",
	"keys.elevenlabs":   "ELEVENLABS_API_KEY",
	"store.redis_url":   "REDIS_URL",
	"twilio.auth_token": "TWILIO_AUTH_TOKEN",
	"logging.level":     "LOG_LEVEL",
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "[REDACTED]"
	}
	c.Keys.OpenAI = mask(c.Keys.OpenAI)
	c.Keys.Anthropic = mask(c.Keys.Anthropic)
	c.Keys.Deepgram = mask(c.Keys.Deepgram)
	c.Keys.ElevenLabs = mask(c.Keys.ElevenLabs)
	c.Twilio.AuthToken = mask(c.Twilio.AuthToken)
	return c
}
