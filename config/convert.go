package config

import (
	"sort"

	"github.com/AltairaLabs/callkit/audio"
	"github.com/AltairaLabs/callkit/dialogue"
	"github.com/AltairaLabs/callkit/logger"
	"github.com/AltairaLabs/callkit/session"
	"github.com/AltairaLabs/callkit/stt"
	"github.com/AltairaLabs/callkit/telemetry"
	"github.com/AltairaLabs/callkit/tts"
)

// Catalogue loads the field catalogue file, or returns the default gym
// catalogue when none is configured.
func (c *Config) Catalogue() (dialogue.Catalogue, error) {
	if c.Dialogue.CatalogueFile == "" {
		return dialogue.DefaultCatalogue(), nil
	}
	return dialogue.LoadCatalogue(c.Dialogue.CatalogueFile)
}

// DialogueConfig converts the turn-taking settings.
func (c *Config) DialogueConfig() (dialogue.Config, error) {
	barge, err := audio.ParseBargeInPolicy(c.Dialogue.BargeIn)
	if err != nil {
		return dialogue.Config{}, err
	}
	policy, err := dialogue.ParseCompletionPolicy(c.Dialogue.Completion)
	if err != nil {
		return dialogue.Config{}, err
	}
	cooldown := c.Dialogue.PostSpeechCooldown
	if cooldown == 0 {
		// Zero means no cooldown here; the dialogue package reads zero as unset.
		cooldown = -1
	}
	return dialogue.Config{
		SilenceThreshold:     c.Dialogue.SilenceThreshold,
		MaxTurnDuration:      c.Dialogue.MaxTurnDuration,
		GreetingGrace:        c.Dialogue.GreetingGrace,
		PostSpeechCooldown:   cooldown,
		MaxExchanges:         c.Dialogue.MaxExchanges,
		ReasoningTimeout:     c.Reasoning.Timeout,
		SpeakTimeout:         c.Dialogue.SpeakTimeout,
		BargeIn:              barge,
		BargeInMinSpeech:     c.Dialogue.BargeInMinSpeech,
		DegradedTurnInterval: c.Dialogue.DegradedTurnInterval,
		OpeningLine:          c.Dialogue.OpeningLine,
		ClosingLine:          c.Dialogue.ClosingLine,
		Completion:           policy,
	}, nil
}

// FramerConfig converts the audio analysis settings.
func (c *Config) FramerConfig() audio.FramerConfig {
	fc := audio.DefaultFramerConfig()
	if c.Audio.SpeechThreshold > 0 {
		fc.SpeechThreshold = c.Audio.SpeechThreshold
	}
	if c.Audio.WindowDuration > 0 {
		fc.WindowDuration = c.Audio.WindowDuration
	}
	return fc
}

// PoolConfig converts the collaborator lease limits.
func (c *Config) PoolConfig() session.PoolConfig {
	return session.PoolConfig{
		MaxConcurrent: c.Pool.MaxConcurrent,
		Rate:          c.Pool.Rate,
		Burst:         c.Pool.Burst,
	}
}

// SessionConfig assembles the per-call configuration.
func (c *Config) SessionConfig() (session.Config, error) {
	dc, err := c.DialogueConfig()
	if err != nil {
		return session.Config{}, err
	}
	cat, err := c.Catalogue()
	if err != nil {
		return session.Config{}, err
	}

	stream := stt.DefaultStreamConfig()
	stream.Language = c.Recognition.Language
	stream.Model = c.Recognition.Model

	synth := tts.DefaultSynthesisConfig()
	synth.Voice = c.Synthesis.Voice
	synth.Model = c.Synthesis.Model
	if c.Synthesis.Speed > 0 {
		synth.Speed = c.Synthesis.Speed
	}

	retries := c.Recognition.MaxRetries
	if retries == 0 {
		retries = -1
	}

	return session.Config{
		Dialogue:  dc,
		Catalogue: cat,
		Framer:    c.FramerConfig(),
		Adapter: stt.AdapterConfig{
			Stream:     stream,
			MaxRetries: retries,
		},
		Pipeline: tts.PipelineConfig{
			Synthesis: synth,
			Timeout:   c.Synthesis.Timeout,
			MaxChars:  c.Synthesis.MaxChars,
		},
	}, nil
}

// LoggingSpec converts the logging settings for logger.Configure.
func (c *Config) LoggingSpec() *logger.LoggingConfigSpec {
	spec := &logger.LoggingConfigSpec{
		DefaultLevel: c.Logging.Level,
		Format:       c.Logging.Format,
		CommonFields: map[string]string{
			"service": c.Telemetry.ServiceName,
			"env":     c.Telemetry.Environment,
		},
	}
	names := make([]string, 0, len(c.Logging.Modules))
	for name := range c.Logging.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec.Modules = append(spec.Modules, logger.ModuleLoggingSpec{Name: name, Level: c.Logging.Modules[name]})
	}
	return spec
}

// TelemetryConfig converts the tracing settings.
func (c *Config) TelemetryConfig() telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		Endpoint:    c.Telemetry.Endpoint,
		ServiceName: c.Telemetry.ServiceName,
		Environment: c.Telemetry.Environment,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}
