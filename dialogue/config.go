package dialogue

import (
	"errors"
	"fmt"
	"time"

	"github.com/AltairaLabs/callkit/audio"
)

// Orchestrator defaults.
const (
	DefaultSilenceThreshold     = 2500 * time.Millisecond
	DefaultMaxTurnDuration      = 20 * time.Second
	DefaultGreetingGrace        = 1500 * time.Millisecond
	DefaultPostSpeechCooldown   = time.Second
	DefaultMaxExchanges         = 10
	DefaultReasoningTimeout     = 5 * time.Second
	DefaultSpeakTimeout         = 60 * time.Second
	DefaultDegradedTurnInterval = 6 * time.Second
	DefaultTick                 = 50 * time.Millisecond

	DefaultOpeningLine = "Hi! I'm calling to ask about your gym."
	DefaultClosingLine = "Thank you so much for your help! Have a great day."
)

// Config tunes turn-taking.
type Config struct {
	// SilenceThreshold is the caller silence after a final utterance that
	// hands the turn to the agent.
	SilenceThreshold time.Duration
	// MaxTurnDuration bounds a caller turn regardless of silence.
	MaxTurnDuration time.Duration
	// GreetingGrace is how long the agent waits for the caller to speak first.
	GreetingGrace time.Duration
	// PostSpeechCooldown suppresses silence-based yields right after the
	// agent finishes speaking.
	PostSpeechCooldown time.Duration
	MaxExchanges       int
	// ReasoningTimeout bounds each reasoning call. The session applies it
	// through reasoning.SoftConfig.
	ReasoningTimeout time.Duration
	// SpeakTimeout bounds one agent utterance from request to playback end.
	SpeakTimeout time.Duration

	BargeIn          audio.BargeInPolicy
	BargeInMinSpeech time.Duration

	// DegradedTurnInterval paces timed turns when recognition is unavailable.
	DegradedTurnInterval time.Duration

	// Tick is how often timers are evaluated.
	Tick time.Duration

	OpeningLine string
	ClosingLine string

	Completion CompletionPolicy
}

// DefaultConfig returns the default turn-taking configuration.
func DefaultConfig() Config {
	c := Config{}
	c.defaults()
	return c
}

func (c *Config) defaults() {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.MaxTurnDuration <= 0 {
		c.MaxTurnDuration = DefaultMaxTurnDuration
	}
	if c.GreetingGrace <= 0 {
		c.GreetingGrace = DefaultGreetingGrace
	}
	if c.PostSpeechCooldown < 0 {
		c.PostSpeechCooldown = 0
	} else if c.PostSpeechCooldown == 0 {
		c.PostSpeechCooldown = DefaultPostSpeechCooldown
	}
	if c.MaxExchanges <= 0 {
		c.MaxExchanges = DefaultMaxExchanges
	}
	if c.ReasoningTimeout <= 0 {
		c.ReasoningTimeout = DefaultReasoningTimeout
	}
	if c.SpeakTimeout <= 0 {
		c.SpeakTimeout = DefaultSpeakTimeout
	}
	if c.BargeInMinSpeech <= 0 {
		c.BargeInMinSpeech = audio.DefaultBargeInMinSpeech
	}
	if c.DegradedTurnInterval <= 0 {
		c.DegradedTurnInterval = DefaultDegradedTurnInterval
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.OpeningLine == "" {
		c.OpeningLine = DefaultOpeningLine
	}
	if c.ClosingLine == "" {
		c.ClosingLine = DefaultClosingLine
	}
	if c.Completion.Mode == "" {
		c.Completion.Mode = PolicyCore
	}
}

// Validate checks relationships between settings after defaults apply.
func (c Config) Validate() error {
	c.defaults()
	var errs []error
	if c.MaxTurnDuration < c.SilenceThreshold {
		errs = append(errs, fmt.Errorf("max turn duration %s is shorter than the silence threshold %s",
			c.MaxTurnDuration, c.SilenceThreshold))
	}
	if c.SpeakTimeout < c.ReasoningTimeout {
		errs = append(errs, fmt.Errorf("speak timeout %s is shorter than the reasoning timeout %s",
			c.SpeakTimeout, c.ReasoningTimeout))
	}
	return errors.Join(errs...)
}
