package main

import (
	"context"
	"fmt"

	"github.com/AltairaLabs/callkit/config"
	"github.com/AltairaLabs/callkit/reasoning"
	"github.com/AltairaLabs/callkit/session"
	"github.com/AltairaLabs/callkit/statestore"
	"github.com/AltairaLabs/callkit/stt"
	"github.com/AltairaLabs/callkit/tts"
)

// buildCollaborators creates the recognizer, reasoner and synthesizer
// named by cfg. cfg must be valid.
func buildCollaborators(cfg *config.Config) (session.Collaborators, error) {
	var c session.Collaborators

	switch cfg.Recognition.Provider {
	case config.ProviderDeepgram:
		opts := []stt.DeepgramOption{}
		if cfg.Recognition.Model != "" {
			opts = append(opts, stt.WithDeepgramModel(cfg.Recognition.Model))
		}
		if cfg.Recognition.KeepAlive > 0 {
			opts = append(opts, stt.WithDeepgramKeepAlive(cfg.Recognition.KeepAlive))
		}
		c.Recognizer = stt.NewDeepgram(cfg.Keys.Deepgram, opts...)
	case config.ProviderOpenAI:
		opts := []stt.OpenAIOption{}
		if cfg.Recognition.Model != "" {
			opts = append(opts, stt.WithOpenAIModel(cfg.Recognition.Model))
		}
		cat, err := cfg.Catalogue()
		if err != nil {
			return c, err
		}
		var terms []string
		for _, slot := range cat.Slots {
			terms = append(terms, slot.Keywords...)
		}
		c.Recognizer = stt.NewBatchRecognizer(stt.NewOpenAI(cfg.Keys.OpenAI, opts...), stt.BatchConfig{
			Prompt: stt.VocabularyPrompt(cat.Topic, terms),
		})
	default:
		return c, fmt.Errorf("unknown recognizer %q", cfg.Recognition.Provider)
	}

	switch cfg.Reasoning.Provider {
	case config.ProviderOpenAI:
		r, err := reasoning.NewOpenAI(reasoning.OpenAIConfig{
			APIKey:  cfg.Keys.OpenAI,
			Model:   cfg.Reasoning.Model,
			BaseURL: cfg.Reasoning.BaseURL,
		})
		if err != nil {
			return c, fmt.Errorf("openai reasoner: %w", err)
		}
		c.Reasoner = r
	case config.ProviderAnthropic:
		r, err := reasoning.NewAnthropic(reasoning.AnthropicConfig{
			APIKey:  cfg.Keys.Anthropic,
			Model:   cfg.Reasoning.Model,
			BaseURL: cfg.Reasoning.BaseURL,
		})
		if err != nil {
			return c, fmt.Errorf("anthropic reasoner: %w", err)
		}
		c.Reasoner = r
	case config.ProviderRules:
		c.Reasoner = reasoning.NewRules()
	default:
		return c, fmt.Errorf("unknown reasoner %q", cfg.Reasoning.Provider)
	}

	switch cfg.Synthesis.Provider {
	case config.ProviderOpenAI:
		opts := []tts.OpenAIOption{}
		if cfg.Synthesis.Model != "" {
			opts = append(opts, tts.WithOpenAIModel(cfg.Synthesis.Model))
		}
		if cfg.Synthesis.Voice != "" {
			opts = append(opts, tts.WithOpenAIVoice(cfg.Synthesis.Voice))
		}
		c.Synthesizer = tts.NewOpenAI(cfg.Keys.OpenAI, opts...)
	case config.ProviderElevenLabs:
		opts := []tts.ElevenLabsOption{tts.WithVoiceSettings(tts.TelephonyVoiceSettings())}
		if cfg.Synthesis.Model != "" {
			opts = append(opts, tts.WithElevenLabsModel(cfg.Synthesis.Model))
		}
		if cfg.Synthesis.Voice != "" {
			opts = append(opts, tts.WithElevenLabsVoice(cfg.Synthesis.Voice))
		}
		c.Synthesizer = tts.NewElevenLabs(cfg.Keys.ElevenLabs, opts...)
	default:
		return c, fmt.Errorf("unknown synthesizer %q", cfg.Synthesis.Provider)
	}

	return c, nil
}

// openStore opens the record store named by cfg. The returned function
// releases it.
func openStore(ctx context.Context, cfg *config.Config) (statestore.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return statestore.NewMemoryStore(), noop, nil
	case config.StoreRedis:
		s, err := statestore.NewRedisStoreFromURL(cfg.Store.RedisURL,
			statestore.WithPrefix(cfg.Store.Prefix),
			statestore.WithTTL(cfg.Store.TTL),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		return s, s.Close, nil
	case config.StoreBadger:
		s, err := statestore.NewBadgerStore(statestore.BadgerOptions{Dir: cfg.Store.BadgerDir})
		if err != nil {
			return nil, nil, fmt.Errorf("badger store: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
