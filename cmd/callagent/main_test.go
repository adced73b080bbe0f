package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/callkit/config"
	"github.com/AltairaLabs/callkit/dialogue"
)

// clearKeys hides credentials from the developer's environment.
func clearKeys(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "DEEPGRAM_API_KEY", "ELEVENLABS_API_KEY",
		"CALLKIT_KEYS_OPENAI", "CALLKIT_KEYS_ANTHROPIC", "CALLKIT_KEYS_DEEPGRAM", "CALLKIT_KEYS_ELEVENLABS",
	} {
		t.Setenv(name, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Keys.Deepgram = "dg-key"
	cfg.Keys.OpenAI = "sk-test"
	cfg.Reasoning.Provider = config.ProviderRules
	cfg.Metrics.Enabled = false
	cfg.Server.Addr = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "callagent version ")
}

func TestFieldsCmd_Default(t *testing.T) {
	out, err := execute(t, "fields")
	require.NoError(t, err)

	cat, err := dialogue.ParseCatalogue([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, dialogue.DefaultCatalogue().Names(), cat.Names())
}

func TestFieldsCmd_CatalogueFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
topic: your bakery
fields:
  - name: opening_time
    description: when the shop opens
    question: What time do you open?
    required: true
    priority: 1
`), 0o600))

	out, err := execute(t, "fields", "--catalogue", path)
	require.NoError(t, err)
	assert.Contains(t, out, "topic: your bakery")
	assert.Contains(t, out, "name: opening_time")

	_, err = execute(t, "fields", "--catalogue", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigCmd(t *testing.T) {
	clearKeys(t)
	t.Setenv("OPENAI_API_KEY", "sk-very-secret")

	out, err := execute(t, "config", "--store", "badger")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: badger")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "sk-very-secret")

	_, err = execute(t, "config", "--validate")
	var ve *config.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "keys.deepgram", ve.Field)
}

func TestServeCmd_InvalidConfig(t *testing.T) {
	clearKeys(t)
	_, err := execute(t, "serve", "--recognizer", "whisper")
	assert.Error(t, err)
}

func TestBuildCollaborators(t *testing.T) {
	tests := []struct {
		name                   string
		recognizer, reasoner   string
		synthesizer            string
		wantRec, wantReasoning string
		wantSynth              string
	}{
		{"defaults", config.ProviderDeepgram, config.ProviderOpenAI, config.ProviderOpenAI, "deepgram", "openai", "openai"},
		{"openai recognition", config.ProviderOpenAI, config.ProviderRules, config.ProviderOpenAI, "openai", "rules", "openai"},
		{"anthropic and elevenlabs", config.ProviderDeepgram, config.ProviderAnthropic, config.ProviderElevenLabs, "deepgram", "anthropic", "elevenlabs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Keys.Anthropic = "sk-ant"
			cfg.Keys.ElevenLabs = "el-key"
			cfg.Recognition.Provider = tt.recognizer
			cfg.Reasoning.Provider = tt.reasoner
			cfg.Synthesis.Provider = tt.synthesizer
			cfg.Synthesis.Voice = "nova"

			c, err := buildCollaborators(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRec, c.Recognizer.Name())
			assert.Equal(t, tt.wantReasoning, c.Reasoner.Name())
			assert.Equal(t, tt.wantSynth, c.Synthesizer.Name())
		})
	}
}

func TestBuildCollaborators_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Synthesis.Provider = "festival"
	_, err := buildCollaborators(cfg)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Reasoning.Provider = config.ProviderAnthropic
	_, err = buildCollaborators(cfg)
	assert.Error(t, err, "missing anthropic key")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, closeFn, err := openStore(ctx, testConfig(t))
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.NoError(t, closeFn())
	})

	t.Run("badger", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Backend = config.StoreBadger
		cfg.Store.BadgerDir = t.TempDir()
		s, closeFn, err := openStore(ctx, cfg)
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.NoError(t, closeFn())
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(t)
		cfg.Store.Backend = config.StoreRedis
		cfg.Store.RedisURL = "redis://" + mr.Addr()
		s, closeFn, err := openStore(ctx, cfg)
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.NoError(t, closeFn())
	})

	t.Run("redis bad url", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Backend = config.StoreRedis
		cfg.Store.RedisURL = "http://not-redis"
		_, _, err := openStore(ctx, cfg)
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Backend = "postgres"
		_, _, err := openStore(ctx, cfg)
		assert.Error(t, err)
	})
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.close()
	assert.True(t, a.server.Ready())

	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.False(t, a.server.Ready())
}

func TestNewApp_MetricsAndStoreFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, a.exporter)
	a.close()

	cfg = testConfig(t)
	cfg.Store.Backend = config.StoreRedis
	cfg.Store.RedisURL = "http://not-redis"
	_, err = newApp(context.Background(), cfg)
	assert.Error(t, err)
}
