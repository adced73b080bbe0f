package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CALLKIT"

const defaultEnvFile = ".env"

// LoadOptions selects the configuration sources.
type LoadOptions struct {
	// File is an optional YAML configuration file.
	File string
	// EnvFile is loaded into the process environment first. Empty means
	// ".env", which may be absent; a named file must exist.
	EnvFile string
	// Flags are bound to configuration keys through FlagKeys.
	Flags *pflag.FlagSet
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"addr":         "server.addr",
	"public-url":   "server.public_base_url",
	"recognizer":   "recognition.provider",
	"reasoner":     "reasoning.provider",
	"synthesizer":  "synthesis.provider",
	"store":        "store.backend",
	"catalogue":    "dialogue.catalogue_file",
	"completion":   "dialogue.completion",
	"barge-in":     "dialogue.barge_in",
	"metrics-addr": "metrics.addr",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
}

// RegisterFlags adds the flags named in FlagKeys to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", defaults["server.addr"].(string), "HTTP listen address")
	fs.String("public-url", defaults["server.public_base_url"].(string), "public base URL Twilio uses to reach this service")
	fs.String("recognizer", defaults["recognition.provider"].(string), "speech recognizer: deepgram or openai")
	fs.String("reasoner", defaults["reasoning.provider"].(string), "reasoning backend: openai, anthropic or rules")
	fs.String("synthesizer", defaults["synthesis.provider"].(string), "speech synthesizer: openai or elevenlabs")
	fs.String("store", defaults["store.backend"].(string), "call record store: memory, redis or badger")
	fs.String("catalogue", "", "YAML field catalogue file")
	fs.String("completion", defaults["dialogue.completion"].(string), "completion policy: core, all or a comma-separated field list")
	fs.String("barge-in", defaults["dialogue.barge_in"].(string), "barge-in policy: ignore, immediate or deferred")
	fs.String("metrics-addr", defaults["metrics.addr"].(string), "Prometheus exporter address")
	fs.String("log-level", defaults["logging.level"].(string), "log level: trace, debug, info, warn or error")
	fs.String("log-format", defaults["logging.format"].(string), "log format: text or json")
}

// Load reads the configuration. It does not validate it.
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range vendorEnv {
		if err := v.BindEnv(key, envName(key), name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", opts.File, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			f := opts.Flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	var cfg Config
	// The defaults table is static; a decode failure is a programming error.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
