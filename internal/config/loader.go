package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidSTTProviders lists the recognised speech-to-text provider names.
var ValidSTTProviders = []string{"whisper", "whisper-native", "deepgram"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown YAML fields are rejected so typos fail fast.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Behavior.RateAdjuster == 0 {
		cfg.Behavior.RateAdjuster = DefaultRateAdjuster
	}
	if cfg.Behavior.RandomInterval == 0 {
		cfg.Behavior.RandomInterval = DefaultRandomInterval
	}
	if cfg.TTS.Voice == "" {
		cfg.TTS.Voice = DefaultVoice
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; softer concerns are
// logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}

	if cfg.Storage.DataDirectory == "" {
		errs = append(errs, errors.New("storage.data_directory is required"))
	}
	if cfg.Storage.DatabaseURL == "" {
		slog.Warn("storage.database_url is empty; the clip catalog is kept in memory and lost on restart")
	}

	if cfg.Behavior.RateAdjuster < 0 {
		errs = append(errs, fmt.Errorf("behavior.rate_adjuster %.1f must not be negative", cfg.Behavior.RateAdjuster))
	}
	if cfg.Behavior.RandomInterval < 0 {
		errs = append(errs, fmt.Errorf("behavior.random_interval %v must not be negative", cfg.Behavior.RandomInterval))
	}
	if cfg.Behavior.Segmenter.RMSThreshold < 0 {
		errs = append(errs, fmt.Errorf("behavior.segmenter.rms_threshold %.1f must not be negative", cfg.Behavior.Segmenter.RMSThreshold))
	}

	switch cfg.STT.Name {
	case "":
		errs = append(errs, errors.New("stt.name is required"))
	case "whisper":
		if cfg.STT.BaseURL == "" {
			errs = append(errs, errors.New("stt.base_url is required for the whisper provider"))
		}
	case "whisper-native":
		if cfg.STT.Model == "" {
			errs = append(errs, errors.New("stt.model (ggml model path) is required for the whisper-native provider"))
		}
	case "deepgram":
		if cfg.STT.APIKey == "" {
			errs = append(errs, errors.New("stt.api_key is required for the deepgram provider"))
		}
	default:
		if !slices.Contains(ValidSTTProviders, cfg.STT.Name) {
			errs = append(errs, fmt.Errorf("stt.name %q is unknown; valid values: whisper, whisper-native, deepgram", cfg.STT.Name))
		}
	}

	if cfg.TTS.BaseURL == "" {
		slog.Warn("tts.base_url is empty; spoken greetings are disabled")
	}

	return errors.Join(errs...)
}
