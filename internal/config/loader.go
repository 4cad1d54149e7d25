package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] when the corresponding field is empty.
const (
	DefaultListenAddr     = ":8080"
	DefaultVoice          = "Aoede"
	DefaultTextModel      = "gemini-2.5-flash"
	DefaultImageModel     = "gemini-2.5-flash-image"
	DefaultTTSModel       = "gemini-2.5-flash-preview-tts"
	DefaultEmbeddingModel = "gemini-embedding-001"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, applies
// defaults, and resolves the Gemini credential from the environment when the
// file leaves it empty. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Gemini credential: file value wins, environment is the fallback.
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Gemini.APIKey == "" {
		slog.Warn("no Gemini API key configured; voice sessions and content generation will be rejected until one is provided")
	}

	if cfg.Gemini.TextModel == "" {
		cfg.Gemini.TextModel = DefaultTextModel
	}
	if cfg.Gemini.ImageModel == "" {
		cfg.Gemini.ImageModel = DefaultImageModel
	}
	if cfg.Gemini.TTSModel == "" {
		cfg.Gemini.TTSModel = DefaultTTSModel
	}
	if cfg.Gemini.EmbeddingModel == "" {
		cfg.Gemini.EmbeddingModel = DefaultEmbeddingModel
	}

	// Voice
	if cfg.Voice.Name == "" {
		cfg.Voice.Name = DefaultVoice
	}

	// Library
	if cfg.Library.PostgresDSN == "" {
		slog.Warn("library.postgres_dsn is empty; generated content will not be persisted")
	}
	if cfg.Library.PostgresDSN != "" && cfg.Library.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("library.embedding_dimensions must be positive when library.postgres_dsn is set"))
	}

	// Studio
	for i, kw := range cfg.Studio.Keywords {
		if kw == "" {
			errs = append(errs, fmt.Errorf("studio.keywords[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}
