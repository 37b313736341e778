package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in live provider names. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"gemini-live", "genai"}

// LoadDotenv loads environment variables from the given .env files (".env"
// when none are given). Variables already set in the environment win. A
// missing file is not an error.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("no .env file", "path", p)
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("loaded .env file", "path", p)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, applies defaults and validates the result. An empty
// document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBytes is LoadFromReader over an in-memory document.
func loadBytes(b []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(b))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Validate expects [ApplyDefaults] to have run.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if p := cfg.Server.StreamPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("server.stream_path %q must start with /", p))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Live
	validateProviderName(cfg.Live.Name)
	if cfg.Live.APIKey == "" {
		slog.Warn("live.api_key is empty; calls will fail to open a live session")
	}
	for i, fb := range cfg.Live.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("live.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName(fb.Name)
	}

	// Audio
	a := cfg.Audio
	if a.TelephonyRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.telephony_rate %d must be positive", a.TelephonyRate))
	}
	if a.ModelRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.model_rate %d must be positive", a.ModelRate))
	}
	if a.BufferChunks < 1 {
		errs = append(errs, fmt.Errorf("audio.buffer_chunks %d must be at least 1", a.BufferChunks))
	}
	if a.ActivityThreshold < 0 || a.ActivityThreshold > 32768 {
		errs = append(errs, fmt.Errorf("audio.activity_threshold %.1f is out of range [0, 32768]", a.ActivityThreshold))
	}

	// Exotel: either fully configured for outbound calls or not at all.
	e := cfg.Exotel
	if e.APIKey != "" || e.APIToken != "" || e.AccountSID != "" {
		if !e.Enabled() {
			errs = append(errs, errors.New("exotel: api_key, api_token and account_sid must be set together"))
		}
		if e.FlowID == "" {
			errs = append(errs, errors.New("exotel.flow_id is required when exotel credentials are set"))
		}
		if e.CallerID == "" {
			errs = append(errs, errors.New("exotel.caller_id is required when exotel credentials are set"))
		}
	}
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("exotel.timeout %s must not be negative", e.Timeout))
	}

	// Data
	if cfg.Data.MaxCatalogBytes < 0 {
		errs = append(errs, fmt.Errorf("data.max_catalog_bytes %d must not be negative", cfg.Data.MaxCatalogBytes))
	}
	if cfg.Data.CatalogFile == "" && cfg.Live.Instructions == "" {
		slog.Warn("data.catalog_file is empty; the prompt will carry no catalog")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not a built-in provider.
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown live provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
