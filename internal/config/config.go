// Package config provides the configuration schema, loader, hot-reload
// watcher and live provider registry for the call bridge.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8000"
	DefaultStreamPath      = "/ws"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultLiveProvider    = "gemini-live"
	DefaultModel           = "gemini-2.0-flash-exp"
	DefaultVoice           = "Aoede"
	DefaultTelephonyRate   = 8000
	DefaultModelRate       = 24000
	DefaultActivityLevel   = 500
	DefaultExotelSubdomain = "api.in.exotel.com"
	DefaultExotelTimeout   = 10 * time.Second
	DefaultMaxCatalogBytes = 95000
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Live   LiveConfig   `yaml:"live"`
	Audio  AudioConfig  `yaml:"audio"`
	Exotel ExotelConfig `yaml:"exotel"`
	Data   DataConfig   `yaml:"data"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output.
	LogFormat LogFormat `yaml:"log_format"`

	// StreamPath is the websocket route the telephony provider connects to.
	StreamPath string `yaml:"stream_path"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProviderEntry is the configuration block of one live provider. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation ("gemini-live",
	// "genai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// APIVersion overrides the API version segment (e.g. "v1alpha").
	APIVersion string `yaml:"api_version"`

	// Model selects the live model.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// LiveConfig configures the AI side of every call.
type LiveConfig struct {
	ProviderEntry `yaml:",inline"`

	// Voice is the prebuilt voice the model speaks with.
	Voice string `yaml:"voice"`

	// Instructions, when set, replaces the prompt built from the data
	// section.
	Instructions string `yaml:"instructions"`

	// Fallbacks are tried in order when the primary provider cannot open a
	// session. Empty fields inherit from the primary.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// AudioConfig holds the PCM settings of the relay.
type AudioConfig struct {
	// TelephonyRate is the caller-side sample rate.
	TelephonyRate int `yaml:"telephony_rate"`

	// ModelRate is the sample rate of the model's audio output.
	ModelRate int `yaml:"model_rate"`

	// BufferChunks is the number of inbound media frames sent together.
	BufferChunks int `yaml:"buffer_chunks"`

	// ActivityThreshold is the RMS level above which caller audio counts as
	// speech.
	ActivityThreshold float64 `yaml:"activity_threshold"`
}

// ExotelConfig holds the credentials used to place outbound calls.
type ExotelConfig struct {
	APIKey     string `yaml:"api_key"`
	APIToken   string `yaml:"api_token"`
	AccountSID string `yaml:"account_sid"`

	// Subdomain is the regional API host (e.g. "api.in.exotel.com").
	Subdomain string `yaml:"subdomain"`

	// FlowID is the call flow (applet) that connects the call to the
	// stream endpoint.
	FlowID string `yaml:"flow_id"`

	// CallerID is the virtual number shown to the callee.
	CallerID string `yaml:"caller_id"`

	// Timeout bounds one API request.
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether enough credentials are present to place calls.
func (e ExotelConfig) Enabled() bool {
	return e.APIKey != "" && e.APIToken != "" && e.AccountSID != ""
}

// DataConfig points at the files the system prompt is built from.
type DataConfig struct {
	// CatalogFile is the product catalog CSV.
	CatalogFile string `yaml:"catalog_file"`

	// OrdersFile is the customer order history CSV.
	OrdersFile string `yaml:"orders_file"`

	// CustomerPhone selects the customer whose orders go into the prompt.
	CustomerPhone string `yaml:"customer_phone"`

	// MaxCatalogBytes caps the catalog JSON embedded in the prompt.
	MaxCatalogBytes int `yaml:"max_catalog_bytes"`

	// PromptTemplate is an optional text/template file replacing the
	// built-in prompt.
	PromptTemplate string `yaml:"prompt_template"`
}

// ApplyDefaults fills every zero field that has a default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogFormatText
	}
	if s.StreamPath == "" {
		s.StreamPath = DefaultStreamPath
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	l := &cfg.Live
	if l.Name == "" {
		l.Name = DefaultLiveProvider
	}
	if l.Model == "" {
		l.Model = DefaultModel
	}
	if l.Voice == "" {
		l.Voice = DefaultVoice
	}
	for i := range l.Fallbacks {
		fb := &l.Fallbacks[i]
		if fb.APIKey == "" {
			fb.APIKey = l.APIKey
		}
		if fb.Model == "" {
			fb.Model = l.Model
		}
	}

	a := &cfg.Audio
	if a.TelephonyRate == 0 {
		a.TelephonyRate = DefaultTelephonyRate
	}
	if a.ModelRate == 0 {
		a.ModelRate = DefaultModelRate
	}
	if a.BufferChunks == 0 {
		a.BufferChunks = 1
	}
	if a.ActivityThreshold == 0 {
		a.ActivityThreshold = DefaultActivityLevel
	}

	e := &cfg.Exotel
	if e.Subdomain == "" {
		e.Subdomain = DefaultExotelSubdomain
	}
	if e.Timeout == 0 {
		e.Timeout = DefaultExotelTimeout
	}

	if cfg.Data.MaxCatalogBytes == 0 {
		cfg.Data.MaxCatalogBytes = DefaultMaxCatalogBytes
	}
}
