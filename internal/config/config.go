// Package config provides the configuration schema and loader for the Viva
// interview engine.
package config

import "time"

// LogLevel controls log verbosity for the Viva engine.
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

// StoreBackend selects the durable session store implementation.
type StoreBackend string

const (
	// StoreHTTP persists sessions through the backend REST API.
	StoreHTTP StoreBackend = "http"

	// StorePostgres persists sessions in a PostgreSQL database owned by
	// this deployment.
	StorePostgres StoreBackend = "postgres"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	return b == StoreHTTP || b == StorePostgres
}

// Config is the root configuration structure for Viva.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Audio     AudioConfig     `yaml:"audio"`
	Store     StoreConfig     `yaml:"store"`
	Interview InterviewConfig `yaml:"interview"`
	Resume    ResumeConfig    `yaml:"resume"`
}

// ServerConfig holds the local observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., ":8086"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// TransportConfig holds the interview backend connection settings.
type TransportConfig struct {
	// Endpoints are the candidate WebSocket URLs, tried strictly in order.
	// At least one is required.
	Endpoints []string `yaml:"endpoints"`

	// AuthToken is sent as a bearer token on the WebSocket handshake.
	AuthToken string `yaml:"auth_token"`

	// DialTimeout bounds each single connection attempt. Defaults to 8s.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// MaxReconnectAttempts bounds automatic reconnection after a drop.
	// Defaults to 10.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// ReconnectDelay is the initial backoff between reconnection attempts;
	// it doubles each attempt up to ReconnectMaxDelay. Defaults to 1s.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// ReconnectMaxDelay caps the backoff. Defaults to 30s.
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
}

// AudioConfig holds microphone capture settings.
type AudioConfig struct {
	// Enabled turns microphone capture on. A disabled or failing
	// microphone leaves the session listen-only.
	Enabled bool `yaml:"enabled"`

	// SampleRate is the PCM16 rate sent on the wire. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the number of samples per outbound frame. Defaults
	// to 4096.
	FrameSamples int `yaml:"frame_samples"`
}

// StoreConfig selects and configures the durable session store.
type StoreConfig struct {
	// Backend is "http" or "postgres". Defaults to "http".
	Backend StoreBackend `yaml:"backend"`

	// BaseURL is the REST API root for the http backend.
	BaseURL string `yaml:"base_url"`

	// AuthToken authenticates REST API calls for the http backend.
	AuthToken string `yaml:"auth_token"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// InterviewConfig holds per-session behaviour.
type InterviewConfig struct {
	// MaxDuration ends the interview when it elapses. Zero disables the
	// limit.
	MaxDuration time.Duration `yaml:"max_duration"`
}

// ResumeConfig holds local resume-record settings.
type ResumeConfig struct {
	// Dir is the directory holding resume records. Empty disables resume.
	Dir string `yaml:"dir"`

	// TTL is how long an interrupted session stays resumable. Defaults
	// to 24h.
	TTL time.Duration `yaml:"ttl"`
}
