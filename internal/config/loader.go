package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Transport
	if len(cfg.Transport.Endpoints) == 0 {
		errs = append(errs, errors.New("transport.endpoints must list at least one WebSocket URL"))
	}
	for i, ep := range cfg.Transport.Endpoints {
		if !strings.HasPrefix(ep, "ws://") && !strings.HasPrefix(ep, "wss://") {
			errs = append(errs, fmt.Errorf("transport.endpoints[%d] %q must use the ws or wss scheme", i, ep))
		}
	}
	if cfg.Transport.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("transport.max_reconnect_attempts must not be negative"))
	}
	if cfg.Transport.ReconnectDelay < 0 || cfg.Transport.ReconnectMaxDelay < 0 {
		errs = append(errs, errors.New("transport reconnect delays must not be negative"))
	}
	if cfg.Transport.ReconnectMaxDelay > 0 && cfg.Transport.ReconnectDelay > cfg.Transport.ReconnectMaxDelay {
		errs = append(errs, errors.New("transport.reconnect_delay must not exceed transport.reconnect_max_delay"))
	}
	if cfg.Transport.AuthToken == "" {
		slog.Warn("transport.auth_token is empty; the backend may reject the handshake")
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, errors.New("audio.sample_rate must not be negative"))
	}
	if cfg.Audio.FrameSamples < 0 {
		errs = append(errs, errors.New("audio.frame_samples must not be negative"))
	}

	// Store
	switch cfg.Store.Backend {
	case "", StoreHTTP:
		if cfg.Store.BaseURL == "" {
			errs = append(errs, errors.New("store.base_url is required for the http backend"))
		}
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: http, postgres", cfg.Store.Backend))
	}

	// Interview
	if cfg.Interview.MaxDuration < 0 {
		errs = append(errs, errors.New("interview.max_duration must not be negative"))
	}

	// Resume
	if cfg.Resume.TTL < 0 {
		errs = append(errs, errors.New("resume.ttl must not be negative"))
	}
	if cfg.Resume.Dir == "" {
		slog.Warn("resume.dir is empty; interrupted interviews cannot be resumed")
	}

	return errors.Join(errs...)
}
