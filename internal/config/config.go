package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Agent source modes.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://localhost:8000"
	}
	if cfg.Backend.TimeoutSeconds == 0 {
		cfg.Backend.TimeoutSeconds = 30
	}
	if cfg.Agents.Source == "" {
		cfg.Agents.Source = SourceRemote
	}
	if cfg.Dialer.CountryCode == "" {
		cfg.Dialer.CountryCode = "+57"
	}
	if cfg.Dialer.ResetSeconds == 0 {
		cfg.Dialer.ResetSeconds = 5
	}
	if cfg.Calls.HistoryLimit == 0 {
		cfg.Calls.HistoryLimit = 50
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18790
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = "token"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "dialdeck"
	}
}
