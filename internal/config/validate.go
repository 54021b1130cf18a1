package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

func oneOf(issues []ValidationIssue, path, got string, valid []string) []ValidationIssue {
	if got != "" && !slices.Contains(valid, got) {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Message: fmt.Sprintf("must be one of %v, got %q", valid, got),
		})
	}
	return issues
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Backend
	if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, ValidationIssue{
			Path:    "backend.baseUrl",
			Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", cfg.Backend.BaseURL),
		})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		issues = append(issues, ValidationIssue{
			Path:    "backend.baseUrl",
			Message: fmt.Sprintf("scheme must be http or https, got %q", u.Scheme),
		})
	}
	if cfg.Backend.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "backend.timeoutSeconds",
			Message: "must not be negative",
		})
	}

	issues = oneOf(issues, "agents.source", cfg.Agents.Source, []string{SourceRemote, SourceLocal})

	// Dialer
	if cc := cfg.Dialer.CountryCode; cc != "" {
		digits := strings.TrimPrefix(cc, "+")
		if !strings.HasPrefix(cc, "+") || digits == "" || strings.Trim(digits, "0123456789") != "" {
			issues = append(issues, ValidationIssue{
				Path:    "dialer.countryCode",
				Message: fmt.Sprintf("must be '+' followed by digits, got %q", cc),
			})
		}
	}
	if cfg.Dialer.ResetSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "dialer.resetSeconds",
			Message: "must not be negative",
		})
	}

	if cfg.Calls.HistoryLimit < 0 || cfg.Calls.HistoryLimit > 1000 {
		issues = append(issues, ValidationIssue{
			Path:    "calls.historyLimit",
			Message: fmt.Sprintf("must be 0-1000, got %d", cfg.Calls.HistoryLimit),
		})
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}
	issues = oneOf(issues, "gateway.bind", cfg.Gateway.Bind, []string{"loopback", "lan", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when bind is custom",
		})
	}
	issues = oneOf(issues, "gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"token", "password"})
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.tls",
			Message: "certPath and keyPath are required when TLS is enabled",
		})
	}

	// Logging
	issues = oneOf(issues, "logging.level", cfg.Logging.Level,
		[]string{"silent", "error", "warn", "info", "debug", "trace"})
	issues = oneOf(issues, "logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	// Telemetry
	if cfg.Telemetry.Enabled && cfg.Telemetry.OTLPEndpoint == "" {
		issues = append(issues, ValidationIssue{
			Path:    "telemetry.otlpEndpoint",
			Message: "required when telemetry is enabled",
		})
	}

	return issues
}
