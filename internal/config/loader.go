package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields lets tokens and passwords be written as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Backend.Token = expandEnvVars(cfg.Backend.Token)
	cfg.Backend.BaseURL = expandEnvVars(cfg.Backend.BaseURL)
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped; a file that fails to parse is an error.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return &ConfigError{Message: "failed to load " + f + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Defaults(), err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Defaults(), &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnvOverrides reads DIALDECK_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DIALDECK_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("DIALDECK_BACKEND_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv("DIALDECK_COUNTRY_CODE"); v != "" {
		cfg.Dialer.CountryCode = v
	}
	if v := os.Getenv("DIALDECK_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("DIALDECK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("DIALDECK_AGENTS_SOURCE"); v != "" {
		cfg.Agents.Source = strings.ToLower(v)
	}
}
