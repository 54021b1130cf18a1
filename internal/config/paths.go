package config

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultBaseDir = ".dialdeck"

// Paths holds resolved filesystem paths for dialdeck data.
type Paths struct {
	Base     string // ~/.dialdeck
	Config   string // ~/.dialdeck/config.yaml
	DotEnv   string // ~/.dialdeck/.env
	Logs     string // ~/.dialdeck/logs
	Data     string // ~/.dialdeck/data
	Database string // ~/.dialdeck/data/dialdeck.db
}

// ResolvePaths computes all standard paths from the home directory.
// If DIALDECK_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("DIALDECK_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	data := filepath.Join(base, "data")
	return Paths{
		Base:     base,
		Config:   filepath.Join(base, "config.yaml"),
		DotEnv:   filepath.Join(base, ".env"),
		Logs:     filepath.Join(base, "logs"),
		Data:     data,
		Database: filepath.Join(data, "dialdeck.db"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Logs, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the configured store path, falling back to the
// default location under the data directory.
func (p Paths) DatabasePath(cfg Config) string {
	if cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	return p.Database
}

// blockedKeys are keys that must never appear in config paths.
var blockedKeys = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// ParseConfigPath splits a dot-separated config path into segments.
// Returns an error if any segment is blocked or empty.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
		if blockedKeys[p] {
			return nil, &ConfigError{Message: "config path contains blocked key: " + p}
		}
	}
	return parts, nil
}

// GetValueAtPath traverses a nested map using the given path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	current := any(root)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetValueAtPath sets a value in a nested map, creating intermediate maps as needed.
func SetValueAtPath(root map[string]any, path []string, value any) {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key]
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		m, ok := next.(map[string]any)
		if !ok {
			m = map[string]any{}
			current[key] = m
		}
		current = m
	}
	current[path[len(path)-1]] = value
}

// UnsetValueAtPath removes a value at the given path. Returns true if removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key]
		if !ok {
			return false
		}
		m, ok := next.(map[string]any)
		if !ok {
			return false
		}
		current = m
	}
	last := path[len(path)-1]
	if _, ok := current[last]; !ok {
		return false
	}
	delete(current, last)
	return true
}
