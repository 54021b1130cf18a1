// Package version reports build metadata injected at link time.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/dialdeck/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/dialdeck/internal/version.Commit=abc123
//	  -X github.com/soyeahso/dialdeck/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("dialdeck %s (commit: %s, built: %s, %s/%s)",
		Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent on every backend request.
func UserAgent() string {
	return "dialdeck/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
