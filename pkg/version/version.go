// Package version exposes build metadata for the legalcodes binary.
package version

import (
	"fmt"
	"runtime"
)

// Version is injected with -ldflags "-X github.com/qter21/legal-codes-search-api/pkg/version.Version=...".
var Version = "dev"

var (
	// Commit is the short git commit the binary was built from.
	Commit = "unknown"

	// Date is the RFC3339 build timestamp.
	Date = "unknown"

	// GoVersion is the toolchain that produced the binary.
	GoVersion = runtime.Version()
)

// BuildInfo is the JSON shape returned by `legalcodes version --json` and /healthz.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("legalcodes %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, GoVersion)
}

// UserAgent is sent to remote embedding endpoints.
func UserAgent() string {
	return "legalcodes/" + Version
}

// GetInfo returns structured build information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
