// Package versions exposes build-time version information for the cutover
// binaries.
package versions

import (
	"fmt"
	"runtime"
)

// Build information, injected at link time via -ldflags.
var (
	// Version is the semantic version of the build, or "dev" for local
	// builds.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "unknown"

	// BuildDate is the RFC 3339 timestamp of the build.
	BuildDate = "unknown"
)

// VersionInfo describes a build of the binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information of the running binary.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
