// Package version exposes build metadata set through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Name is the binary and service name
const Name = "securityheaders"

// Overridden at build time:
//
//	-ldflags "-X github.com/aitorroca/wn-securityheaders-plugin/pkg/version.Version=v1.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// BuildInfo represents build information
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns the build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// UserAgent identifies the proxy on its own outbound requests
func UserAgent() string {
	return Name + "/" + Version
}

// String returns a single-line summary suitable for --version output
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s)",
		Name, b.Version, b.GitCommit, b.BuildDate, b.GoVersion, b.Platform)
}
