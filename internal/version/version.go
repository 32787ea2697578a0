// Package version provides build-time version information for hwang.
//
// Build-time variables are injected via ldflags:
//
//	go build -ldflags "
//	  -X github.com/scanner-research/hwang/internal/version.Version=x.y.z
//	  -X github.com/scanner-research/hwang/internal/version.Commit=$(git rev-parse HEAD)
//	  -X github.com/scanner-research/hwang/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)
//	"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version, or "dev" for untagged builds.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"
)

func init() {
	// If ldflags weren't provided, try to get VCS info from build info.
	if Commit == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					Commit = setting.Value
				case "vcs.time":
					Date = setting.Value
				}
			}
		}
	}
}

// ApplicationName is the canonical name of this application.
const ApplicationName = "hwang"

// String returns a human-readable version string.
func String() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s/%s)",
			ApplicationName, Version, Commit[:8], Date, runtime.Version(),
			runtime.GOOS, runtime.GOARCH)
	}
	return fmt.Sprintf("%s version %s (%s, %s/%s)",
		ApplicationName, Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns a short version string suitable for CLI --version output.
func Short() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		return fmt.Sprintf("%s (%s)", Version, Commit[:8])
	}
	return Version
}
