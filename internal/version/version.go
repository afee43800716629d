// Package version holds build metadata set with -ldflags -X.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is the release version, "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Commit returns GitSHA, falling back to the VCS revision the Go toolchain
// stamps into the binary when no -ldflags value was given. A modified
// working tree gets a "-dirty" suffix.
func Commit() string {
	if GitSHA != "unknown" {
		return GitSHA
	}
	info, ok := readBuildInfo()
	if !ok {
		return GitSHA
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return GitSHA
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// String formats the build metadata for -version output and logs.
func String() string {
	return fmt.Sprintf("sensorframe %s (%s, built %s)", Version, Commit(), BuildTime)
}
