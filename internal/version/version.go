// Package version carries build metadata stamped in with -ldflags, e.g.
//
//	-X github.com/banshee-data/keypoint.report/internal/version.Version=v0.2.0
package version

import "fmt"

var (
	// Version is the release tag of the keypoint tool.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for the version command.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
