package version

import "fmt"

var (
	// Version is the release version, set with -ldflags at build time.
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the build information on one line.
func String() string {
	return fmt.Sprintf("spatialcompare %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
