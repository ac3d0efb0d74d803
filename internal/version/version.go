package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// String renders the build identity on one line.
func String() string {
	return fmt.Sprintf("floorbot %s (commit %s, built %s)", Version, Commit, BuildDate)
}
