// Package version carries build metadata set with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)

// String returns "lightsearch <version> (<sha>, built <time>)".
func String() string {
	return fmt.Sprintf("lightsearch %s (%s, built %s)", Version, GitSHA, BuildTime)
}
