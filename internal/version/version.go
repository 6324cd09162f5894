// Package version holds build-time version metadata, overridden via
// -ldflags "-X github.com/unicornparson/lunaricorn/internal/version.Version=...".
package version

var (
	// Version is the semantic version of this build.
	Version = "dev"
	// Commit is the VCS commit this build was produced from.
	Commit = "unknown"
)
