// Package buildinfo holds build-time metadata injected via -ldflags.
package buildinfo

var (
	// Version is the semantic version of the shell build.
	Version = "dev"
	// Commit is the git commit hash the shell was built from.
	Commit = "none"
	// BuildDate is the UTC timestamp of the build.
	BuildDate = "unknown"
)
