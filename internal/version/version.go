// Package version contains build-time version metadata.
package version

// These are set via -ldflags at build time.
var (
	// Version is the semantic version of the build.
	Version = "0.3.0-dev"

	// Commit is the git commit hash the binary was built from.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String returns a human-readable version string.
func String() string {
	return Version + " (" + Commit + ")"
}
