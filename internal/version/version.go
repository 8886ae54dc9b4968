// Package version carries build identity, stamped via -ldflags at release
// time.
package version

var (
	// Version is the application version, "dev" for local builds.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
