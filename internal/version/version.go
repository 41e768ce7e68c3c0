// Package version holds build information set through -ldflags.
package version

// Version is the release of the running binary
var Version = "dev"

// Commit is the source revision of the running binary
var Commit = "unknown"
