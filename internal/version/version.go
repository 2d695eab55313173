// Package version holds the build version stamped in at release time.
package version

// Version is overridden via -ldflags at build time.
var Version = "dev"
