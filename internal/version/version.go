// Package version holds the build version of codexbar.
package version

// Version is set by goreleaser via -ldflags "-X github.com/denysvitali/codexbar/internal/version.Version=..."
var Version = "dev"
