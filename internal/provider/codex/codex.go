// Package codex resolves Codex usage, first through the codex app-server
// JSON-RPC interface and then by scraping the interactive /status command.
package codex

import (
	"time"

	"github.com/denysvitali/codexbar/internal/process"
	"github.com/denysvitali/codexbar/internal/provider"
)

// Source labels
const (
	SourceRPC    = "codex-cli"
	SourceStatus = "codex-status"
)

// DefaultSandboxArgs keep codex read-only and untrusted
var DefaultSandboxArgs = []string{"-s", "read-only", "-a", "untrusted"}

// Options configures both codex strategies
type Options struct {
	Binary        string
	SandboxArgs   []string
	RPCTimeout    time.Duration
	StatusTimeout time.Duration
	// ClientVersion is reported to the app-server during initialize
	ClientVersion string
}

// DefaultOptions returns the stock codex settings
func DefaultOptions() Options {
	return Options{
		Binary:        "codex",
		SandboxArgs:   DefaultSandboxArgs,
		RPCTimeout:    20 * time.Second,
		StatusTimeout: 20 * time.Second,
		ClientVersion: "dev",
	}
}

// Strategies returns the codex strategies in priority order
func Strategies(opts Options, runner process.Runner) []provider.Strategy {
	return []provider.Strategy{
		NewRPCStrategy(opts),
		NewStatusStrategy(opts, runner),
	}
}
