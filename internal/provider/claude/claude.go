// Package claude resolves Claude subscription usage from the OAuth usage
// endpoint and, failing that, from the interactive /usage command.
package claude

import (
	"time"

	"github.com/denysvitali/codexbar/internal/anthropic"
	"github.com/denysvitali/codexbar/internal/credentials"
	"github.com/denysvitali/codexbar/internal/process"
	"github.com/denysvitali/codexbar/internal/provider"
)

// Source labels
const (
	SourceOAuth = "claude-oauth-api"
	SourceCLI   = "claude-cli"
)

// Options configures both claude strategies
type Options struct {
	Binary       string
	UsageArgs    []string
	UsageTimeout time.Duration
}

// DefaultOptions returns the stock claude CLI settings
func DefaultOptions() Options {
	return Options{
		Binary:       "claude",
		UsageTimeout: 20 * time.Second,
	}
}

// Strategies returns the claude strategies in priority order
func Strategies(opts Options, tokens *credentials.Resolver, client *anthropic.Client, runner process.Runner) []provider.Strategy {
	return []provider.Strategy{
		NewOAuthStrategy(tokens, client),
		NewCLIStrategy(opts, runner),
	}
}
