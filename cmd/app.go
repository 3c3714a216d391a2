package cmd

import (
	"context"

	"github.com/denysvitali/codexbar/internal/anthropic"
	"github.com/denysvitali/codexbar/internal/cache"
	"github.com/denysvitali/codexbar/internal/config"
	"github.com/denysvitali/codexbar/internal/credentials"
	"github.com/denysvitali/codexbar/internal/metrics"
	"github.com/denysvitali/codexbar/internal/process"
	"github.com/denysvitali/codexbar/internal/provider"
	"github.com/denysvitali/codexbar/internal/provider/claude"
	"github.com/denysvitali/codexbar/internal/provider/codex"
	"github.com/denysvitali/codexbar/internal/snapshot"
	"github.com/denysvitali/codexbar/internal/usage"
	"github.com/denysvitali/codexbar/internal/version"
)

// app is the wiring shared by every command
type app struct {
	cfg      config.Config
	runner   process.Runner
	backends []credentials.Backend
	tokens   *credentials.Resolver
}

func loadApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, process.Exec{})
}

func newApp(cfg config.Config, runner process.Runner) (*app, error) {
	backends, err := credentials.NewBackends(cfg.Secrets.Backends, runner, cfg.BackendOptions())
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		runner:   runner,
		backends: backends,
		tokens:   &credentials.Resolver{Sources: credentials.ClaudeSources(cfg.CredentialsFile(), backends)},
	}, nil
}

func (a *app) engine() *usage.Engine {
	client := a.cfg.ConfigureClient(anthropic.NewClient(a.runner))
	e := usage.NewEngine(
		usage.ProviderStrategies{
			ID:         provider.Codex,
			Strategies: codex.Strategies(a.cfg.CodexOptions(version.Version), a.runner),
		},
		usage.ProviderStrategies{
			ID:         provider.Claude,
			Strategies: claude.Strategies(a.cfg.ClaudeOptions(), a.tokens, client, a.runner),
		},
	)
	e.Observer = metrics.Recorder{}
	return e
}

// resolve builds a fresh engine per call so source filters never leak
// between callers
func (a *app) resolve(ctx context.Context, selector, source string) (*provider.UsageStats, error) {
	stats, err := a.engine().WithSource(source).Resolve(ctx, selector)
	metrics.ObserveStats(stats)
	return stats, err
}

func (a *app) snapshots() *snapshot.Service {
	return &snapshot.Service{Resolve: a.resolve, Cache: cache.NewManager(a.cfg.Cache.Dir)}
}

func (a *app) store() *credentials.Store {
	return &credentials.Store{Backends: a.backends}
}
