package claude

import (
	"context"
	"fmt"
	"time"

	"github.com/denysvitali/codexbar/internal/process"
	"github.com/denysvitali/codexbar/internal/provider"
	"github.com/denysvitali/codexbar/internal/scrape"
)

var (
	sessionLabels = []string{"current session"}
	weeklyLabels  = []string{"current week (all models)", "current week (all"}
	modelLabels   = []string{"current week (opus)", "current week (sonnet"}
)

// CLIStrategy scrapes the interactive /usage command
type CLIStrategy struct {
	opts   Options
	runner process.Runner
	now    func() time.Time
}

// NewCLIStrategy creates the /usage scrape strategy
func NewCLIStrategy(opts Options, runner process.Runner) *CLIStrategy {
	return &CLIStrategy{opts: opts, runner: runner, now: time.Now}
}

// Source implements provider.Strategy
func (s *CLIStrategy) Source() string { return SourceCLI }

// Fetch implements provider.Strategy
func (s *CLIStrategy) Fetch(ctx context.Context) (*provider.Result, error) {
	out, err := s.runner.Run(ctx, process.Command{
		Program: s.opts.Binary,
		Args:    s.opts.UsageArgs,
		Input:   "/usage\n",
		Timeout: s.opts.UsageTimeout,
	})
	if err != nil {
		return nil, err
	}
	return parseUsage(scrape.StripANSI(out.Combined()), s.now().UTC())
}

func parseUsage(text string, now time.Time) (*provider.Result, error) {
	result := &provider.Result{
		Provider:  provider.Claude,
		Source:    SourceCLI,
		UpdatedAt: now,
	}
	if used, ok := scrape.WindowedUsedPercent(text, sessionLabels...); ok {
		result.Primary = provider.NewWindow(&used, provider.SessionWindowMinutes, nil)
	}
	if used, ok := scrape.WindowedUsedPercent(text, weeklyLabels...); ok {
		result.Secondary = provider.NewWindow(&used, provider.WeeklyWindowMinutes, nil)
	}
	if used, ok := scrape.WindowedUsedPercent(text, modelLabels...); ok {
		result.Tertiary = provider.NewWindow(&used, provider.WeeklyWindowMinutes, nil)
	}
	if credits, ok := scrape.Credits(text); ok {
		result.CreditsRemaining = &credits
	}
	if !result.HasData() {
		return nil, fmt.Errorf("claude /usage: %w", scrape.ErrParseFailure)
	}
	return result, nil
}
