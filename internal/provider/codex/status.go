package codex

import (
	"context"
	"fmt"
	"time"

	"github.com/denysvitali/codexbar/internal/process"
	"github.com/denysvitali/codexbar/internal/provider"
	"github.com/denysvitali/codexbar/internal/scrape"
)

// Labels printed by /status
const (
	sessionLabel = "5h limit"
	weeklyLabel  = "weekly limit"
)

// StatusStrategy scrapes the interactive /status command
type StatusStrategy struct {
	opts   Options
	runner process.Runner
	now    func() time.Time
}

// NewStatusStrategy creates the /status scrape strategy
func NewStatusStrategy(opts Options, runner process.Runner) *StatusStrategy {
	return &StatusStrategy{opts: opts, runner: runner, now: time.Now}
}

// Source implements provider.Strategy
func (s *StatusStrategy) Source() string { return SourceStatus }

// Fetch implements provider.Strategy
func (s *StatusStrategy) Fetch(ctx context.Context) (*provider.Result, error) {
	out, err := s.runner.Run(ctx, process.Command{
		Program: s.opts.Binary,
		Args:    s.opts.SandboxArgs,
		Input:   "/status\n",
		Timeout: s.opts.StatusTimeout,
	})
	if err != nil {
		return nil, err
	}
	return parseStatus(scrape.StripANSI(out.Combined()), s.now().UTC())
}

func parseStatus(text string, now time.Time) (*provider.Result, error) {
	result := &provider.Result{
		Provider:  provider.Codex,
		Source:    SourceStatus,
		UpdatedAt: now,
	}
	if used, ok := scrape.LabeledUsedPercent(text, sessionLabel); ok {
		result.Primary = provider.NewWindow(&used, provider.SessionWindowMinutes, nil)
	}
	if used, ok := scrape.LabeledUsedPercent(text, weeklyLabel); ok {
		result.Secondary = provider.NewWindow(&used, provider.WeeklyWindowMinutes, nil)
	}
	if credits, ok := scrape.Credits(text); ok {
		result.CreditsRemaining = &credits
	}
	if !result.HasData() {
		return nil, fmt.Errorf("codex /status: %w", scrape.ErrParseFailure)
	}
	return result, nil
}
