package claude

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/denysvitali/codexbar/internal/anthropic"
	"github.com/denysvitali/codexbar/internal/credentials"
	"github.com/denysvitali/codexbar/internal/process"
	"github.com/denysvitali/codexbar/internal/provider"
	"github.com/denysvitali/codexbar/internal/scrape"
	"github.com/denysvitali/codexbar/internal/usage"
)

var fixedNow = time.Date(2025, 11, 4, 12, 0, 0, 0, time.UTC)

type fakeRunner struct {
	calls []process.Command
	out   *process.Output
	err   error
}

func (f *fakeRunner) Run(_ context.Context, cmd process.Command) (*process.Output, error) {
	f.calls = append(f.calls, cmd)
	return f.out, f.err
}

func tokenResolver(token string) *credentials.Resolver {
	return &credentials.Resolver{Sources: []credentials.Source{{
		Name:   "test",
		Lookup: func(context.Context) (string, bool) { return token, token != "" },
	}}}
}

func TestOAuthStrategy_Fetch(t *testing.T) {
	body := `{"five_hour":{"utilization":12,"resets_at":"2025-11-04T15:00:00Z"},` +
		`"seven_day":{"utilization":"48.5"},` +
		`"seven_day_sonnet":{"utilization":3},"seven_day_opus":{"utilization":90},` +
		`"extra_usage":{"is_enabled":true,"monthly_limit":20,"used_credits":5}}`
	runner := &fakeRunner{out: &process.Output{Stdout: []byte(body + "\n200")}}

	s := NewOAuthStrategy(tokenResolver("sk-ant-oat"), anthropic.NewClient(runner))
	s.now = func() time.Time { return fixedNow }

	result, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, SourceOAuth, result.Source)
	require.Equal(t, provider.Claude, result.Provider)
	require.Equal(t, 12.0, *result.Primary.UsedPercent)
	require.Equal(t, "2025-11-04T15:00:00Z", *result.Primary.ResetsAt)
	require.Equal(t, 48.5, *result.Secondary.UsedPercent)
	require.Equal(t, 3.0, *result.Tertiary.UsedPercent, "sonnet wins over opus")
	require.Equal(t, 15.0, *result.CreditsRemaining)
	require.Equal(t, "oauth", *result.Identity.LoginMethod)

	require.Len(t, runner.calls, 1)
	require.Contains(t, runner.calls[0].Args, "Authorization: Bearer sk-ant-oat")
}

func TestOAuthStrategy_NoToken(t *testing.T) {
	runner := &fakeRunner{}
	s := NewOAuthStrategy(tokenResolver(""), anthropic.NewClient(runner))

	result, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Nil(t, result)
	require.Empty(t, runner.calls)
}

func TestOAuthStrategy_NoDataResponses(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
	}{
		{name: "unauthorized", stdout: `{"error":"expired"}` + "\n401"},
		{name: "server error", stdout: "oops\n500"},
		{name: "no status trailer", stdout: `{"five_hour":{"utilization":1}}`},
		{name: "non-numeric status", stdout: "{}\nabc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{out: &process.Output{Stdout: []byte(tt.stdout)}}
			s := NewOAuthStrategy(tokenResolver("tok"), anthropic.NewClient(runner))

			result, err := s.Fetch(context.Background())
			require.NoError(t, err)
			require.Nil(t, result)
			require.Len(t, runner.calls, 1)
		})
	}
}

func TestOAuthStrategy_CurlFailureIsError(t *testing.T) {
	runner := &fakeRunner{out: &process.Output{ExitCode: 6, Stderr: []byte("could not resolve host")}}
	s := NewOAuthStrategy(tokenResolver("tok"), anthropic.NewClient(runner))

	result, err := s.Fetch(context.Background())
	require.Nil(t, result)
	require.ErrorContains(t, err, "curl exited with status 6")
	require.NotContains(t, err.Error(), "tok")
}

func TestOAuthStrategy_NoWindows(t *testing.T) {
	runner := &fakeRunner{out: &process.Output{Stdout: []byte(`{"five_hour":null}` + "\n200")}}
	s := NewOAuthStrategy(tokenResolver("tok"), anthropic.NewClient(runner))

	result, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Nil(t, result)
}

const usageScreen = `
 Settings:  Status   Config   [Usage]

 Current session
 ███████████████████▌                               39% used
 Resets 3pm (Europe/Zurich)

 Current week (all models)
 ████████████                                       24% used
 Resets Nov 8, 9am (Europe/Zurich)

 Current week (Sonnet only)
 ▌                                                  1% used
`

func TestCLIStrategy_Fetch(t *testing.T) {
	runner := &fakeRunner{out: &process.Output{Stdout: []byte("\x1b[2J" + strings.ReplaceAll(usageScreen, "39%", "\x1b[1m39\x1b[0m%"))}}
	s := NewCLIStrategy(DefaultOptions(), runner)
	s.now = func() time.Time { return fixedNow }

	result, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, SourceCLI, result.Source)
	require.Equal(t, 39.0, *result.Primary.UsedPercent)
	require.Equal(t, uint64(300), *result.Primary.WindowMinutes)
	require.Equal(t, 24.0, *result.Secondary.UsedPercent)
	require.Equal(t, 1.0, *result.Tertiary.UsedPercent)
	require.Equal(t, uint64(10080), *result.Tertiary.WindowMinutes)
	require.Nil(t, result.CreditsRemaining)

	call := runner.calls[0]
	require.Equal(t, "claude", call.Program)
	require.Equal(t, "/usage\n", call.Input)
	require.Equal(t, 20*time.Second, call.Timeout)
}

func TestCLIStrategy_Failures(t *testing.T) {
	tests := []struct {
		name string
		out  *process.Output
		err  error
		want error
	}{
		{name: "no usage panel", out: &process.Output{Stdout: []byte("Welcome back!\n")}, want: scrape.ErrParseFailure},
		{name: "timeout", err: process.ErrTimeout, want: process.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewCLIStrategy(DefaultOptions(), &fakeRunner{out: tt.out, err: tt.err})
			result, err := s.Fetch(context.Background())
			require.Nil(t, result)
			require.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestStrategies_Order(t *testing.T) {
	strategies := Strategies(DefaultOptions(), tokenResolver(""), anthropic.NewClient(&fakeRunner{}), &fakeRunner{})
	require.Len(t, strategies, 2)
	require.Equal(t, SourceOAuth, strategies[0].Source())
	require.Equal(t, SourceCLI, strategies[1].Source())
}

type outcomeRecorder map[string]string

func (o outcomeRecorder) ObserveStrategy(_, source, outcome string, _ time.Duration) {
	o[source] = outcome
}

func TestOAuthStrategy_UnauthorizedIsEmptyOutcome(t *testing.T) {
	runner := &fakeRunner{out: &process.Output{Stdout: []byte(`{"error":"unauthorized"}` + "\n401")}}
	outcomes := outcomeRecorder{}
	e := usage.NewEngine(usage.ProviderStrategies{
		ID:         provider.Claude,
		Strategies: []provider.Strategy{NewOAuthStrategy(tokenResolver("tok"), anthropic.NewClient(runner))},
	})
	e.Observer = outcomes

	_, err := e.Resolve(context.Background(), provider.Claude)
	require.ErrorIs(t, err, usage.ErrAllProvidersFailed)
	require.Equal(t, usage.OutcomeEmpty, outcomes[SourceOAuth])
}
