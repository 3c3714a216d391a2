package codex

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/denysvitali/codexbar/internal/provider"
	"github.com/denysvitali/codexbar/internal/rpc"
)

// starter spawns an RPC peer
type starter func(ctx context.Context, program string, args ...string) (*rpc.Session, error)

// RPCStrategy reads rate limits from `codex app-server`
type RPCStrategy struct {
	opts  Options
	start starter
	now   func() time.Time
}

// NewRPCStrategy creates the app-server strategy
func NewRPCStrategy(opts Options) *RPCStrategy {
	return &RPCStrategy{opts: opts, start: rpc.Start, now: time.Now}
}

// Source implements provider.Strategy
func (s *RPCStrategy) Source() string { return SourceRPC }

// Fetch implements provider.Strategy. The whole session is bounded by the
// RPC timeout and the child is always terminated before returning.
func (s *RPCStrategy) Fetch(ctx context.Context) (*provider.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RPCTimeout)
	defer cancel()
	log := pslog.Ctx(ctx).With("provider", provider.Codex, "source", SourceRPC)

	args := append(append([]string{}, s.opts.SandboxArgs...), "app-server")
	session, err := s.start(ctx, s.opts.Binary, args...)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	server := &appServer{session: session}
	if err := server.Initialize(ctx, s.opts.ClientVersion); err != nil {
		return nil, fmt.Errorf("codex app-server initialize: %w", err)
	}

	account, err := server.FetchAccount(ctx)
	if err != nil {
		log.Debug("codex account unavailable", "err", err)
	}

	limits, err := server.FetchRateLimits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch codex rate limits via app-server: %w", err)
	}

	result := &provider.Result{
		Provider:  provider.Codex,
		Source:    SourceRPC,
		UpdatedAt: s.now().UTC(),
		Primary:   windowFromRPC(limits.Primary),
		Secondary: windowFromRPC(limits.Secondary),
	}
	if result.Primary == nil && result.Secondary == nil {
		return nil, nil
	}
	if limits.Credits != nil && limits.Credits.Balance != nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(*limits.Credits.Balance), 64); err == nil {
			result.CreditsRemaining = &v
		}
	}
	result.Identity = identityFromAccount(account)
	return result, nil
}

// windowFromRPC converts an app-server window. A window without a used
// percentage is dropped.
func windowFromRPC(w *RateLimitWindow) *provider.UsageWindow {
	if w == nil || w.UsedPercent == nil {
		return nil
	}
	var resetsAt *string
	if w.ResetsAt != nil {
		resetsAt = provider.UnixResetsAt(*w.ResetsAt)
	}
	window := provider.NewWindow(w.UsedPercent, 0, resetsAt)
	window.WindowMinutes = w.WindowDurationMins
	return window
}

func identityFromAccount(account AccountDetails) *provider.IdentityInfo {
	switch a := account.(type) {
	case ChatGPTAccount:
		return &provider.IdentityInfo{
			AccountEmail: a.Email,
			LoginMethod:  a.PlanType,
		}
	case APIKeyAccount, nil:
		// API-key logins and a failed account/read carry no identity
	}
	return nil
}
