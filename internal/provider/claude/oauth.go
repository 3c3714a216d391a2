package claude

import (
	"context"
	"errors"
	"time"

	"pkt.systems/pslog"

	"github.com/denysvitali/codexbar/internal/anthropic"
	"github.com/denysvitali/codexbar/internal/credentials"
	"github.com/denysvitali/codexbar/internal/provider"
)

// OAuthStrategy queries the usage endpoint with a cached OAuth token
type OAuthStrategy struct {
	tokens *credentials.Resolver
	client *anthropic.Client
	now    func() time.Time
}

// NewOAuthStrategy creates the OAuth endpoint strategy
func NewOAuthStrategy(tokens *credentials.Resolver, client *anthropic.Client) *OAuthStrategy {
	return &OAuthStrategy{tokens: tokens, client: client, now: time.Now}
}

// Source implements provider.Strategy
func (s *OAuthStrategy) Source() string { return SourceOAuth }

// Fetch implements provider.Strategy. Without a token, or when the endpoint
// answers with anything but a 200, the result is nil.
func (s *OAuthStrategy) Fetch(ctx context.Context) (*provider.Result, error) {
	token, from, ok := s.tokens.Resolve(ctx)
	if !ok {
		pslog.Ctx(ctx).Debug("no claude oauth token available", "provider", provider.Claude)
		return nil, nil
	}
	pslog.Ctx(ctx).Debug("querying claude usage endpoint", "provider", provider.Claude, "token_source", from)

	usage, err := s.client.GetUsage(ctx, token)
	var statusErr *anthropic.StatusError
	switch {
	case errors.As(err, &statusErr), errors.Is(err, anthropic.ErrMalformedResponse):
		pslog.Ctx(ctx).Debug("claude usage endpoint gave no data", "provider", provider.Claude, "err", err)
		return nil, nil
	case err != nil:
		return nil, err
	}
	if !usage.HasWindows() {
		return nil, nil
	}

	return &provider.Result{
		Provider:         provider.Claude,
		Source:           SourceOAuth,
		UpdatedAt:        s.now().UTC(),
		Primary:          usage.FiveHour,
		Secondary:        usage.SevenDay,
		Tertiary:         usage.Tertiary(),
		CreditsRemaining: usage.ExtraUsage.Remaining(),
		Identity:         &provider.IdentityInfo{LoginMethod: provider.Ptr("oauth")},
	}, nil
}
