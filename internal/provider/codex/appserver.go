package codex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/denysvitali/codexbar/internal/rpc"
)

// ClientName identifies this program to the app-server
const ClientName = "codexbar"

// AccountDetails is the account the app-server is logged in with. It is
// either APIKeyAccount or ChatGPTAccount.
type AccountDetails interface {
	isAccount()
}

// APIKeyAccount is an account authenticated with a plain API key. It carries
// no identity.
type APIKeyAccount struct{}

// ChatGPTAccount is an account signed in through ChatGPT
type ChatGPTAccount struct {
	Email    *string
	PlanType *string
}

func (APIKeyAccount) isAccount()  {}
func (ChatGPTAccount) isAccount() {}

// RateLimitWindow is one window from account/rateLimits/read
type RateLimitWindow struct {
	UsedPercent        *float64 `json:"usedPercent"`
	WindowDurationMins *uint64  `json:"windowDurationMins"`
	ResetsAt           *int64   `json:"resetsAt"`
}

// RateLimits is the rateLimits object from account/rateLimits/read
type RateLimits struct {
	Primary   *RateLimitWindow `json:"primary"`
	Secondary *RateLimitWindow `json:"secondary"`
	Credits   *struct {
		Balance *string `json:"balance"`
	} `json:"credits"`
}

type rateLimitsResponse struct {
	RateLimits *RateLimits `json:"rateLimits"`
}

// appServer is the typed view of a codex app-server session
type appServer struct {
	session *rpc.Session
}

// Initialize performs the handshake: the initialize request followed by the
// initialized notification.
func (a *appServer) Initialize(ctx context.Context, version string) error {
	params := map[string]any{
		"clientInfo": map[string]string{
			"name":    ClientName,
			"version": version,
		},
	}
	if err := a.session.Call(ctx, "initialize", params, nil); err != nil {
		return err
	}
	return a.session.Notify("initialized", map[string]any{})
}

// FetchAccount reads the logged-in account. A nil AccountDetails means the
// server reported no account.
func (a *appServer) FetchAccount(ctx context.Context) (AccountDetails, error) {
	var raw json.RawMessage
	if err := a.session.Call(ctx, "account/read", map[string]any{}, &raw); err != nil {
		return nil, err
	}
	return decodeAccount(raw)
}

// FetchRateLimits reads the current rate-limit snapshot
func (a *appServer) FetchRateLimits(ctx context.Context) (*RateLimits, error) {
	var resp rateLimitsResponse
	if err := a.session.Call(ctx, "account/rateLimits/read", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	if resp.RateLimits == nil {
		return nil, fmt.Errorf("account/rateLimits/read: missing rateLimits: %w", rpc.ErrProtocolViolation)
	}
	return resp.RateLimits, nil
}

func decodeAccount(raw []byte) (AccountDetails, error) {
	account := gjson.GetBytes(raw, "account")
	if !account.Exists() || account.Type == gjson.Null {
		return nil, nil
	}
	switch kind := account.Get("type").String(); kind {
	case "apiKey":
		return APIKeyAccount{}, nil
	case "chatgpt":
		return ChatGPTAccount{
			Email:    optionalString(account.Get("email")),
			PlanType: optionalString(account.Get("planType")),
		}, nil
	default:
		return nil, fmt.Errorf("failed to decode account: unknown type %q", kind)
	}
}

func optionalString(v gjson.Result) *string {
	if v.Type != gjson.String {
		return nil
	}
	s := v.Str
	return &s
}
