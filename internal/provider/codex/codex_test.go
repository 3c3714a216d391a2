package codex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/denysvitali/codexbar/internal/process"
	"github.com/denysvitali/codexbar/internal/provider"
	"github.com/denysvitali/codexbar/internal/rpc"
	"github.com/denysvitali/codexbar/internal/scrape"
)

var fixedNow = time.Date(2025, 11, 4, 12, 0, 0, 0, time.UTC)

// fakeAppServer answers requests by method with canned result or error JSON.
type fakeAppServer struct {
	results map[string]string
	errors  map[string]string
	silent  map[string]bool
	methods []string
	program string
	args    []string
}

func (f *fakeAppServer) start(t *testing.T) starter {
	return func(_ context.Context, program string, args ...string) (*rpc.Session, error) {
		f.program, f.args = program, args
		clientIn, serverOut := io.Pipe()
		serverIn, clientOut := io.Pipe()
		go func() {
			scanner := bufio.NewScanner(serverIn)
			for scanner.Scan() {
				line := scanner.Text()
				method := gjson.Get(line, "method").String()
				f.methods = append(f.methods, method)
				id := gjson.Get(line, "id")
				if !id.Exists() || f.silent[method] {
					continue
				}
				var reply string
				if e, ok := f.errors[method]; ok {
					reply = fmt.Sprintf(`{"id":%d,"error":%s}`, id.Int(), e)
				} else if r, ok := f.results[method]; ok {
					reply = fmt.Sprintf(`{"id":%d,"result":%s}`, id.Int(), r)
				} else {
					reply = fmt.Sprintf(`{"id":%d,"result":{}}`, id.Int())
				}
				var compact bytes.Buffer
				if err := json.Compact(&compact, []byte(reply)); err != nil {
					panic(fmt.Sprintf("bad canned reply for %s: %v", method, err))
				}
				_, _ = io.WriteString(serverOut, "{\"method\":\"log\"}\n"+compact.String()+"\n")
			}
			_ = serverOut.Close()
		}()
		t.Cleanup(func() {
			_ = clientOut.Close()
			_ = serverOut.Close()
		})
		return rpc.NewSession(clientIn, clientOut), nil
	}
}

func newRPC(t *testing.T, server *fakeAppServer) *RPCStrategy {
	s := NewRPCStrategy(DefaultOptions())
	s.start = server.start(t)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestRPCStrategy_Fetch(t *testing.T) {
	server := &fakeAppServer{results: map[string]string{
		"account/read": `{"account":{"type":"chatgpt","email":"dev@example.com","planType":"plus"}}`,
		"account/rateLimits/read": `{"rateLimits":{
			"primary":{"usedPercent":28,"windowDurationMins":300,"resetsAt":1700000000},
			"secondary":{"usedPercent":61.5,"windowDurationMins":10080},
			"credits":{"balance":"12.5"}}}`,
	}}

	result, err := newRPC(t, server).Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Equal(t, "codex", server.program)
	require.Equal(t, []string{"-s", "read-only", "-a", "untrusted", "app-server"}, server.args)
	require.Equal(t, []string{"initialize", "initialized", "account/read", "account/rateLimits/read"}, server.methods)

	require.Equal(t, SourceRPC, result.Source)
	require.Equal(t, provider.Codex, result.Provider)
	require.Equal(t, fixedNow, result.UpdatedAt)
	require.Equal(t, 28.0, *result.Primary.UsedPercent)
	require.Equal(t, uint64(300), *result.Primary.WindowMinutes)
	require.Equal(t, "2023-11-14T22:13:20Z", *result.Primary.ResetsAt)
	require.Equal(t, 61.5, *result.Secondary.UsedPercent)
	require.Nil(t, result.Secondary.ResetsAt)
	require.Equal(t, 12.5, *result.CreditsRemaining)
	require.Equal(t, "dev@example.com", *result.Identity.AccountEmail)
	require.Equal(t, "plus", *result.Identity.LoginMethod)
}

func TestRPCStrategy_AccountFailureIsNotFatal(t *testing.T) {
	server := &fakeAppServer{
		results: map[string]string{
			"account/rateLimits/read": `{"rateLimits":{"primary":{"usedPercent":10}}}`,
		},
		errors: map[string]string{"account/read": `{"code":-1,"message":"nope"}`},
	}

	result, err := newRPC(t, server).Fetch(context.Background())
	require.NoError(t, err)
	require.Nil(t, result.Identity)
	require.Nil(t, result.Primary.WindowMinutes)
}

func TestRPCStrategy_APIKeyAccountHasNoIdentity(t *testing.T) {
	server := &fakeAppServer{results: map[string]string{
		"account/read":            `{"account":{"type":"apiKey"}}`,
		"account/rateLimits/read": `{"rateLimits":{"secondary":{"usedPercent":150}}}`,
	}}

	result, err := newRPC(t, server).Fetch(context.Background())
	require.NoError(t, err)
	require.Nil(t, result.Identity)
	require.Equal(t, 100.0, *result.Secondary.UsedPercent)
}

func TestRPCStrategy_RateLimitErrorFails(t *testing.T) {
	server := &fakeAppServer{errors: map[string]string{
		"account/rateLimits/read": `{"code":-32000,"message":"not logged in"}`,
	}}

	_, err := newRPC(t, server).Fetch(context.Background())
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
}

func TestRPCStrategy_NoWindows(t *testing.T) {
	server := &fakeAppServer{results: map[string]string{
		"account/rateLimits/read": `{"rateLimits":{"primary":{"windowDurationMins":300},"credits":{"balance":"5"}}}`,
	}}

	result, err := newRPC(t, server).Fetch(context.Background())
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestRPCStrategy_SilentServerTimesOut(t *testing.T) {
	server := &fakeAppServer{silent: map[string]bool{"account/rateLimits/read": true}}
	s := newRPC(t, server)
	s.opts.RPCTimeout = 100 * time.Millisecond

	result, err := s.Fetch(context.Background())
	require.Nil(t, result)
	require.ErrorIs(t, err, process.ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, process.IsUnavailable(err))
}

func TestIdentityFromAccount(t *testing.T) {
	require.Nil(t, identityFromAccount(nil))
	require.Nil(t, identityFromAccount(APIKeyAccount{}))

	email := "dev@example.com"
	got := identityFromAccount(ChatGPTAccount{Email: &email})
	require.Equal(t, &email, got.AccountEmail)
}

func TestRPCStrategy_NotInstalled(t *testing.T) {
	opts := DefaultOptions()
	opts.Binary = "codexbar-test-missing-codex"
	_, err := NewRPCStrategy(opts).Fetch(context.Background())
	require.ErrorIs(t, err, process.ErrNotInstalled)
}

func TestDecodeAccount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    AccountDetails
		wantErr bool
	}{
		{name: "no account", raw: `{"account":null}`, want: nil},
		{name: "api key", raw: `{"account":{"type":"apiKey"}}`, want: APIKeyAccount{}},
		{name: "chatgpt without email", raw: `{"account":{"type":"chatgpt"}}`, want: ChatGPTAccount{}},
		{name: "unknown", raw: `{"account":{"type":"sso"}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeAccount([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

type fakeRunner struct {
	got process.Command
	out *process.Output
	err error
}

func (f *fakeRunner) Run(_ context.Context, cmd process.Command) (*process.Output, error) {
	f.got = cmd
	return f.out, f.err
}

func TestStatusStrategy_Fetch(t *testing.T) {
	runner := &fakeRunner{out: &process.Output{
		Stdout: []byte("\x1b[1m5h limit:\x1b[0m [███░░] 72% left\n"),
		Stderr: []byte("weekly limit: 39% left\nCredits: 1,234.5\n"),
	}}
	s := NewStatusStrategy(DefaultOptions(), runner)
	s.now = func() time.Time { return fixedNow }

	result, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "codex", runner.got.Program)
	require.Equal(t, []string{"-s", "read-only", "-a", "untrusted"}, runner.got.Args)
	require.Equal(t, "/status\n", runner.got.Input)
	require.Equal(t, 20*time.Second, runner.got.Timeout)

	require.Equal(t, SourceStatus, result.Source)
	require.Equal(t, 28.0, *result.Primary.UsedPercent)
	require.Equal(t, uint64(300), *result.Primary.WindowMinutes)
	require.Equal(t, 61.0, *result.Secondary.UsedPercent)
	require.Equal(t, uint64(10080), *result.Secondary.WindowMinutes)
	require.Equal(t, 1234.5, *result.CreditsRemaining)
	require.Nil(t, result.Identity)
}

func TestStatusStrategy_Failures(t *testing.T) {
	tests := []struct {
		name string
		out  *process.Output
		err  error
		want error
	}{
		{name: "nothing parsable", out: &process.Output{Stdout: []byte("Welcome to codex\n")}, want: scrape.ErrParseFailure},
		{name: "timeout", err: process.ErrTimeout, want: process.ErrTimeout},
		{name: "missing", err: process.ErrNotInstalled, want: process.ErrNotInstalled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStatusStrategy(DefaultOptions(), &fakeRunner{out: tt.out, err: tt.err})
			result, err := s.Fetch(context.Background())
			require.Nil(t, result)
			require.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}
