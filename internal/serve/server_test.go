package serve

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"pkt.systems/pslog"

	"github.com/denysvitali/codexbar/internal/cache"
	"github.com/denysvitali/codexbar/internal/provider"
	"github.com/denysvitali/codexbar/internal/snapshot"
	"github.com/denysvitali/codexbar/internal/usage"
)

type fakeStrategy struct {
	source string
	result *provider.Result
}

func (f fakeStrategy) Source() string { return f.source }

func (f fakeStrategy) Fetch(context.Context) (*provider.Result, error) { return f.result, nil }

func newTestServer(t *testing.T, codexResult *provider.Result) (*Server, *int) {
	t.Helper()
	calls := 0
	newEngine := func() *usage.Engine {
		return usage.NewEngine(
			usage.ProviderStrategies{ID: provider.Codex, Strategies: []usage.Strategy{fakeStrategy{source: "codex-cli", result: codexResult}}},
			usage.ProviderStrategies{ID: provider.Claude, Strategies: []usage.Strategy{fakeStrategy{source: "claude-oauth-api"}}},
		)
	}
	resolve := func(ctx context.Context, selector, source string) (*provider.UsageStats, error) {
		calls++
		return newEngine().WithSource(source).Resolve(ctx, selector)
	}
	snaps := &snapshot.Service{Resolve: resolve, Cache: cache.NewManager(filepath.Join(t.TempDir(), "cache"))}
	return NewServer(Config{Addr: "127.0.0.1:0", Version: "test"}, resolve, snaps, Providers(newEngine())), &calls
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	logger := pslog.NewWithOptions(&bytes.Buffer{}, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	req = req.WithContext(pslog.ContextWithLogger(req.Context(), logger))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func codexResult() *provider.Result {
	return &provider.Result{
		Provider:  provider.Codex,
		Source:    "codex-cli",
		UpdatedAt: time.Date(2026, 2, 11, 10, 0, 0, 0, time.UTC),
		Primary:   provider.NewWindow(provider.Ptr(28.0), provider.SessionWindowMinutes, nil),
	}
}

func TestUsageEndpoint(t *testing.T) {
	s, _ := newTestServer(t, codexResult())

	rr := get(t, s, "/api/v1/usage")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	require.Equal(t, "codex", gjson.Get(body, "0.provider").String())
	require.Equal(t, "test", gjson.Get(body, "0.version").String())
	require.Equal(t, 28.0, gjson.Get(body, "0.usage.primary.usedPercent").Float())
	require.Equal(t, int64(1), gjson.Get(body, "#").Int())
}

func TestUsageEndpointErrors(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := get(t, s, "/api/v1/usage?provider=all")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, gjson.Get(rr.Body.String(), "error").String(), "no live usage data available")
	require.JSONEq(t, `["codex","claude"]`, gjson.Get(rr.Body.String(), "missing").Raw)

	rr = get(t, s, "/api/v1/usage?provider=gemini")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUsageEndpointSourceFilter(t *testing.T) {
	s, _ := newTestServer(t, codexResult())

	rr := get(t, s, "/api/v1/usage?provider=codex&source=codex-status")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSnapshotEndpoint(t *testing.T) {
	s, calls := newTestServer(t, codexResult())

	rr := get(t, s, "/api/v1/snapshot?envelope=true")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(1), gjson.Get(rr.Body.String(), "schemaVersion").Int())
	require.Equal(t, "codex", gjson.Get(rr.Body.String(), "snapshot.enabledProviders.0").String())

	rr = get(t, s, "/api/v1/snapshot?max_age=1h")
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, gjson.Get(rr.Body.String(), "schemaVersion").Exists())
	require.Equal(t, 1, *calls)

	rr = get(t, s, "/api/v1/snapshot?max_age=soon")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProvidersEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := get(t, s, "/api/v1/providers")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `[
		{"id":"codex","name":"Codex","sources":["codex-cli"]},
		{"id":"claude","name":"Claude","sources":["claude-oauth-api"]}
	]`, rr.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)

	get(t, s, "/api/v1/providers")
	rr = get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "codexbar_http_requests_total")
}

func TestStartStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t, nil)
	logger := pslog.NewWithOptions(&bytes.Buffer{}, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
	ctx, cancel := context.WithCancel(pslog.ContextWithLogger(context.Background(), logger))

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.False(t, errors.Is(err, http.ErrServerClosed))
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
