package rpc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/denysvitali/codexbar/internal/process"
)

// peer is an in-memory JSON-RPC server driven by a script of canned lines.
type peer struct {
	session  *Session
	requests chan string
	toClient *io.PipeWriter
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	clientIn, toClient := io.Pipe()
	fromClient, clientOut := io.Pipe()

	p := &peer{
		session:  NewSession(clientIn, clientOut),
		requests: make(chan string, 16),
		toClient: toClient,
	}
	go func() {
		scanner := bufio.NewScanner(fromClient)
		for scanner.Scan() {
			p.requests <- scanner.Text()
		}
		close(p.requests)
	}()
	t.Cleanup(func() {
		_ = toClient.Close()
		_ = clientOut.Close()
		_ = p.session.Close()
	})
	return p
}

func (p *peer) reply(lines ...string) {
	go func() {
		for _, line := range lines {
			_, _ = io.WriteString(p.toClient, line+"\n")
		}
	}()
}

func TestSession_Call_SkipsNoise(t *testing.T) {
	p := newPeer(t)
	p.reply(
		"not json",
		"",
		`{"id":99,"result":{}}`,
		`{"id":"1","result":{"ok":false}}`,
		`{"method":"progress","params":{}}`,
		`{"id":1,"result":{"ok":true}}`,
	)

	var out struct {
		OK bool `json:"ok"`
	}
	err := p.session.Call(context.Background(), "account/read", map[string]any{}, &out)
	require.NoError(t, err)
	require.True(t, out.OK)

	req := <-p.requests
	require.Equal(t, int64(1), gjson.Get(req, "id").Int())
	require.Equal(t, "account/read", gjson.Get(req, "method").String())
	require.True(t, gjson.Get(req, "params").IsObject())
}

func TestSession_Call_IDsIncrease(t *testing.T) {
	p := newPeer(t)
	p.reply(`{"id":1,"result":{}}`, `{"id":2,"result":{}}`)

	require.NoError(t, p.session.Call(context.Background(), "a", nil, nil))
	require.NoError(t, p.session.Call(context.Background(), "b", nil, nil))

	first := <-p.requests
	second := <-p.requests
	require.Equal(t, int64(1), gjson.Get(first, "id").Int())
	require.Equal(t, int64(2), gjson.Get(second, "id").Int())
}

func TestSession_Call_Errors(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, err error)
	}{
		{
			name: "server error",
			line: `{"id":1,"error":{"code":-32000,"message":"not logged in"}}`,
			check: func(t *testing.T, err error) {
				var rpcErr *Error
				require.ErrorAs(t, err, &rpcErr)
				require.Equal(t, "account/rateLimits/read", rpcErr.Method)
				require.Contains(t, rpcErr.Detail, "not logged in")
			},
		},
		{
			name: "missing result",
			line: `{"id":1}`,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrProtocolViolation)
			},
		},
		{
			name: "null error is ignored",
			line: `{"id":1,"error":null,"result":{"ok":true}}`,
			check: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPeer(t)
			p.reply(tt.line)
			err := p.session.Call(context.Background(), "account/rateLimits/read", nil, nil)
			tt.check(t, err)
		})
	}
}

func TestSession_Call_PeerClosed(t *testing.T) {
	p := newPeer(t)
	go func() {
		_, _ = io.WriteString(p.toClient, `{"id":42,"result":{}}`+"\n")
		_ = p.toClient.Close()
	}()

	err := p.session.Call(context.Background(), "initialize", nil, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestSession_Call_ContextDeadline(t *testing.T) {
	p := newPeer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.session.Call(ctx, "initialize", nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, process.ErrTimeout)
	require.True(t, process.IsUnavailable(err))
}

func TestSession_Notify(t *testing.T) {
	p := newPeer(t)
	require.NoError(t, p.session.Notify("initialized", map[string]any{}))

	req := <-p.requests
	require.False(t, gjson.Get(req, "id").Exists())
	require.Equal(t, "initialized", gjson.Get(req, "method").String())
}

func TestStart_NotInstalled(t *testing.T) {
	_, err := Start(context.Background(), "codexbar-missing-rpc-peer")
	require.ErrorIs(t, err, process.ErrNotInstalled)
}

func TestStart_EchoPeer(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := `read line; echo 'noise'; echo '{"id":1,"result":{"pong":true}}'; exec sleep 30`
	s, err := Start(context.Background(), "sh", "-c", script)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out map[string]bool
	require.NoError(t, s.Call(ctx, "ping", nil, &out))
	require.True(t, out["pong"])

	done := make(chan struct{})
	go func() {
		_ = s.Close()
		_ = s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not terminate the peer")
	}

	err = s.Call(ctx, "ping", nil, nil)
	require.True(t, errors.Is(err, ErrClosed) || strings.Contains(err.Error(), "failed to send"))
}
