// Package rpc implements a minimal line-delimited JSON-RPC client that talks
// to a child process over its stdin and stdout.
//
// One JSON object per line. Requests carry an id, notifications do not.
// Only one request is outstanding at a time; lines that do not answer it are
// skipped.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/tidwall/gjson"
	"pkt.systems/pslog"

	"github.com/denysvitali/codexbar/internal/process"
)

var (
	// ErrProtocolViolation is returned for a matching response that carries
	// neither result nor error.
	ErrProtocolViolation = errors.New("rpc protocol violation")
	// ErrClosed is returned when the peer closed its output before answering.
	ErrClosed = errors.New("rpc session closed")
)

// maxLineSize caps a single response line
const maxLineSize = 4 << 20

// Error is a server-reported failure for a single request
type Error struct {
	Method string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc request %q failed: %s", e.Method, e.Detail)
}

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type notification struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// Session is a JSON-RPC conversation with one peer. The request id counter
// belongs to the session and starts at 1.
type Session struct {
	mu     sync.Mutex
	w      io.Writer
	lines  chan []byte
	done   chan struct{}
	err    error
	nextID int64

	cmd       *exec.Cmd
	stdin     io.Closer
	closeOnce sync.Once
}

// NewSession builds a session that reads responses from r and writes
// requests to w.
func NewSession(r io.Reader, w io.Writer) *Session {
	s := &Session{
		w:     w,
		lines: make(chan []byte),
		done:  make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

// Start spawns program with args and returns a session bound to its stdio.
// Stderr is discarded. A missing program yields process.ErrNotInstalled.
// The caller must Close the session.
func Start(ctx context.Context, program string, args ...string) (*Session, error) {
	cmd := exec.Command(program, args...)
	cmd.Stderr = io.Discard
	process.Prepare(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin for %s: %w", program, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout for %s: %w", program, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, process.StartError(program, err)
	}
	pslog.Ctx(ctx).Debug("rpc peer started", "program", program, "pid", cmd.Process.Pid)

	s := NewSession(stdout, stdin)
	s.cmd = cmd
	s.stdin = stdin
	return s, nil
}

func (s *Session) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		select {
		case s.lines <- line:
		case <-s.done:
			return
		}
	}
	s.err = scanner.Err()
	close(s.lines)
}

// Call sends method with params and decodes the matching result into out.
// out may be nil when the result is not needed.
func (s *Session) Call(ctx context.Context, method string, params any, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if err := s.send(request{ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	for {
		var line []byte
		select {
		case <-ctx.Done():
			return fmt.Errorf("rpc request %q: %w: %w", method, process.ErrTimeout, ctx.Err())
		case <-s.done:
			return fmt.Errorf("rpc request %q: %w", method, ErrClosed)
		case l, ok := <-s.lines:
			if !ok {
				if s.err != nil {
					return fmt.Errorf("rpc request %q: %w: %w", method, ErrClosed, s.err)
				}
				return fmt.Errorf("rpc request %q: %w", method, ErrClosed)
			}
			line = l
		}

		if !matches(line, id) {
			continue
		}
		if e := gjson.GetBytes(line, "error"); e.Exists() && e.Type != gjson.Null {
			return &Error{Method: method, Detail: e.Raw}
		}
		result := gjson.GetBytes(line, "result")
		if !result.Exists() {
			return fmt.Errorf("rpc request %q: response without result: %w", method, ErrProtocolViolation)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal([]byte(result.Raw), out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
		return nil
	}
}

// Notify sends a notification. No response is expected.
func (s *Session) Notify(method string, params any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(notification{Method: method, Params: params}); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}
	return nil
}

func (s *Session) send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = s.w.Write(payload)
	return err
}

// Close terminates the peer if it is still running and reaps it. Safe to
// call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.stdin != nil {
			_ = s.stdin.Close()
		}
		if s.cmd == nil || s.cmd.Process == nil {
			return
		}
		process.Kill(s.cmd)
		_ = s.cmd.Wait()
	})
	return nil
}

// matches reports whether line is a JSON object answering request id.
func matches(line []byte, id int64) bool {
	if len(line) == 0 || !gjson.ValidBytes(line) {
		return false
	}
	got := gjson.GetBytes(line, "id")
	if got.Type != gjson.Number {
		return false
	}
	return got.Num == float64(id)
}
