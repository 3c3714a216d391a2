// Package process runs external helper programs with a hard wall-clock timeout.
//
// Every call owns exactly one child process. On timeout or cancellation the
// child (and its process group) is killed and reaped before Run returns, and
// whatever it already wrote is discarded.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"time"

	"pkt.systems/pslog"
)

var (
	// ErrNotInstalled is returned when the program cannot be found.
	ErrNotInstalled = errors.New("program not installed")
	// ErrTimeout is returned when the program exceeded its deadline.
	ErrTimeout = errors.New("program timed out")
)

// DefaultWaitDelay bounds how long Run keeps draining output pipes after the
// child exited or was killed.
const DefaultWaitDelay = time.Second

// Command describes a single external program invocation
type Command struct {
	Program string
	Args    []string
	// Input is written to stdin and stdin is closed. Stdin is only piped
	// when Input is non-empty.
	Input   string
	Timeout time.Duration
}

// Output is the captured result of a finished program
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Success reports whether the program exited with status zero
func (o *Output) Success() bool {
	return o != nil && o.ExitCode == 0
}

// Combined returns stdout and stderr joined by a newline
func (o *Output) Combined() string {
	if o == nil {
		return ""
	}
	return string(o.Stdout) + "\n" + string(o.Stderr)
}

// Runner runs external programs
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Output, error)
}

// Exec is the os/exec backed Runner
type Exec struct {
	WaitDelay time.Duration
}

// Run starts the program, feeds its input and waits for it to exit, the
// timeout to elapse or ctx to be cancelled, whichever comes first.
func (e Exec) Run(ctx context.Context, c Command) (*Output, error) {
	log := pslog.Ctx(ctx)

	cmd := exec.Command(c.Program, c.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	Prepare(cmd)

	var stdin io.WriteCloser
	if c.Input != "" {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open stdin for %s: %w", c.Program, err)
		}
		stdin = pipe
	}

	if err := cmd.Start(); err != nil {
		return nil, StartError(c.Program, err)
	}
	started := time.Now()
	log.Debug("process started", "program", c.Program, "args_len", len(c.Args), "pid", cmd.Process.Pid)

	if stdin != nil {
		go func() {
			_, _ = io.WriteString(stdin, c.Input)
			_ = stdin.Close()
		}()
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if c.Timeout > 0 {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case err := <-done:
		out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		if cmd.ProcessState != nil {
			out.ExitCode = cmd.ProcessState.ExitCode()
		}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
			return nil, fmt.Errorf("failed waiting for %s: %w", c.Program, err)
		}
		log.Debug("process exited", "program", c.Program, "exit_code", out.ExitCode, "duration_ms", time.Since(started).Milliseconds())
		return out, nil
	case <-deadline:
		Kill(cmd)
		<-done
		log.Debug("process killed", "program", c.Program, "reason", "timeout", "timeout_ms", c.Timeout.Milliseconds())
		return nil, fmt.Errorf("%s exceeded %s: %w", c.Program, c.Timeout, ErrTimeout)
	case <-ctx.Done():
		Kill(cmd)
		<-done
		log.Debug("process killed", "program", c.Program, "reason", "context", "err", ctx.Err())
		return nil, fmt.Errorf("%s: %w: %w", c.Program, ErrTimeout, ctx.Err())
	}
}

// StartError maps a failed cmd.Start into ErrNotInstalled when the program
// does not exist.
func StartError(program string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", program, ErrNotInstalled)
	}
	return fmt.Errorf("failed to start %s: %w", program, err)
}

// IsUnavailable reports whether err is one of the routine "this channel is
// not usable right now" conditions.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrNotInstalled) || errors.Is(err, ErrTimeout)
}
