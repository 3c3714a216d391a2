package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/denysvitali/codexbar/internal/process"
)

type fakeRunner struct {
	got process.Command
	out *process.Output
	err error
}

func (f *fakeRunner) Run(_ context.Context, cmd process.Command) (*process.Output, error) {
	f.got = cmd
	return f.out, f.err
}

func TestSplitBodyAndStatus(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantBody   string
		wantStatus int
		wantOK     bool
	}{
		{name: "json body", output: "{\"a\":1}\n200", wantBody: `{"a":1}`, wantStatus: 200, wantOK: true},
		{name: "trailing newlines", output: "{}\n401\r\n", wantBody: "{}", wantStatus: 401, wantOK: true},
		{name: "multi-line body", output: "{\n}\n200\n", wantBody: "{\n}", wantStatus: 200, wantOK: true},
		{name: "empty body", output: "\n204", wantBody: "", wantStatus: 204, wantOK: true},
		{name: "no newline", output: "200", wantOK: false},
		{name: "garbage status", output: "{}\nabc", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, status, ok := SplitBodyAndStatus(tt.output)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (body != tt.wantBody || status != tt.wantStatus) {
				t.Errorf("got (%q, %d), want (%q, %d)", body, status, tt.wantBody, tt.wantStatus)
			}
		})
	}
}

func TestClient_GetUsage(t *testing.T) {
	runner := &fakeRunner{out: &process.Output{Stdout: []byte(`{"five_hour":{"utilization":40}}` + "\n200")}}
	c := NewClient(runner)

	u, err := c.GetUsage(context.Background(), "sk-test")
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if u.FiveHour == nil || *u.FiveHour.UsedPercent != 40 {
		t.Errorf("FiveHour = %+v", u.FiveHour)
	}

	want := []string{
		"-sS", "--location", "--max-time", "15",
		"-H", "Authorization: Bearer sk-test",
		"-H", "anthropic-beta: oauth-2025-04-20",
		"-H", "Accept: application/json",
		"-w", "\n%{http_code}",
		DefaultUsageURL,
	}
	if runner.got.Program != "curl" || len(runner.got.Args) != len(want) {
		t.Fatalf("command = %s %q", runner.got.Program, runner.got.Args)
	}
	for i := range want {
		if runner.got.Args[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, runner.got.Args[i], want[i])
		}
	}
	if runner.got.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v", runner.got.Timeout)
	}
}

func TestClient_GetUsage_Failures(t *testing.T) {
	tests := []struct {
		name  string
		out   *process.Output
		err   error
		check func(error) bool
	}{
		{
			name:  "unauthorized",
			out:   &process.Output{Stdout: []byte(`{"error":"bad token"}` + "\n401")},
			check: func(err error) bool { var se *StatusError; return errors.As(err, &se) && se.Code == 401 },
		},
		{
			name:  "curl failure",
			out:   &process.Output{ExitCode: 6, Stderr: []byte("could not resolve host")},
			check: func(err error) bool { return err != nil },
		},
		{
			name:  "malformed",
			out:   &process.Output{Stdout: []byte("oops")},
			check: func(err error) bool { return errors.Is(err, ErrMalformedResponse) },
		},
		{
			name:  "curl missing",
			err:   process.ErrNotInstalled,
			check: func(err error) bool { return errors.Is(err, process.ErrNotInstalled) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(&fakeRunner{out: tt.out, err: tt.err})
			_, err := c.GetUsage(context.Background(), "tok")
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}
