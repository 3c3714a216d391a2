// Package anthropic reads Claude subscription usage from the Anthropic OAuth
// usage endpoint. Requests go through the curl binary.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/denysvitali/codexbar/internal/process"
)

// Endpoint defaults
const (
	DefaultUsageURL   = "https://api.anthropic.com/api/oauth/usage"
	DefaultBetaHeader = "oauth-2025-04-20"
	DefaultTimeout    = 20 * time.Second
	// curlMaxTime is passed to curl --max-time, in seconds
	curlMaxTime = 15
)

// ErrMalformedResponse is returned when curl output has no status line
var ErrMalformedResponse = errors.New("malformed curl output")

// StatusError is returned for any HTTP status other than 200
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("usage endpoint returned HTTP %d", e.Code)
}

// Client fetches usage with a bearer token
type Client struct {
	Runner     process.Runner
	Curl       string
	URL        string
	BetaHeader string
	Timeout    time.Duration
}

// NewClient creates a client with default endpoint settings
func NewClient(runner process.Runner) *Client {
	return &Client{
		Runner:     runner,
		Curl:       "curl",
		URL:        DefaultUsageURL,
		BetaHeader: DefaultBetaHeader,
		Timeout:    DefaultTimeout,
	}
}

// Args returns the curl arguments for a usage request
func (c *Client) Args(accessToken string) []string {
	return []string{
		"-sS",
		"--location",
		"--max-time", strconv.Itoa(curlMaxTime),
		"-H", "Authorization: Bearer " + accessToken,
		"-H", "anthropic-beta: " + c.BetaHeader,
		"-H", "Accept: application/json",
		"-w", "\n%{http_code}",
		c.URL,
	}
}

// GetUsage fetches and parses the current usage
func (c *Client) GetUsage(ctx context.Context, accessToken string) (*Usage, error) {
	out, err := c.Runner.Run(ctx, process.Command{
		Program: c.Curl,
		Args:    c.Args(accessToken),
		Timeout: c.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if !out.Success() {
		return nil, fmt.Errorf("curl exited with status %d: %s", out.ExitCode, strings.TrimSpace(string(out.Stderr)))
	}

	body, status, ok := SplitBodyAndStatus(string(out.Stdout))
	if !ok {
		return nil, ErrMalformedResponse
	}
	if status != 200 {
		return nil, &StatusError{Code: status}
	}

	usage, err := ParseUsage([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return usage, nil
}

// SplitBodyAndStatus separates the response body from the status code curl
// appends on its own last line
func SplitBodyAndStatus(output string) (body string, status int, ok bool) {
	trimmed := strings.TrimRight(output, "\r\n")
	idx := strings.LastIndexByte(trimmed, '\n')
	if idx < 0 {
		return "", 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(trimmed[idx+1:]))
	if err != nil || code < 0 || code > 65535 {
		return "", 0, false
	}
	return trimmed[:idx], code, true
}
