// Package credentials resolves and stores provider secrets: environment
// variables, desktop secret services and the Claude CLI credentials file.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/tidwall/gjson"
	"pkt.systems/pslog"
)

// Defaults for the Claude CLI credentials file
const (
	DefaultClaudeCredentialsFile = "~/.claude/.credentials.json"
	DefaultClaudeTokenPath       = "claudeAiOauth.accessToken"
)

// ErrNoToken is returned when the credentials file holds no usable token
var ErrNoToken = errors.New("no access token found in credentials")

// FileConfig locates a token inside a JSON credentials file
type FileConfig struct {
	Path string
	// TokenPath is a gjson path to the token string
	TokenPath string
}

// OAuthCredentials is the OAuth block written by the Claude CLI
type OAuthCredentials struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// IsExpired checks if the access token has expired. Unknown expiry is not
// expired.
func (o *OAuthCredentials) IsExpired() bool {
	if o.ExpiresAt <= 0 {
		return false
	}
	return time.Now().After(time.UnixMilli(o.ExpiresAt))
}

// ExpiresIn returns the duration until the token expires
func (o *OAuthCredentials) ExpiresIn() time.Duration {
	return time.Until(time.UnixMilli(o.ExpiresAt))
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if path == "~" {
		return xdg.Home
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(xdg.Home, rest)
	}
	return path
}

// LoadFromPath reads the token at tokenPath and the expiresAt next to it.
// The file is never modified.
func LoadFromPath(path, tokenPath string) (*OAuthCredentials, error) {
	if tokenPath == "" {
		tokenPath = DefaultClaudeTokenPath
	}
	cleanPath := filepath.Clean(ExpandHome(path))
	data, err := os.ReadFile(cleanPath) //#nosec G304 -- path is user configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("credentials file not found at %s - please run 'claude' first to authenticate", path)
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse credentials file %s", path)
	}

	token := gjson.GetBytes(data, tokenPath)
	if token.Type != gjson.String || strings.TrimSpace(token.Str) == "" {
		return nil, ErrNoToken
	}
	creds := &OAuthCredentials{AccessToken: strings.TrimSpace(token.Str)}

	parent, _, found := cutLast(tokenPath, ".")
	expires := gjson.GetBytes(data, "expiresAt")
	if found {
		expires = gjson.GetBytes(data, parent+".expiresAt")
	}
	if expires.Type == gjson.Number {
		creds.ExpiresAt = expires.Int()
	}
	return creds, nil
}

// TokenFromFile returns the access token from a credentials file. Expired
// tokens are still returned; the server has the final say.
func TokenFromFile(ctx context.Context, path, tokenPath string) (string, error) {
	creds, err := LoadFromPath(path, tokenPath)
	if err != nil {
		return "", err
	}
	if creds.IsExpired() {
		pslog.Ctx(ctx).Warn("oauth access token looks expired; run 'codexbar auth' to refresh", "path", path, "expired_for", (-creds.ExpiresIn()).Round(time.Second).String())
	}
	return creds.AccessToken, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}
