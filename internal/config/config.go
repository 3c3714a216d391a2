// Package config loads codexbar settings from a YAML file with CODEXBAR_
// environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"

	"github.com/denysvitali/codexbar/internal/anthropic"
	"github.com/denysvitali/codexbar/internal/credentials"
	"github.com/denysvitali/codexbar/internal/provider/claude"
	"github.com/denysvitali/codexbar/internal/provider/codex"
)

// AppName names the config and cache directories
const AppName = "codexbar"

// Config is the top-level configuration
type Config struct {
	Codex   CodexConfig   `mapstructure:"codex" yaml:"codex"`
	Claude  ClaudeConfig  `mapstructure:"claude" yaml:"claude"`
	Secrets SecretsConfig `mapstructure:"secrets" yaml:"secrets"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Serve   ServeConfig   `mapstructure:"serve" yaml:"serve"`
}

// CodexConfig configures the codex CLI strategies
type CodexConfig struct {
	Binary               string   `mapstructure:"binary" yaml:"binary"`
	SandboxArgs          []string `mapstructure:"sandbox_args" yaml:"sandbox_args"`
	RPCTimeoutSeconds    int      `mapstructure:"rpc_timeout_seconds" yaml:"rpc_timeout_seconds"`
	StatusTimeoutSeconds int      `mapstructure:"status_timeout_seconds" yaml:"status_timeout_seconds"`
}

// ClaudeConfig configures the claude strategies
type ClaudeConfig struct {
	Binary              string   `mapstructure:"binary" yaml:"binary"`
	UsageArgs           []string `mapstructure:"usage_args" yaml:"usage_args"`
	UsageTimeoutSeconds int      `mapstructure:"usage_timeout_seconds" yaml:"usage_timeout_seconds"`
	CredentialsFile     string   `mapstructure:"credentials_file" yaml:"credentials_file"`
	TokenPath           string   `mapstructure:"token_path" yaml:"token_path"`
	UsageURL            string   `mapstructure:"usage_url" yaml:"usage_url"`
	BetaHeader          string   `mapstructure:"beta_header" yaml:"beta_header"`
	CurlBinary          string   `mapstructure:"curl_binary" yaml:"curl_binary"`
	HTTPTimeoutSeconds  int      `mapstructure:"http_timeout_seconds" yaml:"http_timeout_seconds"`
}

// SecretsConfig configures the secret storage backends
type SecretsConfig struct {
	Service              string   `mapstructure:"service" yaml:"service"`
	Backends             []string `mapstructure:"backends" yaml:"backends"`
	KWalletFolder        string   `mapstructure:"kwallet_folder" yaml:"kwallet_folder"`
	KWalletWallets       []string `mapstructure:"kwallet_wallets" yaml:"kwallet_wallets"`
	LookupTimeoutSeconds int      `mapstructure:"lookup_timeout_seconds" yaml:"lookup_timeout_seconds"`
	StoreTimeoutSeconds  int      `mapstructure:"store_timeout_seconds" yaml:"store_timeout_seconds"`
}

// CacheConfig configures the snapshot cache
type CacheConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ServeConfig configures the local HTTP API
type ServeConfig struct {
	Addr                  string `mapstructure:"addr" yaml:"addr"`
	SnapshotMaxAgeSeconds int    `mapstructure:"snapshot_max_age_seconds" yaml:"snapshot_max_age_seconds"`
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/codexbar/config.yaml
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// DefaultConfig returns the built-in settings
func DefaultConfig() Config {
	codexOpts := codex.DefaultOptions()
	claudeOpts := claude.DefaultOptions()
	return Config{
		Codex: CodexConfig{
			Binary:               codexOpts.Binary,
			SandboxArgs:          slices.Clone(codexOpts.SandboxArgs),
			RPCTimeoutSeconds:    int(codexOpts.RPCTimeout / time.Second),
			StatusTimeoutSeconds: int(codexOpts.StatusTimeout / time.Second),
		},
		Claude: ClaudeConfig{
			Binary:              claudeOpts.Binary,
			UsageArgs:           []string{},
			UsageTimeoutSeconds: int(claudeOpts.UsageTimeout / time.Second),
			CredentialsFile:     credentials.DefaultClaudeCredentialsFile,
			TokenPath:           credentials.DefaultClaudeTokenPath,
			UsageURL:            anthropic.DefaultUsageURL,
			BetaHeader:          anthropic.DefaultBetaHeader,
			CurlBinary:          "curl",
			HTTPTimeoutSeconds:  int(anthropic.DefaultTimeout / time.Second),
		},
		Secrets: SecretsConfig{
			Service:              credentials.DefaultService,
			Backends:             []string{credentials.BackendSecretTool, credentials.BackendKWallet},
			KWalletFolder:        credentials.DefaultKWalletFolder,
			KWalletWallets:       slices.Clone(credentials.DefaultKWalletWallets),
			LookupTimeoutSeconds: int(credentials.DefaultLookupTimeout / time.Second),
			StoreTimeoutSeconds:  int(credentials.DefaultStoreTimeout / time.Second),
		},
		Cache: CacheConfig{
			Dir: filepath.Join(xdg.CacheHome, AppName),
		},
		Serve: ServeConfig{
			Addr:                  "127.0.0.1:8787",
			SnapshotMaxAgeSeconds: 60,
		},
	}
}

// Validate rejects unknown backends and non-positive timeouts
func (c Config) Validate() error {
	for _, name := range c.Secrets.Backends {
		if name != credentials.BackendSecretTool && name != credentials.BackendKWallet {
			return fmt.Errorf("secrets.backends: unknown backend %q", name)
		}
	}
	timeouts := []struct {
		key   string
		value int
	}{
		{"codex.rpc_timeout_seconds", c.Codex.RPCTimeoutSeconds},
		{"codex.status_timeout_seconds", c.Codex.StatusTimeoutSeconds},
		{"claude.usage_timeout_seconds", c.Claude.UsageTimeoutSeconds},
		{"claude.http_timeout_seconds", c.Claude.HTTPTimeoutSeconds},
		{"secrets.lookup_timeout_seconds", c.Secrets.LookupTimeoutSeconds},
		{"secrets.store_timeout_seconds", c.Secrets.StoreTimeoutSeconds},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", t.key, t.value)
		}
	}
	if c.Codex.Binary == "" || c.Claude.Binary == "" || c.Claude.CurlBinary == "" {
		return fmt.Errorf("codex.binary, claude.binary and claude.curl_binary must not be empty")
	}
	if c.Serve.Addr == "" {
		return fmt.Errorf("serve.addr must not be empty")
	}
	if c.Serve.SnapshotMaxAgeSeconds < 0 {
		return fmt.Errorf("serve.snapshot_max_age_seconds must not be negative, got %d", c.Serve.SnapshotMaxAgeSeconds)
	}
	return nil
}

// CodexOptions maps the codex section onto strategy options
func (c Config) CodexOptions(clientVersion string) codex.Options {
	return codex.Options{
		Binary:        c.Codex.Binary,
		SandboxArgs:   c.Codex.SandboxArgs,
		RPCTimeout:    seconds(c.Codex.RPCTimeoutSeconds),
		StatusTimeout: seconds(c.Codex.StatusTimeoutSeconds),
		ClientVersion: clientVersion,
	}
}

// ClaudeOptions maps the claude section onto CLI strategy options
func (c Config) ClaudeOptions() claude.Options {
	return claude.Options{
		Binary:       c.Claude.Binary,
		UsageArgs:    c.Claude.UsageArgs,
		UsageTimeout: seconds(c.Claude.UsageTimeoutSeconds),
	}
}

// CredentialsFile locates the Claude CLI token
func (c Config) CredentialsFile() credentials.FileConfig {
	return credentials.FileConfig{
		Path:      credentials.ExpandHome(c.Claude.CredentialsFile),
		TokenPath: c.Claude.TokenPath,
	}
}

// BackendOptions maps the secrets section onto backend overrides
func (c Config) BackendOptions() credentials.BackendOptions {
	return credentials.BackendOptions{
		Service:        c.Secrets.Service,
		KWalletFolder:  c.Secrets.KWalletFolder,
		KWalletWallets: c.Secrets.KWalletWallets,
		LookupTimeout:  seconds(c.Secrets.LookupTimeoutSeconds),
		StoreTimeout:   seconds(c.Secrets.StoreTimeoutSeconds),
	}
}

// ConfigureClient applies the claude endpoint settings to client
func (c Config) ConfigureClient(client *anthropic.Client) *anthropic.Client {
	client.Curl = c.Claude.CurlBinary
	client.URL = c.Claude.UsageURL
	client.BetaHeader = c.Claude.BetaHeader
	client.Timeout = seconds(c.Claude.HTTPTimeoutSeconds)
	return client
}

// SnapshotMaxAge is the default cache age for snapshots served over HTTP
func (c Config) SnapshotMaxAge() time.Duration {
	return seconds(c.Serve.SnapshotMaxAgeSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
