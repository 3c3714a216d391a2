package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. CODEXBAR_CODEX_BINARY
const EnvPrefix = "CODEXBAR"

// Load reads configuration from path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("codex.binary", cfg.Codex.Binary)
	v.SetDefault("codex.sandbox_args", cfg.Codex.SandboxArgs)
	v.SetDefault("codex.rpc_timeout_seconds", cfg.Codex.RPCTimeoutSeconds)
	v.SetDefault("codex.status_timeout_seconds", cfg.Codex.StatusTimeoutSeconds)
	v.SetDefault("claude.binary", cfg.Claude.Binary)
	v.SetDefault("claude.usage_args", cfg.Claude.UsageArgs)
	v.SetDefault("claude.usage_timeout_seconds", cfg.Claude.UsageTimeoutSeconds)
	v.SetDefault("claude.credentials_file", cfg.Claude.CredentialsFile)
	v.SetDefault("claude.token_path", cfg.Claude.TokenPath)
	v.SetDefault("claude.usage_url", cfg.Claude.UsageURL)
	v.SetDefault("claude.beta_header", cfg.Claude.BetaHeader)
	v.SetDefault("claude.curl_binary", cfg.Claude.CurlBinary)
	v.SetDefault("claude.http_timeout_seconds", cfg.Claude.HTTPTimeoutSeconds)
	v.SetDefault("secrets.service", cfg.Secrets.Service)
	v.SetDefault("secrets.backends", cfg.Secrets.Backends)
	v.SetDefault("secrets.kwallet_folder", cfg.Secrets.KWalletFolder)
	v.SetDefault("secrets.kwallet_wallets", cfg.Secrets.KWalletWallets)
	v.SetDefault("secrets.lookup_timeout_seconds", cfg.Secrets.LookupTimeoutSeconds)
	v.SetDefault("secrets.store_timeout_seconds", cfg.Secrets.StoreTimeoutSeconds)
	v.SetDefault("cache.dir", cfg.Cache.Dir)
	v.SetDefault("serve.addr", cfg.Serve.Addr)
	v.SetDefault("serve.snapshot_max_age_seconds", cfg.Serve.SnapshotMaxAgeSeconds)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Cache.Dir = os.ExpandEnv(cfg.Cache.Dir)
	cfg.Claude.CredentialsFile = os.ExpandEnv(cfg.Claude.CredentialsFile)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// WriteDefault writes the default config to the target path
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}
