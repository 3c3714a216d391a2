package credentials

import (
	"context"
	"os"
	"strings"

	"pkt.systems/pslog"
)

// Claude secret coordinates
const (
	ClaudeTokenField = "oauth_access_token"
	ClaudeTokenLabel = "CodexBar Claude OAuth Access Token"
)

// ClaudeTokenEnv lists the environment variables checked for a Claude OAuth
// token, highest priority first
var ClaudeTokenEnv = []string{"CODEXBAR_CLAUDE_OAUTH_TOKEN", "CLAUDE_OAUTH_TOKEN"}

// Source is one place a secret may come from. Lookup returns false when the
// source has nothing to offer.
type Source struct {
	Name   string
	Lookup func(ctx context.Context) (string, bool)
}

// Resolver walks its sources in order and stops at the first one that
// yields a non-empty value
type Resolver struct {
	Sources []Source
}

// Resolve returns the first non-empty value and the name of the source that
// produced it. Sources after the first hit are never consulted.
func (r *Resolver) Resolve(ctx context.Context) (value, source string, ok bool) {
	log := pslog.Ctx(ctx)
	for _, src := range r.Sources {
		v, found := src.Lookup(ctx)
		v = strings.TrimSpace(v)
		if found && v != "" {
			log.Debug("credential resolved", "source", src.Name)
			return v, src.Name, true
		}
		log.Debug("credential source empty", "source", src.Name)
	}
	return "", "", false
}

// EnvSource reads an environment variable
func EnvSource(name string) Source {
	return Source{
		Name: "env:" + name,
		Lookup: func(context.Context) (string, bool) {
			v, ok := os.LookupEnv(name)
			return v, ok
		},
	}
}

// BackendSource looks up provider/field in a secret backend. Backend
// failures count as "nothing found".
func BackendSource(b Backend, provider, field string) Source {
	return Source{
		Name: b.Name(),
		Lookup: func(ctx context.Context) (string, bool) {
			v, err := b.Lookup(ctx, provider, field)
			if err != nil {
				pslog.Ctx(ctx).Debug("secret backend lookup failed", "backend", b.Name(), "provider", provider, "err", err)
				return "", false
			}
			return v, v != ""
		},
	}
}

// FileSource reads the token at tokenPath from a JSON credentials file
func FileSource(path, tokenPath string) Source {
	return Source{
		Name: "file:" + path,
		Lookup: func(ctx context.Context) (string, bool) {
			v, err := TokenFromFile(ctx, path, tokenPath)
			if err != nil {
				pslog.Ctx(ctx).Debug("credentials file unusable", "path", path, "err", err)
				return "", false
			}
			return v, true
		},
	}
}

// ClaudeSources returns the Claude OAuth token sources in priority order:
// environment, secret backends, then the Claude CLI credentials file.
func ClaudeSources(file FileConfig, backends []Backend) []Source {
	sources := make([]Source, 0, len(ClaudeTokenEnv)+len(backends)+1)
	for _, name := range ClaudeTokenEnv {
		sources = append(sources, EnvSource(name))
	}
	for _, b := range backends {
		sources = append(sources, BackendSource(b, "claude", ClaudeTokenField))
	}
	return append(sources, FileSource(file.Path, file.TokenPath))
}
