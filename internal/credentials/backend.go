package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/denysvitali/codexbar/internal/process"
)

// Backend names
const (
	BackendSecretTool = "secret-tool"
	BackendKWallet    = "kwallet"
)

// Default secret backend settings
const (
	DefaultService       = "codexbar"
	DefaultKWalletFolder = "CodexBar"
	DefaultLookupTimeout = 8 * time.Second
	DefaultStoreTimeout  = 12 * time.Second
)

// DefaultKWalletWallets are tried in order
var DefaultKWalletWallets = []string{"kdewallet", "kdewallet5"}

// ErrStoreUnavailable is returned when no backend accepted a secret
var ErrStoreUnavailable = errors.New("no secret storage backend available; install libsecret-tools (secret-tool) or ensure KDE Wallet is available")

// Backend is an OS secret vault reached through a helper program
type Backend interface {
	Name() string
	// Lookup returns the stored value, or "" when nothing is stored
	Lookup(ctx context.Context, provider, field string) (string, error)
	Store(ctx context.Context, provider, field, label, value string) error
}

// SecretTool talks to the freedesktop Secret Service via secret-tool
type SecretTool struct {
	Runner        process.Runner
	Program       string
	Service       string
	LookupTimeout time.Duration
	StoreTimeout  time.Duration
}

// NewSecretTool returns a SecretTool with default settings
func NewSecretTool(runner process.Runner) *SecretTool {
	return &SecretTool{
		Runner:        runner,
		Program:       "secret-tool",
		Service:       DefaultService,
		LookupTimeout: DefaultLookupTimeout,
		StoreTimeout:  DefaultStoreTimeout,
	}
}

// Name implements Backend
func (s *SecretTool) Name() string { return BackendSecretTool }

// Lookup implements Backend
func (s *SecretTool) Lookup(ctx context.Context, provider, field string) (string, error) {
	out, err := s.Runner.Run(ctx, process.Command{
		Program: s.Program,
		Args:    []string{"lookup", "service", s.Service, "provider", provider, "field", field},
		Timeout: s.LookupTimeout,
	})
	if err != nil {
		return "", err
	}
	if !out.Success() {
		return "", nil
	}
	return strings.TrimSpace(string(out.Stdout)), nil
}

// Store implements Backend. The value goes through stdin, never argv.
func (s *SecretTool) Store(ctx context.Context, provider, field, label, value string) error {
	out, err := s.Runner.Run(ctx, process.Command{
		Program: s.Program,
		Args:    []string{"store", "--label", label, "service", s.Service, "provider", provider, "field", field},
		Input:   value + "\n",
		Timeout: s.StoreTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to invoke secret-tool: %w", err)
	}
	if !out.Success() {
		return fmt.Errorf("secret-tool store failed: %s", strings.TrimSpace(string(out.Stderr)))
	}
	return nil
}

// KWallet talks to KDE Wallet via kwallet-query
type KWallet struct {
	Runner        process.Runner
	Program       string
	Folder        string
	Wallets       []string
	LookupTimeout time.Duration
	StoreTimeout  time.Duration
}

// NewKWallet returns a KWallet with default settings
func NewKWallet(runner process.Runner) *KWallet {
	return &KWallet{
		Runner:        runner,
		Program:       "kwallet-query",
		Folder:        DefaultKWalletFolder,
		Wallets:       DefaultKWalletWallets,
		LookupTimeout: DefaultLookupTimeout,
		StoreTimeout:  DefaultStoreTimeout,
	}
}

// Name implements Backend
func (k *KWallet) Name() string { return BackendKWallet }

func entryName(provider, field string) string {
	return provider + "." + field
}

// Lookup implements Backend. Wallets are tried in order.
func (k *KWallet) Lookup(ctx context.Context, provider, field string) (string, error) {
	var lastErr error
	for _, wallet := range k.Wallets {
		out, err := k.Runner.Run(ctx, process.Command{
			Program: k.Program,
			Args:    []string{"-f", k.Folder, "-r", entryName(provider, field), wallet},
			Timeout: k.LookupTimeout,
		})
		if err != nil {
			if errors.Is(err, process.ErrNotInstalled) {
				return "", err
			}
			lastErr = err
			continue
		}
		if !out.Success() {
			continue
		}
		if v := strings.TrimSpace(string(out.Stdout)); v != "" {
			return v, nil
		}
	}
	return "", lastErr
}

// Store implements Backend. The first wallet that accepts the value wins.
func (k *KWallet) Store(ctx context.Context, provider, field, _, value string) error {
	lastErr := errors.New("no wallet configured")
	for _, wallet := range k.Wallets {
		out, err := k.Runner.Run(ctx, process.Command{
			Program: k.Program,
			Args:    []string{"-f", k.Folder, "-w", entryName(provider, field), wallet},
			Input:   value + "\n",
			Timeout: k.StoreTimeout,
		})
		if err != nil {
			if errors.Is(err, process.ErrNotInstalled) {
				return fmt.Errorf("failed to invoke kwallet-query: %w", err)
			}
			lastErr = err
			continue
		}
		if out.Success() {
			return nil
		}
		lastErr = fmt.Errorf("wallet %s: %s", wallet, strings.TrimSpace(string(out.Stderr)))
	}
	return fmt.Errorf("failed to store with KDE Wallet: %w", lastErr)
}

// Store writes secrets to the first backend that accepts them
type Store struct {
	Backends []Backend
}

// StoreToken stores value under provider/field. When every backend refuses
// the error matches ErrStoreUnavailable and carries each backend's cause.
func (s *Store) StoreToken(ctx context.Context, provider, field, label, value string) error {
	log := pslog.Ctx(ctx)
	errs := []error{ErrStoreUnavailable}
	for _, b := range s.Backends {
		err := b.Store(ctx, provider, field, label, value)
		if err == nil {
			log.Info("credential stored", "backend", b.Name(), "provider", provider, "field", field)
			return nil
		}
		log.Debug("secret backend refused credential", "backend", b.Name(), "provider", provider, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	return errors.Join(errs...)
}

// NewBackends builds backends by name in the given order
func NewBackends(names []string, runner process.Runner, opts BackendOptions) ([]Backend, error) {
	backends := make([]Backend, 0, len(names))
	for _, name := range names {
		switch name {
		case BackendSecretTool:
			st := NewSecretTool(runner)
			opts.apply(&st.Service, &st.LookupTimeout, &st.StoreTimeout)
			backends = append(backends, st)
		case BackendKWallet:
			kw := NewKWallet(runner)
			if opts.KWalletFolder != "" {
				kw.Folder = opts.KWalletFolder
			}
			if len(opts.KWalletWallets) > 0 {
				kw.Wallets = opts.KWalletWallets
			}
			var unused string
			opts.apply(&unused, &kw.LookupTimeout, &kw.StoreTimeout)
			backends = append(backends, kw)
		default:
			return nil, fmt.Errorf("unknown secret backend %q", name)
		}
	}
	return backends, nil
}

// BackendOptions overrides backend defaults. Zero values keep the default.
type BackendOptions struct {
	Service        string
	KWalletFolder  string
	KWalletWallets []string
	LookupTimeout  time.Duration
	StoreTimeout   time.Duration
}

func (o BackendOptions) apply(service *string, lookup, store *time.Duration) {
	if o.Service != "" {
		*service = o.Service
	}
	if o.LookupTimeout > 0 {
		*lookup = o.LookupTimeout
	}
	if o.StoreTimeout > 0 {
		*store = o.StoreTimeout
	}
}
