package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/denysvitali/codexbar/internal/credentials"
	"github.com/denysvitali/codexbar/internal/process"
	"github.com/denysvitali/codexbar/internal/provider"
)

// loginFunc runs an interactive program attached to the terminal
type loginFunc func(ctx context.Context, term stdio, program string, args ...string) error

type stdio struct {
	in       io.Reader
	out, err io.Writer
}

func newAuthCmd(opts *rootOptions) *cobra.Command {
	var providerID string
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log in to a provider and cache its token in the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if p := strings.ToLower(strings.TrimSpace(providerID)); p != provider.Claude {
				return fmt.Errorf("unsupported auth provider '%s'", p)
			}
			a, err := loadApp(opts.configPath)
			if err != nil {
				return err
			}
			term := stdio{in: cmd.InOrStdin(), out: cmd.OutOrStdout(), err: cmd.ErrOrStderr()}
			return authClaude(cmd.Context(), a, execLogin, term)
		},
	}
	cmd.Flags().StringVarP(&providerID, "provider", "p", provider.Claude, "provider to log in to")
	return cmd
}

func authClaude(ctx context.Context, a *app, login loginFunc, term stdio) error {
	log := pslog.Ctx(ctx)
	fmt.Fprintln(term.out, "Starting Claude browser login...")

	if err := login(ctx, term, a.cfg.Claude.Binary, "auth", "login"); err != nil {
		if errors.Is(err, process.ErrNotInstalled) {
			return fmt.Errorf("failed to launch `%s auth login`; ensure Claude CLI is installed: %w", a.cfg.Claude.Binary, err)
		}
		return err
	}

	file := a.cfg.CredentialsFile()
	token, err := credentials.TokenFromFile(ctx, file.Path, file.TokenPath)
	if err != nil {
		log.Debug("credentials file has no token after login", "path", file.Path, "err", err)
		token, _, _ = a.tokens.Resolve(ctx)
	}

	if token != "" {
		err := a.store().StoreToken(ctx, provider.Claude, credentials.ClaudeTokenField, credentials.ClaudeTokenLabel, token)
		if err != nil {
			log.With("err", err).Warn("unable to cache OAuth token in keyring")
		}
	}

	fmt.Fprintln(term.out, "Claude browser login complete. CodexBar will use OAuth usage data.")
	return nil
}

func execLogin(ctx context.Context, term stdio, program string, args ...string) error {
	c := exec.CommandContext(ctx, program, args...)
	c.Stdin = term.in
	c.Stdout = term.out
	c.Stderr = term.err
	if err := c.Start(); err != nil {
		return process.StartError(program, err)
	}
	if err := c.Wait(); err != nil {
		return fmt.Errorf("`%s %s` exited with %w", program, strings.Join(args, " "), err)
	}
	return nil
}
