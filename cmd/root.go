// Package cmd provides the Cobra CLI commands for codexbar.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"pkt.systems/pslog"

	"github.com/denysvitali/codexbar/internal/usage"
	"github.com/denysvitali/codexbar/internal/version"
)

type rootOptions struct {
	configPath string
}

type usageOptions struct {
	format   string
	provider string
	source   string
	pretty   bool
}

// NewRootCmd builds the command tree. The root command runs usage.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	uopts := &usageOptions{}

	root := &cobra.Command{
		Use:           "codexbar",
		Short:         "Show Codex and Claude usage limits",
		Long:          `codexbar reports how much of the Codex and Claude session and weekly limits is left, using the local CLIs and the Claude OAuth usage endpoint.`,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUsage(cmd, opts, uopts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	addUsageFlags(root.Flags(), uopts)

	root.AddCommand(newUsageCmd(opts))
	root.AddCommand(newAuthCmd(opts))
	root.AddCommand(newSnapshotCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the command tree and returns the process exit code
func Execute(ctx context.Context, args []string) int {
	root := NewRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("codexbar command failed")
		return 1
	}
	return 0
}

func addUsageFlags(fs *pflag.FlagSet, o *usageOptions) {
	fs.StringVarP(&o.format, "format", "f", usage.FormatText, "output format: text, json or waybar")
	fs.StringVarP(&o.provider, "provider", "p", "all", "provider: codex, claude, both or all")
	fs.StringVarP(&o.source, "source", "s", usage.SourceAuto, "restrict to a source, e.g. codex-cli or claude-oauth-api")
	fs.BoolVar(&o.pretty, "pretty", false, "indent JSON output")
}

func newUsageCmd(opts *rootOptions) *cobra.Command {
	uopts := &usageOptions{}
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Print current usage for the selected providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUsage(cmd, opts, uopts)
		},
	}
	addUsageFlags(cmd.Flags(), uopts)
	return cmd
}

func runUsage(cmd *cobra.Command, opts *rootOptions, uopts *usageOptions) error {
	switch uopts.format {
	case usage.FormatText, usage.FormatJSON, usage.FormatWaybar:
	default:
		return fmt.Errorf("unknown format %q", uopts.format)
	}

	a, err := loadApp(opts.configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	stats, err := a.resolve(ctx, uopts.provider, uopts.source)
	if err != nil {
		if uopts.format == usage.FormatWaybar && errors.Is(err, usage.ErrAllProvidersFailed) {
			return usage.WriteWaybarError(out, err.Error())
		}
		return err
	}

	switch uopts.format {
	case usage.FormatJSON:
		return usage.WriteJSON(out, stats.Providers, version.Version, uopts.pretty)
	case usage.FormatWaybar:
		return usage.WriteWaybar(out, stats)
	default:
		return usage.WriteText(out, stats.Providers)
	}
}
