package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/denysvitali/codexbar/internal/snapshot"
	"github.com/denysvitali/codexbar/internal/usage"
)

type snapshotOptions struct {
	pretty   bool
	envelope bool
	provider string
	source   string
	maxAge   time.Duration
	from     string
}

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	sopts := &snapshotOptions{}
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print a widget snapshot of current usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := buildSnapshot(cmd, opts, sopts)
			if err != nil {
				return err
			}
			return writeSnapshot(cmd.OutOrStdout(), snap, sopts)
		},
	}
	cmd.Flags().BoolVar(&sopts.pretty, "pretty", false, "indent JSON output")
	cmd.Flags().BoolVar(&sopts.envelope, "envelope", false, "wrap the snapshot in a versioned envelope")
	cmd.Flags().StringVarP(&sopts.provider, "provider", "p", "all", "provider: codex, claude, both or all")
	cmd.Flags().StringVarP(&sopts.source, "source", "s", usage.SourceAuto, "restrict to a source")
	cmd.Flags().DurationVar(&sopts.maxAge, "max-age", 0, "serve a cached snapshot younger than this instead of resolving")
	cmd.Flags().StringVar(&sopts.from, "from", "", "build from `codexbar usage --format json` output in this file ('-' for stdin)")
	return cmd
}

func buildSnapshot(cmd *cobra.Command, opts *rootOptions, sopts *snapshotOptions) (snapshot.WidgetSnapshot, error) {
	if sopts.from != "" {
		data, err := readInput(cmd.InOrStdin(), sopts.from)
		if err != nil {
			return snapshot.WidgetSnapshot{}, err
		}
		return snapshot.FromUsageJSON(data, time.Now())
	}

	a, err := loadApp(opts.configPath)
	if err != nil {
		return snapshot.WidgetSnapshot{}, err
	}
	return a.snapshots().Get(cmd.Context(), sopts.provider, sopts.source, sopts.maxAge)
}

func writeSnapshot(w io.Writer, snap snapshot.WidgetSnapshot, sopts *snapshotOptions) error {
	var doc any = snap
	if sopts.envelope {
		doc = snap.Wrap()
	}
	enc := json.NewEncoder(w)
	if sopts.pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON input from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON input from %s: %w", path, err)
	}
	return data, nil
}
