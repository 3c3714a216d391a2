package cmd

import (
	"github.com/spf13/cobra"

	"github.com/denysvitali/codexbar/internal/serve"
	"github.com/denysvitali/codexbar/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve usage, snapshots and metrics over a local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts.configPath)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Serve.Addr
			}
			srv := serve.NewServer(
				serve.Config{Addr: addr, SnapshotMaxAge: a.cfg.SnapshotMaxAge(), Version: version.Version},
				a.resolve,
				a.snapshots(),
				serve.Providers(a.engine()),
			)
			return srv.Start(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config serve.addr)")
	return cmd
}
