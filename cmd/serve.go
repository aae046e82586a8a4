// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scriptforge/internal/api"
	"github.com/xkilldash9x/scriptforge/internal/observability"
)

func newServeCmd() *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.SetServerAddr(addr)
			}

			components, err := componentsFactory(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			// Stops live executions after the listener has drained.
			defer components.Shutdown(ctx)

			return api.NewServer(cfg.Server(), components, logger).Start(ctx)
		},
	}

	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address, e.g. :8080. (Overrides config/env)")
	return serveCmd
}
