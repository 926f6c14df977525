package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xpanvictor/vera/internal/app"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = logger.Sync() }()

			a, err := app.NewApp(cfg, logger)
			if err != nil {
				logger.Errorf("startup failed: %v", err)
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "addr", "", "HTTP listen address (overrides VERA_SERVER_ADDR)")
	return cmd
}
