package commands

import (
	"github.com/spf13/cobra"
	"github.com/xpanvictor/vera/internal/config"
	"github.com/xpanvictor/vera/pkg/Logger"
)

var (
	cfg    *config.Settings
	logger *Logger.Logger

	debug        bool
	identityPath string
	listenAddr   string
)

func Execute() error {
	root := &cobra.Command{
		Use:          "vera",
		Short:        "Voice session bridge between thin clients and the assistant gateway",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}
			if identityPath != "" {
				cfg.Identity.Path = identityPath
			}
			if listenAddr != "" {
				cfg.Server.Addr = listenAddr
			}
			logger = Logger.New(cfg.Debug)
			return nil
		},
	}

	root.PersistentFlags().BoolVar(&debug, "debug", false, "development logging")
	root.PersistentFlags().StringVar(&identityPath, "identity", "", "device identity file (overrides VERA_IDENTITY_PATH)")

	serve := serveCmd()
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, identityCmd())
	return root.Execute()
}
