package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xpanvictor/vera/pkg/identity"
)

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print the device id and public key, creating the identity if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.NewFileStore(cfg.Identity.Path, cfg.Identity.Passphrase, logger).Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Device ID:  %s\nPublic key: %s\nFile:       %s\n",
				id.DeviceID(), id.PublicKeyBase64URL(), cfg.Identity.Path)
			return nil
		},
	}
	return cmd
}
