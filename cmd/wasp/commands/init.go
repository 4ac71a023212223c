package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"wasp/pkg/identity"
)

// initCmd creates a new local identity and stores it encrypted under
// --passphrase.
func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create your local identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}

			id, err := identity.Generate()
			if err != nil {
				return fmt.Errorf("generating identity: %w", err)
			}
			if err := appCtx.identities.Save(id, passphrase); err != nil {
				return fmt.Errorf("saving identity: %w", err)
			}

			fmt.Println("Identity created.")
			fmt.Printf("Fingerprint: %s\n", identity.Fingerprint(id.XPub))
			return nil
		},
	}
}
