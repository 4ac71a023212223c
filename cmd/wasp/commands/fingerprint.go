package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"wasp/pkg/identity"
)

// fingerprintCmd prints the fingerprint of the stored identity, for
// manual safety-number comparison with a peer.
func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print your identity fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			id, err := appCtx.identities.Load(passphrase)
			if err != nil {
				return fmt.Errorf("loading identity: %w", err)
			}
			fmt.Printf("Fingerprint: %s\n", identity.Fingerprint(id.XPub))
			return nil
		},
	}
}
