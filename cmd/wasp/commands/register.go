package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wasp/pkg/prekey"
)

const defaultOneTimeKeyCount = 10

// registerCmd generates a signed pre-key and a batch of one-time
// pre-keys, persists them locally, and publishes the resulting bundle
// (plus a registration canary) to the relay under <user-id>.
func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Publish your pre-key bundle to the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if userID == "" {
				return fmt.Errorf("--user-id required")
			}
			targetUser := userID

			id, err := appCtx.identities.Load(passphrase)
			if err != nil {
				return fmt.Errorf("loading identity: %w", err)
			}

			now := time.Now()
			spk, err := prekey.GenerateSignedPreKey(id, 1, now)
			if err != nil {
				return fmt.Errorf("generating signed pre-key: %w", err)
			}
			otks, err := prekey.GenerateOneTimePreKeys(1, defaultOneTimeKeyCount)
			if err != nil {
				return fmt.Errorf("generating one-time pre-keys: %w", err)
			}
			if err := appCtx.prekeys.Save(spk, otks); err != nil {
				return fmt.Errorf("saving pre-keys: %w", err)
			}

			if err := appCtx.account.Register(cmd.Context(), targetUser, id, spk, otks); err != nil {
				return fmt.Errorf("registering with relay: %w", err)
			}

			fmt.Printf("Registered %q with %d one-time pre-keys\n", targetUser, len(otks))
			return nil
		},
	}
	return cmd
}
