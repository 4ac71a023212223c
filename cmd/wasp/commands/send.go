package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"wasp/pkg/session"
)

// sendCmd encrypts and sends a message to peer over an already
// established session.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if userID == "" {
				return fmt.Errorf("--user-id required")
			}
			peer, plaintext := args[0], []byte(args[1])
			ctx := cmd.Context()

			sess, err := appCtx.sessions.Load(peer)
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("no session with %q; run start-session first", peer)
			}
			if err != nil {
				return fmt.Errorf("loading session: %w", err)
			}

			now := time.Now()
			env, err := session.Encrypt(sess, plaintext, session.MessageText, now)
			if err != nil {
				return fmt.Errorf("encrypting message: %w", err)
			}
			if err := appCtx.relay.SendEnvelope(ctx, userID, peer, env, now.Unix()); err != nil {
				return fmt.Errorf("sending message: %w", err)
			}
			if err := appCtx.sessions.Save(sess); err != nil {
				return fmt.Errorf("saving session: %w", err)
			}

			fmt.Println("Message sent")
			return nil
		},
	}
}
