package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"wasp/pkg/session"
)

// sendMediaCmd encrypts a local file under a fresh media key (spec.md
// §4.6), then ships the key and the encrypted blob together inside a
// MessageMedia envelope on the existing session.
func sendMediaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-media <peer> <file>",
		Short: "Encrypt and send a file to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if userID == "" {
				return fmt.Errorf("--user-id required")
			}
			peer, path := args[0], args[1]
			ctx := cmd.Context()

			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}

			sess, err := appCtx.sessions.Load(peer)
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("no session with %q; run start-session first", peer)
			}
			if err != nil {
				return fmt.Errorf("loading session: %w", err)
			}

			payload, err := encodeMediaPayload(filepath.Base(path), raw)
			if err != nil {
				return err
			}

			now := time.Now()
			env, err := session.Encrypt(sess, payload, session.MessageMedia, now)
			if err != nil {
				return fmt.Errorf("encrypting media message: %w", err)
			}
			if err := appCtx.relay.SendEnvelope(ctx, userID, peer, env, now.Unix()); err != nil {
				return fmt.Errorf("sending media message: %w", err)
			}
			if err := appCtx.sessions.Save(sess); err != nil {
				return fmt.Errorf("saving session: %w", err)
			}

			fmt.Printf("Sent %s (%d bytes)\n", filepath.Base(path), len(raw))
			return nil
		},
	}
}
