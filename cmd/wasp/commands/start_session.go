package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wasp/pkg/session"
)

// startSessionCmd runs X3DH against peer's published bundle, sends the
// resulting pre-key message (a system message reading
// "[session established]"), and persists the new session for future
// send/recv calls.
func startSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-session <peer>",
		Short: "Establish a session with a peer via X3DH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if userID == "" {
				return fmt.Errorf("--user-id required")
			}
			peer := args[0]
			ctx := cmd.Context()

			if err := appCtx.account.VerifyCanary(ctx, peer); err != nil {
				return fmt.Errorf("verifying %q's canary: %w", peer, err)
			}

			id, err := appCtx.identities.Load(passphrase)
			if err != nil {
				return fmt.Errorf("loading identity: %w", err)
			}

			wireBundle, err := appCtx.relay.FetchBundle(ctx, peer)
			if err != nil {
				return fmt.Errorf("fetching %q's bundle: %w", peer, err)
			}
			peerBundle, err := wireBundle.ToPeerBundle()
			if err != nil {
				return fmt.Errorf("decoding %q's bundle: %w", peer, err)
			}

			now := time.Now()
			pending, err := session.CreateOutgoing(id, peer, peerBundle, now)
			if err != nil {
				return fmt.Errorf("running X3DH against %q: %w", peer, err)
			}

			sess, env, err := session.EncryptFirst(pending, []byte("[session established]"), now)
			if err != nil {
				return fmt.Errorf("encrypting first message: %w", err)
			}
			env.MessageType = session.MessageSystem

			if err := appCtx.relay.SendEnvelope(ctx, userID, peer, env, now.Unix()); err != nil {
				return fmt.Errorf("sending pre-key message: %w", err)
			}
			if err := appCtx.sessions.Save(sess); err != nil {
				return fmt.Errorf("saving session: %w", err)
			}

			fmt.Printf("Session established with %s\n", peer)
			return nil
		},
	}
}
