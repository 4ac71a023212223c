package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"wasp/pkg/identity"
	"wasp/pkg/session"
)

// recvCmd fetches and decrypts queued messages for --user-id, bootstrapping
// a new session from a pre-key message when one doesn't exist yet.
func recvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if userID == "" {
				return fmt.Errorf("--user-id required")
			}
			ctx := cmd.Context()

			id, err := appCtx.identities.Load(passphrase)
			if err != nil {
				return fmt.Errorf("loading identity: %w", err)
			}

			msgs, err := appCtx.relay.FetchEnvelopes(ctx, userID, 0)
			if err != nil {
				return fmt.Errorf("fetching messages: %w", err)
			}

			for _, msg := range msgs {
				plaintext, msgType, err := decryptOne(id, msg.From, msg.Envelope, time.Unix(msg.Timestamp, 0))
				if err != nil {
					fmt.Fprintf(cmd.OutOrStderr(), "skipping message from %s: %v\n", msg.From, err)
					continue
				}
				if msgType == session.MessageMedia {
					if err := saveIncomingMedia(msg.From, plaintext); err != nil {
						fmt.Fprintf(cmd.OutOrStderr(), "saving media from %s: %v\n", msg.From, err)
					}
					continue
				}
				fmt.Printf("[%s] %s\n", msg.From, string(plaintext))
			}

			if err := appCtx.relay.AckEnvelopes(ctx, userID, len(msgs)); err != nil {
				return fmt.Errorf("acknowledging messages: %w", err)
			}
			return nil
		},
	}
}

// decryptOne routes one inbound envelope to the right session, creating
// one from the attached pre-key material on first contact.
func decryptOne(id *identity.Identity, from string, env session.Envelope, now time.Time) ([]byte, session.MessageType, error) {
	existing, err := appCtx.sessions.Load(from)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("loading session: %w", err)
	}
	var existingPtr *session.Session
	if err == nil {
		existingPtr = existing
	}

	var keys session.IncomingKeys
	if existingPtr == nil {
		spk, otks, err := appCtx.prekeys.Load()
		if err != nil {
			return nil, "", fmt.Errorf("loading pre-keys: %w", err)
		}
		keys.SignedPreKey = spk
		if env.UsedOneTimePreKeyID != nil {
			for i := range otks {
				if otks[i].ID == *env.UsedOneTimePreKeyID {
					otk := otks[i]
					keys.OneTimePreKey = &otk
					break
				}
			}
		}
	}

	sess, plaintext, err := session.DecryptIncoming(id, from, keys, existingPtr, env, now)
	if err != nil {
		return nil, "", err
	}
	if existingPtr == nil && keys.OneTimePreKey != nil {
		if err := appCtx.prekeys.RemoveOneTime(keys.OneTimePreKey.ID); err != nil {
			return nil, "", fmt.Errorf("removing consumed one-time pre-key: %w", err)
		}
	}
	if err := appCtx.sessions.Save(sess); err != nil {
		return nil, "", fmt.Errorf("saving session: %w", err)
	}
	return plaintext, env.MessageType, nil
}

// saveIncomingMedia decodes a MessageMedia plaintext and writes it under
// the local home directory's media folder.
func saveIncomingMedia(from string, plaintext []byte) error {
	filename, data, err := decodeMediaPayload(plaintext)
	if err != nil {
		return err
	}
	dir := filepath.Join(appCtx.home, "media")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	out := filepath.Join(dir, filename)
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return err
	}
	fmt.Printf("[%s] received file, saved to %s\n", from, out)
	return nil
}
