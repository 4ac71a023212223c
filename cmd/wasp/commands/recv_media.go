package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"wasp/pkg/session"
)

// recvMediaCmd fetches queued messages like recv, but writes any media
// message to --out-dir instead of the default home/media folder, so a
// file transfer can be directed wherever the caller wants it.
func recvMediaCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "recv-media",
		Short: "Fetch queued messages, saving any files to --out-dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if userID == "" {
				return fmt.Errorf("--user-id required")
			}
			if outDir == "" {
				return fmt.Errorf("--out-dir required")
			}
			ctx := cmd.Context()

			id, err := appCtx.identities.Load(passphrase)
			if err != nil {
				return fmt.Errorf("loading identity: %w", err)
			}
			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return fmt.Errorf("creating out-dir: %w", err)
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
				if msgType != session.MessageMedia {
					fmt.Printf("[%s] %s\n", msg.From, string(plaintext))
					continue
				}
				filename, data, err := decodeMediaPayload(plaintext)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStderr(), "decoding media from %s: %v\n", msg.From, err)
					continue
				}
				out := filepath.Join(outDir, filename)
				if err := os.WriteFile(out, data, 0o600); err != nil {
					fmt.Fprintf(cmd.OutOrStderr(), "writing media from %s: %v\n", msg.From, err)
					continue
				}
				fmt.Printf("[%s] saved %s\n", msg.From, out)
			}

			return appCtx.relay.AckEnvelopes(ctx, userID, len(msgs))
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "", "directory to save received files to")
	_ = cmd.MarkFlagRequired("out-dir")
	return cmd
}
