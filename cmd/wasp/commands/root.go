package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"wasp/internal/account"
	"wasp/internal/relay"
	"wasp/internal/store"
)

var (
	// Flags shared across all commands.
	homeDir    string
	relayURL   string
	userID     string
	passphrase string

	appCtx *appWire
)

// appWire bundles the stores and clients every command needs. It plays
// the same role as the teacher's internal/app.Wire, just built directly
// in the command package since wasp has no separate app layer.
type appWire struct {
	home     string
	relayURL string

	identities *store.IdentityStore
	prekeys    *store.PreKeyStore
	sessions   *store.SessionStore
	accounts   *store.AccountStore
	relay      *relay.Client
	account    *account.Service
}

func newAppWire(home, relayBase string) *appWire {
	httpClient := &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
		},
	}

	relayClient := relay.New(relayBase, httpClient)
	accountStore := store.NewAccountStore(home)

	return &appWire{
		home:       home,
		relayURL:   relayBase,
		identities: store.NewIdentityStore(home),
		prekeys:    store.NewPreKeyStore(home),
		sessions:   store.NewSessionStore(home),
		accounts:   accountStore,
		relay:      relayClient,
		account:    account.NewService(relayClient, accountStore, relayBase),
	}
}

// Execute builds the dependency graph and runs the root cobra command.
func Execute() error {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "wasp",
		Short: "End-to-end encrypted messaging CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if homeDir == "" {
				if h, err := os.UserHomeDir(); err == nil {
					homeDir = filepath.Join(h, ".wasp")
				}
			}
			if err := os.MkdirAll(homeDir, 0o700); err != nil {
				return fmt.Errorf("creating home dir: %w", err)
			}
			appCtx = newAppWire(homeDir, relayURL)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&homeDir, "home", "", "config directory (default: $HOME/.wasp)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting your local identity")
	root.PersistentFlags().StringVar(&relayURL, "relay", "http://127.0.0.1:8080", "relay base URL")
	root.PersistentFlags().StringVar(&userID, "user-id", "", "your registered user id")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		startSessionCmd(),
		sendCmd(),
		recvCmd(),
		sendMediaCmd(),
		recvMediaCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	root.SetContext(ctx)

	return root.Execute()
}
