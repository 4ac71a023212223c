// Package account ties a local identity to a relay registration and
// guards against a relay silently swapping the bundle it serves for a
// user id: the canary pinned locally for that user id must still match
// what the relay reports whenever VerifyCanary is called.
package account

import (
	"context"
	"fmt"

	"wasp/internal/relay"
	"wasp/internal/store"
	"wasp/pkg/identity"
	"wasp/pkg/prekey"
	"wasp/pkg/wasperr"
)

type Service struct {
	relay     *relay.Client
	accounts  *store.AccountStore
	serverURL string
}

func NewService(relayClient *relay.Client, accounts *store.AccountStore, serverURL string) *Service {
	return &Service{relay: relayClient, accounts: accounts, serverURL: serverURL}
}

// Register publishes id's identity and pre-key material to the relay
// under userID, deriving a canary from the identity's DH public key and
// recording it locally so a later VerifyCanary call for userID can
// detect tampering.
func (s *Service) Register(ctx context.Context, userID string, id *identity.Identity, spk prekey.SignedPreKey, otks []prekey.OneTimePreKey) error {
	canary := identity.Fingerprint(id.XPub)

	if err := s.relay.RegisterBundle(ctx, userID, canary, id.RegistrationID, id.XPub, id.EdPub, spk, otks); err != nil {
		return fmt.Errorf("account: register with relay: %w", err)
	}
	return s.accounts.Save(store.Profile{
		ServerURL: s.serverURL,
		UserID:    userID,
		Canary:    canary,
	})
}

// VerifyCanary trusts-on-first-use: the first time userID is seen, the
// canary the relay currently reports is pinned locally; every later call
// compares the relay's current canary against that pin and returns
// wasperr.ErrCanaryMismatch if it no longer matches, signalling the
// relay served a substituted bundle. Call this before trusting a fetched
// bundle or sending the first message of a new session — including for
// your own userID right after Register, which pins your own canary too.
func (s *Service) VerifyCanary(ctx context.Context, userID string) error {
	serverCanary, err := s.relay.FetchCanary(ctx, userID)
	if err != nil {
		return fmt.Errorf("account: fetch canary: %w", err)
	}

	profile, found, err := s.accounts.Load(s.serverURL, userID)
	if err != nil {
		return fmt.Errorf("account: load profile: %w", err)
	}
	if !found {
		return s.accounts.Save(store.Profile{
			ServerURL: s.serverURL,
			UserID:    userID,
			Canary:    serverCanary,
		})
	}
	if serverCanary != profile.Canary {
		return wasperr.ErrCanaryMismatch
	}
	return nil
}
