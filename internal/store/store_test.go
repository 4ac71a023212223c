package store_test

import (
	"testing"
	"time"

	"wasp/internal/store"
	"wasp/pkg/identity"
	"wasp/pkg/prekey"
	"wasp/pkg/ratchet"
	"wasp/pkg/session"
)

func TestIdentityStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := store.NewIdentityStore(dir)

	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	if err := s.Save(id, "correct horse battery staple"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load("correct horse battery staple")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.XPub != id.XPub || loaded.RegistrationID != id.RegistrationID {
		t.Fatal("round-tripped identity does not match original")
	}
}

func TestIdentityStoreRejectsWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	s := store.NewIdentityStore(dir)
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	if err := s.Save(id, "correct"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Load("incorrect"); err != store.ErrWrongPassphrase {
		t.Fatalf("got %v, want ErrWrongPassphrase", err)
	}
}

func TestIdentityStoreRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	s := store.NewIdentityStore(dir)
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	if err := s.Save(id, "pw"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(id, "pw"); err != store.ErrIdentityExists {
		t.Fatalf("got %v, want ErrIdentityExists", err)
	}
}

func TestPreKeyStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := store.NewPreKeyStore(dir)

	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	spk, err := prekey.GenerateSignedPreKey(id, 1, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("GenerateSignedPreKey: %v", err)
	}
	otks, err := prekey.GenerateOneTimePreKeys(1, 3)
	if err != nil {
		t.Fatalf("GenerateOneTimePreKeys: %v", err)
	}
	if err := s.Save(spk, otks); err != nil {
		t.Fatalf("Save: %v", err)
	}

	gotSPK, gotOTKs, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if gotSPK.ID != spk.ID || gotSPK.Pub != spk.Pub {
		t.Fatal("signed pre-key round-trip mismatch")
	}
	if len(gotOTKs) != 3 {
		t.Fatalf("got %d one-time keys, want 3", len(gotOTKs))
	}

	if err := s.RemoveOneTime(otks[1].ID); err != nil {
		t.Fatalf("RemoveOneTime: %v", err)
	}
	_, gotOTKs, err = s.Load()
	if err != nil {
		t.Fatalf("Load after remove: %v", err)
	}
	if len(gotOTKs) != 2 {
		t.Fatalf("got %d one-time keys after removal, want 2", len(gotOTKs))
	}
	for _, k := range gotOTKs {
		if k.ID == otks[1].ID {
			t.Fatal("removed one-time key still present")
		}
	}
}

func TestSessionStoreRoundTripAfterSends(t *testing.T) {
	dir := t.TempDir()
	s := store.NewSessionStore(dir)

	alice, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	bob, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	_, spkPub, err := aliceSignedPreKeyPair()
	if err != nil {
		t.Fatalf("prekey pair: %v", err)
	}

	var sk [32]byte
	copy(sk[:], []byte("0123456789abcdef0123456789abcdef"))
	rs, err := ratchet.InitSender(sk, spkPub)
	if err != nil {
		t.Fatalf("InitSender: %v", err)
	}

	sess := &session.Session{
		ContactID:           "bob",
		LocalSignPub:        alice.EdPub,
		LocalRegistrationID: alice.RegistrationID,
		PeerSignPub:         bob.EdPub,
		PeerRegistrationID:  bob.RegistrationID,
		Ratchet:             rs,
		CreatedAt:           time.Unix(1700000000, 0),
		UpdatedAt:           time.Unix(1700000000, 0),
	}

	// Produce a few messages to advance Ns, then save mid-conversation.
	for i := 0; i < 3; i++ {
		if _, _, err := ratchet.Encrypt(sess.Ratchet, nil, []byte("x")); err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
	}

	if err := s.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load("bob")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Ratchet.Ns != sess.Ratchet.Ns {
		t.Fatalf("got Ns=%d, want %d", loaded.Ratchet.Ns, sess.Ratchet.Ns)
	}
	if loaded.Ratchet.DHPub != sess.Ratchet.DHPub {
		t.Fatal("DHPub mismatch after round trip")
	}
	if loaded.PeerRegistrationID != bob.RegistrationID {
		t.Fatal("peer registration id mismatch after round trip")
	}
}

func TestAccountStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := store.NewAccountStore(dir)

	if err := s.Save(store.Profile{ServerURL: "https://relay.example", UserID: "alice", Canary: "abc123"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(store.Profile{ServerURL: "https://relay.example", UserID: "bob", Canary: "def456"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, found, err := s.Load("https://relay.example", "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("expected profile to be found")
	}
	if got.Canary != "abc123" {
		t.Fatalf("got canary %q, want abc123", got.Canary)
	}

	if _, found, err := s.Load("https://relay.example", "carol"); err != nil {
		t.Fatalf("Load: %v", err)
	} else if found {
		t.Fatal("expected no profile for unregistered user")
	}
}

func aliceSignedPreKeyPair() (priv, pub [32]byte, err error) {
	id, err := identity.Generate()
	if err != nil {
		return priv, pub, err
	}
	spk, err := prekey.GenerateSignedPreKey(id, 1, time.Unix(0, 0))
	if err != nil {
		return priv, pub, err
	}
	return spk.Priv, spk.Pub, nil
}
