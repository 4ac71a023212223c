package session_test

import (
	"errors"
	"testing"
	"time"

	"wasp/pkg/identity"
	"wasp/pkg/prekey"
	"wasp/pkg/session"
	"wasp/pkg/wasperr"
	"wasp/pkg/x3dh"
)

func mustIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return id
}

func bundleFor(bob *identity.Identity, spk prekey.SignedPreKey, opk *prekey.OneTimePreKey) x3dh.PeerBundle {
	b := x3dh.PeerBundle{
		RegistrationID:  bob.RegistrationID,
		IdentityDHPub:   bob.XPub,
		IdentitySignPub: bob.EdPub,
		SignedPreKeyPub: spk.Pub,
		Signature:       spk.Signature,
	}
	if opk != nil {
		id := opk.ID
		b.OneTimeKeyID = &id
		b.OneTimeKeyPub = &opk.Pub
	}
	return b
}

func TestSessionFirstMessageRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	alice := mustIdentity(t)
	bob := mustIdentity(t)

	spk, err := prekey.GenerateSignedPreKey(bob, 1, now)
	if err != nil {
		t.Fatalf("GenerateSignedPreKey: %v", err)
	}
	opks, err := prekey.GenerateOneTimePreKeys(1, 1)
	if err != nil {
		t.Fatalf("GenerateOneTimePreKeys: %v", err)
	}
	opk := opks[0]

	pending, err := session.CreateOutgoing(alice, "bob", bundleFor(bob, spk, &opk), now)
	if err != nil {
		t.Fatalf("CreateOutgoing: %v", err)
	}

	aliceSession, env, err := session.EncryptFirst(pending, []byte("hello bob"), now)
	if err != nil {
		t.Fatalf("EncryptFirst: %v", err)
	}
	if !env.IsPreKeyMessage {
		t.Fatal("expected first envelope to be a pre-key message")
	}

	bobSession, pt, err := session.DecryptIncoming(bob, "alice", session.IncomingKeys{
		SignedPreKey:  spk,
		OneTimePreKey: &opk,
	}, nil, env, now)
	if err != nil {
		t.Fatalf("DecryptIncoming: %v", err)
	}
	if string(pt) != "hello bob" {
		t.Fatalf("got %q, want %q", pt, "hello bob")
	}

	// Bob replies; Alice decrypts on her existing session.
	env2, err := session.Encrypt(bobSession, []byte("hi alice"), session.MessageText, now)
	if err != nil {
		t.Fatalf("Encrypt (bob reply): %v", err)
	}
	_, pt2, err := session.DecryptIncoming(alice, "bob", session.IncomingKeys{}, aliceSession, env2, now)
	if err != nil {
		t.Fatalf("DecryptIncoming (alice): %v", err)
	}
	if string(pt2) != "hi alice" {
		t.Fatalf("got %q, want %q", pt2, "hi alice")
	}
}

func TestSessionConflictOnRegistrationIDMismatch(t *testing.T) {
	now := time.Unix(1700000000, 0)
	alice := mustIdentity(t)
	bob := mustIdentity(t)

	spk, err := prekey.GenerateSignedPreKey(bob, 1, now)
	if err != nil {
		t.Fatalf("GenerateSignedPreKey: %v", err)
	}
	pending, err := session.CreateOutgoing(alice, "bob", bundleFor(bob, spk, nil), now)
	if err != nil {
		t.Fatalf("CreateOutgoing: %v", err)
	}
	aliceSession, env, err := session.EncryptFirst(pending, []byte("hi"), now)
	if err != nil {
		t.Fatalf("EncryptFirst: %v", err)
	}
	bobSession, _, err := session.DecryptIncoming(bob, "alice", session.IncomingKeys{SignedPreKey: spk}, nil, env, now)
	if err != nil {
		t.Fatalf("DecryptIncoming: %v", err)
	}

	env2, err := session.Encrypt(bobSession, []byte("reply"), session.MessageText, now)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	env2.RegistrationID = uint32(bobSession.LocalRegistrationID) + 1

	_, _, err = session.DecryptIncoming(alice, "bob", session.IncomingKeys{}, aliceSession, env2, now)
	if !errors.Is(err, wasperr.ErrSessionConflict) {
		t.Fatalf("got %v, want ErrSessionConflict", err)
	}
}

func TestSessionFirstMessageAuthFailureDiscardsCandidate(t *testing.T) {
	now := time.Unix(1700000000, 0)
	alice := mustIdentity(t)
	bob := mustIdentity(t)

	spk, err := prekey.GenerateSignedPreKey(bob, 1, now)
	if err != nil {
		t.Fatalf("GenerateSignedPreKey: %v", err)
	}
	pending, err := session.CreateOutgoing(alice, "bob", bundleFor(bob, spk, nil), now)
	if err != nil {
		t.Fatalf("CreateOutgoing: %v", err)
	}
	_, env, err := session.EncryptFirst(pending, []byte("hi"), now)
	if err != nil {
		t.Fatalf("EncryptFirst: %v", err)
	}
	env.Ciphertext[0] ^= 0x01

	s, pt, err := session.DecryptIncoming(bob, "alice", session.IncomingKeys{SignedPreKey: spk}, nil, env, now)
	if err == nil {
		t.Fatal("expected AuthFailure on tampered first message")
	}
	if s != nil || pt != nil {
		t.Fatal("expected no session or plaintext on discarded first-message failure")
	}
}
