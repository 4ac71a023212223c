package ratchet_test

import (
	"bytes"
	"errors"
	"testing"

	"wasp/pkg/primitives"
	"wasp/pkg/ratchet"
	"wasp/pkg/wasperr"
)

func sharedSK(t *testing.T) [32]byte {
	t.Helper()
	var sk [32]byte
	copy(sk[:], bytes.Repeat([]byte{0x42}, 32))
	return sk
}

func mustSPK(t *testing.T) (priv, pub [32]byte) {
	t.Helper()
	priv, pub, err := primitives.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return priv, pub
}

func TestRatchetOneRoundTrip(t *testing.T) {
	sk := sharedSK(t)
	spkPriv, spkPub := mustSPK(t)

	alice, err := ratchet.InitSender(sk, spkPub)
	if err != nil {
		t.Fatalf("InitSender: %v", err)
	}
	bob := ratchet.InitReceiver(sk, spkPriv, spkPub)

	header, ct, err := ratchet.Encrypt(alice, []byte("aad"), []byte("hi bob"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := ratchet.Decrypt(bob, []byte("aad"), header, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "hi bob" {
		t.Fatalf("got %q, want %q", pt, "hi bob")
	}
}

func TestRatchetEncryptBeforeReceiveFailsClosed(t *testing.T) {
	sk := sharedSK(t)
	spkPriv, spkPub := mustSPK(t)
	bob := ratchet.InitReceiver(sk, spkPriv, spkPub)

	_, _, err := ratchet.Encrypt(bob, nil, []byte("too soon"))
	if !errors.Is(err, wasperr.ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
}

func TestRatchetFullConversationBothDirections(t *testing.T) {
	sk := sharedSK(t)
	spkPriv, spkPub := mustSPK(t)

	alice, err := ratchet.InitSender(sk, spkPub)
	if err != nil {
		t.Fatalf("InitSender: %v", err)
	}
	bob := ratchet.InitReceiver(sk, spkPriv, spkPub)

	h1, ct1, err := ratchet.Encrypt(alice, nil, []byte("msg1"))
	if err != nil {
		t.Fatalf("Encrypt 1: %v", err)
	}
	if _, err := ratchet.Decrypt(bob, nil, h1, ct1); err != nil {
		t.Fatalf("Decrypt 1: %v", err)
	}

	// Bob can now reply: the receive established his sending chain too.
	h2, ct2, err := ratchet.Encrypt(bob, nil, []byte("msg2"))
	if err != nil {
		t.Fatalf("Encrypt 2 (bob replying): %v", err)
	}
	pt2, err := ratchet.Decrypt(alice, nil, h2, ct2)
	if err != nil {
		t.Fatalf("Decrypt 2: %v", err)
	}
	if string(pt2) != "msg2" {
		t.Fatalf("got %q, want %q", pt2, "msg2")
	}

	h3, ct3, err := ratchet.Encrypt(alice, nil, []byte("msg3"))
	if err != nil {
		t.Fatalf("Encrypt 3: %v", err)
	}
	pt3, err := ratchet.Decrypt(bob, nil, h3, ct3)
	if err != nil {
		t.Fatalf("Decrypt 3: %v", err)
	}
	if string(pt3) != "msg3" {
		t.Fatalf("got %q, want %q", pt3, "msg3")
	}
}

func TestRatchetOutOfOrderDelivery(t *testing.T) {
	sk := sharedSK(t)
	spkPriv, spkPub := mustSPK(t)

	alice, err := ratchet.InitSender(sk, spkPub)
	if err != nil {
		t.Fatalf("InitSender: %v", err)
	}
	bob := ratchet.InitReceiver(sk, spkPriv, spkPub)

	type sealed struct {
		header ratchet.Header
		ct     []byte
		pt     string
	}
	var msgs []sealed
	for _, pt := range []string{"one", "two", "three"} {
		h, ct, err := ratchet.Encrypt(alice, nil, []byte(pt))
		if err != nil {
			t.Fatalf("Encrypt %q: %v", pt, err)
		}
		msgs = append(msgs, sealed{h, ct, pt})
	}

	// Deliver out of order: 2, 0, 1.
	order := []int{2, 0, 1}
	for _, i := range order {
		pt, err := ratchet.Decrypt(bob, nil, msgs[i].header, msgs[i].ct)
		if err != nil {
			t.Fatalf("Decrypt msg %d out of order: %v", i, err)
		}
		if string(pt) != msgs[i].pt {
			t.Fatalf("msg %d: got %q, want %q", i, pt, msgs[i].pt)
		}
	}
}

func TestRatchetTamperedCiphertextFailsClosedWithoutMutatingState(t *testing.T) {
	sk := sharedSK(t)
	spkPriv, spkPub := mustSPK(t)

	alice, err := ratchet.InitSender(sk, spkPub)
	if err != nil {
		t.Fatalf("InitSender: %v", err)
	}
	bob := ratchet.InitReceiver(sk, spkPriv, spkPub)

	header, ct, err := ratchet.Encrypt(alice, nil, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ct[0] ^= 0x01

	before := *bob
	if _, err := ratchet.Decrypt(bob, nil, header, ct); !errors.Is(err, wasperr.ErrAuthFailure) {
		t.Fatalf("got %v, want ErrAuthFailure", err)
	}
	if bob.Nr != before.Nr || bob.HasCKr != before.HasCKr {
		t.Fatal("state mutated on decrypt failure")
	}

	if _, err := ratchet.Decrypt(bob, nil, header, append([]byte(nil), ct[:len(ct)-1]...)); err == nil {
		t.Fatal("expected truncated ciphertext to fail")
	}

	// The legitimate message should still decrypt afterwards.
	ct[0] ^= 0x01
	pt, err := ratchet.Decrypt(bob, nil, header, ct)
	if err != nil {
		t.Fatalf("Decrypt of untampered message after failure: %v", err)
	}
	if string(pt) != "hello" {
		t.Fatalf("got %q, want %q", pt, "hello")
	}
}

func TestRatchetTooManySkippedFailsClosed(t *testing.T) {
	sk := sharedSK(t)
	spkPriv, spkPub := mustSPK(t)

	alice, err := ratchet.InitSender(sk, spkPub)
	if err != nil {
		t.Fatalf("InitSender: %v", err)
	}
	bob := ratchet.InitReceiver(sk, spkPriv, spkPub)

	var lastHeader ratchet.Header
	var lastCT []byte
	for i := 0; i <= ratchet.MaxSkip+1; i++ {
		h, ct, err := ratchet.Encrypt(alice, nil, []byte("x"))
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		lastHeader, lastCT = h, ct
	}

	_, err = ratchet.Decrypt(bob, nil, lastHeader, lastCT)
	if !errors.Is(err, wasperr.ErrTooManySkipped) {
		t.Fatalf("got %v, want ErrTooManySkipped", err)
	}
}
