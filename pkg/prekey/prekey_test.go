package prekey_test

import (
	"errors"
	"testing"
	"time"

	"wasp/pkg/identity"
	"wasp/pkg/prekey"
	"wasp/pkg/wasperr"
)

func mustIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return id
}

func TestSignedPreKeyVerifies(t *testing.T) {
	id := mustIdentity(t)
	spk, err := prekey.GenerateSignedPreKey(id, 1, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("GenerateSignedPreKey: %v", err)
	}
	if err := prekey.VerifySignedPreKey(id.EdPub, spk.Pub, spk.Signature); err != nil {
		t.Fatalf("VerifySignedPreKey: %v", err)
	}
}

func TestSignedPreKeyRejectsTamperedSignature(t *testing.T) {
	id := mustIdentity(t)
	spk, err := prekey.GenerateSignedPreKey(id, 1, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("GenerateSignedPreKey: %v", err)
	}
	spk.Signature[0] ^= 0x01
	err = prekey.VerifySignedPreKey(id.EdPub, spk.Pub, spk.Signature)
	if !errors.Is(err, wasperr.ErrInvalidSignature) {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}
}

func TestOneTimePreKeysSequentialIDs(t *testing.T) {
	keys, err := prekey.GenerateOneTimePreKeys(5, 3)
	if err != nil {
		t.Fatalf("GenerateOneTimePreKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("got %d keys, want 3", len(keys))
	}
	for i, k := range keys {
		if k.ID != uint32(5+i) {
			t.Fatalf("key %d has id %d, want %d", i, k.ID, 5+i)
		}
	}
}

func TestOneTimePreKeysExhaustedIDSpace(t *testing.T) {
	_, err := prekey.GenerateOneTimePreKeys(1<<24-1, 5)
	if !errors.Is(err, wasperr.ErrExhaustedKeyIds) {
		t.Fatalf("got %v, want ErrExhaustedKeyIds", err)
	}
}

func TestOneTimePreKeyWipe(t *testing.T) {
	keys, err := prekey.GenerateOneTimePreKeys(1, 1)
	if err != nil {
		t.Fatalf("GenerateOneTimePreKeys: %v", err)
	}
	keys[0].Wipe()
	var zero [32]byte
	if keys[0].Priv != zero {
		t.Fatal("private key not wiped")
	}
}
