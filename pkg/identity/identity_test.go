package identity_test

import (
	"testing"

	"wasp/pkg/identity"
	"wasp/pkg/primitives"
)

func TestGenerateProducesValidRegistrationID(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if id.RegistrationID < primitives.MinRegistrationID || id.RegistrationID > primitives.MaxRegistrationID {
		t.Fatalf("registration id %d out of range", id.RegistrationID)
	}
	if len(id.EdPriv) == 0 || len(id.EdPub) == 0 {
		t.Fatal("ed25519 key pair not populated")
	}
}

func TestFingerprintStableForSameKey(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	a := identity.Fingerprint(id.XPub)
	b := identity.Fingerprint(id.XPub)
	if a != b {
		t.Fatal("fingerprint not stable across calls")
	}
}

func TestFingerprintDiffersAcrossIdentities(t *testing.T) {
	a, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if identity.Fingerprint(a.XPub) == identity.Fingerprint(b.XPub) {
		t.Fatal("fingerprints collided across distinct identities")
	}
}

func TestPublicCopiesPublicFields(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	pub := id.Public()
	if pub.XPub != id.XPub {
		t.Fatal("public X25519 key mismatch")
	}
	if pub.RegistrationID != id.RegistrationID {
		t.Fatal("public registration id mismatch")
	}
}
