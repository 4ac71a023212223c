// Package prekey generates and tracks the medium-term (signed) and
// single-use (one-time) X25519 key pairs an identity publishes so peers can
// run X3DH against it while it is offline.
package prekey

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"wasp/pkg/identity"
	"wasp/pkg/primitives"
	"wasp/pkg/wasperr"
)

// maxKeyID is the largest id a 24-bit id space can hold (spec.md §4.2).
const maxKeyID = 1<<24 - 1

// SignedPreKey is a medium-term X25519 key pair signed by the owning
// identity's Ed25519 key.
type SignedPreKey struct {
	ID        uint32
	Priv      [32]byte
	Pub       [32]byte
	Signature []byte
	CreatedAt time.Time
}

// OneTimePreKey is a single-use X25519 key pair. The private half must be
// destroyed immediately after it is consumed by one X3DH receive.
type OneTimePreKey struct {
	ID   uint32
	Priv [32]byte
	Pub  [32]byte
}

// GenerateSignedPreKey creates a fresh X25519 pair, signs its public half
// with id's Ed25519 signing key, and stamps it with the current id.
func GenerateSignedPreKey(id *identity.Identity, keyID uint32, now time.Time) (SignedPreKey, error) {
	if keyID > maxKeyID {
		return SignedPreKey{}, wasperr.ErrExhaustedKeyIds
	}
	priv, pub, err := primitives.GenerateX25519()
	if err != nil {
		return SignedPreKey{}, fmt.Errorf("prekey: generate signed pre-key: %w", err)
	}
	sig := primitives.Sign(id.EdPriv, pub[:])
	return SignedPreKey{
		ID:        keyID,
		Priv:      priv,
		Pub:       pub,
		Signature: sig,
		CreatedAt: now,
	}, nil
}

// VerifySignedPreKey checks an SPK's signature against the signing
// identity's Ed25519 public key, per spec.md §3's SPK invariant.
func VerifySignedPreKey(signPub ed25519.PublicKey, spkPub [32]byte, sig []byte) error {
	if !primitives.Verify(signPub, spkPub[:], sig) {
		return wasperr.ErrInvalidSignature
	}
	return nil
}

// GenerateOneTimePreKeys emits count fresh X25519 pairs with ids
// startID, startID+1, .... An id (or the last one generated) overflowing
// the 24-bit id space is reported as ErrExhaustedKeyIds before any partial
// batch is returned.
func GenerateOneTimePreKeys(startID uint32, count int) ([]OneTimePreKey, error) {
	if count < 0 {
		return nil, fmt.Errorf("prekey: negative count %d", count)
	}
	if count > 0 && uint64(startID)+uint64(count)-1 > maxKeyID {
		return nil, wasperr.ErrExhaustedKeyIds
	}
	out := make([]OneTimePreKey, 0, count)
	for i := 0; i < count; i++ {
		priv, pub, err := primitives.GenerateX25519()
		if err != nil {
			return nil, fmt.Errorf("prekey: generate one-time pre-key: %w", err)
		}
		out = append(out, OneTimePreKey{
			ID:   startID + uint32(i),
			Priv: priv,
			Pub:  pub,
		})
	}
	return out, nil
}

// Bundle is the payload a peer fetches to initiate X3DH against this
// identity (spec.md §3, "Recipient Pre-Key Bundle").
type Bundle struct {
	UserID          string
	RegistrationID  uint16
	IdentityDHPub   [32]byte
	IdentitySignPub ed25519.PublicKey
	SignedPreKeyID  uint32
	SignedPreKey    [32]byte
	Signature       []byte
	OneTimeKeyID    *uint32
	OneTimeKey      *[32]byte
}

// Wipe zeroes the private half of an OneTimePreKey. Callers must invoke
// this exactly once, immediately after the key is consumed by an X3DH
// receive (spec.md §3's OPK invariant).
func (k *OneTimePreKey) Wipe() {
	for i := range k.Priv {
		k.Priv[i] = 0
	}
}
