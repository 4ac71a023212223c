// Package identity generates and fingerprints the long-term key material
// that anchors a wasp account: an X25519 agreement key pair, an Ed25519
// signing key pair, and a 14-bit registration id.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"wasp/pkg/primitives"
)

// Identity carries the long-term key material for one account, as defined
// by spec.md §3 ("Identity").
type Identity struct {
	XPriv          [32]byte
	XPub           [32]byte
	EdPriv         ed25519.PrivateKey
	EdPub          ed25519.PublicKey
	RegistrationID uint16
}

// Public is the subset of Identity that is safe to publish and exchange
// with peers.
type Public struct {
	XPub           [32]byte
	EdPub          ed25519.PublicKey
	RegistrationID uint16
}

// Generate draws a fresh Identity: an X25519 pair, an Ed25519 pair, and a
// registration id uniform over [primitives.MinRegistrationID,
// primitives.MaxRegistrationID].
func Generate() (*Identity, error) {
	xPriv, xPub, err := primitives.GenerateX25519()
	if err != nil {
		return nil, fmt.Errorf("identity: generate x25519: %w", err)
	}
	edPriv, edPub, err := primitives.GenerateEd25519()
	if err != nil {
		return nil, fmt.Errorf("identity: generate ed25519: %w", err)
	}
	regID, err := primitives.RandRegistrationID()
	if err != nil {
		return nil, fmt.Errorf("identity: generate registration id: %w", err)
	}
	return &Identity{
		XPriv:          xPriv,
		XPub:           xPub,
		EdPriv:         edPriv,
		EdPub:          edPub,
		RegistrationID: regID,
	}, nil
}

// Public returns the publishable half of id.
func (id *Identity) Public() Public {
	return Public{
		XPub:           id.XPub,
		EdPub:          append(ed25519.PublicKey(nil), id.EdPub...),
		RegistrationID: id.RegistrationID,
	}
}

// Fingerprint returns the hex-encoded SHA-256 digest of an X25519 public
// key, suitable for out-of-band safety-number comparison.
func Fingerprint(xPub [32]byte) string {
	sum := sha256.Sum256(xPub[:])
	return hex.EncodeToString(sum[:])
}

// Wipe zeroes the private key material in id. It does not prevent the Go
// runtime from having copied these bytes elsewhere (stack growth, GC); it
// only shortens the window the key is live for in this backing array.
func (id *Identity) Wipe() {
	for i := range id.XPriv {
		id.XPriv[i] = 0
	}
	for i := range id.EdPriv {
		id.EdPriv[i] = 0
	}
}
