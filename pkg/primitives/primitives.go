// Package primitives exposes constant-time wrappers over the cryptographic
// building blocks the wasp protocol core is built from: X25519,
// Ed25519, HKDF-SHA256, HMAC-SHA256, AES-256-GCM, and a CSRNG.
//
// Every function here is pure: inputs are byte strings, outputs are byte
// strings or a signaled AuthFailure (see pkg/wasperr). There is no hidden
// state and nothing here performs I/O.
package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"wasp/pkg/wasperr"
)

const (
	// KeySize is the size in bytes of an X25519/root/chain/message key.
	KeySize = 32
	// GCMNonceSize is the size in bytes of an AES-GCM nonce.
	GCMNonceSize = 12
	// GCMTagSize is the size in bytes of an AES-GCM authentication tag.
	GCMTagSize = 16
)

// GenerateX25519 draws a fresh, correctly clamped X25519 key pair.
func GenerateX25519() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("primitives: generate x25519 private key: %w", err)
	}
	clamp(&priv)
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("primitives: derive x25519 public key: %w", err)
	}
	copy(pub[:], pubBytes)
	return priv, pub, nil
}

func clamp(k *[32]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// DH performs an X25519 scalar multiplication, returning the 32-byte shared
// secret. Per RFC 7748, an all-zero output is accepted rather than
// rejected; callers that need the stricter contributory-behavior check
// should inspect the result themselves.
func DH(priv, pub [32]byte) ([32]byte, error) {
	var out [32]byte
	secret, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, fmt.Errorf("primitives: DH failed: %w", err)
	}
	copy(out[:], secret)
	return out, nil
}

// GenerateEd25519 draws a fresh Ed25519 signing key pair.
func GenerateEd25519() (priv ed25519.PrivateKey, pub ed25519.PublicKey, err error) {
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	return priv, pub, err
}

// Sign produces a 64-byte Ed25519 signature over msg.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid Ed25519 signature over msg under
// pub. Verification time depends only on the lengths involved, never on
// whether the signature is valid.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// HKDF runs HKDF-SHA256 Extract-then-Expand, returning l bytes.
func HKDF(ikm, salt, info []byte, l int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, l)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("primitives: hkdf expand: %w", err)
	}
	return out, nil
}

// HMAC computes HMAC-SHA256(key, data).
func HMAC(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// AEADSeal seals plaintext with AES-256-GCM under key/iv, authenticating
// aad, and returns ciphertext‖tag.
func AEADSeal(key []byte, iv []byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != GCMNonceSize {
		return nil, fmt.Errorf("primitives: AEADSeal: iv must be %d bytes, got %d", GCMNonceSize, len(iv))
	}
	return aead.Seal(nil, iv, plaintext, aad), nil
}

// AEADOpen opens an AES-256-GCM ciphertext‖tag under key/iv, authenticating
// aad. It fails closed with wasperr.ErrAuthFailure on any tag mismatch and
// never returns partial plaintext on failure.
func AEADOpen(key []byte, iv []byte, ciphertext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != GCMNonceSize {
		return nil, fmt.Errorf("primitives: AEADOpen: iv must be %d bytes, got %d", GCMNonceSize, len(iv))
	}
	pt, err := aead.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, wasperr.ErrAuthFailure
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("primitives: AES-256-GCM key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("primitives: new AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// RandBytes draws n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("primitives: rand_bytes: %w", err)
	}
	return b, nil
}

// MinRegistrationID and MaxRegistrationID bound the 14-bit registration id
// space per spec.md §3.
const (
	MinRegistrationID = 1
	MaxRegistrationID = 16380
)

// RandRegistrationID draws a registration id uniformly from
// [MinRegistrationID, MaxRegistrationID].
func RandRegistrationID() (uint16, error) {
	span := uint32(MaxRegistrationID - MinRegistrationID + 1)
	b, err := RandBytes(4)
	if err != nil {
		return 0, err
	}
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return uint16(MinRegistrationID + v%span), nil
}

// CtEq compares a and b in constant time. A length mismatch still walks
// the shorter of the two slices before returning false, so the running
// time does not leak which slice was shorter via an early return.
func CtEq(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var v byte
	for i := 0; i < n; i++ {
		v |= a[i] ^ b[i]
	}
	if len(a) != len(b) {
		v |= 1
	}
	return subtle.ConstantTimeByteEq(v, 0) == 1
}
