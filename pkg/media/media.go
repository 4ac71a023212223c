// Package media implements the Media AEAD scheme: independent file
// encryption that never flows through a ratchet session, so large blobs
// can be uploaded/downloaded out of band while only the 64-byte media
// key travels inside a ratcheted message (spec.md §4.6).
//
// Each blob is sealed with AES-256-GCM and additionally carries a
// truncated HMAC-SHA256 over iv ‖ ciphertext. That HMAC adds no
// protection beyond the GCM tag; it is kept so the blob layout stays
// wire-compatible.
package media

import (
	"crypto/sha256"
	"fmt"

	"wasp/pkg/primitives"
	"wasp/pkg/wasperr"
)

// KeySize is the size in bytes of a media key.
const KeySize = 64

// macSize is the truncated HMAC length appended to every blob, matching
// the Signal/WhatsApp media convention.
const macSize = 10

// Blob is an encrypted file: iv ‖ ciphertext ‖ mac10, plus its digest.
type Blob struct {
	Bytes  []byte
	Digest [32]byte
}

// GenerateKey draws a fresh 64-byte media key.
func GenerateKey() ([]byte, error) {
	return primitives.RandBytes(KeySize)
}

// Encrypt seals plaintext under mediaKey, returning the blob to upload
// and its SHA-256 digest (which the caller is expected to also send
// alongside the encrypted mediaKey inside a ratcheted message).
func Encrypt(mediaKey []byte, plaintext []byte) (Blob, error) {
	iv, cipherKey, macKey, err := primitives.KDFMedia(mediaKey)
	if err != nil {
		return Blob{}, fmt.Errorf("media: KDF_Media: %w", err)
	}
	ct, err := primitives.AEADSeal(cipherKey[:], iv[:primitives.GCMNonceSize], plaintext, nil)
	if err != nil {
		return Blob{}, fmt.Errorf("media: seal: %w", err)
	}

	body := make([]byte, 0, 16+len(ct))
	body = append(body, iv[:]...)
	body = append(body, ct...)
	mac := primitives.HMAC(macKey[:], body)[:macSize]
	blobBytes := append(body, mac...)

	return Blob{
		Bytes:  blobBytes,
		Digest: sha256.Sum256(blobBytes),
	}, nil
}

// Decrypt verifies blobBytes against expectedDigest, then the truncated
// MAC, and only then opens the AEAD — in that order, so a mismatch at
// any stage fails before any AES-GCM work runs on attacker-supplied
// bytes. Any mismatch is reported as wasperr.ErrMediaIntegrity.
func Decrypt(mediaKey []byte, blobBytes []byte, expectedDigest [32]byte) ([]byte, error) {
	if len(blobBytes) < 16+macSize {
		return nil, wasperr.ErrMediaIntegrity
	}

	gotDigest := sha256.Sum256(blobBytes)
	if !primitives.CtEq(gotDigest[:], expectedDigest[:]) {
		return nil, wasperr.ErrMediaIntegrity
	}

	iv, cipherKey, macKey, err := primitives.KDFMedia(mediaKey)
	if err != nil {
		return nil, fmt.Errorf("media: KDF_Media: %w", err)
	}

	body := blobBytes[:len(blobBytes)-macSize]
	gotMAC := blobBytes[len(blobBytes)-macSize:]
	wantMAC := primitives.HMAC(macKey[:], body)[:macSize]
	if !primitives.CtEq(gotMAC, wantMAC) {
		return nil, wasperr.ErrMediaIntegrity
	}

	ct := body[16:]
	pt, err := primitives.AEADOpen(cipherKey[:], iv[:primitives.GCMNonceSize], ct, nil)
	if err != nil {
		return nil, wasperr.ErrMediaIntegrity
	}
	return pt, nil
}
