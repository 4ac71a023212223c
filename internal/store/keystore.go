// Package store provides file-based persistence for wasp's identity,
// pre-key, and session material, serialized as JSON on disk under the
// user's configured home directory.
package store

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"wasp/pkg/wasperr"
)

// keystoreFormatVersionScrypt is the legacy on-disk KDF: kept only so
// openSecret can still decrypt a keystore blob written before the
// switch to argon2id. sealSecret never writes this version.
const keystoreFormatVersionScrypt = 1

// keystoreFormatVersionArgon2 is the current on-disk KDF for deriving a
// keystore's key-encryption key, matching the teacher's
// `internal/crypto/key.go` (`DeriveKEK` via `argon2.IDKey`).
const keystoreFormatVersionArgon2 = 2

// ErrWrongPassphrase is returned when the passphrase is incorrect or the
// keystore ciphertext has been modified or corrupted.
var ErrWrongPassphrase = errors.New("store: wrong passphrase or corrupted keystore")

// keystoreBlob is the on-disk JSON structure holding the ciphertext and
// KDF parameters for one encrypted secret. Only one of the argon2_* or
// scrypt_* parameter groups is populated, depending on V.
type keystoreBlob struct {
	V       int    `json:"v"`
	Salt    []byte `json:"salt"`
	Time    uint32 `json:"argon2_time,omitempty"`
	Memory  uint32 `json:"argon2_memory,omitempty"`
	Threads uint8  `json:"argon2_threads,omitempty"`
	N       int    `json:"scrypt_n,omitempty"`
	R       int    `json:"scrypt_r,omitempty"`
	P       int    `json:"scrypt_p,omitempty"`
	Cipher  []byte `json:"cipher"`
}

func argon2ParamsDefault() (time, memory uint32, threads uint8) { return 1, 1 << 16, 8 }

// sealSecret derives a key-encryption key from passphrase and a fresh
// salt via argon2id, then seals raw under it. The salt itself is used
// as AEAD associated data and as the (implicitly unique, since
// salt-bound) key derivation input, so a zero nonce is safe here.
func sealSecret(passphrase string, raw []byte) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("store: read salt: %w", err)
	}
	time, memory, threads := argon2ParamsDefault()
	key := argon2.IDKey([]byte(passphrase), salt[:], time, memory, threads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("store: new aead: %w", err)
	}
	var nonce [chacha20poly1305.NonceSize]byte
	ct := aead.Seal(nil, nonce[:], raw, salt[:])

	return json.Marshal(keystoreBlob{
		V:       keystoreFormatVersionArgon2,
		Salt:    salt[:],
		Time:    time,
		Memory:  memory,
		Threads: threads,
		Cipher:  ct,
	})
}

// openSecret reverses sealSecret, deriving the key-encryption key with
// whichever KDF the blob's version names: argon2id for the current
// format, scrypt for a keystore blob written before the switch.
func openSecret(passphrase string, b []byte) ([]byte, error) {
	var bl keystoreBlob
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&bl); err != nil {
		return nil, wasperr.NewParseError("keystore", err)
	}

	var key []byte
	switch bl.V {
	case keystoreFormatVersionArgon2:
		key = argon2.IDKey([]byte(passphrase), bl.Salt, bl.Time, bl.Memory, bl.Threads, chacha20poly1305.KeySize)
	case keystoreFormatVersionScrypt:
		var err error
		key, err = scrypt.Key([]byte(passphrase), bl.Salt, bl.N, bl.R, bl.P, chacha20poly1305.KeySize)
		if err != nil {
			return nil, fmt.Errorf("store: derive keystore key: %w", err)
		}
	default:
		return nil, fmt.Errorf("store: unsupported keystore version %d", bl.V)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("store: new aead: %w", err)
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], bl.Cipher, bl.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
