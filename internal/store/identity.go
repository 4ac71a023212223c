package store

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"wasp/pkg/identity"
	"wasp/pkg/wasperr"
)

// ErrIdentityExists is returned by IdentityStore.Save when an identity file is
// already present; wasp never silently overwrites a device's identity.
var ErrIdentityExists = errors.New("store: identity already exists")

type IdentityStore struct {
	home string
}

func NewIdentityStore(home string) *IdentityStore {
	return &IdentityStore{home: home}
}

func (s *IdentityStore) path() string { return filepath.Join(s.home, "identity.json") }

type identityOnDisk struct {
	Version        int    `json:"version"`
	XPub           []byte `json:"x_pub"`
	EncXPriv       []byte `json:"enc_x_priv"`
	EdPub          []byte `json:"ed_pub"`
	EncEdPriv      []byte `json:"enc_ed_priv"`
	RegistrationID uint16 `json:"registration_id"`
}

const identityOnDiskVersion = 1

// Save persists id, encrypting both private halves under passphrase.
// It refuses to overwrite an existing identity file.
func (s *IdentityStore) Save(id *identity.Identity, passphrase string) error {
	if _, err := os.Stat(s.path()); err == nil {
		return ErrIdentityExists
	}

	encX, err := sealSecret(passphrase, id.XPriv[:])
	if err != nil {
		return fmt.Errorf("store: seal x25519 private key: %w", err)
	}
	encEd, err := sealSecret(passphrase, id.EdPriv)
	if err != nil {
		return fmt.Errorf("store: seal ed25519 private key: %w", err)
	}

	out := identityOnDisk{
		Version:        identityOnDiskVersion,
		XPub:           id.XPub[:],
		EncXPriv:       encX,
		EdPub:          id.EdPub,
		EncEdPriv:      encEd,
		RegistrationID: id.RegistrationID,
	}
	return writeJSON(s.path(), out, 0o600)
}

// Load decrypts and returns the stored identity.
func (s *IdentityStore) Load(passphrase string) (*identity.Identity, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		return nil, err
	}
	var in identityOnDisk
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, wasperr.NewParseError("identity", err)
	}
	if in.Version != identityOnDiskVersion {
		return nil, fmt.Errorf("store: unsupported identity version %d", in.Version)
	}

	xPriv, err := openSecret(passphrase, in.EncXPriv)
	if err != nil {
		return nil, err
	}
	edPriv, err := openSecret(passphrase, in.EncEdPriv)
	if err != nil {
		return nil, err
	}
	if len(xPriv) != 32 || len(in.XPub) != 32 {
		return nil, fmt.Errorf("store: bad x25519 key sizes")
	}
	if len(edPriv) != ed25519.PrivateKeySize || len(in.EdPub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("store: bad ed25519 key sizes")
	}

	id := &identity.Identity{
		EdPriv:         ed25519.PrivateKey(edPriv),
		EdPub:          ed25519.PublicKey(in.EdPub),
		RegistrationID: in.RegistrationID,
	}
	copy(id.XPriv[:], xPriv)
	copy(id.XPub[:], in.XPub)
	return id, nil
}
