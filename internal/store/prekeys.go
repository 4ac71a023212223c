package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"wasp/pkg/prekey"
	"wasp/pkg/wasperr"
)

type PreKeyStore struct {
	home string
}

func NewPreKeyStore(home string) *PreKeyStore {
	return &PreKeyStore{home: home}
}

func (s *PreKeyStore) path() string { return filepath.Join(s.home, "prekeys.json") }

type signedPreKeyOnDisk struct {
	ID        uint32    `json:"id"`
	Priv      []byte    `json:"priv"`
	Pub       []byte    `json:"pub"`
	Signature []byte    `json:"signature"`
	CreatedAt time.Time `json:"created_at"`
}

type oneTimePreKeyOnDisk struct {
	ID   uint32 `json:"id"`
	Priv []byte `json:"priv"`
	Pub  []byte `json:"pub"`
}

type preKeysOnDisk struct {
	Version      int                   `json:"version"`
	SignedPreKey signedPreKeyOnDisk    `json:"signed_pre_key"`
	OneTimeKeys  []oneTimePreKeyOnDisk `json:"one_time_pre_keys"`
}

const preKeysOnDiskVersion = 1

// Save persists spk and the still-unconsumed one-time pre-keys otks.
// Private key material here is not additionally encrypted: the prekeys
// file lives alongside the encrypted identity file and inherits the
// directory's access controls, matching spec.md §6.2's "round-trip
// bit-for-bit" requirement without re-deriving a keystore key per call.
func (s *PreKeyStore) Save(spk prekey.SignedPreKey, otks []prekey.OneTimePreKey) error {
	out := preKeysOnDisk{
		Version: preKeysOnDiskVersion,
		SignedPreKey: signedPreKeyOnDisk{
			ID:        spk.ID,
			Priv:      spk.Priv[:],
			Pub:       spk.Pub[:],
			Signature: spk.Signature,
			CreatedAt: spk.CreatedAt,
		},
	}
	for _, k := range otks {
		out.OneTimeKeys = append(out.OneTimeKeys, oneTimePreKeyOnDisk{
			ID:   k.ID,
			Priv: k.Priv[:],
			Pub:  k.Pub[:],
		})
	}
	return writeJSON(s.path(), out, 0o600)
}

func (s *PreKeyStore) Load() (prekey.SignedPreKey, []prekey.OneTimePreKey, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		return prekey.SignedPreKey{}, nil, err
	}
	var in preKeysOnDisk
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return prekey.SignedPreKey{}, nil, wasperr.NewParseError("prekeys", err)
	}
	if in.Version != preKeysOnDiskVersion {
		return prekey.SignedPreKey{}, nil, fmt.Errorf("store: unsupported prekeys version %d", in.Version)
	}

	spk := prekey.SignedPreKey{
		ID:        in.SignedPreKey.ID,
		Signature: in.SignedPreKey.Signature,
		CreatedAt: in.SignedPreKey.CreatedAt,
	}
	copy(spk.Priv[:], in.SignedPreKey.Priv)
	copy(spk.Pub[:], in.SignedPreKey.Pub)

	otks := make([]prekey.OneTimePreKey, 0, len(in.OneTimeKeys))
	for _, k := range in.OneTimeKeys {
		otk := prekey.OneTimePreKey{ID: k.ID}
		copy(otk.Priv[:], k.Priv)
		copy(otk.Pub[:], k.Pub)
		otks = append(otks, otk)
	}
	return spk, otks, nil
}

// RemoveOneTime deletes the one-time pre-key with id from the store,
// matching spec.md §3's "deleted on consumption" invariant.
func (s *PreKeyStore) RemoveOneTime(id uint32) error {
	spk, otks, err := s.Load()
	if err != nil {
		return err
	}
	kept := otks[:0]
	for _, k := range otks {
		if k.ID != id {
			kept = append(kept, k)
		}
	}
	return s.Save(spk, kept)
}
