package store

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"wasp/pkg/ratchet"
	"wasp/pkg/session"
	"wasp/pkg/wasperr"
)

type SessionStore struct {
	home string
}

func NewSessionStore(home string) *SessionStore {
	return &SessionStore{home: home}
}

func (s *SessionStore) path(contactID string) string {
	return filepath.Join(s.home, "sessions", contactID+".json")
}

// ratchetOnDisk mirrors spec.md §6.2's persistent form exactly: hex
// byte strings for key material, mk_skipped as an ordered list of
// (cache_key_string, hex_bytes) pairs so FIFO eviction order survives a
// save/load round trip.
type ratchetOnDisk struct {
	DHsPub    string      `json:"dhs_pub"`
	DHsPriv   string      `json:"dhs_priv"`
	DHr       *string     `json:"dhr,omitempty"`
	RK        string      `json:"rk"`
	CKs       *string     `json:"cks,omitempty"`
	CKr       *string     `json:"ckr,omitempty"`
	Ns        uint32      `json:"ns"`
	Nr        uint32      `json:"nr"`
	PN        uint32      `json:"pn"`
	MKSkipped [][2]string `json:"mk_skipped"`
}

type sessionOnDisk struct {
	Version             int           `json:"version"`
	ContactID           string        `json:"contact_id"`
	LocalSignPub        string        `json:"local_sign_pub"`
	LocalRegistrationID uint16        `json:"local_registration_id"`
	PeerSignPub         string        `json:"peer_sign_pub"`
	PeerRegistrationID  uint16        `json:"peer_registration_id"`
	Ratchet             ratchetOnDisk `json:"ratchet"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

const sessionOnDiskVersion = 1

// Save persists sess bit-for-bit reproducibly, per spec.md §6.2.
func (s *SessionStore) Save(sess *session.Session) error {
	rd := ratchetOnDisk{
		DHsPub:  hex.EncodeToString(sess.Ratchet.DHPub[:]),
		DHsPriv: hex.EncodeToString(sess.Ratchet.DHPriv[:]),
		RK:      hex.EncodeToString(sess.Ratchet.RK[:]),
		Ns:      sess.Ratchet.Ns,
		Nr:      sess.Ratchet.Nr,
		PN:      sess.Ratchet.PN,
	}
	if sess.Ratchet.HasPeerDHPub {
		dhr := hex.EncodeToString(sess.Ratchet.PeerDHPub[:])
		rd.DHr = &dhr
	}
	if sess.Ratchet.HasCKs {
		cks := hex.EncodeToString(sess.Ratchet.CKs[:])
		rd.CKs = &cks
	}
	if sess.Ratchet.HasCKr {
		ckr := hex.EncodeToString(sess.Ratchet.CKr[:])
		rd.CKr = &ckr
	}
	for _, e := range sess.Ratchet.ExportSkipped() {
		key := hex.EncodeToString(e.DHPub[:]) + ":" + strconv.FormatUint(uint64(e.N), 10)
		rd.MKSkipped = append(rd.MKSkipped, [2]string{key, hex.EncodeToString(e.MK[:])})
	}

	out := sessionOnDisk{
		Version:             sessionOnDiskVersion,
		ContactID:           sess.ContactID,
		LocalSignPub:        hex.EncodeToString(sess.LocalSignPub),
		LocalRegistrationID: sess.LocalRegistrationID,
		PeerSignPub:         hex.EncodeToString(sess.PeerSignPub),
		PeerRegistrationID:  sess.PeerRegistrationID,
		Ratchet:             rd,
		CreatedAt:           sess.CreatedAt,
		UpdatedAt:           sess.UpdatedAt,
	}
	if err := os.MkdirAll(filepath.Dir(s.path(sess.ContactID)), 0o700); err != nil {
		return err
	}
	return writeJSON(s.path(sess.ContactID), out, 0o600)
}

// Load reads back the session for contactID, or returns an os.IsNotExist
// error if none has been saved yet.
func (s *SessionStore) Load(contactID string) (*session.Session, error) {
	data, err := os.ReadFile(s.path(contactID))
	if err != nil {
		return nil, err
	}
	var in sessionOnDisk
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, wasperr.NewParseError("session", err)
	}
	if in.Version != sessionOnDiskVersion {
		return nil, fmt.Errorf("store: unsupported session version %d", in.Version)
	}

	dhPub, err := decodeHex32(in.Ratchet.DHsPub)
	if err != nil {
		return nil, wasperr.NewParseError("ratchet.dhs_pub", err)
	}
	dhPriv, err := decodeHex32(in.Ratchet.DHsPriv)
	if err != nil {
		return nil, wasperr.NewParseError("ratchet.dhs_priv", err)
	}
	rk, err := decodeHex32(in.Ratchet.RK)
	if err != nil {
		return nil, wasperr.NewParseError("ratchet.rk", err)
	}

	var peerDHPub *[32]byte
	if in.Ratchet.DHr != nil {
		v, err := decodeHex32(*in.Ratchet.DHr)
		if err != nil {
			return nil, wasperr.NewParseError("ratchet.dhr", err)
		}
		peerDHPub = &v
	}
	var cks *[32]byte
	if in.Ratchet.CKs != nil {
		v, err := decodeHex32(*in.Ratchet.CKs)
		if err != nil {
			return nil, wasperr.NewParseError("ratchet.cks", err)
		}
		cks = &v
	}
	var ckr *[32]byte
	if in.Ratchet.CKr != nil {
		v, err := decodeHex32(*in.Ratchet.CKr)
		if err != nil {
			return nil, wasperr.NewParseError("ratchet.ckr", err)
		}
		ckr = &v
	}

	rs := ratchet.NewState(dhPriv, dhPub, peerDHPub, rk, cks, ckr, in.Ratchet.Ns, in.Ratchet.Nr, in.Ratchet.PN)

	entries := make([]ratchet.SkippedEntry, 0, len(in.Ratchet.MKSkipped))
	for _, pair := range in.Ratchet.MKSkipped {
		dh, n, err := parseSkippedKey(pair[0])
		if err != nil {
			return nil, wasperr.NewParseError("ratchet.mk_skipped", err)
		}
		mk, err := decodeHex32(pair[1])
		if err != nil {
			return nil, wasperr.NewParseError("ratchet.mk_skipped", err)
		}
		entries = append(entries, ratchet.SkippedEntry{DHPub: dh, N: n, MK: mk})
	}
	rs.RestoreSkipped(entries)

	localSignPub, err := hex.DecodeString(in.LocalSignPub)
	if err != nil {
		return nil, wasperr.NewParseError("local_sign_pub", err)
	}
	peerSignPub, err := hex.DecodeString(in.PeerSignPub)
	if err != nil {
		return nil, wasperr.NewParseError("peer_sign_pub", err)
	}

	return &session.Session{
		ContactID:           in.ContactID,
		LocalSignPub:        ed25519.PublicKey(localSignPub),
		LocalRegistrationID: in.LocalRegistrationID,
		PeerSignPub:         ed25519.PublicKey(peerSignPub),
		PeerRegistrationID:  in.PeerRegistrationID,
		Ratchet:             rs,
		CreatedAt:           in.CreatedAt,
		UpdatedAt:           in.UpdatedAt,
	}, nil
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func parseSkippedKey(key string) (dh [32]byte, n uint32, err error) {
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return dh, 0, fmt.Errorf("malformed skipped-key %q", key)
	}
	dh, err = decodeHex32(key[:idx])
	if err != nil {
		return dh, 0, err
	}
	v, err := strconv.ParseUint(key[idx+1:], 10, 32)
	if err != nil {
		return dh, 0, err
	}
	return dh, uint32(v), nil
}
