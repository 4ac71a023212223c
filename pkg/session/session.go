// Package session glues X3DH key agreement to the Double Ratchet,
// turning "I want to message this contact" / "I received these bytes"
// into concrete ratchet operations plus wire envelopes (spec.md §4.5).
package session

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"wasp/pkg/identity"
	"wasp/pkg/prekey"
	"wasp/pkg/ratchet"
	"wasp/pkg/wasperr"
	"wasp/pkg/x3dh"
)

// Session is a ratchet state wrapped with the bookkeeping needed to
// route and authenticate messages for one contact (spec.md §3,
// "Session").
type Session struct {
	ContactID           string
	LocalSignPub        ed25519.PublicKey
	LocalRegistrationID uint16
	PeerSignPub         ed25519.PublicKey
	PeerRegistrationID  uint16
	Ratchet             *ratchet.State
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PendingSession is the result of CreateOutgoing: a sender ratchet has
// been initialized and X3DH has run, but the pre-key fields that must
// ride on the first wire message have not yet been consumed. CreateOutgoing
// never hands out the *Session directly: it comes out of EncryptFirst,
// which consumes the PendingSession, so a second EncryptFirst call on the
// same PendingSession returns an error instead of a second first message.
type PendingSession struct {
	session               *Session
	ephemeralPub          [32]byte
	usedOneTimePreKeyID   *uint32
	senderIdentityDHPub   [32]byte
	senderIdentitySignPub ed25519.PublicKey
}

// CreateOutgoing runs X3DH as the initiator against bundle and starts a
// sender ratchet, returning a PendingSession. The caller must pass the
// result through EncryptFirst before the session can be used again; it is
// not yet a persistable Session.
func CreateOutgoing(sender *identity.Identity, contactID string, bundle x3dh.PeerBundle, now time.Time) (*PendingSession, error) {
	res, err := x3dh.SenderAgree(sender, bundle)
	if err != nil {
		return nil, err
	}
	rs, err := ratchet.InitSender(res.SK, bundle.SignedPreKeyPub)
	if err != nil {
		return nil, fmt.Errorf("session: init sender ratchet: %w", err)
	}
	s := &Session{
		ContactID:           contactID,
		LocalSignPub:        append(ed25519.PublicKey(nil), sender.EdPub...),
		LocalRegistrationID: sender.RegistrationID,
		PeerSignPub:         append(ed25519.PublicKey(nil), bundle.IdentitySignPub...),
		PeerRegistrationID:  bundle.RegistrationID,
		Ratchet:             rs,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	return &PendingSession{
		session:               s,
		ephemeralPub:          res.EphPub,
		usedOneTimePreKeyID:   res.UsedOPKID,
		senderIdentityDHPub:   sender.XPub,
		senderIdentitySignPub: append(ed25519.PublicKey(nil), sender.EdPub...),
	}, nil
}

// EncryptFirst consumes ps, producing the first wire envelope (carrying
// the pre-key fields a responder needs to run X3DH receive) and the
// now-usable Session. If encryption fails, ps is left unconsumed.
func EncryptFirst(ps *PendingSession, plaintext []byte, now time.Time) (*Session, Envelope, error) {
	s := ps.session
	if s == nil {
		return nil, Envelope{}, fmt.Errorf("session: pending session already consumed")
	}
	aad := associatedData(s.LocalSignPub, s.PeerSignPub)
	header, ct, err := ratchet.Encrypt(s.Ratchet, aad, plaintext)
	if err != nil {
		return nil, Envelope{}, err
	}
	s.UpdatedAt = now
	ps.session = nil

	env := Envelope{
		IsPreKeyMessage:       true,
		Header:                header,
		Ciphertext:            ct,
		MessageType:           MessageText,
		RegistrationID:        uint32(s.LocalRegistrationID),
		SenderIdentityDHKey:   ps.senderIdentityDHPub,
		SenderEphemeralKey:    ps.ephemeralPub,
		SenderIdentitySignKey: ps.senderIdentitySignPub,
		UsedOneTimePreKeyID:   ps.usedOneTimePreKeyID,
	}
	return s, env, nil
}

// Encrypt seals plaintext under an already-active session (i.e. not the
// first message of a freshly created contact).
func Encrypt(s *Session, plaintext []byte, msgType MessageType, now time.Time) (Envelope, error) {
	aad := associatedData(s.LocalSignPub, s.PeerSignPub)
	header, ct, err := ratchet.Encrypt(s.Ratchet, aad, plaintext)
	if err != nil {
		return Envelope{}, err
	}
	s.UpdatedAt = now
	return Envelope{
		Header:         header,
		Ciphertext:     ct,
		MessageType:    msgType,
		RegistrationID: uint32(s.LocalRegistrationID),
	}, nil
}

// IncomingKeys is the receiver-side key material needed to bootstrap a
// session from a first pre-key message. SignedPreKey and OneTimePreKey
// must be the exact pair the sender's bundle advertised.
type IncomingKeys struct {
	SignedPreKey  prekey.SignedPreKey
	OneTimePreKey *prekey.OneTimePreKey
}

// DecryptIncoming routes an inbound envelope to the right ratchet
// operation. If it is a pre-key message for a contact with no existing
// session, it first runs X3DH receive and initializes a receiver
// ratchet; the newly derived session is returned only on a successful
// decrypt — on AuthFailure it is discarded entirely, never persisted.
// If existing is non-nil, envelope.RegistrationID is checked against it
// first and ErrSessionConflict is raised on mismatch, before any ratchet
// state is touched.
func DecryptIncoming(receiver *identity.Identity, contactID string, keys IncomingKeys, existing *Session, env Envelope, now time.Time) (*Session, []byte, error) {
	if existing != nil {
		if uint16(env.RegistrationID) != existing.PeerRegistrationID {
			return nil, nil, wasperr.ErrSessionConflict
		}
		aad := associatedData(existing.PeerSignPub, existing.LocalSignPub)
		pt, err := ratchet.Decrypt(existing.Ratchet, aad, env.Header, env.Ciphertext)
		if err != nil {
			return nil, nil, err
		}
		existing.UpdatedAt = now
		return existing, pt, nil
	}

	if !env.IsPreKeyMessage {
		return nil, nil, wasperr.NewParseError("envelope", fmt.Errorf("no existing session and envelope is not a pre-key message"))
	}

	sk, err := x3dh.ReceiverAgree(receiver, x3dh.ReceiverInput{
		SignedPreKey:        keys.SignedPreKey,
		OneTimePreKey:       keys.OneTimePreKey,
		SenderIdentityDHPub: env.SenderIdentityDHKey,
		SenderEphemeralPub:  env.SenderEphemeralKey,
	})
	if keys.OneTimePreKey != nil {
		keys.OneTimePreKey.Wipe()
	}
	if err != nil {
		return nil, nil, err
	}

	rs := ratchet.InitReceiver(sk, keys.SignedPreKey.Priv, keys.SignedPreKey.Pub)
	candidate := &Session{
		ContactID:           contactID,
		LocalSignPub:        append(ed25519.PublicKey(nil), receiver.EdPub...),
		LocalRegistrationID: receiver.RegistrationID,
		PeerSignPub:         append(ed25519.PublicKey(nil), env.SenderIdentitySignKey...),
		PeerRegistrationID:  uint16(env.RegistrationID),
		Ratchet:             rs,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	aad := associatedData(candidate.PeerSignPub, candidate.LocalSignPub)
	pt, err := ratchet.Decrypt(candidate.Ratchet, aad, env.Header, env.Ciphertext)
	if err != nil {
		// The derived session is discarded: return nothing persistable.
		return nil, nil, err
	}
	return candidate, pt, nil
}

func associatedData(senderSignPub, recipientSignPub ed25519.PublicKey) []byte {
	out := make([]byte, 0, len(senderSignPub)+len(recipientSignPub))
	out = append(out, senderSignPub...)
	out = append(out, recipientSignPub...)
	return out
}
