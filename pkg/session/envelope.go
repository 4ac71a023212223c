package session

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"wasp/pkg/ratchet"
	"wasp/pkg/wasperr"
)

// MessageType hints at an envelope's content without revealing it.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageMedia  MessageType = "media"
	MessageSystem MessageType = "system"
)

type envelopeHeaderJSON struct {
	DHRatchetKey string `json:"dh_ratchet_key"`
	PN           uint32 `json:"pn"`
	N            uint32 `json:"n"`
}

// Envelope is the on-wire message form exchanged through the relay
// (spec.md §6.3).
type Envelope struct {
	IsPreKeyMessage bool
	Header          ratchet.Header
	Ciphertext      []byte
	MessageType     MessageType
	RegistrationID  uint32

	SenderIdentityDHKey   [32]byte
	SenderEphemeralKey    [32]byte
	SenderIdentitySignKey []byte
	UsedOneTimePreKeyID   *uint32
}

type envelopeJSON struct {
	IsPreKeyMessage       bool                `json:"is_pre_key_message"`
	Header                envelopeHeaderJSON  `json:"header"`
	Ciphertext            string              `json:"ciphertext"`
	MessageType           MessageType         `json:"message_type"`
	RegistrationID        uint32              `json:"registration_id"`
	SenderIdentityDHKey   *string             `json:"sender_identity_dh_key,omitempty"`
	SenderEphemeralKey    *string             `json:"sender_ephemeral_key,omitempty"`
	SenderIdentitySignKey *string             `json:"sender_identity_sign_key,omitempty"`
	UsedOneTimePreKeyID   *uint32             `json:"used_one_time_prekey_id,omitempty"`
}

// MarshalJSON renders e per spec.md §6.3: hex32 ratchet fields, base64
// ciphertext, pre-key fields present only when IsPreKeyMessage is set.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := envelopeJSON{
		IsPreKeyMessage: e.IsPreKeyMessage,
		Header: envelopeHeaderJSON{
			DHRatchetKey: hex.EncodeToString(e.Header.DHPub[:]),
			PN:           e.Header.PN,
			N:            e.Header.N,
		},
		Ciphertext:     base64.StdEncoding.EncodeToString(e.Ciphertext),
		MessageType:    e.MessageType,
		RegistrationID: e.RegistrationID,
	}
	if e.IsPreKeyMessage {
		dh := hex.EncodeToString(e.SenderIdentityDHKey[:])
		eph := hex.EncodeToString(e.SenderEphemeralKey[:])
		sign := hex.EncodeToString(e.SenderIdentitySignKey)
		out.SenderIdentityDHKey = &dh
		out.SenderEphemeralKey = &eph
		out.SenderIdentitySignKey = &sign
		out.UsedOneTimePreKeyID = e.UsedOneTimePreKeyID
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses an envelope per spec.md §6.3, rejecting malformed
// hex/base64 fields with a wasperr.ParseError.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var in envelopeJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return wasperr.NewParseError("envelope", err)
	}

	dhBytes, err := hex.DecodeString(in.Header.DHRatchetKey)
	if err != nil || len(dhBytes) != 32 {
		return wasperr.NewParseError("header.dh_ratchet_key", err)
	}
	ct, err := base64.StdEncoding.DecodeString(in.Ciphertext)
	if err != nil {
		return wasperr.NewParseError("ciphertext", err)
	}

	e.IsPreKeyMessage = in.IsPreKeyMessage
	copy(e.Header.DHPub[:], dhBytes)
	e.Header.PN = in.Header.PN
	e.Header.N = in.Header.N
	e.Ciphertext = ct
	e.MessageType = in.MessageType
	e.RegistrationID = in.RegistrationID

	if in.IsPreKeyMessage {
		if in.SenderIdentityDHKey == nil || in.SenderEphemeralKey == nil || in.SenderIdentitySignKey == nil {
			return wasperr.NewParseError("envelope", fmt.Errorf("pre-key message missing required sender fields"))
		}
		idDH, err := hex.DecodeString(*in.SenderIdentityDHKey)
		if err != nil || len(idDH) != 32 {
			return wasperr.NewParseError("sender_identity_dh_key", err)
		}
		eph, err := hex.DecodeString(*in.SenderEphemeralKey)
		if err != nil || len(eph) != 32 {
			return wasperr.NewParseError("sender_ephemeral_key", err)
		}
		signKey, err := hex.DecodeString(*in.SenderIdentitySignKey)
		if err != nil {
			return wasperr.NewParseError("sender_identity_sign_key", err)
		}
		copy(e.SenderIdentityDHKey[:], idDH)
		copy(e.SenderEphemeralKey[:], eph)
		e.SenderIdentitySignKey = signKey
		e.UsedOneTimePreKeyID = in.UsedOneTimePreKeyID
	}
	return nil
}
