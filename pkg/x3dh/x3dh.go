// Package x3dh implements the Extended Triple Diffie-Hellman key
// agreement the session manager runs once, asynchronously, to bootstrap a
// ratchet session between two identities that may never have been online
// at the same time.
package x3dh

import (
	"crypto/ed25519"
	"fmt"

	"wasp/pkg/identity"
	"wasp/pkg/prekey"
	"wasp/pkg/primitives"
	"wasp/pkg/wasperr"
)

// PeerBundle is the subset of a published prekey.Bundle the sender needs
// to run SenderAgree.
type PeerBundle struct {
	RegistrationID  uint16
	IdentityDHPub   [32]byte
	IdentitySignPub ed25519.PublicKey
	SignedPreKeyPub [32]byte
	Signature       []byte
	OneTimeKeyID    *uint32
	OneTimeKeyPub   *[32]byte
}

// SenderResult is what the initiating side carries forward into ratchet
// initialization.
type SenderResult struct {
	SK        [32]byte
	EphPub    [32]byte
	UsedOPKID *uint32
}

// SenderAgree runs the initiator side of X3DH (spec.md §4.3, "Sender").
// It verifies the peer's signed pre-key before using it, then computes
// DH1..DH4 in the exact order the receiver must reproduce.
func SenderAgree(sender *identity.Identity, bundle PeerBundle) (SenderResult, error) {
	if !primitives.Verify(bundle.IdentitySignPub, bundle.SignedPreKeyPub[:], bundle.Signature) {
		return SenderResult{}, wasperr.ErrInvalidSignature
	}

	ephPriv, ephPub, err := primitives.GenerateX25519()
	if err != nil {
		return SenderResult{}, fmt.Errorf("x3dh: generate ephemeral key: %w", err)
	}

	dh1, err := primitives.DH(sender.XPriv, bundle.SignedPreKeyPub)
	if err != nil {
		return SenderResult{}, fmt.Errorf("x3dh: DH1: %w", err)
	}
	dh2, err := primitives.DH(ephPriv, bundle.IdentityDHPub)
	if err != nil {
		return SenderResult{}, fmt.Errorf("x3dh: DH2: %w", err)
	}
	dh3, err := primitives.DH(ephPriv, bundle.SignedPreKeyPub)
	if err != nil {
		return SenderResult{}, fmt.Errorf("x3dh: DH3: %w", err)
	}

	dhOutputs := [][32]byte{dh1, dh2, dh3}
	var usedOPK *uint32
	if bundle.OneTimeKeyPub != nil {
		dh4, err := primitives.DH(ephPriv, *bundle.OneTimeKeyPub)
		if err != nil {
			return SenderResult{}, fmt.Errorf("x3dh: DH4: %w", err)
		}
		dhOutputs = append(dhOutputs, dh4)
		usedOPK = bundle.OneTimeKeyID
	}

	sk, err := primitives.KDFX3DH(dhOutputs...)
	if err != nil {
		return SenderResult{}, fmt.Errorf("x3dh: KDF_X3DH: %w", err)
	}

	return SenderResult{SK: sk, EphPub: ephPub, UsedOPKID: usedOPK}, nil
}

// ReceiverInput is what the receiving side needs, gathered from its own
// stored key material plus the fields carried on the incoming pre-key
// message.
type ReceiverInput struct {
	SignedPreKey        prekey.SignedPreKey
	OneTimePreKey       *prekey.OneTimePreKey
	SenderIdentityDHPub [32]byte
	SenderEphemeralPub  [32]byte
}

// ReceiverAgree runs the responder side of X3DH (spec.md §4.3, "Receiver"),
// given the receiver's own long-term identity (which supplies DH2's
// private operand). Terms are placed in the same KDF input positions the
// sender used, even though each side computes them from its own half of
// the key pair, so the resulting SK matches bit-for-bit. The caller must
// wipe in.OneTimePreKey immediately after this call returns, consuming it
// exactly once.
func ReceiverAgree(receiver *identity.Identity, in ReceiverInput) ([32]byte, error) {
	var sk [32]byte

	dh1, err := primitives.DH(in.SignedPreKey.Priv, in.SenderIdentityDHPub)
	if err != nil {
		return sk, fmt.Errorf("x3dh: DH1: %w", err)
	}
	dh2, err := primitives.DH(receiver.XPriv, in.SenderEphemeralPub)
	if err != nil {
		return sk, fmt.Errorf("x3dh: DH2: %w", err)
	}
	dh3, err := primitives.DH(in.SignedPreKey.Priv, in.SenderEphemeralPub)
	if err != nil {
		return sk, fmt.Errorf("x3dh: DH3: %w", err)
	}

	dhOutputs := [][32]byte{dh1, dh2, dh3}
	if in.OneTimePreKey != nil {
		dh4, err := primitives.DH(in.OneTimePreKey.Priv, in.SenderEphemeralPub)
		if err != nil {
			return sk, fmt.Errorf("x3dh: DH4: %w", err)
		}
		dhOutputs = append(dhOutputs, dh4)
	}

	return primitives.KDFX3DH(dhOutputs...)
}
