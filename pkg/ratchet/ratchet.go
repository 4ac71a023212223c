// Package ratchet implements the Double Ratchet algorithm: a DH ratchet
// layered over two symmetric KDF chains, giving forward secrecy and
// post-compromise security to a long-lived messaging session.
//
// Every exported function is a pure state transition: it consumes a
// *State and either mutates it in place on success, or leaves it
// completely untouched and returns an error. There is no partial
// mutation on failure, matching spec.md §5's atomicity requirement.
package ratchet

import (
	"encoding/binary"
	"fmt"

	"wasp/pkg/primitives"
	"wasp/pkg/wasperr"
)

// MaxSkip bounds how many message keys a single Decrypt call may skip and
// cache. MaxCache bounds the total number of cached skipped keys a
// session may retain.
const (
	MaxSkip  = 1000
	MaxCache = 2000
)

// Header is the per-message ratchet header, serialized exactly as
// DHPub (32B) ‖ big-endian PN (4B) ‖ big-endian N (4B).
type Header struct {
	DHPub [32]byte
	PN    uint32
	N     uint32
}

// Bytes serializes h per spec.md §4.4's Encrypt section.
func (h Header) Bytes() []byte {
	buf := make([]byte, 40)
	copy(buf[0:32], h.DHPub[:])
	binary.BigEndian.PutUint32(buf[32:36], h.PN)
	binary.BigEndian.PutUint32(buf[36:40], h.N)
	return buf
}

type skippedKey struct {
	dh [32]byte
	n  uint32
}

// skippedCache is an insertion-ordered (dh, n) -> message-key map, evicted
// FIFO once it would exceed MaxCache entries (spec.md §3, §4.4 "Safety
// bounds").
type skippedCache struct {
	order []skippedKey
	vals  map[skippedKey][32]byte
}

func newSkippedCache() *skippedCache {
	return &skippedCache{vals: make(map[skippedKey][32]byte)}
}

func (c *skippedCache) clone() *skippedCache {
	out := &skippedCache{
		order: append([]skippedKey(nil), c.order...),
		vals:  make(map[skippedKey][32]byte, len(c.vals)),
	}
	for k, v := range c.vals {
		out.vals[k] = v
	}
	return out
}

func (c *skippedCache) get(dh [32]byte, n uint32) ([32]byte, bool) {
	mk, ok := c.vals[skippedKey{dh, n}]
	return mk, ok
}

func (c *skippedCache) remove(dh [32]byte, n uint32) {
	key := skippedKey{dh, n}
	delete(c.vals, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *skippedCache) put(dh [32]byte, n uint32, mk [32]byte) {
	key := skippedKey{dh, n}
	if _, exists := c.vals[key]; exists {
		c.vals[key] = mk
		return
	}
	if len(c.order) >= MaxCache {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.vals, oldest)
	}
	c.order = append(c.order, key)
	c.vals[key] = mk
}

func (c *skippedCache) len() int { return len(c.order) }

// State is one session's Double Ratchet state (spec.md §3, "Ratchet
// Session State").
type State struct {
	DHPriv       [32]byte
	DHPub        [32]byte
	PeerDHPub    [32]byte
	HasPeerDHPub bool

	RK [32]byte

	CKs    [32]byte
	HasCKs bool
	CKr    [32]byte
	HasCKr bool

	Ns, Nr, PN uint32

	skipped *skippedCache
}

// clone returns a deep copy of st so a failed Decrypt can operate on a
// scratch copy without ever mutating the caller's state.
func (st *State) clone() *State {
	out := *st
	out.skipped = st.skipped.clone()
	return &out
}

// SkippedCount reports how many message keys are currently cached, for
// callers that want to expose it (e.g. a store size check).
func (st *State) SkippedCount() int {
	if st.skipped == nil {
		return 0
	}
	return st.skipped.len()
}

// SkippedEntry is one cached skipped-message-key, as persisted by
// spec.md §6.2's mk_skipped ordered list.
type SkippedEntry struct {
	DHPub [32]byte
	N     uint32
	MK    [32]byte
}

// ExportSkipped returns every cached skipped key in insertion order, so a
// store can round-trip the FIFO eviction order bit-for-bit.
func (st *State) ExportSkipped() []SkippedEntry {
	out := make([]SkippedEntry, 0, len(st.skipped.order))
	for _, k := range st.skipped.order {
		out = append(out, SkippedEntry{DHPub: k.dh, N: k.n, MK: st.skipped.vals[k]})
	}
	return out
}

// RestoreSkipped replaces st's skipped-key cache with entries, preserving
// their order. It is meant to be called once, immediately after
// constructing a State for deserialization.
func (st *State) RestoreSkipped(entries []SkippedEntry) {
	c := newSkippedCache()
	for _, e := range entries {
		c.put(e.DHPub, e.N, e.MK)
	}
	st.skipped = c
}

// NewState constructs a State directly from persisted field values,
// bypassing X3DH/DH initialization. Used only by session deserialization.
func NewState(dhPriv, dhPub [32]byte, peerDHPub *[32]byte, rk [32]byte, cks, ckr *[32]byte, ns, nr, pn uint32) *State {
	st := &State{
		DHPriv: dhPriv,
		DHPub:  dhPub,
		RK:     rk,
		Ns:     ns,
		Nr:     nr,
		PN:     pn,
	}
	if peerDHPub != nil {
		st.PeerDHPub = *peerDHPub
		st.HasPeerDHPub = true
	}
	if cks != nil {
		st.CKs = *cks
		st.HasCKs = true
	}
	if ckr != nil {
		st.CKr = *ckr
		st.HasCKr = true
	}
	st.skipped = newSkippedCache()
	return st
}

// InitSender initializes the ratchet for the side that ran X3DH as the
// initiator (spec.md §4.4, "Sender init (Alice)"). peerSPKPub is the
// peer's signed pre-key public half, used as the first DH ratchet target.
func InitSender(sk [32]byte, peerSPKPub [32]byte) (*State, error) {
	dhPriv, dhPub, err := primitives.GenerateX25519()
	if err != nil {
		return nil, fmt.Errorf("ratchet: generate sender DH key: %w", err)
	}
	dh, err := primitives.DH(dhPriv, peerSPKPub)
	if err != nil {
		return nil, fmt.Errorf("ratchet: initial DH: %w", err)
	}
	rk, ck, err := primitives.KDFRootKey(sk, dh)
	if err != nil {
		return nil, fmt.Errorf("ratchet: KDF_RK: %w", err)
	}
	return &State{
		DHPriv:       dhPriv,
		DHPub:        dhPub,
		PeerDHPub:    peerSPKPub,
		HasPeerDHPub: true,
		RK:           rk,
		CKs:          ck,
		HasCKs:       true,
		skipped:      newSkippedCache(),
	}, nil
}

// InitReceiver initializes the ratchet for the side that ran X3DH as the
// responder (spec.md §4.4, "Receiver init (Bob)"), reusing the consumed
// signed pre-key pair as the starting DH ratchet key. Neither chain key
// is populated yet; the first incoming message's DH ratchet step
// populates CKr and then CKs, so a reply is possible only after that
// first receive.
func InitReceiver(sk [32]byte, spkPriv, spkPub [32]byte) *State {
	return &State{
		DHPriv:  spkPriv,
		DHPub:   spkPub,
		RK:      sk,
		skipped: newSkippedCache(),
	}
}

// Encrypt advances the sending chain and seals plaintext. It requires a
// sending chain to already exist (ErrNotInitialized otherwise) — unlike
// some ratchet implementations, this one never lazily creates a sending
// chain inside Encrypt; a responder must receive before it can reply.
func Encrypt(st *State, associatedData, plaintext []byte) (Header, []byte, error) {
	if !st.HasCKs {
		return Header{}, nil, wasperr.ErrNotInitialized
	}

	mk, nextCK := primitives.KDFChainKey(st.CKs)
	cipherKey, _, iv, err := primitives.KDFMessageKey(mk)
	if err != nil {
		return Header{}, nil, fmt.Errorf("ratchet: KDF_MK: %w", err)
	}

	header := Header{DHPub: st.DHPub, PN: st.PN, N: st.Ns}
	aad := append(header.Bytes(), associatedData...)
	ct, err := primitives.AEADSeal(cipherKey[:], iv[:], plaintext, aad)
	zero(mk[:])
	zero(cipherKey[:])
	if err != nil {
		return Header{}, nil, fmt.Errorf("ratchet: seal: %w", err)
	}

	st.CKs = nextCK
	st.Ns++
	return header, ct, nil
}

// Decrypt opens ciphertext under header, running a DH ratchet step and/or
// skipping ahead in the receiving chain as needed. On any failure, st is
// left completely unmodified: all work happens on a scratch clone that is
// only committed back to st on success.
func Decrypt(st *State, associatedData []byte, header Header, ciphertext []byte) ([]byte, error) {
	// Skipped-key lookup first: resolves out-of-order messages without
	// touching the live chains at all.
	if mk, ok := st.skipped.get(header.DHPub, header.N); ok {
		pt, err := openWithMessageKey(mk, header, associatedData, ciphertext)
		if err != nil {
			return nil, err
		}
		st.skipped.remove(header.DHPub, header.N)
		return pt, nil
	}

	work := st.clone()

	if !work.HasPeerDHPub || work.PeerDHPub != header.DHPub {
		if err := skipReceivingChain(work, header.PN); err != nil {
			return nil, err
		}

		dh, err := primitives.DH(work.DHPriv, header.DHPub)
		if err != nil {
			return nil, fmt.Errorf("ratchet: ratchet DH: %w", err)
		}
		newRK, ckr, err := primitives.KDFRootKey(work.RK, dh)
		if err != nil {
			return nil, fmt.Errorf("ratchet: KDF_RK (receive side): %w", err)
		}

		work.PeerDHPub = header.DHPub
		work.HasPeerDHPub = true
		work.RK = newRK
		work.CKr = ckr
		work.HasCKr = true
		work.PN = work.Ns
		work.Ns = 0
		work.Nr = 0

		newDHPriv, newDHPub, err := primitives.GenerateX25519()
		if err != nil {
			return nil, fmt.Errorf("ratchet: generate new sending DH key: %w", err)
		}
		dh2, err := primitives.DH(newDHPriv, header.DHPub)
		if err != nil {
			return nil, fmt.Errorf("ratchet: ratchet DH (send side): %w", err)
		}
		newRK2, cks, err := primitives.KDFRootKey(work.RK, dh2)
		if err != nil {
			return nil, fmt.Errorf("ratchet: KDF_RK (send side): %w", err)
		}
		work.RK = newRK2
		work.DHPriv = newDHPriv
		work.DHPub = newDHPub
		work.CKs = cks
		work.HasCKs = true
	}

	if err := skipReceivingChain(work, header.N); err != nil {
		return nil, err
	}

	if !work.HasCKr {
		return nil, wasperr.ErrNotInitialized
	}
	mk, nextCKr := primitives.KDFChainKey(work.CKr)
	pt, err := openWithMessageKey(mk, header, associatedData, ciphertext)
	if err != nil {
		return nil, err
	}
	work.CKr = nextCKr
	work.Nr = header.N + 1

	*st = *work
	return pt, nil
}

// skipReceivingChain advances work's receiving chain from work.Nr up to
// (not including) upTo, caching a message key for every message skipped
// over, keyed by the ratchet key in effect *before* this step (the chain
// being skipped). Fails closed with ErrTooManySkipped without mutating
// work if the span exceeds MaxSkip.
func skipReceivingChain(work *State, upTo uint32) error {
	if upTo <= work.Nr {
		return nil
	}
	if upTo-work.Nr > MaxSkip {
		return wasperr.ErrTooManySkipped
	}
	if !work.HasCKr {
		// No receiving chain has ever existed (first message from a
		// fresh INIT_SENDER/INIT_RECEIVER state): nothing to skip, the
		// DH ratchet step that follows will establish Nr from zero.
		return nil
	}
	for n := work.Nr; n < upTo; n++ {
		mk, nextCK := primitives.KDFChainKey(work.CKr)
		work.skipped.put(work.PeerDHPub, n, mk)
		work.CKr = nextCK
	}
	work.Nr = upTo
	return nil
}

func openWithMessageKey(mk [32]byte, header Header, associatedData, ciphertext []byte) ([]byte, error) {
	cipherKey, _, iv, err := primitives.KDFMessageKey(mk)
	if err != nil {
		return nil, fmt.Errorf("ratchet: KDF_MK: %w", err)
	}
	aad := append(header.Bytes(), associatedData...)
	pt, err := primitives.AEADOpen(cipherKey[:], iv[:], ciphertext, aad)
	zero(cipherKey[:])
	if err != nil {
		return nil, err
	}
	return pt, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
