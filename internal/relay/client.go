// Package relay implements an HTTP client for the dumb-forwarder relay
// contract assumed by the session manager (spec.md §6.4): the core
// depends on nothing beyond "bytes in, bytes out, eventually delivered".
package relay

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"wasp/pkg/prekey"
	"wasp/pkg/session"
	"wasp/pkg/wasperr"
	"wasp/pkg/x3dh"
)

// Client is an HTTP relay client.
type Client struct {
	Base       string
	httpClient *http.Client
}

// New constructs a Client. If httpClient is nil, http.DefaultClient is
// used.
func New(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{Base: base, httpClient: httpClient}
}

// Bundle is the wire shape of a published pre-key bundle, as served by
// GET /prekey/{user}. The relay hands out at most one one-time pre-key
// per fetch, consistent with spec.md §3's "delete on consumption".
type Bundle struct {
	UserID          string  `json:"user_id"`
	RegistrationID  uint16  `json:"registration_id"`
	IdentityDHPub   string  `json:"identity_dh_pub"`
	IdentitySignPub string  `json:"identity_sign_pub"`
	SignedPreKeyID  uint32  `json:"signed_prekey_id"`
	SignedPreKeyPub string  `json:"signed_prekey_pub"`
	Signature       string  `json:"signature"`
	Canary          string  `json:"canary"`
	OneTimeKeyID    *uint32 `json:"one_time_prekey_id,omitempty"`
	OneTimeKeyPub   *string `json:"one_time_prekey_pub,omitempty"`
}

type bundleOTK struct {
	ID  uint32 `json:"id"`
	Pub string `json:"pub"`
}

// RegisterBundle publishes a user's identity, signed pre-key, available
// one-time pre-keys, and registration canary to the relay. The canary
// lets a later FetchCanary call detect a relay that has substituted a
// different bundle under the same user id.
func (c *Client) RegisterBundle(ctx context.Context, userID, canary string, regID uint16, idDHPub [32]byte, idSignPub ed25519.PublicKey, spk prekey.SignedPreKey, otks []prekey.OneTimePreKey) error {
	type registerPayload struct {
		UserID          string      `json:"user_id"`
		RegistrationID  uint16      `json:"registration_id"`
		IdentityDHPub   string      `json:"identity_dh_pub"`
		IdentitySignPub string      `json:"identity_sign_pub"`
		SignedPreKeyID  uint32      `json:"signed_prekey_id"`
		SignedPreKeyPub string      `json:"signed_prekey_pub"`
		Signature       string      `json:"signature"`
		Canary          string      `json:"canary"`
		OneTimeKeys     []bundleOTK `json:"one_time_prekeys"`
	}
	payload := registerPayload{
		UserID:          userID,
		RegistrationID:  regID,
		IdentityDHPub:   hex.EncodeToString(idDHPub[:]),
		IdentitySignPub: hex.EncodeToString(idSignPub),
		SignedPreKeyID:  spk.ID,
		SignedPreKeyPub: hex.EncodeToString(spk.Pub[:]),
		Signature:       hex.EncodeToString(spk.Signature),
		Canary:          canary,
	}
	for _, k := range otks {
		payload.OneTimeKeys = append(payload.OneTimeKeys, bundleOTK{
			ID:  k.ID,
			Pub: hex.EncodeToString(k.Pub[:]),
		})
	}
	return c.post(ctx, "/register", payload, nil)
}

// FetchCanary retrieves the canary the relay currently has on file for
// userID.
func (c *Client) FetchCanary(ctx context.Context, userID string) (string, error) {
	var out struct {
		Canary string `json:"canary"`
	}
	if err := c.getJSON(ctx, "/account/"+url.PathEscape(userID)+"/canary", &out); err != nil {
		return "", err
	}
	return out.Canary, nil
}

// FetchBundle retrieves userID's published bundle.
func (c *Client) FetchBundle(ctx context.Context, userID string) (Bundle, error) {
	var out Bundle
	err := c.getJSON(ctx, "/prekey/"+url.PathEscape(userID), &out)
	return out, err
}

// ToPeerBundle decodes the hex-encoded wire fields into the
// x3dh.PeerBundle shape SenderAgree expects.
func (b Bundle) ToPeerBundle() (x3dh.PeerBundle, error) {
	idDHPub, err := decodeHex32(b.IdentityDHPub)
	if err != nil {
		return x3dh.PeerBundle{}, fmt.Errorf("relay: decode identity_dh_pub: %w", err)
	}
	signPub, err := hex.DecodeString(b.IdentitySignPub)
	if err != nil {
		return x3dh.PeerBundle{}, fmt.Errorf("relay: decode identity_sign_pub: %w", err)
	}
	spkPub, err := decodeHex32(b.SignedPreKeyPub)
	if err != nil {
		return x3dh.PeerBundle{}, fmt.Errorf("relay: decode signed_prekey_pub: %w", err)
	}
	sig, err := hex.DecodeString(b.Signature)
	if err != nil {
		return x3dh.PeerBundle{}, fmt.Errorf("relay: decode signature: %w", err)
	}

	pb := x3dh.PeerBundle{
		RegistrationID:  b.RegistrationID,
		IdentityDHPub:   idDHPub,
		IdentitySignPub: ed25519.PublicKey(signPub),
		SignedPreKeyPub: spkPub,
		Signature:       sig,
	}
	if b.OneTimeKeyID != nil && b.OneTimeKeyPub != nil {
		otkPub, err := decodeHex32(*b.OneTimeKeyPub)
		if err != nil {
			return x3dh.PeerBundle{}, fmt.Errorf("relay: decode one_time_prekey_pub: %w", err)
		}
		pb.OneTimeKeyID = b.OneTimeKeyID
		pb.OneTimeKeyPub = &otkPub
	}
	return pb, nil
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

// Message is the transport envelope posted to and read from a queue: it
// adds routing metadata around the protocol-level session.Envelope,
// which stays exactly the wire form spec.md §6.3 describes.
type Message struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Timestamp int64           `json:"timestamp"`
	Envelope  session.Envelope `json:"envelope"`
}

// SendEnvelope posts env to recipient's queue, tagged with the sender's
// user id so the recipient can look up (or bootstrap) the right session
// on receipt.
func (c *Client) SendEnvelope(ctx context.Context, from, to string, env session.Envelope, timestamp int64) error {
	msg := Message{From: from, To: to, Timestamp: timestamp, Envelope: env}
	return c.post(ctx, "/msg/"+url.PathEscape(to), msg, nil)
}

// FetchEnvelopes retrieves up to limit queued messages for userID.
func (c *Client) FetchEnvelopes(ctx context.Context, userID string, limit int) ([]Message, error) {
	path := "/msg/" + url.PathEscape(userID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var msgs []Message
	err := c.getJSON(ctx, path, &msgs)
	return msgs, err
}

// AckEnvelopes acknowledges the first count messages fetched for
// userID, letting the relay drop them from the queue.
func (c *Client) AckEnvelopes(ctx context.Context, userID string, count int) error {
	payload := struct {
		Count int `json:"count"`
	}{Count: count}
	return c.post(ctx, "/msg/"+url.PathEscape(userID)+"/ack", payload, nil)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return fmt.Errorf("relay: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay: post %s: %s", path, resp.Status)
	}
	if out != nil {
		dec := json.NewDecoder(resp.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(out); err != nil {
			return wasperr.NewParseError("relay response", err)
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay: get %s: %s", path, resp.Status)
	}
	dec := json.NewDecoder(resp.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return wasperr.NewParseError("relay response", err)
	}
	return nil
}
