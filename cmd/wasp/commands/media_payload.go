package commands

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"wasp/pkg/media"
	"wasp/pkg/wasperr"
)

// mediaPayload is the plaintext carried inside a MessageMedia envelope:
// the media key and blob travel together inside the ratcheted channel so
// a media message needs no separate upload/download side-channel for
// this CLI.
type mediaPayload struct {
	Filename string `json:"filename"`
	MediaKey string `json:"media_key"`
	Digest   string `json:"digest"`
	Blob     string `json:"blob"`
}

func encodeMediaPayload(filename string, plaintext []byte) ([]byte, error) {
	key, err := media.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating media key: %w", err)
	}
	blob, err := media.Encrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypting media: %w", err)
	}
	payload := mediaPayload{
		Filename: filename,
		MediaKey: hex.EncodeToString(key),
		Digest:   hex.EncodeToString(blob.Digest[:]),
		Blob:     base64.StdEncoding.EncodeToString(blob.Bytes),
	}
	return json.Marshal(payload)
}

func decodeMediaPayload(plaintext []byte) (filename string, data []byte, err error) {
	var payload mediaPayload
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return "", nil, wasperr.NewParseError("media payload", err)
	}
	key, err := hex.DecodeString(payload.MediaKey)
	if err != nil {
		return "", nil, fmt.Errorf("decoding media key: %w", err)
	}
	digestBytes, err := hex.DecodeString(payload.Digest)
	if err != nil {
		return "", nil, fmt.Errorf("decoding media digest: %w", err)
	}
	if len(digestBytes) != 32 {
		return "", nil, fmt.Errorf("decoding media digest: expected 32 bytes, got %d", len(digestBytes))
	}
	var digest [32]byte
	copy(digest[:], digestBytes)
	blobBytes, err := base64.StdEncoding.DecodeString(payload.Blob)
	if err != nil {
		return "", nil, fmt.Errorf("decoding media blob: %w", err)
	}

	pt, err := media.Decrypt(key, blobBytes, digest)
	if err != nil {
		return "", nil, err
	}
	return payload.Filename, pt, nil
}
