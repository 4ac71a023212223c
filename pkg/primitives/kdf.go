package primitives

import "fmt"

// Fixed HKDF info labels. These are wire-visible and must be preserved
// bit-for-bit for cross-implementation interoperability (spec.md §9).
const (
	labelRootKey     = "WASP_ROOT_KEY"
	labelMessageKey  = "WASP_MESSAGE_KEY"
	labelX3DHMaster  = "WASP_X3DH_MASTER_SECRET_v1"
	labelMediaKey    = "WASP_MEDIA_KEY_v1"
	x3dhPrefixLength = 32
)

// x3dhPrefix is prepended to the concatenated DH outputs before KDF_X3DH,
// per spec.md §4.1 ("ikm = 0xFF×32 ‖ DH1 ‖ DH2 ‖ DH3 [‖ DH4]").
var x3dhPrefix = func() [x3dhPrefixLength]byte {
	var p [x3dhPrefixLength]byte
	for i := range p {
		p[i] = 0xFF
	}
	return p
}()

// KDFRootKey implements KDF_RK: derives a new 32-byte root key and a
// 32-byte chain key from the current root key and a DH output.
func KDFRootKey(rk [32]byte, dhOut [32]byte) (newRK, chainKey [32]byte, err error) {
	out, err := HKDF(dhOut[:], rk[:], []byte(labelRootKey), 64)
	if err != nil {
		return newRK, chainKey, fmt.Errorf("primitives: KDF_RK: %w", err)
	}
	copy(newRK[:], out[0:32])
	copy(chainKey[:], out[32:64])
	return newRK, chainKey, nil
}

// KDFChainKey implements KDF_CK: HMAC(CK, 0x01) is the message key,
// HMAC(CK, 0x02) is the next chain key.
func KDFChainKey(ck [32]byte) (messageKey, nextCK [32]byte) {
	copy(messageKey[:], HMAC(ck[:], []byte{0x01}))
	copy(nextCK[:], HMAC(ck[:], []byte{0x02}))
	return messageKey, nextCK
}

// KDFMessageKey implements KDF_MK: expands a 32-byte message key into an
// 80-byte block, keeping the first 32 bytes as the AEAD cipher key, the
// next 32 as an (unused by GCM) MAC key, and the next 12 as the AEAD
// nonce. The trailing 4 bytes of the 80-byte expansion are discarded.
func KDFMessageKey(mk [32]byte) (cipherKey, macKey [32]byte, iv [12]byte, err error) {
	out, err := HKDF(mk[:], nil, []byte(labelMessageKey), 80)
	if err != nil {
		return cipherKey, macKey, iv, fmt.Errorf("primitives: KDF_MK: %w", err)
	}
	copy(cipherKey[:], out[0:32])
	copy(macKey[:], out[32:64])
	copy(iv[:], out[64:76])
	return cipherKey, macKey, iv, nil
}

// KDFX3DH implements KDF_X3DH: the fixed 0xFF×32 prefix, the DH outputs in
// call order, a 32 zero-byte salt, and the WASP_X3DH_MASTER_SECRET_v1
// label, producing a 32-byte master secret.
func KDFX3DH(dhOutputs ...[32]byte) ([32]byte, error) {
	var sk [32]byte
	ikm := make([]byte, 0, x3dhPrefixLength+len(dhOutputs)*32)
	ikm = append(ikm, x3dhPrefix[:]...)
	for _, dh := range dhOutputs {
		ikm = append(ikm, dh[:]...)
	}
	var salt [32]byte // all-zero
	out, err := HKDF(ikm, salt[:], []byte(labelX3DHMaster), 32)
	if err != nil {
		return sk, fmt.Errorf("primitives: KDF_X3DH: %w", err)
	}
	copy(sk[:], out)
	return sk, nil
}

// KDFMedia implements KDF_Media: expands a 64-byte media key into a
// 16-byte IV, a 32-byte cipher key, and a 32-byte MAC key.
func KDFMedia(mediaKey []byte) (iv [16]byte, cipherKey, macKey [32]byte, err error) {
	if len(mediaKey) != 64 {
		return iv, cipherKey, macKey, fmt.Errorf("primitives: KDF_Media: media key must be 64 bytes, got %d", len(mediaKey))
	}
	out, err := HKDF(mediaKey, nil, []byte(labelMediaKey), 80)
	if err != nil {
		return iv, cipherKey, macKey, fmt.Errorf("primitives: KDF_Media: %w", err)
	}
	copy(iv[:], out[0:16])
	copy(cipherKey[:], out[16:48])
	copy(macKey[:], out[48:80])
	return iv, cipherKey, macKey, nil
}
