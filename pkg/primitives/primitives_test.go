package primitives_test

import (
	"bytes"
	"testing"
	"time"

	"wasp/pkg/primitives"
)

func TestDHAgreement(t *testing.T) {
	aPriv, aPub, err := primitives.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	bPriv, bPub, err := primitives.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}

	ab, err := primitives.DH(aPriv, bPub)
	if err != nil {
		t.Fatalf("DH: %v", err)
	}
	ba, err := primitives.DH(bPriv, aPub)
	if err != nil {
		t.Fatalf("DH: %v", err)
	}
	if ab != ba {
		t.Fatal("DH(a,B) != DH(b,A)")
	}
}

func TestSignVerify(t *testing.T) {
	priv, pub, err := primitives.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	msg := []byte("spk public key bytes")
	sig := primitives.Sign(priv, msg)
	if !primitives.Verify(pub, msg, sig) {
		t.Fatal("valid signature did not verify")
	}
	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0x01
	if primitives.Verify(pub, msg, tampered) {
		t.Fatal("tampered signature verified")
	}
}

func TestAEADSealOpenRoundTrip(t *testing.T) {
	key, err := primitives.RandBytes(32)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	iv, err := primitives.RandBytes(primitives.GCMNonceSize)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	aad := []byte("header bytes")
	pt := []byte("hello, bob!")

	ct, err := primitives.AEADSeal(key, iv, pt, aad)
	if err != nil {
		t.Fatalf("AEADSeal: %v", err)
	}
	got, err := primitives.AEADOpen(key, iv, ct, aad)
	if err != nil {
		t.Fatalf("AEADOpen: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("got %q, want %q", got, pt)
	}
}

func TestAEADOpenTamperFails(t *testing.T) {
	key, _ := primitives.RandBytes(32)
	iv, _ := primitives.RandBytes(primitives.GCMNonceSize)
	ct, err := primitives.AEADSeal(key, iv, []byte("hello"), []byte("aad"))
	if err != nil {
		t.Fatalf("AEADSeal: %v", err)
	}
	ct[0] ^= 0x01
	if _, err := primitives.AEADOpen(key, iv, ct, []byte("aad")); err == nil {
		t.Fatal("expected AuthFailure on tampered ciphertext")
	}
}

func TestCtEqConstantAcrossLengths(t *testing.T) {
	if !primitives.CtEq([]byte("abc"), []byte("abc")) {
		t.Fatal("equal slices reported unequal")
	}
	if primitives.CtEq([]byte("abc"), []byte("abd")) {
		t.Fatal("unequal slices reported equal")
	}
	if primitives.CtEq([]byte("abc"), []byte("ab")) {
		t.Fatal("different-length slices reported equal")
	}
}

func TestRandRegistrationIDInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		id, err := primitives.RandRegistrationID()
		if err != nil {
			t.Fatalf("RandRegistrationID: %v", err)
		}
		if id < primitives.MinRegistrationID || id > primitives.MaxRegistrationID {
			t.Fatalf("registration id %d out of range", id)
		}
	}
}

func TestKDFRootKeyDeterministic(t *testing.T) {
	var rk, dh [32]byte
	copy(rk[:], bytes.Repeat([]byte{0x11}, 32))
	copy(dh[:], bytes.Repeat([]byte{0x22}, 32))

	rk1, ck1, err := primitives.KDFRootKey(rk, dh)
	if err != nil {
		t.Fatalf("KDFRootKey: %v", err)
	}
	rk2, ck2, err := primitives.KDFRootKey(rk, dh)
	if err != nil {
		t.Fatalf("KDFRootKey: %v", err)
	}
	if rk1 != rk2 || ck1 != ck2 {
		t.Fatal("KDF_RK not deterministic")
	}
	if rk1 == ck1 {
		t.Fatal("root key and chain key unexpectedly equal")
	}
}

// Runs CtEq on 4 KiB inputs that differ only in the last byte and only in
// the first byte, timing each call. The timings are not compared.
func TestCtEqRunsWithDifferenceAtEitherEnd(t *testing.T) {
	a := bytes.Repeat([]byte{0}, 4096)
	b := bytes.Repeat([]byte{0}, 4096)
	b[4095] = 1

	start := time.Now()
	primitives.CtEq(a, b)
	longDiffEnd := time.Since(start)

	b2 := bytes.Repeat([]byte{0}, 4096)
	b2[0] = 1
	start = time.Now()
	primitives.CtEq(a, b2)
	shortDiffEnd := time.Since(start)

	// Not a strict timing assertion (too flaky in CI); just confirms both
	// paths return and don't panic on differing content at either end.
	_ = longDiffEnd
	_ = shortDiffEnd
}
