package crypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("transfer 100 from A to B")
	sig := kp.Sign(msg)

	var addr [AddressSize]byte
	copy(addr[:], kp.PublicKey)

	if !Verify(addr, msg, sig) {
		t.Fatal("expected signature to verify")
	}

	sig[0] ^= 0xff
	if Verify(addr, msg, sig) {
		t.Fatal("expected tampered signature to fail verification")
	}
}

func TestKeyPairFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	kp1, err := KeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("KeyPairFromSeed: %v", err)
	}
	kp2, err := KeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("KeyPairFromSeed: %v", err)
	}
	if string(kp1.PublicKey) != string(kp2.PublicKey) {
		t.Fatal("expected deterministic public key from identical seed")
	}
}

func TestSum256Deterministic(t *testing.T) {
	a := Sum256([]byte("hello"))
	b := Sum256([]byte("hello"))
	if a != b {
		t.Fatal("expected identical hashes for identical input")
	}
	c := Sum256([]byte("hello!"))
	if a == c {
		t.Fatal("expected different hashes for different input")
	}
}

func TestHashWriterMatchesSum256(t *testing.T) {
	w := NewHashWriter()
	_, _ = w.Write([]byte("foo"))
	_, _ = w.Write([]byte("bar"))
	got := w.Finalize()
	want := Sum256([]byte("foobar"))
	if got != want {
		t.Fatalf("HashWriter result %x != Sum256 result %x", got, want)
	}
}
