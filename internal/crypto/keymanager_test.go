package crypto

import "testing"

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair(KeyTypeEd25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	payload := []byte(`{"hello":"world"}`)
	sig, err := kp.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	pub, err := kp.PublicPEM()
	if err != nil {
		t.Fatalf("PublicPEM: %v", err)
	}

	if err := VerifySignature(MethodEd25519, pub, payload, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}

	if err := VerifySignature(MethodEd25519, pub, []byte("tampered"), sig); err == nil {
		t.Fatal("expected verification failure for tampered payload")
	}
}

func TestRSASignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair(KeyTypeRSA2048)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	payload := []byte("firmware metadata")
	sig, err := kp.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	pub, err := kp.PublicPEM()
	if err != nil {
		t.Fatalf("PublicPEM: %v", err)
	}

	if err := VerifySignature(MethodRSASSAPSSSHA256, pub, payload, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestKeyIDStableAcrossCalls(t *testing.T) {
	kp, err := GenerateKeyPair(KeyTypeEd25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if kp.KeyID() == "" {
		t.Fatal("expected non-empty key id")
	}

	der, err := kp.MarshalPrivatePEM()
	if err != nil {
		t.Fatalf("MarshalPrivatePEM: %v", err)
	}
	reloaded, err := LoadKeyPairFromPEM(der)
	if err != nil {
		t.Fatalf("LoadKeyPairFromPEM: %v", err)
	}
	if reloaded.KeyID() != kp.KeyID() {
		t.Fatalf("key id changed across reload: %s != %s", reloaded.KeyID(), kp.KeyID())
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	type doc struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	out, err := CanonicalJSON(doc{B: 2, A: 1})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	want := `{"a":1,"b":2}`
	if string(out) != want {
		t.Fatalf("got %s, want %s", out, want)
	}
}

func TestDigestAndVerify(t *testing.T) {
	data := []byte("image bytes")
	digest, err := Digest(SHA256, data)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	ok, err := VerifyDigest(SHA256, data, digest)
	if err != nil {
		t.Fatalf("VerifyDigest: %v", err)
	}
	if !ok {
		t.Fatal("expected digest to verify")
	}
	ok, err = VerifyDigest(SHA256, []byte("other bytes"), digest)
	if err != nil {
		t.Fatalf("VerifyDigest: %v", err)
	}
	if ok {
		t.Fatal("expected digest mismatch to fail verification")
	}
}
