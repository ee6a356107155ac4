package crypto

import "testing"

func TestGenerateKeyPairLengthAndChecksum(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if len(kp.PublicKey) != AddressLen {
		t.Fatalf("public key length = %d, want %d", len(kp.PublicKey), AddressLen)
	}
	if !VerifyChecksum(kp.PublicKey) {
		t.Fatalf("generated public key failed its own checksum: %s", kp.PublicKey)
	}
}

func TestVerifyChecksumRejectsTamperedKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tampered := []byte(kp.PublicKey)
	if tampered[0] == 'A' {
		tampered[0] = 'B'
	} else {
		tampered[0] = 'A'
	}
	if VerifyChecksum(string(tampered)) {
		t.Fatalf("tampered key should not pass checksum verification")
	}
}

func TestParseAddressWithName(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	addr := "alice:" + kp.PublicKey
	name, pk, err := ParseAddress(addr)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if name != "alice" {
		t.Fatalf("name = %q, want alice", name)
	}
	if pk != kp.PublicKey {
		t.Fatalf("public key = %q, want %q", pk, kp.PublicKey)
	}
}

func TestParseAddressBareKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	name, pk, err := ParseAddress(kp.PublicKey)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if name != "" {
		t.Fatalf("bare key should parse with empty name, got %q", name)
	}
	if pk != kp.PublicKey {
		t.Fatalf("public key = %q, want %q", pk, kp.PublicKey)
	}
}

func TestParseAddressRejectsBadChecksum(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	bad := []byte(kp.PublicKey)
	bad[len(bad)-1] = bad[len(bad)-1] + 1
	if _, _, err := ParseAddress(string(bad)); err == nil {
		t.Fatalf("expected checksum error for tampered address")
	}
}

func TestIsSystemAccount(t *testing.T) {
	if !IsSystemAccount("reward$") {
		t.Fatalf("reward$ should be a system account")
	}
	if IsSystemAccount("alice") {
		t.Fatalf("alice should not be a system account")
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("hello ledger")
	sig := Sign(kp.PrivateKey, msg)
	ok, err := Verify(kp.PublicKey, sig, msg)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("signature should verify against its own key pair")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sig := Sign(kp.PrivateKey, []byte("original"))
	ok, err := Verify(kp.PublicKey, sig, []byte("tampered"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("signature should not verify against a different message")
	}
}

func TestVerifyRejectsBadAddress(t *testing.T) {
	_, err := Verify("not-a-valid-address", "whatever", []byte("msg"))
	if err == nil {
		t.Fatalf("expected error for malformed address")
	}
}
