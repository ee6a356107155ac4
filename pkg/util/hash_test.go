package util

import "testing"

func TestSha256(t *testing.T) {
	data := []byte("hello")
	hash := Sha256(data)
	hex := BytesToHex(hash[:])
	expected := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if hex != expected {
		t.Errorf("Sha256(\"hello\") = %s, want %s", hex, expected)
	}
}

func TestReverseBytes(t *testing.T) {
	input := []byte{0x01, 0x02, 0x03, 0x04}
	result := ReverseBytes(input)
	expected := []byte{0x04, 0x03, 0x02, 0x01}
	for i := range result {
		if result[i] != expected[i] {
			t.Errorf("ReverseBytes byte %d = %x, want %x", i, result[i], expected[i])
		}
	}
	if input[0] != 0x01 {
		t.Error("ReverseBytes modified original slice")
	}
}

func TestLeadingZeroHexChars(t *testing.T) {
	tests := []struct {
		hash string
		want int
	}{
		{"00001abc", 4},
		{"1abc0000", 0},
		{"00000000", 8},
		{"", 0},
	}
	for _, tt := range tests {
		if got := LeadingZeroHexChars(tt.hash); got != tt.want {
			t.Errorf("LeadingZeroHexChars(%q) = %d, want %d", tt.hash, got, tt.want)
		}
	}
}

func TestMeetsExactDifficulty(t *testing.T) {
	if !MeetsExactDifficulty("000abc", 3) {
		t.Error("expected exact match at difficulty 3")
	}
	if MeetsExactDifficulty("000abc", 2) {
		t.Error("difficulty 2 should reject a hash with 3 leading zeros")
	}
	if MeetsExactDifficulty("000abc", 4) {
		t.Error("difficulty 4 should reject a hash with only 3 leading zeros")
	}
	if MeetsExactDifficulty("0000", 5) {
		t.Error("difficulty greater than hash length must be rejected")
	}
}
