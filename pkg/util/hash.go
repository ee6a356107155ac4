package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256 computes a single SHA-256 digest, used throughout for block and
// transaction hashing.
func Sha256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// ReverseBytes returns a new slice with bytes reversed.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// HexToBytes decodes a hex string to bytes, returning an error if invalid.
func HexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes to a hex string.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// LeadingZeroHexChars returns the number of leading '0' hex characters in a
// hex-encoded hash string.
func LeadingZeroHexChars(hexHash string) int {
	n := 0
	for n < len(hexHash) && hexHash[n] == '0' {
		n++
	}
	return n
}

// MeetsExactDifficulty reports whether hexHash has exactly `difficulty`
// leading zero hex characters — neither fewer nor more. I2 requires exact
// gating, not a minimum: a hash with more leading zeros than required is
// rejected just like one with fewer.
func MeetsExactDifficulty(hexHash string, difficulty int) bool {
	if difficulty < 0 || difficulty > len(hexHash) {
		return false
	}
	return LeadingZeroHexChars(hexHash) == difficulty
}
