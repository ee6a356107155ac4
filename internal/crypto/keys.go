package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// PublicKeyLen is the length, in base58 characters, of a public key before
// its checksum digit is appended.
const PublicKeyLen = 44

// AddressLen is PublicKeyLen plus the one checksum character.
const AddressLen = PublicKeyLen + 1

var (
	ErrBadChecksum    = errors.New("public key checksum mismatch")
	ErrBadKeyLength   = errors.New("public key has the wrong base58 length")
	ErrBadAddressForm = errors.New("address is not of the form name:publicKey or a bare public key")
)

// KeyPair holds a generated Ed25519 identity, with PublicKey already carrying
// its trailing checksum digit (45 characters).
type KeyPair struct {
	PublicKey  string
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair regenerates keys until the raw base58 public key is
// exactly PublicKeyLen characters, then appends the checksum digit.
func GenerateKeyPair() (*KeyPair, error) {
	for {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		encoded := base58.Encode(pub)
		if len(encoded) != PublicKeyLen {
			continue
		}
		return &KeyPair{
			PublicKey:  encoded + string(checksumDigit(encoded)),
			PrivateKey: priv,
		}, nil
	}
}

// checksumDigit returns the base58 digit for (sum of decoded bytes mod 58).
func checksumDigit(base58Key string) byte {
	decoded, err := base58.Decode(base58Key)
	if err != nil {
		return base58Alphabet[0]
	}
	var sum int
	for _, b := range decoded {
		sum += int(b)
	}
	return base58Alphabet[sum%58]
}

// base58Alphabet mirrors the Bitcoin/IPFS base58 alphabet used by
// github.com/mr-tron/base58, needed locally to compute a single checksum
// character without decoding/re-encoding a throwaway byte.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// VerifyChecksum reports whether a 45-character address's trailing digit
// matches checksumDigit of its first 44 characters (P6).
func VerifyChecksum(address45 string) bool {
	if len(address45) != AddressLen {
		return false
	}
	base := address45[:PublicKeyLen]
	want := checksumDigit(base)
	return address45[PublicKeyLen] == want
}

// ParseAddress splits a canonical "name:publicKeyWithChecksum" address into
// its name and public key parts. A bare 45-char public key (no name) is
// also accepted, with an empty name. Names ending in '$' denote system
// accounts (signing-exempt, no sequence tracking).
func ParseAddress(address string) (name string, publicKey string, err error) {
	if idx := strings.LastIndex(address, ":"); idx >= 0 {
		name = address[:idx]
		publicKey = address[idx+1:]
	} else {
		publicKey = address
	}
	if len(publicKey) != AddressLen {
		return "", "", fmt.Errorf("%w: got %d chars", ErrBadKeyLength, len(publicKey))
	}
	if !VerifyChecksum(publicKey) {
		return "", "", ErrBadChecksum
	}
	return name, publicKey, nil
}

// IsSystemAccount reports whether a name denotes a signing-exempt,
// sequence-free system account (spec.md §3: names ending in '$', e.g.
// "COIN$", and the underscore-prefixed mint pool "_mint").
func IsSystemAccount(name string) bool {
	return strings.HasSuffix(name, "$") || strings.HasPrefix(name, "_")
}

// Sign signs msg (already a hash) with priv, returning a base58 signature.
func Sign(priv ed25519.PrivateKey, msg []byte) string {
	sig := ed25519.Sign(priv, msg)
	return base58.Encode(sig)
}

// Verify checks a base58 signature against a 45-char public key address and
// the signed message.
func Verify(publicKey45 string, sigBase58 string, msg []byte) (bool, error) {
	_, pk, err := ParseAddress(publicKey45)
	if err != nil {
		return false, err
	}
	rawPub, err := base58.Decode(pk[:PublicKeyLen])
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	sig, err := base58.Decode(sigBase58)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(rawPub), msg, sig), nil
}
