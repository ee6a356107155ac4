// Package crypto implements the spec's C1 primitives: canonical hashing,
// base58 address coding with a checksum digit, Ed25519 signing, and a
// sibling-ordered Merkle tree. Grounded on the teacher's pkg/util hash
// helpers and internal/sharechain's hashing idioms, generalized from
// Bitcoin's double-SHA256/compact-target scheme to this spec's single
// SHA-256 canonical-JSON scheme with leading-zero-hex-char difficulty.
package crypto

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/meridianchain/ledgerd/pkg/util"
	"github.com/mr-tron/base58"
)

// HashRaw returns the 32-byte SHA-256 digest of a value's canonical JSON
// encoding. Canonical form: map keys sorted lexicographically, no
// insignificant whitespace — so the same logical value always hashes
// identically regardless of which node produced it (spec.md §9).
func HashRaw(v interface{}) ([32]byte, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return [32]byte{}, err
	}
	return util.Sha256(data), nil
}

// Hash returns base58(HashRaw(v)) — the 43-44 character transaction hash
// form used throughout the ledger (block hashes are hex; see
// blockstore.Block.CalcHash).
func Hash(v interface{}) (string, error) {
	digest, err := HashRaw(v)
	if err != nil {
		return "", err
	}
	return base58.Encode(digest[:]), nil
}

// HashJoin concatenates two base58-encoded hashes in deterministic
// (lower-byte-string-first) order before hashing, so a Merkle internal node
// is insensitive to left/right ordering at the sibling level.
func HashJoin(a, b string) (string, error) {
	da, err := base58.Decode(a)
	if err != nil {
		return "", err
	}
	db, err := base58.Decode(b)
	if err != nil {
		return "", err
	}
	var joined []byte
	if bytes.Compare(da, db) <= 0 {
		joined = append(append([]byte{}, da...), db...)
	} else {
		joined = append(append([]byte{}, db...), da...)
	}
	digest := util.Sha256(joined)
	return base58.Encode(digest[:]), nil
}

// CanonicalJSON serializes v with sorted object keys and no extraneous
// whitespace. It round-trips through json.Marshal/Unmarshal into a
// generic value tree so struct field order never leaks into the byte form —
// only the JSON tag names (and their sort order) matter.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
