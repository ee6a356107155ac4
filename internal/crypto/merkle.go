package crypto

import "fmt"

// MerkleBuild builds every layer of the Merkle tree over a list of item
// hashes (base58 strings, generally transaction hashes). layers[0] is the
// leaves, layers[len-1] is the single root. An odd-length layer duplicates
// its last element before pairing, matching spec.md §4.1.
func MerkleBuild(items []string) ([][]string, error) {
	if len(items) == 0 {
		return [][]string{{}}, nil
	}
	layers := [][]string{append([]string{}, items...)}
	current := layers[0]
	for len(current) > 1 {
		if len(current)%2 == 1 {
			current = append(current, current[len(current)-1])
		}
		next := make([]string, 0, len(current)/2)
		for i := 0; i < len(current); i += 2 {
			joined, err := HashJoin(current[i], current[i+1])
			if err != nil {
				return nil, fmt.Errorf("merkle join: %w", err)
			}
			next = append(next, joined)
		}
		layers = append(layers, next)
		current = next
	}
	return layers, nil
}

// MerkleRoot returns just the root hash of a Merkle tree over items.
func MerkleRoot(items []string) (string, error) {
	layers, err := MerkleBuild(items)
	if err != nil {
		return "", err
	}
	top := layers[len(layers)-1]
	if len(top) == 0 {
		return "", nil
	}
	return top[0], nil
}

// MerkleProof is a list of sibling hashes from a leaf up to the root.
type MerkleProof struct {
	Root  string
	Proof []string
}

// MerkleBuildProof computes the sibling path from targetHash's leaf to the
// root, and the root itself.
func MerkleBuildProof(items []string, targetHash string) (*MerkleProof, error) {
	layers, err := MerkleBuild(items)
	if err != nil {
		return nil, err
	}
	top := layers[len(layers)-1]
	if len(top) == 0 {
		return nil, fmt.Errorf("empty tree has no proof")
	}

	idx := -1
	for i, h := range layers[0] {
		if h == targetHash {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("hash %s not present in item set", targetHash)
	}

	var proof []string
	for level := 0; level < len(layers)-1; level++ {
		layer := layers[level]
		var siblingIdx int
		if idx%2 == 0 {
			siblingIdx = idx + 1
		} else {
			siblingIdx = idx - 1
		}
		if siblingIdx >= len(layer) {
			siblingIdx = idx
		}
		proof = append(proof, layer[siblingIdx])
		idx = idx / 2
	}

	return &MerkleProof{Root: top[0], Proof: proof}, nil
}

// MerkleVerify recomputes the root from a leaf hash and its sibling proof,
// and compares it against the expected root. Because HashJoin orders its
// two inputs deterministically by byte value, the verifier does not need to
// know whether each proof element was originally the left or right sibling.
func MerkleVerify(leafHash string, proof []string, root string) bool {
	current := leafHash
	for _, sibling := range proof {
		joined, err := HashJoin(current, sibling)
		if err != nil {
			return false
		}
		current = joined
	}
	return current == root
}
