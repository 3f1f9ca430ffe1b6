package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Tree is a fixed-size Merkle tree stored as a flattened heap:
// index 0 is the root, children of i are 2i+1 and 2i+2.
type Tree struct {
	mu         sync.RWMutex
	nodes      []string
	numLeaves  int
	leafOffset int
}

// NewTree creates a tree with numLeaves buckets. numLeaves must be a power of 2.
func NewTree(numLeaves int) (*Tree, error) {
	if numLeaves < 2 || (numLeaves&(numLeaves-1)) != 0 {
		return nil, fmt.Errorf("numLeaves must be a power of 2 and >= 2, got %d", numLeaves)
	}

	return &Tree{
		nodes:      make([]string, 2*numLeaves-1),
		numLeaves:  numLeaves,
		leafOffset: numLeaves - 1,
	}, nil
}

// UpdateBucket sets the hash of one leaf and recomputes the path to the root.
func (t *Tree) UpdateBucket(bucket int, leafHash string) error {
	if bucket < 0 || bucket >= t.numLeaves {
		return fmt.Errorf("bucket out of range: %d", bucket)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.leafOffset + bucket
	t.nodes[idx] = leafHash
	for idx > 0 {
		parent := (idx - 1) / 2
		t.nodes[parent] = hashPair(t.nodes[2*parent+1], t.nodes[2*parent+2])
		idx = parent
	}
	return nil
}

// Root returns the root hash, "" for a tree with no populated bucket.
func (t *Tree) Root() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[0]
}

// Bucket returns the hash of one leaf.
func (t *Tree) Bucket(bucket int) (string, error) {
	if bucket < 0 || bucket >= t.numLeaves {
		return "", fmt.Errorf("bucket out of range: %d", bucket)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[t.leafOffset+bucket], nil
}

func (t *Tree) NumLeaves() int {
	return t.numLeaves
}

func hashPair(left, right string) string {
	if left == "" && right == "" {
		return ""
	}

	h := sha256.New()
	h.Write([]byte(left))
	h.Write([]byte(right))
	return hex.EncodeToString(h.Sum(nil))
}
