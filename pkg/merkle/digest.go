package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/spaolacci/murmur3"
)

// DefaultBuckets is the leaf count used for document digests.
const DefaultBuckets = 256

// BucketOf maps a key onto one of numLeaves buckets.
func BucketOf(key string, numLeaves int) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(numLeaves))
}

type entry struct {
	name string
	sum  [sha256.Size]byte
}

// SetDigest accumulates (name, content) pairs and summarises them as a Merkle
// tree. Two nodes holding the same document set produce the same root,
// independent of the order documents were added.
type SetDigest struct {
	numLeaves int
	buckets   map[int][]entry
	count     int
}

func NewSetDigest(numLeaves int) *SetDigest {
	if numLeaves < 2 || (numLeaves&(numLeaves-1)) != 0 {
		numLeaves = DefaultBuckets
	}
	return &SetDigest{
		numLeaves: numLeaves,
		buckets:   make(map[int][]entry),
	}
}

func (d *SetDigest) Add(name string, content []byte) {
	b := BucketOf(name, d.numLeaves)
	d.buckets[b] = append(d.buckets[b], entry{name: name, sum: sha256.Sum256(content)})
	d.count++
}

// Count returns the number of documents added.
func (d *SetDigest) Count() int {
	return d.count
}

// Tree builds the Merkle tree over the buckets added so far.
func (d *SetDigest) Tree() (*Tree, error) {
	tree, err := NewTree(d.numLeaves)
	if err != nil {
		return nil, err
	}

	for b, entries := range d.buckets {
		sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

		h := sha256.New()
		for _, e := range entries {
			h.Write([]byte(e.name))
			h.Write([]byte{0})
			h.Write(e.sum[:])
		}
		if err := tree.UpdateBucket(b, hex.EncodeToString(h.Sum(nil))); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// Root is shorthand for building the tree and returning its root.
func (d *SetDigest) Root() (string, error) {
	tree, err := d.Tree()
	if err != nil {
		return "", err
	}
	return tree.Root(), nil
}
