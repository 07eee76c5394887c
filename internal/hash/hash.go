// Package hash derives the digests that link committed transactions into a chain.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Genesis is the previous hash of the first chain entry.
const Genesis = "genesis"

// Sum is the hex sha256 of the JSON encoding of v.
func Sum(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}
	return SumBytes(data), nil
}

func SumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Link derives the chain hash of an entry from its predecessor and its own digest.
func Link(previousHash, dataHash string) string {
	return SumBytes([]byte(previousHash + dataHash))
}

// WriteSet accumulates one digest per write. Root does not depend on the order of Add.
type WriteSet struct {
	leaves []string
}

func (w *WriteSet) Add(leaf any) error {
	h, err := Sum(leaf)
	if err != nil {
		return err
	}
	w.leaves = append(w.leaves, h)
	return nil
}

// Root folds the sorted leaves pairwise, duplicating the last leaf of an odd level. An
// empty set has the empty root.
func (w *WriteSet) Root() string {
	if len(w.leaves) == 0 {
		return ""
	}

	level := append([]string(nil), w.leaves...)
	sort.Strings(level)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, SumBytes([]byte(level[i]+right)))
		}
		level = next
	}
	return level[0]
}
