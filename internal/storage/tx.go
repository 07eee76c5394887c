package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"
)

// Tx is the view of one bbolt transaction handed to the ledger while it executes a
// contract function.
type Tx struct {
	tx *bolt.Tx
}

func (t *Tx) Writable() bool {
	return t.tx.Writable()
}

// Get returns a copy of the value stored under key, or nil.
func (t *Tx) Get(key string) []byte {
	v := t.tx.Bucket(StateBucket).Get([]byte(key))
	if v == nil {
		return nil
	}
	return bytes.Clone(v)
}

func (t *Tx) Put(key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("empty state key")
	}
	return t.tx.Bucket(StateBucket).Put([]byte(key), value)
}

func (t *Tx) Delete(key string) error {
	return t.tx.Bucket(StateBucket).Delete([]byte(key))
}

// Seek returns a cursor over the state keys starting with prefix, in key order.
func (t *Tx) Seek(prefix string) *Cursor {
	return &Cursor{
		c:      t.tx.Bucket(StateBucket).Cursor(),
		prefix: []byte(prefix),
	}
}

func (t *Tx) AppendHistory(key string, entry *HistoryEntry) error {
	bucket := t.tx.Bucket(HistoryBucket)

	seq, err := bucket.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to allocate history sequence: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	hk := append(historyPrefix(key), seqKey(seq)...)
	return bucket.Put(hk, data)
}

// History returns every recorded write to key, oldest first.
func (t *Tx) History(key string) ([]HistoryEntry, error) {
	prefix := historyPrefix(key)
	cursor := t.tx.Bucket(HistoryBucket).Cursor()

	entries := make([]HistoryEntry, 0)
	for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
		if len(k) != len(prefix)+8 {
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// HistoryRecord is a history entry together with its state key and the order in which it
// was appended.
type HistoryRecord struct {
	Key string
	Seq uint64
	HistoryEntry
}

// AllHistory returns the history of every key in append order.
func (t *Tx) AllHistory() ([]HistoryRecord, error) {
	records := make([]HistoryRecord, 0)
	err := t.tx.Bucket(HistoryBucket).ForEach(func(k, v []byte) error {
		if len(k) < 12 {
			return fmt.Errorf("malformed history key %x", k)
		}
		n := int(binary.BigEndian.Uint32(k))
		if len(k) != 4+n+8 {
			return fmt.Errorf("malformed history key %x", k)
		}

		r := HistoryRecord{
			Key: string(k[4 : 4+n]),
			Seq: binary.BigEndian.Uint64(k[4+n:]),
		}
		if err := json.Unmarshal(v, &r.HistoryEntry); err != nil {
			return fmt.Errorf("failed to decode history entry: %w", err)
		}
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records, nil
}

// ChainEntry returns nil when seq has no entry.
func (t *Tx) ChainEntry(seq uint64) (*ChainEntry, error) {
	v := t.tx.Bucket(ChainBucket).Get(seqKey(seq))
	if v == nil {
		return nil, nil
	}
	var entry ChainEntry
	if err := json.Unmarshal(v, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode chain entry %d: %w", seq, err)
	}
	return &entry, nil
}

func (t *Tx) LatestChainEntry() (*ChainEntry, error) {
	_, v := t.tx.Bucket(ChainBucket).Cursor().Last()
	if v == nil {
		return nil, nil
	}
	var entry ChainEntry
	if err := json.Unmarshal(v, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode chain entry: %w", err)
	}
	return &entry, nil
}

func (t *Tx) AppendChainEntry(entry *ChainEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal chain entry: %w", err)
	}
	return t.tx.Bucket(ChainBucket).Put(seqKey(entry.SequenceNum), data)
}

// Cursor walks state keys sharing a prefix. It is only valid inside the transaction that
// created it.
type Cursor struct {
	c       *bolt.Cursor
	prefix  []byte
	started bool
	done    bool
}

// Next returns the next key and a copy of its value. ok is false once the prefix range is
// exhausted.
func (c *Cursor) Next() (key string, value []byte, ok bool) {
	if c.done {
		return "", nil, false
	}

	var k, v []byte
	if !c.started {
		k, v = c.c.Seek(c.prefix)
		c.started = true
	} else {
		k, v = c.c.Next()
	}

	if k == nil || !bytes.HasPrefix(k, c.prefix) {
		c.done = true
		return "", nil, false
	}
	return string(k), bytes.Clone(v), true
}

// Close stops the cursor; later calls to Next report exhaustion.
func (c *Cursor) Close() {
	c.done = true
}
