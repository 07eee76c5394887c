package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	StateBucket    = []byte("state")
	HistoryBucket  = []byte("history")
	ChainBucket    = []byte("chain")
	MetadataBucket = []byte("metadata")
)

var allBuckets = [][]byte{StateBucket, HistoryBucket, ChainBucket, MetadataBucket}

// Storage is the world state of one peer: current values, per-key history and the
// hash-linked log of committed transactions.
type Storage struct {
	db *bolt.DB
}

// HistoryEntry records one write to a state key.
type HistoryEntry struct {
	TxID      string    `json:"tx_id"`
	ChainSeq  uint64    `json:"chain_seq"`
	Timestamp time.Time `json:"timestamp"`
	IsDelete  bool      `json:"is_delete"`
	Value     []byte    `json:"value,omitempty"`
}

// ChainEntry links one committed transaction to its predecessor. WriteSetRoot commits to
// the history entries the transaction wrote.
type ChainEntry struct {
	SequenceNum  uint64    `json:"sequence_num"`
	TxID         string    `json:"tx_id"`
	Contract     string    `json:"contract"`
	Function     string    `json:"function"`
	Args         []string  `json:"args"`
	WriteSetRoot string    `json:"write_set_root"`
	Hash         string    `json:"hash"`
	PreviousHash string    `json:"previous_hash"`
	DataHash     string    `json:"data_hash"`
	Timestamp    time.Time `json:"timestamp"`
}

func New(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Update runs fn in a read-write transaction. Returning an error from fn rolls back every
// write made through the Tx.
func (s *Storage) Update(fn func(*Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// View runs fn in a read-only transaction.
func (s *Storage) View(fn func(*Tx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

func (s *Storage) GetState(key string) ([]byte, error) {
	var value []byte
	err := s.View(func(tx *Tx) error {
		value = tx.Get(key)
		return nil
	})
	return value, err
}

func (s *Storage) GetChainEntry(seqNum uint64) (*ChainEntry, error) {
	var entry ChainEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(ChainBucket).Get(seqKey(seqNum))
		if data == nil {
			return fmt.Errorf("chain entry not found: %d", seqNum)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func (s *Storage) GetLatestChainEntry() (*ChainEntry, error) {
	var latest *ChainEntry
	err := s.View(func(tx *Tx) error {
		var err error
		latest, err = tx.LatestChainEntry()
		return err
	})
	return latest, err
}

// PutChainEntry overwrites a chain entry in place. It exists for repair and
// verification tooling; committed transactions append through Tx.AppendChainEntry.
func (s *Storage) PutChainEntry(entry *ChainEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal chain entry: %w", err)
		}
		return tx.Bucket(ChainBucket).Put(seqKey(entry.SequenceNum), data)
	})
}

// Identity names the ledger flavor and contract that wrote a ledger.
type Identity struct {
	Flavor   string
	Contract string
	Version  string
}

var ErrFlavorMismatch = errors.New("ledger was written by another flavor")

const (
	metaFlavor   = "flavor"
	metaContract = "contract"
	metaVersion  = "version"
)

// RecordIdentity stores id and returns the identity recorded before, zero for a fresh
// ledger. A ledger keeps its flavor for life; the contract name and version may change.
func (s *Storage) RecordIdentity(id Identity) (Identity, error) {
	var previous Identity

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(MetadataBucket)
		previous = Identity{
			Flavor:   string(bucket.Get([]byte(metaFlavor))),
			Contract: string(bucket.Get([]byte(metaContract))),
			Version:  string(bucket.Get([]byte(metaVersion))),
		}
		if previous.Flavor != "" && previous.Flavor != id.Flavor {
			return fmt.Errorf("%w: stored %q, configured %q", ErrFlavorMismatch, previous.Flavor, id.Flavor)
		}

		for k, v := range map[string]string{metaFlavor: id.Flavor, metaContract: id.Contract, metaVersion: id.Version} {
			if err := bucket.Put([]byte(k), []byte(v)); err != nil {
				return fmt.Errorf("failed to store %s: %w", k, err)
			}
		}
		return nil
	})

	return previous, err
}

// GetMetadata returns "" when key was never set.
func (s *Storage) GetMetadata(key string) (string, error) {
	var value string

	err := s.db.View(func(tx *bolt.Tx) error {
		value = string(tx.Bucket(MetadataBucket).Get([]byte(key)))
		return nil
	})

	return value, err
}

type snapshotPair struct {
	Key   []byte `json:"k"`
	Value []byte `json:"v"`
}

type snapshotBucket struct {
	Sequence uint64         `json:"sequence"`
	Pairs    []snapshotPair `json:"pairs"`
}

type snapshotFile struct {
	Buckets map[string]*snapshotBucket `json:"buckets"`
}

// Snapshot writes every bucket to w as one JSON document.
func (s *Storage) Snapshot(w io.Writer) error {
	snap := snapshotFile{Buckets: make(map[string]*snapshotBucket)}

	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			bucket := tx.Bucket(name)
			sb := &snapshotBucket{Sequence: bucket.Sequence(), Pairs: make([]snapshotPair, 0)}
			err := bucket.ForEach(func(k, v []byte) error {
				sb.Pairs = append(sb.Pairs, snapshotPair{
					Key:   bytes.Clone(k),
					Value: bytes.Clone(v),
				})
				return nil
			})
			if err != nil {
				return err
			}
			snap.Buckets[string(name)] = sb
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// Restore replaces the content of every bucket with a document written by Snapshot.
func (s *Storage) Restore(r io.Reader) error {
	var snap snapshotFile
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return fmt.Errorf("failed to drop bucket %s: %w", name, err)
			}
			bucket, err := tx.CreateBucket(name)
			if err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
			sb, ok := snap.Buckets[string(name)]
			if !ok {
				continue
			}
			for _, p := range sb.Pairs {
				if err := bucket.Put(p.Key, p.Value); err != nil {
					return fmt.Errorf("failed to restore key: %w", err)
				}
			}
			if err := bucket.SetSequence(sb.Sequence); err != nil {
				return err
			}
		}
		return nil
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// historyPrefix length-prefixes the state key so that a key never prefixes the history of
// a longer key sharing its leading bytes.
func historyPrefix(key string) []byte {
	prefix := make([]byte, 4, 4+len(key))
	binary.BigEndian.PutUint32(prefix, uint32(len(key)))
	return append(prefix, key...)
}
