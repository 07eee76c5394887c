package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinledger/clinledger/internal/hash"
	"github.com/clinledger/clinledger/internal/storage"
)

// Peer executes proposals against its local world state.
type Peer struct {
	storage   *storage.Storage
	mu        sync.RWMutex
	contracts map[string]Contract
	logger    *slog.Logger
}

func NewPeer(store *storage.Storage, logger *slog.Logger) *Peer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Peer{
		storage:   store,
		contracts: make(map[string]Contract),
		logger:    logger.With("component", "peer"),
	}
}

func contractID(name, version string) string {
	return name + "@" + version
}

// Install makes c reachable under name and version.
func (p *Peer) Install(name, version string, c Contract) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contracts[contractID(name, version)] = c
}

func (p *Peer) contract(name, version string) (Contract, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.contracts[contractID(name, version)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownContract, name, version)
	}
	return c, nil
}

// Submit commits prop unless ctx is already done. Storage writes are not interruptible, so
// the context is only checked before the transaction starts.
func (p *Peer) Submit(ctx context.Context, prop *Proposal) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.Commit(prop)
}

// Commit runs the contract function and, when it succeeds, its writes, their history and a
// chain entry in one storage transaction. A contract error discards every write.
func (p *Peer) Commit(prop *Proposal) ([]byte, error) {
	c, err := p.contract(prop.Contract, prop.Version)
	if err != nil {
		return nil, err
	}

	var payload []byte
	var seq uint64
	err = p.storage.Update(func(tx *storage.Tx) error {
		stub := newTxStub(tx, prop)

		out, err := c.Invoke(stub, prop.Function, prop.Args)
		if err != nil {
			return err
		}

		seq, err = p.record(tx, prop, stub.writes)
		if err != nil {
			return err
		}

		payload = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Transaction committed",
		"tx_id", prop.TxID,
		"function", prop.Function,
		"seq", seq)
	return payload, nil
}

// Evaluate runs a contract function in a read-only transaction. Nothing is recorded.
func (p *Peer) Evaluate(ctx context.Context, prop *Proposal) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := p.contract(prop.Contract, prop.Version)
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = p.storage.View(func(tx *storage.Tx) error {
		stub := newTxStub(tx, prop)
		out, err := c.Invoke(stub, prop.Function, prop.Args)
		payload = out
		return err
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (p *Peer) record(tx *storage.Tx, prop *Proposal, writes []Write) (uint64, error) {
	latest, err := tx.LatestChainEntry()
	if err != nil {
		return 0, err
	}
	var seq uint64 = 1
	previous := hash.Genesis
	if latest != nil {
		seq = latest.SequenceNum + 1
		previous = latest.Hash
	}

	for _, w := range writes {
		entry := &storage.HistoryEntry{
			TxID:      prop.TxID,
			ChainSeq:  seq,
			Timestamp: prop.Timestamp,
			IsDelete:  w.IsDelete,
			Value:     w.Value,
		}
		if err := tx.AppendHistory(w.Key, entry); err != nil {
			return 0, err
		}
	}

	root, err := WriteSetRoot(writes)
	if err != nil {
		return 0, fmt.Errorf("failed to hash write set: %w", err)
	}

	entry := &storage.ChainEntry{
		SequenceNum:  seq,
		TxID:         prop.TxID,
		Contract:     contractID(prop.Contract, prop.Version),
		Function:     prop.Function,
		Args:         prop.Args,
		WriteSetRoot: root,
		PreviousHash: previous,
		Timestamp:    prop.Timestamp,
	}
	entry.DataHash, err = ChainDigest(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to hash chain entry: %w", err)
	}
	entry.Hash = hash.Link(previous, entry.DataHash)

	return seq, tx.AppendChainEntry(entry)
}

// txStub binds a Stub to one storage transaction.
type txStub struct {
	tx     *storage.Tx
	prop   *Proposal
	writes []Write
}

func newTxStub(tx *storage.Tx, prop *Proposal) *txStub {
	return &txStub{tx: tx, prop: prop}
}

func (s *txStub) TxID() string {
	return s.prop.TxID
}

func (s *txStub) TxTimestamp() time.Time {
	return s.prop.Timestamp
}

func (s *txStub) GetState(key string) ([]byte, error) {
	return s.tx.Get(key), nil
}

func (s *txStub) PutState(key string, value []byte) error {
	if !s.tx.Writable() {
		return ErrReadOnly
	}
	if err := s.tx.Put(key, value); err != nil {
		return fmt.Errorf("failed to put state %q: %w", key, err)
	}
	s.writes = append(s.writes, Write{Key: key, Value: value})
	return nil
}

func (s *txStub) DelState(key string) error {
	if !s.tx.Writable() {
		return ErrReadOnly
	}
	if err := s.tx.Delete(key); err != nil {
		return fmt.Errorf("failed to delete state %q: %w", key, err)
	}
	s.writes = append(s.writes, Write{Key: key, IsDelete: true})
	return nil
}

func (s *txStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	return CreateCompositeKey(objectType, attributes)
}

func (s *txStub) SplitCompositeKey(key string) (string, []string, error) {
	return SplitCompositeKey(key)
}

func (s *txStub) GetStateByPartialCompositeKey(objectType string, attributes []string) (ResultsIterator, error) {
	prefix, err := CreateCompositeKey(objectType, attributes)
	if err != nil {
		return nil, err
	}
	return newCursorIterator(s.tx.Seek(prefix), 0, nil), nil
}

func (s *txStub) GetQueryResult(query string) (ResultsIterator, error) {
	q, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	return newCursorIterator(s.tx.Seek(""), q.Limit, selectorAccept(q)), nil
}

func (s *txStub) GetHistoryForKey(key string) (ResultsIterator, error) {
	entries, err := s.tx.History(key)
	if err != nil {
		return nil, err
	}
	return &historyIterator{key: key, entries: entries}, nil
}
