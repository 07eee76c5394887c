package consensus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/clinledger/clinledger/internal/ledger"
	"github.com/clinledger/clinledger/internal/storage"
	"github.com/hashicorp/raft"
)

type FSM struct {
	mu      sync.RWMutex
	peer    *ledger.Peer
	storage *storage.Storage
}

func NewFSM(peer *ledger.Peer, store *storage.Storage) *FSM {
	return &FSM{
		peer:    peer,
		storage: store,
	}
}

func (f *FSM) Apply(log *raft.Log) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	var entry LogEntry
	if err := json.Unmarshal(log.Data, &entry); err != nil {
		return &ApplyResult{Err: fmt.Errorf("failed to unmarshal log entry: %w", err)}
	}

	switch entry.Type {
	case LogEntryProposal:
		if entry.Proposal == nil {
			return &ApplyResult{Err: fmt.Errorf("log entry %d carries no proposal", log.Index)}
		}
		payload, err := f.peer.Commit(entry.Proposal)
		return &ApplyResult{Payload: payload, Err: err}
	default:
		return &ApplyResult{Err: fmt.Errorf("unknown log entry type: %s", entry.Type)}
	}
}

// Snapshot copies the whole store while holding the apply lock, so Persist can run
// concurrently with later applies.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var buf bytes.Buffer
	if err := f.storage.Snapshot(&buf); err != nil {
		return nil, fmt.Errorf("failed to snapshot storage: %w", err)
	}

	return &fsmSnapshot{data: buf.Bytes()}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer rc.Close()

	if err := f.storage.Restore(rc); err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	return nil
}

type fsmSnapshot struct {
	data []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {
}
