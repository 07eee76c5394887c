// Package verify checks that the committed ledger is internally consistent: every chain
// entry links to its predecessor, commits to the history entries its transaction wrote,
// and the latest history of every key matches world state.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/clinledger/clinledger/internal/alert"
	"github.com/clinledger/clinledger/internal/hash"
	"github.com/clinledger/clinledger/internal/ledger"
	"github.com/clinledger/clinledger/internal/storage"
)

type Report struct {
	Entries  uint64
	Keys     int
	HeadHash string
}

type ChainVerifier struct {
	storage *storage.Storage
	alerts  *alert.Manager
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewChainVerifier accepts a nil alert manager.
func NewChainVerifier(store *storage.Storage, alerts *alert.Manager, logger *slog.Logger) *ChainVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainVerifier{
		storage: store,
		alerts:  alerts,
		logger:  logger.With("component", "verify"),
		stopCh:  make(chan struct{}),
	}
}

// Verify reads the whole ledger in one transaction and returns the first inconsistency as
// a *TamperingError. History is held in memory for the duration of the call.
func (v *ChainVerifier) Verify(ctx context.Context) (*Report, error) {
	var report *Report
	var te *TamperingError

	err := v.storage.View(func(tx *storage.Tx) error {
		var err error
		report, te, err = check(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if te != nil {
		return nil, v.tampered(ctx, te)
	}
	return report, nil
}

type keyHead struct {
	seq   uint64
	entry storage.HistoryEntry
}

func check(ctx context.Context, tx *storage.Tx) (*Report, *TamperingError, error) {
	history, err := tx.AllHistory()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read history: %w", err)
	}

	writes := make(map[uint64][]ledger.Write)
	heads := make(map[string]keyHead)
	for _, r := range history {
		writes[r.ChainSeq] = append(writes[r.ChainSeq], ledger.Write{
			Key:      r.Key,
			Value:    r.Value,
			IsDelete: r.IsDelete,
		})
		heads[r.Key] = keyHead{seq: r.ChainSeq, entry: r.HistoryEntry}
	}

	latest, err := tx.LatestChainEntry()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read chain head: %w", err)
	}
	var height uint64
	if latest != nil {
		height = latest.SequenceNum
	}

	previous := hash.Genesis
	for seq := uint64(1); seq <= height; seq++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		entry, err := tx.ChainEntry(seq)
		if err != nil {
			return nil, nil, err
		}
		if entry == nil {
			return nil, NewTamperingError(seq, "", previous, "", "entry missing"), nil
		}
		if te := checkEntry(entry, seq, previous, writes[seq]); te != nil {
			return nil, te, nil
		}
		delete(writes, seq)
		previous = entry.Hash
	}

	if len(writes) > 0 {
		seq := slices.Min(slices.Collect(maps.Keys(writes)))
		te := NewTamperingError(seq, "", "", "", "history written by a transaction missing from the chain")
		te.Key = writes[seq][0].Key
		return nil, te, nil
	}

	for _, key := range slices.Sorted(maps.Keys(heads)) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if te := checkState(tx, key, heads[key]); te != nil {
			return nil, te, nil
		}
	}

	cursor := tx.Seek("")
	defer cursor.Close()
	for key, value, ok := cursor.Next(); ok; key, value, ok = cursor.Next() {
		if _, known := heads[key]; known {
			continue
		}
		te := NewTamperingError(0, "", "", hash.SumBytes(value), "state key has no history")
		te.Key = key
		return nil, te, nil
	}

	return &Report{Entries: height, Keys: len(heads), HeadHash: previous}, nil, nil
}

func checkEntry(entry *storage.ChainEntry, seq uint64, previous string, writes []ledger.Write) *TamperingError {
	if entry.SequenceNum != seq {
		return NewTamperingError(seq, entry.TxID, previous, entry.PreviousHash,
			fmt.Sprintf("entry claims sequence %d", entry.SequenceNum))
	}
	if entry.PreviousHash != previous {
		return NewTamperingError(seq, entry.TxID, previous, entry.PreviousHash,
			"previous hash does not match predecessor")
	}
	if expected := hash.Link(previous, entry.DataHash); entry.Hash != expected {
		return NewTamperingError(seq, entry.TxID, expected, entry.Hash,
			"hash does not match recomputed link")
	}

	digest, err := ledger.ChainDigest(entry)
	if err != nil {
		return NewTamperingError(seq, entry.TxID, "", entry.DataHash, err.Error())
	}
	if digest != entry.DataHash {
		return NewTamperingError(seq, entry.TxID, digest, entry.DataHash,
			"data hash does not match entry contents")
	}

	root, err := ledger.WriteSetRoot(writes)
	if err != nil {
		return NewTamperingError(seq, entry.TxID, "", entry.WriteSetRoot, err.Error())
	}
	if root != entry.WriteSetRoot {
		return NewTamperingError(seq, entry.TxID, entry.WriteSetRoot, root,
			"history does not match committed write set")
	}
	return nil
}

func checkState(tx *storage.Tx, key string, head keyHead) *TamperingError {
	value := tx.Get(key)

	var te *TamperingError
	switch {
	case head.entry.IsDelete && value != nil:
		te = NewTamperingError(head.seq, head.entry.TxID, "", hash.SumBytes(value),
			"state holds a deleted key")
	case !head.entry.IsDelete && value == nil:
		te = NewTamperingError(head.seq, head.entry.TxID, hash.SumBytes(head.entry.Value), "",
			"state is missing a written key")
	case !head.entry.IsDelete && !bytes.Equal(value, head.entry.Value):
		te = NewTamperingError(head.seq, head.entry.TxID, hash.SumBytes(head.entry.Value), hash.SumBytes(value),
			"state does not match latest history")
	default:
		return nil
	}
	te.Key = key
	return te
}

func (v *ChainVerifier) tampered(ctx context.Context, te *TamperingError) error {
	v.logger.Error("Ledger verification failed",
		"sequence", te.SequenceNum,
		"tx_id", te.TxID,
		"key", te.Key,
		"expected_hash", te.ExpectedHash,
		"actual_hash", te.ActualHash,
		"reason", te.Message,
	)
	if err := v.alerts.SendChainBrokenAlert(ctx, te.SequenceNum, te.TxID, te.ExpectedHash, te.ActualHash); err != nil {
		v.logger.Warn("Failed to send alert", "error", err)
	}
	return te
}

// Start verifies once and then again every interval until Stop or ctx is done.
func (v *ChainVerifier) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid verify interval: %v", interval)
	}

	v.runOnce(ctx)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-v.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				v.runOnce(ctx)
			}
		}
	}()
	return nil
}

func (v *ChainVerifier) runOnce(ctx context.Context) {
	report, err := v.Verify(ctx)
	if err != nil {
		if !IsTamperingError(err) {
			v.logger.Warn("Ledger verification incomplete", "error", err)
		}
		return
	}
	v.logger.Info("Ledger verified", "entries", report.Entries, "keys", report.Keys, "head", report.HeadHash)
}

func (v *ChainVerifier) Stop() {
	close(v.stopCh)
	v.wg.Wait()
}
