package storage

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "clinledger-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	store, err := New(tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorage(t *testing.T) {
	storage := newTestStorage(t)

	t.Run("PutAndGetState", func(t *testing.T) {
		err := storage.Update(func(tx *Tx) error {
			return tx.Put("patient:10", []byte(`{"subjectId":"10"}`))
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		value, err := storage.GetState("patient:10")
		if err != nil {
			t.Fatalf("GetState failed: %v", err)
		}
		if string(value) != `{"subjectId":"10"}` {
			t.Errorf("Expected stored value, got %s", value)
		}
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		boom := errors.New("boom")
		err := storage.Update(func(tx *Tx) error {
			if err := tx.Put("patient:11", []byte("x")); err != nil {
				return err
			}
			if err := tx.Put("\x00docType~subjectId\x00patient\x0011\x00", []byte{0}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Expected boom, got %v", err)
		}

		for _, key := range []string{"patient:11", "\x00docType~subjectId\x00patient\x0011\x00"} {
			value, _ := storage.GetState(key)
			if value != nil {
				t.Errorf("Expected %q to be rolled back, got %q", key, value)
			}
		}
	})

	t.Run("SeekPrefix", func(t *testing.T) {
		err := storage.Update(func(tx *Tx) error {
			for _, k := range []string{"item:1", "item:2", "itemz", "patient:99"} {
				if err := tx.Put(k, []byte(k)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		var keys []string
		storage.View(func(tx *Tx) error {
			c := tx.Seek("item:")
			for k, _, ok := c.Next(); ok; k, _, ok = c.Next() {
				keys = append(keys, k)
			}
			return nil
		})

		if len(keys) != 2 || keys[0] != "item:1" || keys[1] != "item:2" {
			t.Errorf("Expected [item:1 item:2], got %v", keys)
		}
	})

	t.Run("HistoryIsScopedToKey", func(t *testing.T) {
		err := storage.Update(func(tx *Tx) error {
			if err := tx.AppendHistory("a", &HistoryEntry{TxID: "t1", Value: []byte("1")}); err != nil {
				return err
			}
			if err := tx.AppendHistory("a\x00b", &HistoryEntry{TxID: "t2", Value: []byte("2")}); err != nil {
				return err
			}
			return tx.AppendHistory("a", &HistoryEntry{TxID: "t3", IsDelete: true})
		})
		if err != nil {
			t.Fatal(err)
		}

		var entries []HistoryEntry
		storage.View(func(tx *Tx) error {
			entries, err = tx.History("a")
			return err
		})
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("Expected 2 entries, got %d", len(entries))
		}
		if entries[0].TxID != "t1" || entries[1].TxID != "t3" || !entries[1].IsDelete {
			t.Errorf("Unexpected history: %+v", entries)
		}
	})

	t.Run("AllHistoryInAppendOrder", func(t *testing.T) {
		var records []HistoryRecord
		err := storage.View(func(tx *Tx) error {
			var err error
			records, err = tx.AllHistory()
			return err
		})
		if err != nil {
			t.Fatalf("AllHistory failed: %v", err)
		}

		var got []string
		for _, r := range records {
			got = append(got, r.Key+"="+r.TxID)
		}
		want := []string{"a=t1", "a\x00b=t2", "a=t3"}
		if len(got) != len(want) {
			t.Fatalf("Expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Expected %v, got %v", want, got)
				break
			}
		}
		if records[2].Seq <= records[0].Seq {
			t.Errorf("Sequences out of order: %+v", records)
		}
	})

	t.Run("ChainEntries", func(t *testing.T) {
		latest, err := storage.GetLatestChainEntry()
		if err != nil {
			t.Fatalf("GetLatestChainEntry failed: %v", err)
		}
		if latest != nil {
			t.Fatalf("Expected empty chain, got %+v", latest)
		}

		err = storage.Update(func(tx *Tx) error {
			for i := uint64(1); i <= 3; i++ {
				if err := tx.AppendChainEntry(&ChainEntry{SequenceNum: i, Hash: "h", Timestamp: time.Now()}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		latest, err = storage.GetLatestChainEntry()
		if err != nil {
			t.Fatalf("GetLatestChainEntry failed: %v", err)
		}
		if latest.SequenceNum != 3 {
			t.Errorf("Expected sequence 3, got %d", latest.SequenceNum)
		}

		if _, err := storage.GetChainEntry(2); err != nil {
			t.Errorf("GetChainEntry failed: %v", err)
		}
		if _, err := storage.GetChainEntry(42); err == nil {
			t.Error("Expected error for missing chain entry")
		}

		storage.View(func(tx *Tx) error {
			if e, err := tx.ChainEntry(2); err != nil || e == nil || e.SequenceNum != 2 {
				t.Errorf("ChainEntry(2) = %+v, %v", e, err)
			}
			if e, err := tx.ChainEntry(42); err != nil || e != nil {
				t.Errorf("ChainEntry(42) = %+v, %v", e, err)
			}
			return nil
		})
	})

	t.Run("RecordIdentity", func(t *testing.T) {
		id := Identity{Flavor: "chaincode", Contract: "testecouch", Version: "v0"}

		previous, err := storage.RecordIdentity(id)
		if err != nil {
			t.Fatalf("RecordIdentity failed: %v", err)
		}
		if previous != (Identity{}) {
			t.Errorf("Expected empty identity on a fresh ledger, got %+v", previous)
		}

		upgraded := Identity{Flavor: "chaincode", Contract: "testecouch", Version: "v1"}
		previous, err = storage.RecordIdentity(upgraded)
		if err != nil {
			t.Fatalf("RecordIdentity failed: %v", err)
		}
		if previous != id {
			t.Errorf("Expected %+v, got %+v", id, previous)
		}

		if _, err := storage.RecordIdentity(Identity{Flavor: "document"}); !errors.Is(err, ErrFlavorMismatch) {
			t.Errorf("Expected ErrFlavorMismatch, got %v", err)
		}

		version, err := storage.GetMetadata("version")
		if err != nil || version != "v1" {
			t.Errorf("Expected version v1 to survive the rejected flavor, got %q, %v", version, err)
		}

		missing, err := storage.GetMetadata("owner")
		if err != nil || missing != "" {
			t.Errorf("Expected empty value for unset key, got %q, %v", missing, err)
		}
	})
}

func TestSnapshotRestore(t *testing.T) {
	src := newTestStorage(t)

	err := src.Update(func(tx *Tx) error {
		if err := tx.Put("dictionaryItem:220000", []byte(`{"itemid":"220000"}`)); err != nil {
			return err
		}
		if err := tx.AppendHistory("dictionaryItem:220000", &HistoryEntry{TxID: "tx1"}); err != nil {
			return err
		}
		return tx.AppendChainEntry(&ChainEntry{SequenceNum: 1, TxID: "tx1", Hash: "abc"})
	})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := src.Snapshot(&buf); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	dst := newTestStorage(t)
	if err := dst.Update(func(tx *Tx) error { return tx.Put("stale", []byte("x")) }); err != nil {
		t.Fatal(err)
	}

	if err := dst.Restore(&buf); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	value, _ := dst.GetState("dictionaryItem:220000")
	if string(value) != `{"itemid":"220000"}` {
		t.Errorf("Expected restored record, got %q", value)
	}
	if stale, _ := dst.GetState("stale"); stale != nil {
		t.Errorf("Expected stale key to be dropped, got %q", stale)
	}

	entry, err := dst.GetChainEntry(1)
	if err != nil {
		t.Fatalf("GetChainEntry failed: %v", err)
	}
	if entry.Hash != "abc" {
		t.Errorf("Expected hash abc, got %s", entry.Hash)
	}

	// history sequence must continue past restored entries
	err = dst.Update(func(tx *Tx) error {
		return tx.AppendHistory("dictionaryItem:220000", &HistoryEntry{TxID: "tx2"})
	})
	if err != nil {
		t.Fatal(err)
	}
	dst.View(func(tx *Tx) error {
		entries, _ := tx.History("dictionaryItem:220000")
		if len(entries) != 2 || entries[1].TxID != "tx2" {
			t.Errorf("Unexpected history after restore: %+v", entries)
		}
		return nil
	})
}
