package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/clinledger/clinledger/internal/hash"
	"github.com/clinledger/clinledger/internal/storage"
)

// kvContract is a minimal contract exercising the stub.
type kvContract struct{}

var errAfterWrite = errors.New("failed after write")

func (kvContract) Invoke(stub Stub, function string, args []string) ([]byte, error) {
	switch function {
	case "put":
		for i := 0; i+1 < len(args); i += 2 {
			if err := stub.PutState(args[i], []byte(args[i+1])); err != nil {
				return nil, err
			}
		}
		return []byte("ok"), nil
	case "putThenFail":
		if err := stub.PutState(args[0], []byte(args[1])); err != nil {
			return nil, err
		}
		return nil, errAfterWrite
	case "del":
		return nil, stub.DelState(args[0])
	case "get":
		return stub.GetState(args[0])
	case "count":
		it, err := stub.GetQueryResult(args[0])
		if err != nil {
			return nil, err
		}
		defer it.Close()
		n := 0
		for it.HasNext() {
			if _, err := it.Next(); err != nil {
				return nil, err
			}
			n++
		}
		return []byte(fmt.Sprint(n)), nil
	}
	return nil, fmt.Errorf("unknown function %s", function)
}

func newTestPeer(t *testing.T) (*Peer, *storage.Storage) {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "clinledger-ledger-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	store, err := storage.New(tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	peer := NewPeer(store, nil)
	peer.Install("kv", "1", kvContract{})
	return peer, store
}

func proposal(id, function string, args ...string) *Proposal {
	return &Proposal{
		TxID:      id,
		Contract:  "kv",
		Version:   "1",
		Function:  function,
		Args:      args,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCompositeKey(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		key, err := CreateCompositeKey("recordType~subjectId", []string{"patient", "10"})
		if err != nil {
			t.Fatalf("CreateCompositeKey failed: %v", err)
		}
		if key != "\x00recordType~subjectId\x00patient\x0010\x00" {
			t.Errorf("unexpected key %q", key)
		}

		objectType, attrs, err := SplitCompositeKey(key)
		if err != nil {
			t.Fatalf("SplitCompositeKey failed: %v", err)
		}
		if objectType != "recordType~subjectId" || len(attrs) != 2 || attrs[0] != "patient" || attrs[1] != "10" {
			t.Errorf("got %q %q", objectType, attrs)
		}
	})

	t.Run("RejectsReservedRunes", func(t *testing.T) {
		tests := []struct {
			name       string
			objectType string
			attrs      []string
		}{
			{"NullInObjectType", "a\x00b", nil},
			{"NullInAttribute", "idx", []string{"x\x00"}},
			{"MaxRune", "idx", []string{string(rune(0x10FFFF))}},
			{"InvalidUTF8", "idx", []string{"\xff"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := CreateCompositeKey(tt.objectType, tt.attrs)
				if !errors.Is(err, ErrInvalidCompositeKey) {
					t.Errorf("Expected ErrInvalidCompositeKey, got %v", err)
				}
			})
		}
	})

	t.Run("SplitRejectsPlainKey", func(t *testing.T) {
		if _, _, err := SplitCompositeKey("patient:10"); !errors.Is(err, ErrInvalidCompositeKey) {
			t.Errorf("Expected ErrInvalidCompositeKey, got %v", err)
		}
	})
}

func TestSelector(t *testing.T) {
	doc := map[string]interface{}{
		"docType": "dictionaryItem",
		"itemid":  "220000",
		"count":   float64(3),
		"meta":    map[string]interface{}{"source": "metavision"},
	}

	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"ImplicitEquality", `{"selector":{"itemid":"220000"}}`, true},
		{"ImplicitMismatch", `{"selector":{"itemid":"1"}}`, false},
		{"Eq", `{"selector":{"docType":{"$eq":"dictionaryItem"}}}`, true},
		{"Ne", `{"selector":{"docType":{"$ne":"patient"}}}`, true},
		{"NeMissingField", `{"selector":{"label":{"$ne":"x"}}}`, true},
		{"Gt", `{"selector":{"count":{"$gt":2}}}`, true},
		{"Lte", `{"selector":{"count":{"$lte":2}}}`, false},
		{"StringRange", `{"selector":{"itemid":{"$gte":"2","$lt":"3"}}}`, true},
		{"MixedTypes", `{"selector":{"itemid":{"$gt":1}}}`, false},
		{"In", `{"selector":{"itemid":{"$in":["1","220000"]}}}`, true},
		{"ExistsFalse", `{"selector":{"label":{"$exists":false}}}`, true},
		{"ExistsTrue", `{"selector":{"label":{"$exists":true}}}`, false},
		{"DottedPath", `{"selector":{"meta.source":"metavision"}}`, true},
		{"And", `{"selector":{"$and":[{"itemid":"220000"},{"docType":"patient"}]}}`, false},
		{"Or", `{"selector":{"$or":[{"itemid":"1"},{"docType":"dictionaryItem"}]}}`, true},
		{"UnknownOperator", `{"selector":{"itemid":{"$regex":"2.*"}}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("ParseQuery failed: %v", err)
			}
			if got := q.Match(doc); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("InvalidQueries", func(t *testing.T) {
		for _, query := range []string{`not json`, `{"limit":1}`, `{"selector":{},"limit":-1}`} {
			if _, err := ParseQuery(query); err == nil {
				t.Errorf("Expected error for %s", query)
			}
		}
	})
}

func TestPeerCommit(t *testing.T) {
	peer, store := newTestPeer(t)
	ctx := context.Background()

	t.Run("WritesAreVisible", func(t *testing.T) {
		out, err := peer.Submit(ctx, proposal("tx1", "put", "a", `{"n":1}`, "b", `{"n":2}`))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if string(out) != "ok" {
			t.Errorf("payload = %s", out)
		}

		v, err := store.GetState("a")
		if err != nil || string(v) != `{"n":1}` {
			t.Errorf("GetState(a) = %s, %v", v, err)
		}
	})

	t.Run("ContractErrorDiscardsWrites", func(t *testing.T) {
		_, err := peer.Submit(ctx, proposal("tx2", "putThenFail", "c", "x"))
		if !errors.Is(err, errAfterWrite) {
			t.Fatalf("Expected errAfterWrite, got %v", err)
		}
		v, _ := store.GetState("c")
		if v != nil {
			t.Errorf("write survived a failed transaction: %s", v)
		}

		latest, err := store.GetLatestChainEntry()
		if err != nil {
			t.Fatal(err)
		}
		if latest.TxID != "tx1" {
			t.Errorf("failed transaction reached the chain: %s", latest.TxID)
		}
	})

	t.Run("ChainLinks", func(t *testing.T) {
		if _, err := peer.Submit(ctx, proposal("tx3", "del", "b")); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		first, err := store.GetChainEntry(1)
		if err != nil {
			t.Fatal(err)
		}
		second, err := store.GetChainEntry(2)
		if err != nil {
			t.Fatal(err)
		}
		if first.PreviousHash != hash.Genesis {
			t.Errorf("first entry links to %s", first.PreviousHash)
		}
		if second.PreviousHash != first.Hash {
			t.Errorf("second entry does not link to first")
		}
		if second.Hash != hash.Link(second.PreviousHash, second.DataHash) {
			t.Errorf("stored hash does not match its link")
		}

		if digest, err := ChainDigest(second); err != nil || digest != second.DataHash {
			t.Errorf("data hash does not cover the entry: %s, %v", digest, err)
		}
		if second.Contract != "kv@1" || second.Function != "del" || len(second.Args) != 1 {
			t.Errorf("invocation not recorded: %+v", second)
		}
		root, _ := WriteSetRoot([]Write{{Key: "b", IsDelete: true}})
		if second.WriteSetRoot != root {
			t.Errorf("write set root %s, want %s", second.WriteSetRoot, root)
		}
	})

	t.Run("WriteSetRootIgnoresOrder", func(t *testing.T) {
		a, _ := WriteSetRoot([]Write{{Key: "x", Value: []byte("1")}, {Key: "y", IsDelete: true}})
		b, _ := WriteSetRoot([]Write{{Key: "y", IsDelete: true}, {Key: "x", Value: []byte("1")}})
		if a != b {
			t.Error("root depends on write order")
		}
		empty, _ := WriteSetRoot([]Write{{Key: "x", Value: []byte{}}})
		null, _ := WriteSetRoot([]Write{{Key: "x"}})
		if empty != null {
			t.Error("empty and nil values should hash alike")
		}
	})

	t.Run("History", func(t *testing.T) {
		var entries []*QueryResult
		err := store.View(func(tx *storage.Tx) error {
			stub := newTxStub(tx, proposal("h", "none"))
			it, err := stub.GetHistoryForKey("b")
			if err != nil {
				return err
			}
			defer it.Close()
			for it.HasNext() {
				r, err := it.Next()
				if err != nil {
					return err
				}
				entries = append(entries, r)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 {
			t.Fatalf("Expected 2 history entries, got %d", len(entries))
		}
		if entries[0].TxID != "tx1" || entries[0].IsDelete {
			t.Errorf("unexpected first entry %+v", entries[0])
		}
		if entries[1].TxID != "tx3" || !entries[1].IsDelete {
			t.Errorf("unexpected second entry %+v", entries[1])
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := peer.Submit(cctx, proposal("tx4", "put", "d", "x")); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})

	t.Run("UnknownContract", func(t *testing.T) {
		prop := proposal("tx5", "put", "e", "x")
		prop.Contract = "missing"
		if _, err := peer.Submit(ctx, prop); !errors.Is(err, ErrUnknownContract) {
			t.Errorf("Expected ErrUnknownContract, got %v", err)
		}
	})
}

func TestPeerEvaluate(t *testing.T) {
	peer, store := newTestPeer(t)
	ctx := context.Background()

	if _, err := peer.Submit(ctx, proposal("tx1", "put",
		"patient:1", `{"docType":"patient","subjectId":"1"}`,
		"patient:2", `{"docType":"patient","subjectId":"2"}`,
		"note", `plain text`,
		"\x00idx\x00patient\x001\x00", "\x00",
	)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	t.Run("ReadOnly", func(t *testing.T) {
		_, err := peer.Evaluate(ctx, proposal("q1", "put", "x", "y"))
		if !errors.Is(err, ErrReadOnly) {
			t.Errorf("Expected ErrReadOnly, got %v", err)
		}
		latest, _ := store.GetLatestChainEntry()
		if latest.SequenceNum != 1 {
			t.Errorf("evaluation reached the chain")
		}
	})

	t.Run("Get", func(t *testing.T) {
		out, err := peer.Evaluate(ctx, proposal("q2", "get", "note"))
		if err != nil || string(out) != "plain text" {
			t.Errorf("Evaluate(get) = %s, %v", out, err)
		}
	})

	t.Run("QuerySkipsIndexAndNonJSON", func(t *testing.T) {
		out, err := peer.Evaluate(ctx, proposal("q3", "count", `{"selector":{"docType":"patient"}}`))
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != "2" {
			t.Errorf("count = %s, want 2", out)
		}
	})

	t.Run("QueryLimit", func(t *testing.T) {
		out, err := peer.Evaluate(ctx, proposal("q4", "count", `{"selector":{"docType":"patient"},"limit":1}`))
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != "1" {
			t.Errorf("count = %s, want 1", out)
		}
	})
}
