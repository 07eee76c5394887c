package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/clinledger/clinledger/internal/ledger"
	"github.com/clinledger/clinledger/internal/schema"
	"github.com/clinledger/clinledger/internal/storage"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type testLedger struct {
	peer  *ledger.Peer
	store *storage.Storage
	seq   int
}

func newTestLedger(t *testing.T, overrides map[string]bool) *testLedger {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "clinledger-records-*.db")
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

	peer := ledger.NewPeer(store, nil)
	peer.Install(DefaultContractName, DefaultContractVersion, NewContract(NewStore(overrides)))
	return &testLedger{peer: peer, store: store}
}

func (l *testLedger) proposal(function string, args []string) *ledger.Proposal {
	l.seq++
	return &ledger.Proposal{
		TxID:      fmt.Sprintf("tx%d", l.seq),
		Contract:  DefaultContractName,
		Version:   DefaultContractVersion,
		Function:  function,
		Args:      args,
		Timestamp: time.Date(2024, 1, 1, 0, 0, l.seq, 0, time.UTC),
	}
}

func (l *testLedger) invoke(function string, args ...string) ([]byte, error) {
	return l.peer.Submit(context.Background(), l.proposal(function, args))
}

func (l *testLedger) query(function string, args ...string) ([]byte, error) {
	return l.peer.Evaluate(context.Background(), l.proposal(function, args))
}

func ditem(itemid string) []string {
	return []string{"1", itemid, "Heart Rate", "HR", "metavision", "chartevents", "Routine Vital Signs", "bpm", "Numeric", ""}
}

func patient(subjectID string) []string {
	return []string{"234", subjectID, "M", "2075-03-13 00:00:00", "", "", "", "0"}
}

func inputEventCv(rowID string) []string {
	values := make([]string, 21)
	values[0], values[1] = rowID, "24457"
	return values
}

func decodeResults(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var results []map[string]interface{}
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatalf("Failed to decode results %s: %v", data, err)
	}
	return results
}

func TestInsertAndQueryDictionaryItem(t *testing.T) {
	l := newTestLedger(t, nil)

	if _, err := l.invoke("insertDitem", ditem("220000")...); err != nil {
		t.Fatalf("insertDitem failed: %v", err)
	}

	out, err := l.query(FnQueryRecords, `{"selector":{"docType":"dictionaryItem","itemid":"220000"}}`)
	if err != nil {
		t.Fatalf("queryRecords failed: %v", err)
	}

	results := decodeResults(t, out)
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0]["Key"] != "dictionaryItem:220000" {
		t.Errorf("Key = %v", results[0]["Key"])
	}

	record := results[0]["Record"].(map[string]interface{})
	sc, _ := schema.Lookup(schema.DictionaryItem)
	for i, field := range sc.Fields {
		if record[field] != ditem("220000")[i] {
			t.Errorf("%s = %v, want %q", field, record[field], ditem("220000")[i])
		}
	}
	if record["docType"] != "dictionaryItem" {
		t.Errorf("docType = %v", record["docType"])
	}
}

func TestInsertValidation(t *testing.T) {
	l := newTestLedger(t, nil)

	tests := []struct {
		name     string
		function string
		args     []string
		field    string
	}{
		{"EmptyRequiredField", "insertPatient", []string{"234", "10", "", "2075-03-13", "", "", "", "0"}, "gender"},
		{"EmptyIdentity", "insertDitem", []string{"1", "", "", "", "", "", "", "", "", ""}, "itemid"},
		{"TooFewFields", "insertPatient", []string{"234", "10"}, ""},
		{"TooManyFields", "insertDitem", append(ditem("1"), "extra"), ""},
		{"ReservedRuneInKey", "insertDitem", ditem("22\x000"), "itemid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.invoke(tt.function, tt.args...)
			ve := AsValidationError(err)
			if ve == nil {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}

	latest, err := l.store.GetLatestChainEntry()
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Errorf("rejected inserts reached the chain: %+v", latest)
	}
}

func TestIndexEntryIsWrittenWithRecord(t *testing.T) {
	l := newTestLedger(t, nil)

	if _, err := l.invoke("insertPatient", patient("10")...); err != nil {
		t.Fatalf("insertPatient failed: %v", err)
	}

	key, _ := ledger.CreateCompositeKey("recordType~subjectId", []string{"patient", "10"})
	marker, err := l.store.GetState(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(marker) != 1 || marker[0] != 0x00 {
		t.Errorf("index entry = %q, want sentinel", marker)
	}
}

func TestUniqueness(t *testing.T) {
	t.Run("Policy", func(t *testing.T) {
		store := NewStore(map[string]bool{schema.Patient: true})
		want := map[string]bool{
			schema.Patient:        true,
			schema.DictionaryItem: false,
			schema.Prescription:   false,
			schema.InputEventMv:   false,
			schema.InputEventCv:   true,
		}
		for name, unique := range want {
			if got := store.EnforcesUniqueness(name); got != unique {
				t.Errorf("EnforcesUniqueness(%s) = %v, want %v", name, got, unique)
			}
		}
	})

	t.Run("CareVueRejectsDuplicates", func(t *testing.T) {
		l := newTestLedger(t, nil)
		if _, err := l.invoke("insertInputeventCv", inputEventCv("7")...); err != nil {
			t.Fatalf("first insert failed: %v", err)
		}
		_, err := l.invoke("insertInputeventCv", inputEventCv("7")...)
		if !IsDuplicateKeyError(err) {
			t.Fatalf("Expected DuplicateKeyError, got %v", err)
		}
	})

	t.Run("OtherTypesOverwrite", func(t *testing.T) {
		l := newTestLedger(t, nil)
		for i := 0; i < 2; i++ {
			if _, err := l.invoke("insertDitem", ditem("220000")...); err != nil {
				t.Fatalf("insert %d failed: %v", i, err)
			}
		}

		out, err := l.query(FnGetHistoryForRecord, schema.DictionaryItem, "220000")
		if err != nil {
			t.Fatalf("getHistoryForRecord failed: %v", err)
		}
		history := decodeResults(t, out)
		if len(history) != 2 {
			t.Fatalf("Expected 2 history entries, got %d", len(history))
		}
		if history[0]["TxId"] != "tx1" || history[1]["TxId"] != "tx2" {
			t.Errorf("unexpected history order: %v", history)
		}
	})

	t.Run("ConfigurableOverride", func(t *testing.T) {
		l := newTestLedger(t, map[string]bool{schema.InputEventCv: false, schema.Patient: true})
		for i := 0; i < 2; i++ {
			if _, err := l.invoke("insertInputeventCv", inputEventCv("7")...); err != nil {
				t.Fatalf("insert %d failed: %v", i, err)
			}
		}
		if _, err := l.invoke("insertPatient", patient("10")...); err != nil {
			t.Fatal(err)
		}
		if _, err := l.invoke("insertPatient", patient("10")...); !IsDuplicateKeyError(err) {
			t.Errorf("Expected DuplicateKeyError, got %v", err)
		}
	})
}

func TestRecordTypesDoNotCollide(t *testing.T) {
	l := newTestLedger(t, nil)

	presc := make([]string, 19)
	presc[0], presc[1], presc[2], presc[6], presc[7] = "5", "10", "100", "MAIN", "Heparin"
	mv := make([]string, 31)
	mv[0], mv[1] = "5", "11"

	if _, err := l.invoke("insertPrescription", presc...); err != nil {
		t.Fatal(err)
	}
	if _, err := l.invoke("insertInputeventMv", mv...); err != nil {
		t.Fatal(err)
	}

	for _, recordType := range []string{schema.Prescription, schema.InputEventMv} {
		out, err := l.query(FnListRecords, recordType)
		if err != nil {
			t.Fatalf("listRecords(%s) failed: %v", recordType, err)
		}
		if n := len(decodeResults(t, out)); n != 1 {
			t.Errorf("listRecords(%s) returned %d records", recordType, n)
		}
	}

	out, err := l.query(FnQueryRecords, `{"selector":{"docType":"inputEvent","source":"metavision"}}`)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(decodeResults(t, out)); n != 1 {
		t.Errorf("source selector returned %d records", n)
	}
}

func TestPatientQueries(t *testing.T) {
	l := newTestLedger(t, nil)
	if _, err := l.invoke("insertPatient", patient("10")...); err != nil {
		t.Fatal(err)
	}

	t.Run("QueryPatientById", func(t *testing.T) {
		out, err := l.query(FnQueryPatientByID, "10")
		if err != nil {
			t.Fatal(err)
		}
		results := decodeResults(t, out)
		if len(results) != 1 {
			t.Fatalf("Expected 1 result, got %d", len(results))
		}
	})

	t.Run("QueryPatientByIdNoMatch", func(t *testing.T) {
		out, err := l.query(FnQueryPatientByID, "9999")
		if err != nil {
			t.Fatalf("empty result must not fail: %v", err)
		}
		if string(out) != "[]" {
			t.Errorf("payload = %s, want []", out)
		}
	})

	t.Run("ReadPatient", func(t *testing.T) {
		out, err := l.query(FnReadPatient, "10")
		if err != nil {
			t.Fatal(err)
		}
		var record map[string]string
		if err := json.Unmarshal(out, &record); err != nil {
			t.Fatal(err)
		}
		if record["gender"] != "M" || record["expireFlag"] != "0" {
			t.Errorf("unexpected record %v", record)
		}
	})

	t.Run("ReadPatientMissing", func(t *testing.T) {
		_, err := l.query(FnReadPatient, "11")
		if !IsNotFoundError(err) {
			t.Errorf("Expected NotFoundError, got %v", err)
		}
	})

	t.Run("ReadPatientEmptyID", func(t *testing.T) {
		_, err := l.query(FnReadPatient, "")
		ve := AsValidationError(err)
		if ve == nil {
			t.Fatalf("Expected ValidationError, got %v", err)
		}
		if ve.Field != "subjectId" {
			t.Errorf("Expected field subjectId, got %q", ve.Field)
		}
	})

	t.Run("WrongArgumentCount", func(t *testing.T) {
		_, err := l.query(FnQueryPatientByID)
		if !IsValidationError(err) {
			t.Errorf("Expected ValidationError, got %v", err)
		}
	})

	t.Run("UnknownFunction", func(t *testing.T) {
		if _, err := l.query("deletePatient", "10"); err == nil {
			t.Error("Expected error for unknown function")
		}
	})
}

type fakeIterator struct {
	results []*ledger.QueryResult
	failAt  int
	pos     int
	closed  bool
}

func (it *fakeIterator) HasNext() bool {
	return it.pos < len(it.results)
}

func (it *fakeIterator) Next() (*ledger.QueryResult, error) {
	if it.failAt > 0 && it.pos == it.failAt {
		return nil, errors.New("iterator broke")
	}
	r := it.results[it.pos]
	it.pos++
	return r, nil
}

func (it *fakeIterator) Close() error {
	it.closed = true
	return nil
}

func TestGetAllResults(t *testing.T) {
	t.Run("RawFallbackAndEmptySkip", func(t *testing.T) {
		it := &fakeIterator{results: []*ledger.QueryResult{
			{Key: "a", Value: []byte(`{"n":1}`)},
			{Key: "b", Value: []byte(`not json`)},
			{Key: "c"},
		}}

		results, err := GetAllResults(it, false)
		if err != nil {
			t.Fatalf("GetAllResults failed: %v", err)
		}
		if !it.closed {
			t.Error("iterator was not closed")
		}
		if len(results) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(results))
		}
		if results[1].Record != "not json" {
			t.Errorf("raw fallback = %v", results[1].Record)
		}
	})

	t.Run("History", func(t *testing.T) {
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		it := &fakeIterator{results: []*ledger.QueryResult{
			{Key: "a", Value: []byte(`{"n":1}`), TxID: "tx1", Timestamp: ts},
			{Key: "a", TxID: "tx2", Timestamp: ts, IsDelete: true},
		}}

		results, err := GetAllResults(it, true)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(results))
		}
		if results[0].TxID != "tx1" || results[0].Value == nil {
			t.Errorf("unexpected first entry %+v", results[0])
		}
		if !results[1].IsDelete || results[1].Value != nil {
			t.Errorf("unexpected delete entry %+v", results[1])
		}
	})

	t.Run("IteratorErrorStopsAndCloses", func(t *testing.T) {
		it := &fakeIterator{
			results: []*ledger.QueryResult{{Key: "a", Value: []byte("1")}, {Key: "b", Value: []byte("2")}},
			failAt:  1,
		}
		if _, err := GetAllResults(it, false); err == nil {
			t.Error("Expected iterator error")
		}
		if !it.closed {
			t.Error("iterator was not closed")
		}
	})
}

func TestProperty_PatientRoundTrip(t *testing.T) {
	l := newTestLedger(t, nil)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a stored patient reads back with the same fields", prop.ForAll(
		func(subjectID, gender, dob, dod string) bool {
			values := []string{"1", subjectID, gender, dob, dod, "", "", "1"}
			if _, err := l.invoke("insertPatient", values...); err != nil {
				return false
			}

			out, err := l.query(FnReadPatient, subjectID)
			if err != nil {
				return false
			}
			var record map[string]string
			if err := json.Unmarshal(out, &record); err != nil {
				return false
			}

			sc, _ := schema.Lookup(schema.Patient)
			for i, field := range sc.Fields {
				if record[field] != values[i] {
					return false
				}
			}
			return record["docType"] == "patient"
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
