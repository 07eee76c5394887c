// Package records persists clinical records on the ledger. Every record type goes through
// one insert path driven by the schema table.
package records

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clinledger/clinledger/internal/ledger"
	"github.com/clinledger/clinledger/internal/schema"
)

var indexMarker = []byte{0x00}

// Store holds the per-type uniqueness policy. It keeps no ledger state of its own.
type Store struct {
	unique map[string]bool
}

// NewStore starts from the schema defaults; overrides switch uniqueness per record type.
func NewStore(overrides map[string]bool) *Store {
	unique := make(map[string]bool)
	for _, name := range schema.Names() {
		s, _ := schema.Lookup(name)
		unique[name] = s.Unique
	}
	for name, v := range overrides {
		unique[name] = v
	}
	return &Store{unique: unique}
}

func (s *Store) EnforcesUniqueness(recordType string) bool {
	return s.unique[recordType]
}

// Insert validates values against the record type, then writes the record and its index
// entry. Both writes belong to the stub's transaction.
func (s *Store) Insert(stub ledger.Stub, recordType string, values []string) ([]byte, error) {
	sc, ok := schema.Lookup(recordType)
	if !ok {
		return nil, NewValidationError(recordType, "", "unknown record type")
	}

	if len(values) != sc.Arity() {
		return nil, NewValidationError(recordType, "",
			fmt.Sprintf("incorrect number of arguments, expecting %d, got %d", sc.Arity(), len(values)))
	}
	for _, idx := range sc.Required {
		if values[idx] == "" {
			return nil, NewValidationError(recordType, sc.Fields[idx], "must be a non-empty string")
		}
	}

	record := &schema.Record{Schema: sc, Values: values}
	id := record.Identity()

	indexKey, err := stub.CreateCompositeKey(sc.IndexName(), []string{sc.Name, id})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidCompositeKey) {
			return nil, NewValidationError(recordType, sc.IdentityField(), "cannot be used as a key attribute")
		}
		return nil, fmt.Errorf("failed to create index key: %w", err)
	}

	key := sc.StateKey(id)
	if s.EnforcesUniqueness(recordType) {
		existing, err := stub.GetState(key)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", recordType, err)
		}
		if existing != nil {
			return nil, NewDuplicateKeyError(recordType, id)
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", recordType, err)
	}

	if err := stub.PutState(key, data); err != nil {
		return nil, fmt.Errorf("failed to put %s: %w", recordType, err)
	}
	if err := stub.PutState(indexKey, indexMarker); err != nil {
		return nil, fmt.Errorf("failed to put index %s: %w", sc.IndexName(), err)
	}

	return data, nil
}

// QueryPatientByID returns every stored patient whose subjectId is subjectID. No match is an
// empty result, not an error.
func (s *Store) QueryPatientByID(stub ledger.Stub, subjectID string) ([]Result, error) {
	query, err := json.Marshal(map[string]interface{}{
		"selector": map[string]interface{}{
			"docType":   "patient",
			"subjectId": subjectID,
		},
	})
	if err != nil {
		return nil, err
	}
	return s.QueryRecords(stub, string(query))
}

// ReadPatient looks up one patient by its state key.
func (s *Store) ReadPatient(stub ledger.Stub, subjectID string) ([]byte, error) {
	sc, _ := schema.Lookup(schema.Patient)
	if subjectID == "" {
		return nil, NewValidationError(sc.Name, sc.IdentityField(), "must be a non-empty string")
	}
	key := sc.StateKey(subjectID)

	data, err := stub.GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, NewNotFoundError(key)
	}
	return data, nil
}

func (s *Store) QueryRecords(stub ledger.Stub, query string) ([]Result, error) {
	iter, err := stub.GetQueryResult(query)
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}
	return GetAllResults(iter, false)
}

// GetHistory returns every committed write to one record, oldest first.
func (s *Store) GetHistory(stub ledger.Stub, recordType, id string) ([]Result, error) {
	sc, ok := schema.Lookup(recordType)
	if !ok {
		return nil, NewValidationError(recordType, "", "unknown record type")
	}

	iter, err := stub.GetHistoryForKey(sc.StateKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return GetAllResults(iter, true)
}

// ListByType walks the index of recordType and resolves every entry to its record.
func (s *Store) ListByType(stub ledger.Stub, recordType string) ([]Result, error) {
	sc, ok := schema.Lookup(recordType)
	if !ok {
		return nil, NewValidationError(recordType, "", "unknown record type")
	}

	iter, err := stub.GetStateByPartialCompositeKey(sc.IndexName(), []string{sc.Name})
	if err != nil {
		return nil, fmt.Errorf("failed to scan index %s: %w", sc.IndexName(), err)
	}
	defer iter.Close()

	results := make([]Result, 0)
	for iter.HasNext() {
		entry, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read index: %w", err)
		}

		_, attrs, err := stub.SplitCompositeKey(entry.Key)
		if err != nil {
			return nil, err
		}
		if len(attrs) != 2 {
			continue
		}

		key := sc.StateKey(attrs[1])
		data, err := stub.GetState(key)
		if err != nil {
			return nil, fmt.Errorf("failed to get state for %s: %w", key, err)
		}
		if len(data) == 0 {
			continue
		}
		results = append(results, Result{Key: key, Record: decodeValue(data)})
	}
	return results, nil
}
