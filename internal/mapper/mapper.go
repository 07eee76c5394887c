// Package mapper turns one delimited source line into a schema record.
package mapper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/clinledger/clinledger/internal/schema"
)

const DefaultSeparator = ","

type SchemaMismatchError struct {
	RecordType string
	Expected   int
	Got        int
	Message    string
}

func (e *SchemaMismatchError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("schema mismatch for %s: %s", e.RecordType, e.Message)
	}
	return fmt.Sprintf("schema mismatch for %s: expected %d fields, got %d", e.RecordType, e.Expected, e.Got)
}

func NewSchemaMismatchError(recordType string, expected, got int) *SchemaMismatchError {
	return &SchemaMismatchError{
		RecordType: recordType,
		Expected:   expected,
		Got:        got,
	}
}

func IsSchemaMismatchError(err error) bool {
	var se *SchemaMismatchError
	return errors.As(err, &se)
}

func AsSchemaMismatchError(err error) *SchemaMismatchError {
	var se *SchemaMismatchError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// Mapper splits lines on Separator. With Quoted set, fields may be wrapped in double quotes
// and contain the separator, as in the MIMIC-III CSV exports.
type Mapper struct {
	Separator string
	Quoted    bool
}

func New(separator string, quoted bool) *Mapper {
	if separator == "" {
		separator = DefaultSeparator
	}
	return &Mapper{Separator: separator, Quoted: quoted}
}

func (m *Mapper) Map(recordType, line string) (*schema.Record, error) {
	sc, ok := schema.Lookup(recordType)
	if !ok {
		return nil, &SchemaMismatchError{RecordType: recordType, Message: "unknown record type"}
	}

	values, err := m.split(line)
	if err != nil {
		return nil, &SchemaMismatchError{RecordType: recordType, Message: err.Error()}
	}
	if len(values) != sc.Arity() {
		return nil, NewSchemaMismatchError(recordType, sc.Arity(), len(values))
	}

	return &schema.Record{Schema: sc, Values: values}, nil
}

func (m *Mapper) split(line string) ([]string, error) {
	if !m.Quoted {
		return strings.Split(line, m.Separator), nil
	}

	r := csv.NewReader(strings.NewReader(line))
	r.Comma = []rune(m.Separator)[0]
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	return fields, nil
}
