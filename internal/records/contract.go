package records

import (
	"encoding/json"
	"fmt"

	"github.com/clinledger/clinledger/internal/ledger"
	"github.com/clinledger/clinledger/internal/schema"
)

const (
	DefaultContractName    = "testecouch"
	DefaultContractVersion = "v0"
)

const (
	FnQueryPatientByID    = "queryPatientById"
	FnReadPatient         = "readPatient"
	FnQueryRecords        = "queryRecords"
	FnGetHistoryForRecord = "getHistoryForRecord"
	FnListRecords         = "listRecords"
)

// Contract exposes a Store to the ledger under the function names clients call.
type Contract struct {
	store *Store
}

func NewContract(store *Store) *Contract {
	return &Contract{store: store}
}

func (c *Contract) Invoke(stub ledger.Stub, function string, args []string) ([]byte, error) {
	if sc, ok := schema.ByInsertFunction(function); ok {
		return c.store.Insert(stub, sc.Name, args)
	}

	switch function {
	case FnQueryPatientByID:
		if err := expectArgs(function, args, 1); err != nil {
			return nil, err
		}
		return marshalResults(c.store.QueryPatientByID(stub, args[0]))
	case FnReadPatient:
		if err := expectArgs(function, args, 1); err != nil {
			return nil, err
		}
		return c.store.ReadPatient(stub, args[0])
	case FnQueryRecords:
		if err := expectArgs(function, args, 1); err != nil {
			return nil, err
		}
		return marshalResults(c.store.QueryRecords(stub, args[0]))
	case FnGetHistoryForRecord:
		if err := expectArgs(function, args, 2); err != nil {
			return nil, err
		}
		return marshalResults(c.store.GetHistory(stub, args[0], args[1]))
	case FnListRecords:
		if err := expectArgs(function, args, 1); err != nil {
			return nil, err
		}
		return marshalResults(c.store.ListByType(stub, args[0]))
	}

	return nil, fmt.Errorf("received unknown function invocation: %s", function)
}

func expectArgs(function string, args []string, n int) error {
	if len(args) != n {
		return NewValidationError(function, "",
			fmt.Sprintf("incorrect number of arguments, expecting %d, got %d", n, len(args)))
	}
	return nil
}

func marshalResults(results []Result, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(results)
}
