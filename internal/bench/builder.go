package bench

import (
	"github.com/clinledger/clinledger/internal/client"
	"github.com/clinledger/clinledger/internal/schema"
)

// TxBuilder turns records and query ids into the transactions one ledger flavor accepts.
type TxBuilder interface {
	BuildInsert(rec *schema.Record) []client.Transaction
	BuildQuery(function, id string) client.Transaction
}

func BuilderFor(flavor string) (TxBuilder, error) {
	switch flavor {
	case client.FlavorChaincode:
		return chaincodeBuilder{}, nil
	}
	return nil, NewUnsupportedFlavorError(flavor)
}

type chaincodeBuilder struct{}

func (chaincodeBuilder) BuildInsert(rec *schema.Record) []client.Transaction {
	args := make([]string, len(rec.Values))
	copy(args, rec.Values)
	return []client.Transaction{{
		Function: rec.Schema.InsertFunction,
		Args:     args,
	}}
}

func (chaincodeBuilder) BuildQuery(function, id string) client.Transaction {
	return client.Transaction{
		Function: function,
		Args:     []string{id},
	}
}
