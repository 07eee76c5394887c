// Package ledger is the transactional key-value service that contracts run against: a
// peer executes each proposal inside one storage transaction and exposes state reads,
// writes, composite keys, selector queries and key history through a Stub.
package ledger

import (
	"errors"
	"time"
)

var (
	ErrUnknownContract = errors.New("unknown contract")
	ErrReadOnly        = errors.New("write attempted in read-only evaluation")
	ErrIteratorDone    = errors.New("iterator exhausted")
)

// Stub is the ledger API visible to a contract while it executes one proposal.
type Stub interface {
	TxID() string
	TxTimestamp() time.Time

	GetState(key string) ([]byte, error)
	PutState(key string, value []byte) error
	DelState(key string) error

	CreateCompositeKey(objectType string, attributes []string) (string, error)
	SplitCompositeKey(key string) (string, []string, error)
	GetStateByPartialCompositeKey(objectType string, attributes []string) (ResultsIterator, error)

	// GetQueryResult runs a JSON selector query over the stored documents.
	GetQueryResult(query string) (ResultsIterator, error)
	GetHistoryForKey(key string) (ResultsIterator, error)
}

// QueryResult is one element produced by a ResultsIterator. Key and Value are set for state
// queries; history iterators also fill TxID, Timestamp and IsDelete.
type QueryResult struct {
	Key       string
	Value     []byte
	TxID      string
	Timestamp time.Time
	IsDelete  bool
}

type ResultsIterator interface {
	HasNext() bool
	Next() (*QueryResult, error)
	Close() error
}

// Contract is the code a peer runs for a proposal.
type Contract interface {
	Invoke(stub Stub, function string, args []string) ([]byte, error)
}

// Proposal is one transaction as it reaches a peer. Everything a contract may observe is
// carried here so that replaying a proposal yields the same writes.
type Proposal struct {
	TxID      string    `json:"tx_id"`
	Contract  string    `json:"contract"`
	Version   string    `json:"version"`
	Function  string    `json:"function"`
	Args      []string  `json:"args"`
	Timestamp time.Time `json:"timestamp"`
}
