// Package client is the boundary the benchmark driver submits transactions through.
package client

import (
	"context"
	"time"

	"github.com/clinledger/clinledger/internal/ledger"
)

// FlavorChaincode identifies ledgers that run contract functions by name with string
// arguments.
const FlavorChaincode = "chaincode"

const StatusSuccess = "success"

// Transaction is the payload handed to a ledger: a target function and its positional
// arguments.
type Transaction struct {
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

type TxResult struct {
	ID         string
	Status     string
	CreateTime time.Time
	FinalTime  time.Time
	Payload    []byte
}

// Latency is the time between creating the transaction and observing its result.
func (r *TxResult) Latency() time.Duration {
	return r.FinalTime.Sub(r.CreateTime)
}

type Client interface {
	Invoke(ctx context.Context, contract, version string, txs []Transaction, timeout time.Duration) ([]*TxResult, error)
	Query(ctx context.Context, contract, version string, tx Transaction, timeout time.Duration) ([]*TxResult, error)
	Type() string
}

// Submitter orders and commits a proposal: a local peer or a raft node.
type Submitter interface {
	Submit(ctx context.Context, prop *ledger.Proposal) ([]byte, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, prop *ledger.Proposal) ([]byte, error)
}
