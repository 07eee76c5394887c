package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/clinledger/clinledger/internal/ledger"
	"github.com/google/uuid"
)

// Gateway is the in-process Client. Invokes go to the submitter, queries to the evaluator.
type Gateway struct {
	submitter Submitter
	evaluator Evaluator
	now       func() time.Time
	logger    *slog.Logger
}

func NewGateway(submitter Submitter, evaluator Evaluator, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		submitter: submitter,
		evaluator: evaluator,
		now:       time.Now,
		logger:    logger.With("component", "gateway"),
	}
}

func (g *Gateway) Type() string {
	return FlavorChaincode
}

// Invoke submits txs in order and stops at the first failure.
func (g *Gateway) Invoke(ctx context.Context, contract, version string, txs []Transaction, timeout time.Duration) ([]*TxResult, error) {
	results := make([]*TxResult, 0, len(txs))
	for _, tx := range txs {
		res, err := g.execute(ctx, g.submitter.Submit, contract, version, tx, timeout)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (g *Gateway) Query(ctx context.Context, contract, version string, tx Transaction, timeout time.Duration) ([]*TxResult, error) {
	res, err := g.execute(ctx, g.evaluator.Evaluate, contract, version, tx, timeout)
	if err != nil {
		return nil, err
	}
	return []*TxResult{res}, nil
}

type executeFunc func(ctx context.Context, prop *ledger.Proposal) ([]byte, error)

type outcome struct {
	payload []byte
	err     error
}

// execute runs one proposal under timeout. A ledger that does not honour the context is
// abandoned when the deadline passes; its outcome is then unknown to the caller.
func (g *Gateway) execute(ctx context.Context, fn executeFunc, contract, version string, tx Transaction, timeout time.Duration) (*TxResult, error) {
	created := g.now()
	prop := &ledger.Proposal{
		TxID:      uuid.NewString(),
		Contract:  contract,
		Version:   version,
		Function:  tx.Function,
		Args:      tx.Args,
		Timestamp: created.UTC(),
	}

	tctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		payload, err := fn(tctx, prop)
		done <- outcome{payload: payload, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-tctx.Done():
		out = outcome{err: tctx.Err()}
	}
	final := g.now()

	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			g.logger.Warn("Transaction timed out", "tx_id", prop.TxID, "function", tx.Function, "timeout", timeout)
			return nil, NewTimeoutError(prop.TxID, tx.Function, timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewRejectedError(prop.TxID, tx.Function, out.err)
	}

	return &TxResult{
		ID:         prop.TxID,
		Status:     StatusSuccess,
		CreateTime: created,
		FinalTime:  final,
		Payload:    out.payload,
	}, nil
}
