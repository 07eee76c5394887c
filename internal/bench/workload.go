// Package bench drives benchmark workloads against a ledger client and records the latency
// of every transaction.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clinledger/clinledger/internal/client"
	"github.com/clinledger/clinledger/internal/latency"
)

// Env is everything a workload needs from its surroundings.
type Env struct {
	Client   client.Client
	Contract string
	Version  string
	Sink     latency.Sink
	Logger   *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Workload is one benchmark round: Init once, Run per invocation, End once.
type Workload interface {
	Name() string
	Init(ctx context.Context, env *Env) error
	Run(ctx context.Context) ([]*client.TxResult, error)
	End(ctx context.Context) error
}

type UnsupportedFlavorError struct {
	Flavor string
}

func (e *UnsupportedFlavorError) Error() string {
	return fmt.Sprintf("unsupported ledger flavor: %q", e.Flavor)
}

func NewUnsupportedFlavorError(flavor string) *UnsupportedFlavorError {
	return &UnsupportedFlavorError{Flavor: flavor}
}

func IsUnsupportedFlavorError(err error) bool {
	var ue *UnsupportedFlavorError
	return errors.As(err, &ue)
}

// recordSamples appends one sample per result. The first sink failure is logged and
// returned; the remaining results are not recorded.
func recordSamples(ctx context.Context, env *Env, workload string, results []*client.TxResult) error {
	for _, res := range results {
		sample := latency.Sample{
			Workload: workload,
			Create:   res.CreateTime,
			Finish:   res.FinalTime,
		}
		if err := env.Sink.Append(ctx, sample); err != nil {
			env.logger().Error("Failed to record latency", "workload", workload, "tx_id", res.ID, "error", err)
			if !latency.IsSinkWriteError(err) {
				err = latency.NewSinkWriteError("sink", err)
			}
			return err
		}
	}
	return nil
}
