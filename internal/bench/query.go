package bench

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/clinledger/clinledger/internal/client"
	"github.com/clinledger/clinledger/internal/records"
)

const (
	DefaultQueryTimeout = 1000 * time.Millisecond
	DefaultQueryMin     = 1
	DefaultQueryMax     = 10000
)

// QueryWorkload queries a uniformly random identifier in [Min, Max] per Run.
type QueryWorkload struct {
	Function string
	Min      int
	Max      int
	Timeout  time.Duration
	// IntN returns a value in [0, n); nil uses math/rand/v2.
	IntN func(n int) int

	env     *Env
	builder TxBuilder
}

func (w *QueryWorkload) Name() string {
	if w.Function == "" {
		return records.FnQueryPatientByID
	}
	return w.Function
}

func (w *QueryWorkload) Init(ctx context.Context, env *Env) error {
	builder, err := BuilderFor(env.Client.Type())
	if err != nil {
		return err
	}

	if w.Function == "" {
		w.Function = records.FnQueryPatientByID
	}
	if w.Min == 0 && w.Max == 0 {
		w.Min, w.Max = DefaultQueryMin, DefaultQueryMax
	}
	if w.Min > w.Max {
		return fmt.Errorf("invalid id range [%d, %d]", w.Min, w.Max)
	}
	if w.Timeout == 0 {
		w.Timeout = DefaultQueryTimeout
	}
	if w.IntN == nil {
		w.IntN = rand.IntN
	}

	w.env = env
	w.builder = builder
	return nil
}

func (w *QueryWorkload) nextID() string {
	return strconv.Itoa(w.Min + w.IntN(w.Max-w.Min+1))
}

func (w *QueryWorkload) Run(ctx context.Context) ([]*client.TxResult, error) {
	tx := w.builder.BuildQuery(w.Function, w.nextID())

	results, err := w.env.Client.Query(ctx, w.env.Contract, w.env.Version, tx, w.Timeout)
	if err != nil {
		return nil, err
	}

	if err := recordSamples(ctx, w.env, w.Name(), results); err != nil {
		return results, err
	}
	return results, nil
}

func (w *QueryWorkload) End(ctx context.Context) error {
	return nil
}
