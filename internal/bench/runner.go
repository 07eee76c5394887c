package bench

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/clinledger/clinledger/internal/latency"
	"github.com/clinledger/clinledger/internal/metrics"
	"github.com/clinledger/clinledger/internal/stream"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type RunnerConfig struct {
	Workers int
	// Rounds per worker; zero runs until the source ends or the context is done.
	Rounds int
	// TPS caps the submission rate across all workers; zero is unlimited.
	TPS float64
}

type Report struct {
	Workload  string
	Succeeded int64
	Failed    int64
	Elapsed   time.Duration
}

// Runner runs one workload instance per worker. Workers never share a workload, so each
// insert worker reads the source through its own cursor.
type Runner struct {
	cfg         RunnerConfig
	newWorkload func() Workload
	env         *Env
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewRunner(cfg RunnerConfig, newWorkload func() Workload, env *Env, m *metrics.Metrics) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Runner{
		cfg:         cfg,
		newWorkload: newWorkload,
		env:         env,
		metrics:     m,
		logger:      env.logger().With("component", "bench"),
	}
}

// Run returns the first fatal error: a workload that cannot start or a lost latency sample.
// Rejected and timed out transactions are counted as failures and do not stop the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	var limiter *rate.Limiter
	if r.cfg.TPS > 0 {
		burst := int(r.cfg.TPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(r.cfg.TPS), burst)
	}

	var succeeded, failed atomic.Int64
	report := &Report{}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		w := r.newWorkload()
		if i == 0 {
			report.Workload = w.Name()
		}
		worker := i
		g.Go(func() error {
			return r.work(gctx, worker, w, limiter, &succeeded, &failed)
		})
	}

	err := g.Wait()
	report.Succeeded = succeeded.Load()
	report.Failed = failed.Load()
	report.Elapsed = time.Since(start)

	r.logger.Info("Benchmark finished",
		"workload", report.Workload,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"elapsed", report.Elapsed)

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return report, err
	}
	return report, nil
}

func (r *Runner) work(ctx context.Context, id int, w Workload, limiter *rate.Limiter, succeeded, failed *atomic.Int64) error {
	if err := w.Init(ctx, r.env); err != nil {
		return err
	}
	defer func() {
		if err := w.End(context.Background()); err != nil {
			r.logger.Warn("Workload end failed", "worker", id, "error", err)
		}
	}()

	if r.metrics != nil {
		r.metrics.WorkersActive.Inc()
		defer r.metrics.WorkersActive.Dec()
	}

	for round := 0; r.cfg.Rounds == 0 || round < r.cfg.Rounds; round++ {
		if limiter != nil {
			// Wait fails early when the next token lies past the deadline.
			if err := limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		results, err := w.Run(ctx)
		if errors.Is(err, stream.ErrEndOfStream) {
			r.logger.Debug("Source exhausted", "worker", id, "rounds", round)
			return nil
		}
		if latency.IsSinkWriteError(err) {
			if r.metrics != nil {
				r.metrics.SinkFailuresTotal.Inc()
			}
			return err
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed.Add(1)
			r.observe(w.Name(), "failed", 0)
			r.logger.Warn("Transaction failed", "worker", id, "workload", w.Name(), "error", err)
			continue
		}

		for _, res := range results {
			succeeded.Add(1)
			r.observe(w.Name(), "success", res.Latency())
		}
	}
	return nil
}

func (r *Runner) observe(workload, status string, d time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.TransactionsTotal.WithLabelValues(workload, status).Inc()
	if status == "success" {
		r.metrics.TransactionLatency.WithLabelValues(workload).Observe(d.Seconds())
	}
}
