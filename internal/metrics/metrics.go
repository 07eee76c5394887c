// Package metrics defines the Prometheus collectors of the benchmark driver and the ledger
// node, registered on a private registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	TransactionsTotal  *prometheus.CounterVec
	TransactionLatency *prometheus.HistogramVec
	WorkersActive      prometheus.Gauge
	SinkFailuresTotal  prometheus.Counter
	ChainHeight        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinledger_transactions_total",
				Help: "Benchmark transactions by workload and status (success, failed).",
			},
			[]string{"workload", "status"},
		),
		TransactionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clinledger_transaction_latency_seconds",
				Help:    "Transaction latency from creation to result, in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4},
			},
			[]string{"workload"},
		),
		WorkersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clinledger_workers_active",
				Help: "Number of benchmark workers currently running.",
			},
		),
		SinkFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clinledger_sink_failures_total",
				Help: "Latency samples that could not be appended.",
			},
		),
		ChainHeight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clinledger_chain_height",
				Help: "Sequence number of the latest committed transaction.",
			},
		),
	}

	m.Registry.MustRegister(
		m.TransactionsTotal,
		m.TransactionLatency,
		m.WorkersActive,
		m.SinkFailuresTotal,
		m.ChainHeight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
