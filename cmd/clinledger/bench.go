package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinledger/clinledger/internal/alert"
	"github.com/clinledger/clinledger/internal/bench"
	"github.com/clinledger/clinledger/internal/config"
	"github.com/clinledger/clinledger/internal/latency"
	"github.com/clinledger/clinledger/internal/mapper"
	"github.com/clinledger/clinledger/internal/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the configured insert or query workload",
	RunE:  runBench,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize recorded latencies",
	RunE:  runReport,
}

func init() {
	benchCmd.Flags().String("workload", "", "insert or query (overrides benchmark.workload)")
	benchCmd.Flags().String("record-type", "", "record type to insert (overrides benchmark.record_type)")
	benchCmd.Flags().String("source", "", "source file (overrides benchmark.source)")
	benchCmd.Flags().Int("workers", 0, "concurrent workers (overrides benchmark.workers)")
	benchCmd.Flags().Int("rounds", 0, "rounds per worker (overrides benchmark.rounds)")

	reportCmd.Flags().String("workload", "", "only report samples of this workload (postgres sink)")
}

func applyBenchFlags(cmd *cobra.Command, b *config.BenchmarkConfig) error {
	flags := cmd.Flags()
	if flags.Changed("workload") {
		b.Workload, _ = flags.GetString("workload")
	}
	if flags.Changed("record-type") {
		b.RecordType, _ = flags.GetString("record-type")
	}
	if flags.Changed("source") {
		b.Source, _ = flags.GetString("source")
	}
	if flags.Changed("workers") {
		b.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("rounds") {
		b.Rounds, _ = flags.GetInt("rounds")
	}
	return cfg.Validate()
}

func openSink(ctx context.Context) (latency.Sink, error) {
	if cfg.Latency.Sink == config.SinkPostgres {
		return latency.NewPgSink(ctx, cfg.Database.ConnectionString())
	}
	return latency.NewFileSink(cfg.Latency.Path)
}

func newWorkloadFactory(b config.BenchmarkConfig) func() bench.Workload {
	insertTimeout, queryTimeout, _ := b.Durations()

	if b.Workload == config.WorkloadQuery {
		return func() bench.Workload {
			return &bench.QueryWorkload{
				Function: b.QueryFunction,
				Min:      b.QueryMin,
				Max:      b.QueryMax,
				Timeout:  queryTimeout,
			}
		}
	}
	return func() bench.Workload {
		return &bench.InsertWorkload{
			RecordType:  b.RecordType,
			Source:      b.Source,
			HeaderBytes: b.HeaderBytes,
			Mapper:      mapper.New(b.Separator, b.Quoted),
			Timeout:     insertTimeout,
		}
	}
}

func runBench(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if err := applyBenchFlags(cmd, &cfg.Benchmark); err != nil {
		return err
	}

	ctx := cmd.Context()
	if _, _, run := cfg.Benchmark.Durations(); run > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run)
		defer cancel()
	}

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	sink, err := openSink(ctx)
	if err != nil {
		return fmt.Errorf("failed to open latency sink: %w", err)
	}
	defer sink.Close()

	m := metrics.New()
	env := &bench.Env{
		Client:   a.client,
		Contract: cfg.Ledger.Contract,
		Version:  cfg.Ledger.Version,
		Sink:     sink,
		Logger:   a.logger,
	}
	runner := bench.NewRunner(bench.RunnerConfig{
		Workers: cfg.Benchmark.Workers,
		Rounds:  cfg.Benchmark.Rounds,
		TPS:     cfg.Benchmark.TPS,
	}, newWorkloadFactory(cfg.Benchmark), env, m)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopMetrics := context.WithCancel(gctx)
	if cfg.Benchmark.MetricsAddr != "" {
		g.Go(func() error {
			return m.Serve(runCtx, cfg.Benchmark.MetricsAddr)
		})
	}

	var report *bench.Report
	g.Go(func() error {
		defer stopMetrics()
		var err error
		report, err = runner.Run(runCtx)
		m.ChainHeight.Set(float64(a.chainHeight()))
		return err
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		alerts := alert.NewManager(cfg.Alert.Enabled, cfg.Alert.SlackWebhook, cfg.Node.ID)
		if aerr := alerts.SendSystemAlert(context.Background(), "Benchmark aborted", err.Error(), "danger"); aerr != nil {
			a.logger.Warn("Failed to send alert", "error", aerr)
		}
		return err
	}

	if report != nil {
		fmt.Printf("%s: %d succeeded, %d failed in %v\n",
			report.Workload, report.Succeeded, report.Failed, report.Elapsed.Round(time.Millisecond))
	}
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	var durations []time.Duration
	var err error
	if cfg.Latency.Sink == config.SinkPostgres {
		workload, _ := cmd.Flags().GetString("workload")
		durations, err = latency.LoadDurations(cmd.Context(), cfg.Database.ConnectionString(), workload)
	} else {
		durations, err = latency.ReadFile(cfg.Latency.Path)
	}
	if err != nil {
		return err
	}

	s := latency.Summarize(durations)
	fmt.Printf("samples: %d\n", s.Count)
	if s.Count == 0 {
		return nil
	}
	fmt.Printf("min:  %v\n", s.Min)
	fmt.Printf("mean: %v\n", s.Mean)
	fmt.Printf("p50:  %v\n", s.P50)
	fmt.Printf("p90:  %v\n", s.P90)
	fmt.Printf("p95:  %v\n", s.P95)
	fmt.Printf("p99:  %v\n", s.P99)
	fmt.Printf("max:  %v\n", s.Max)
	return nil
}
