package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinledger/clinledger/internal/alert"
	"github.com/clinledger/clinledger/internal/consensus"
	"github.com/clinledger/clinledger/internal/metrics"
	"github.com/clinledger/clinledger/internal/verify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a raft ledger node until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		if !cfg.Raft.Enabled {
			return fmt.Errorf("serve requires raft.enabled")
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		alerts := alert.NewManager(cfg.Alert.Enabled, cfg.Alert.SlackWebhook, cfg.Node.ID)
		m := metrics.New()
		g, gctx := errgroup.WithContext(ctx)

		if cfg.Raft.LeadershipTransferInterval != "" {
			interval, _ := time.ParseDuration(cfg.Raft.LeadershipTransferInterval)
			rotator := consensus.NewLeadershipRotator(a.node, interval, a.logger)
			g.Go(func() error {
				if err := rotator.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}

		if cfg.Verify.Interval != "" {
			interval, _ := time.ParseDuration(cfg.Verify.Interval)
			verifier := verify.NewChainVerifier(a.store, alerts, a.logger)
			if err := verifier.Start(gctx, interval); err != nil {
				return err
			}
			defer verifier.Stop()
		}

		if len(cfg.Node.PeerAddrs) > 0 {
			g.Go(func() error {
				ticker := time.NewTicker(10 * time.Second)
				defer ticker.Stop()
				for {
					if a.node.IsLeader() {
						if err := a.node.SyncPeers(cfg.Node.PeerAddrs); err != nil {
							a.logger.Warn("Failed to sync raft membership", "error", err)
						}
					}
					select {
					case <-gctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			})
		}

		if cfg.Benchmark.MetricsAddr != "" {
			g.Go(func() error {
				return m.Serve(gctx, cfg.Benchmark.MetricsAddr)
			})
		}

		g.Go(func() error {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				m.ChainHeight.Set(float64(a.chainHeight()))
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})

		fmt.Printf("Node %s is serving at %s. Press Ctrl+C to stop.\n", cfg.Node.ID, cfg.Node.BindAddr)
		if err := g.Wait(); err != nil {
			return err
		}

		fmt.Println("\nShutting down...")
		return nil
	},
}
