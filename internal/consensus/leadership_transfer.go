package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// LeadershipRotator hands leadership to another voter on a fixed interval, spreading the
// ordering load of a long benchmark across the cluster.
type LeadershipRotator struct {
	node     leaderTransferer
	interval time.Duration
	stopCh   chan struct{}
	logger   *slog.Logger
}

type leaderTransferer interface {
	TransferLeadership() error
	Leader() string
}

func NewLeadershipRotator(node leaderTransferer, interval time.Duration, logger *slog.Logger) *LeadershipRotator {
	if logger == nil {
		logger = slog.Default()
	}

	return &LeadershipRotator{
		node:     node,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (r *LeadershipRotator) Start(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("invalid interval: %v", r.interval)
	}

	r.logger.Info("Leadership rotator started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.rotate()
		case <-r.stopCh:
			r.logger.Info("Leadership rotator stopped")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *LeadershipRotator) rotate() {
	previous := r.node.Leader()

	err := r.node.TransferLeadership()
	if errors.Is(err, ErrNotLeader) {
		r.logger.Debug("Not the leader, skipping leadership transfer")
		return
	}
	if err != nil {
		r.logger.Error("Leadership transfer failed", "error", err)
		return
	}

	r.logger.Info("Leadership transferred", "old_leader", previous, "new_leader", r.node.Leader())
}

func (r *LeadershipRotator) Stop() {
	close(r.stopCh)
}
