package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/clinledger/clinledger/internal/client"
	"github.com/clinledger/clinledger/internal/consensus"
	"github.com/clinledger/clinledger/internal/ledger"
	"github.com/clinledger/clinledger/internal/records"
	"github.com/clinledger/clinledger/internal/schema"
	"github.com/clinledger/clinledger/internal/storage"
)

// app is an opened ledger: storage, the peer with the records contract installed, and
// the raft node when consensus is enabled.
type app struct {
	store  *storage.Storage
	peer   *ledger.Peer
	node   *consensus.Node
	client *client.Gateway
	logger *slog.Logger
}

// openApp opens the local ledger. withRaft starts the raft node and routes submissions
// through it when raft is enabled in the config.
func openApp(ctx context.Context, withRaft bool) (*app, error) {
	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.New(cfg.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	overrides, err := cfg.Ledger.UniquenessOverrides()
	if err != nil {
		store.Close()
		return nil, err
	}

	logger := slog.Default()

	id := storage.Identity{Flavor: client.FlavorChaincode, Contract: cfg.Ledger.Contract, Version: cfg.Ledger.Version}
	previous, err := store.RecordIdentity(id)
	if err != nil {
		store.Close()
		return nil, err
	}
	if previous.Contract != "" && previous != id {
		logger.Warn("Ledger contract changed",
			"from", previous.Contract+"@"+previous.Version,
			"to", id.Contract+"@"+id.Version)
	}

	recordStore := records.NewStore(overrides)
	var unique []string
	for _, name := range schema.Names() {
		if recordStore.EnforcesUniqueness(name) {
			unique = append(unique, name)
		}
	}
	logger.Info("Ledger opened",
		"path", cfg.LedgerPath(),
		"contract", id.Contract+"@"+id.Version,
		"unique_record_types", unique)

	peer := ledger.NewPeer(store, logger)
	peer.Install(cfg.Ledger.Contract, cfg.Ledger.Version, records.NewContract(recordStore))

	a := &app{store: store, peer: peer, logger: logger}

	var submitter client.Submitter = peer
	if withRaft && cfg.Raft.Enabled {
		node, err := consensus.NewNode(&consensus.NodeConfig{
			NodeID:    cfg.Node.ID,
			BindAddr:  cfg.Node.BindAddr,
			DataDir:   cfg.Node.DataDir,
			Bootstrap: cfg.Node.Bootstrap,
			PeerAddrs: cfg.Node.PeerAddrs,
		}, peer, store, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create raft node: %w", err)
		}
		if err := node.Start(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to start raft node: %w", err)
		}
		a.node = node

		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := node.WaitForLeader(waitCtx); err != nil {
			a.Close()
			return nil, fmt.Errorf("no raft leader: %w", err)
		}
		logger.Info("Raft node started", "leader", node.Leader(), "is_leader", node.IsLeader())
		submitter = node
	}

	a.client = client.NewGateway(submitter, peer, logger)
	return a, nil
}

func (a *app) Close() {
	if a.node != nil {
		if err := a.node.Stop(); err != nil {
			a.logger.Warn("Failed to stop raft node", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close storage", "error", err)
	}
}

// chainHeight is the sequence number of the latest committed transaction.
func (a *app) chainHeight() uint64 {
	latest, err := a.store.GetLatestChainEntry()
	if err != nil || latest == nil {
		return 0
	}
	return latest.SequenceNum
}
