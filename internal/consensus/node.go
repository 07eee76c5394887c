package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/clinledger/clinledger/internal/ledger"
	"github.com/clinledger/clinledger/internal/storage"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

const defaultApplyTimeout = 10 * time.Second

type NodeConfig struct {
	NodeID        string
	BindAddr      string
	DataDir       string
	Bootstrap     bool
	PeerAddrs     map[string]string
	JoinRetries   int
	JoinRetryWait time.Duration
}

// Node orders proposals through raft and applies them to the local peer.
type Node struct {
	config  *NodeConfig
	raft    *raft.Raft
	fsm     *FSM
	peer    *ledger.Peer
	storage *storage.Storage
	logs    *raftboltdb.BoltStore
	logger  *slog.Logger
}

func NewNode(cfg *NodeConfig, peer *ledger.Peer, store *storage.Storage, logger *slog.Logger) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		config:  cfg,
		peer:    peer,
		storage: store,
		logger:  logger.With("component", "consensus", "node_id", cfg.NodeID),
	}, nil
}

func (n *Node) Start(ctx context.Context) error {
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(n.config.NodeID)

	raftDir := filepath.Join(n.config.DataDir, "raft")
	if err := os.MkdirAll(raftDir, 0755); err != nil {
		return fmt.Errorf("failed to create raft directory: %w", err)
	}

	boltStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %w", err)
	}
	n.logs = boltStore

	logStore, err := raft.NewLogCache(512, boltStore)
	if err != nil {
		return fmt.Errorf("failed to create log cache: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(raftDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", n.config.BindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve address: %w", err)
	}

	transport, err := raft.NewTCPTransport(n.config.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	n.fsm = NewFSM(n.peer, n.storage)

	ra, err := raft.NewRaft(raftConfig, n.fsm, logStore, boltStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	n.raft = ra

	if n.config.Bootstrap {
		hasState, err := raft.HasExistingState(logStore, boltStore, snapshotStore)
		if err != nil {
			return fmt.Errorf("failed to check existing state: %w", err)
		}

		if !hasState {
			servers := []raft.Server{
				{
					ID:      raftConfig.LocalID,
					Address: transport.LocalAddr(),
				},
			}
			for peerID, peerAddr := range n.config.PeerAddrs {
				servers = append(servers, raft.Server{
					ID:      raft.ServerID(peerID),
					Address: raft.ServerAddress(peerAddr),
				})
			}

			future := ra.BootstrapCluster(raft.Configuration{Servers: servers})
			if err := future.Error(); err != nil {
				return fmt.Errorf("failed to bootstrap cluster: %w", err)
			}
			n.logger.Info("Cluster bootstrapped", "servers", len(servers))
		}
	} else if len(n.config.PeerAddrs) > 0 {
		if err := n.waitForMembership(ctx); err != nil {
			return fmt.Errorf("failed to wait for leader: %w", err)
		}
	}

	return nil
}

// waitForMembership blocks until a leader exists and lists this node in the configuration.
func (n *Node) waitForMembership(ctx context.Context) error {
	retries := n.config.JoinRetries
	if retries == 0 {
		retries = 30
	}
	retryWait := n.config.JoinRetryWait
	if retryWait == 0 {
		retryWait = 1 * time.Second
	}

	for i := 0; i < retries; i++ {
		if n.raft.Leader() != "" {
			future := n.raft.GetConfiguration()
			if err := future.Error(); err == nil {
				for _, server := range future.Configuration().Servers {
					if server.ID == raft.ServerID(n.config.NodeID) {
						return nil
					}
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryWait):
		}
	}

	return fmt.Errorf("timeout waiting for leader after %d retries", retries)
}

// WaitForLeader blocks until the cluster has elected a leader.
func (n *Node) WaitForLeader(ctx context.Context) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if addr, _ := n.raft.LeaderWithID(); addr != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (n *Node) Stop() error {
	if n.raft != nil {
		future := n.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}
	if n.logs != nil {
		return n.logs.Close()
	}
	return nil
}

// Submit replicates prop and returns the result of applying it on this node. Only the
// leader accepts proposals.
func (n *Node) Submit(ctx context.Context, prop *ledger.Proposal) ([]byte, error) {
	if !n.IsLeader() {
		return nil, ErrNotLeader
	}

	data, err := json.Marshal(&LogEntry{
		Type:      LogEntryProposal,
		Proposal:  prop,
		Timestamp: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log entry: %w", err)
	}

	timeout := defaultApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if err == raft.ErrEnqueueTimeout && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to apply log: %w", err)
	}

	result, ok := future.Response().(*ApplyResult)
	if !ok {
		return nil, fmt.Errorf("unexpected apply response %T", future.Response())
	}
	return result.Payload, result.Err
}

// Evaluate reads from the local replica without going through the log.
func (n *Node) Evaluate(ctx context.Context, prop *ledger.Proposal) ([]byte, error) {
	return n.peer.Evaluate(ctx, prop)
}

func (n *Node) IsLeader() bool {
	return n.raft != nil && n.raft.State() == raft.Leader
}

func (n *Node) Leader() string {
	if n.raft == nil {
		return ""
	}
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

func (n *Node) Stats() map[string]string {
	if n.raft == nil {
		return map[string]string{"state": "not initialized"}
	}
	return n.raft.Stats()
}

func (n *Node) TransferLeadership() error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if n.raft.State() != raft.Leader {
		return fmt.Errorf("%w, cannot transfer", ErrNotLeader)
	}

	future := n.raft.LeadershipTransfer()
	if err := future.Error(); err != nil {
		return fmt.Errorf("leadership transfer failed: %w", err)
	}

	return nil
}
