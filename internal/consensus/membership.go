package consensus

import (
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/raft"
)

// SyncPeers brings the raft configuration in line with want, the other voters keyed by node
// id. Servers missing from want are removed and new or readdressed ones are added. Only the
// leader can change membership.
func (n *Node) SyncPeers(want map[string]string) error {
	if !n.IsLeader() {
		return ErrNotLeader
	}

	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	add, remove := membershipChanges(future.Configuration().Servers, n.config.NodeID, want)
	for _, id := range slices.Sorted(maps.Keys(add)) {
		if err := n.AddPeer(id, add[id]); err != nil {
			return fmt.Errorf("failed to add peer %s: %w", id, err)
		}
		n.logger.Info("Peer added", "peer_id", id, "addr", add[id])
	}
	for _, id := range remove {
		if err := n.RemovePeer(id); err != nil {
			return fmt.Errorf("failed to remove peer %s: %w", id, err)
		}
		n.logger.Info("Peer removed", "peer_id", id)
	}
	return nil
}

func membershipChanges(current []raft.Server, self string, want map[string]string) (map[string]string, []string) {
	add := make(map[string]string)
	have := make(map[string]string, len(current))
	for _, s := range current {
		have[string(s.ID)] = string(s.Address)
	}

	for id, addr := range want {
		if id == self {
			continue
		}
		if have[id] != addr {
			add[id] = addr
		}
	}

	var remove []string
	for id := range have {
		if id == self {
			continue
		}
		if _, ok := want[id]; !ok {
			remove = append(remove, id)
		}
	}
	slices.Sort(remove)
	return add, remove
}

func (n *Node) AddPeer(id, addr string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	future := n.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 0)
	return future.Error()
}

func (n *Node) RemovePeer(id string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	future := n.raft.RemoveServer(raft.ServerID(id), 0, 0)
	return future.Error()
}
