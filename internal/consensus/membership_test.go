package consensus

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hashicorp/raft"
)

func TestMembershipChanges(t *testing.T) {
	servers := func(pairs ...string) []raft.Server {
		var out []raft.Server
		for i := 0; i < len(pairs); i += 2 {
			out = append(out, raft.Server{ID: raft.ServerID(pairs[i]), Address: raft.ServerAddress(pairs[i+1])})
		}
		return out
	}

	tests := []struct {
		name       string
		current    []raft.Server
		want       map[string]string
		wantAdd    map[string]string
		wantRemove []string
	}{
		{
			name:    "in sync",
			current: servers("node1", "a:1", "node2", "a:2"),
			want:    map[string]string{"node2": "a:2"},
			wantAdd: map[string]string{},
		},
		{
			name:    "new peer",
			current: servers("node1", "a:1"),
			want:    map[string]string{"node2": "a:2", "node3": "a:3"},
			wantAdd: map[string]string{"node2": "a:2", "node3": "a:3"},
		},
		{
			name:       "dropped peers",
			current:    servers("node1", "a:1", "node3", "a:3", "node2", "a:2"),
			want:       map[string]string{},
			wantAdd:    map[string]string{},
			wantRemove: []string{"node2", "node3"},
		},
		{
			name:    "readdressed peer",
			current: servers("node1", "a:1", "node2", "a:2"),
			want:    map[string]string{"node2": "b:2"},
			wantAdd: map[string]string{"node2": "b:2"},
		},
		{
			name:    "self listed as peer",
			current: servers("node1", "a:1"),
			want:    map[string]string{"node1": "other:1"},
			wantAdd: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			add, remove := membershipChanges(tt.current, "node1", tt.want)
			if !reflect.DeepEqual(add, tt.wantAdd) {
				t.Errorf("add = %v, want %v", add, tt.wantAdd)
			}
			if !reflect.DeepEqual(remove, tt.wantRemove) {
				t.Errorf("remove = %v, want %v", remove, tt.wantRemove)
			}
		})
	}
}

func TestSyncPeers(t *testing.T) {
	store := newTestStore(t)

	t.Run("NotLeader", func(t *testing.T) {
		node, _ := NewNode(&NodeConfig{NodeID: "idle", BindAddr: "127.0.0.1:17130", DataDir: t.TempDir()}, newTestPeer(store), store, nil)
		if err := node.SyncPeers(map[string]string{"node2": "127.0.0.1:17131"}); !errors.Is(err, ErrNotLeader) {
			t.Errorf("Expected ErrNotLeader, got %v", err)
		}
		if err := node.AddPeer("node2", "127.0.0.1:17131"); err == nil {
			t.Error("Expected error adding a peer before start")
		}
		if err := node.RemovePeer("node2"); err == nil {
			t.Error("Expected error removing a peer before start")
		}
	})

	t.Run("SoloLeader", func(t *testing.T) {
		node, err := NewNode(&NodeConfig{
			NodeID:    "solo",
			BindAddr:  "127.0.0.1:17132",
			DataDir:   t.TempDir(),
			Bootstrap: true,
		}, newTestPeer(store), store, nil)
		if err != nil {
			t.Fatalf("NewNode failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := node.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer node.Stop()
		if err := node.WaitForLeader(ctx); err != nil {
			t.Fatalf("no leader elected: %v", err)
		}

		if err := node.SyncPeers(map[string]string{"solo": "127.0.0.1:17132"}); err != nil {
			t.Fatalf("SyncPeers failed: %v", err)
		}

		future := node.raft.GetConfiguration()
		if err := future.Error(); err != nil {
			t.Fatal(err)
		}
		if servers := future.Configuration().Servers; len(servers) != 1 || servers[0].ID != "solo" {
			t.Errorf("configuration changed: %+v", servers)
		}
	})
}
