package consensus

import (
	"errors"
	"time"

	"github.com/clinledger/clinledger/internal/ledger"
)

var ErrNotLeader = errors.New("not the leader")

type LogEntryType string

const (
	LogEntryProposal LogEntryType = "proposal"
)

type LogEntry struct {
	Type      LogEntryType     `json:"type"`
	Proposal  *ledger.Proposal `json:"proposal"`
	Timestamp time.Time        `json:"timestamp"`
}

// ApplyResult is what the FSM hands back through the raft apply future. Contract errors are
// results, not FSM failures: every node rejects the same proposal.
type ApplyResult struct {
	Payload []byte
	Err     error
}
