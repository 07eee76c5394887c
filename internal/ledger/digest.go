package ledger

import (
	"time"

	"github.com/clinledger/clinledger/internal/hash"
	"github.com/clinledger/clinledger/internal/storage"
)

// Write is one state mutation made by a committed transaction.
type Write struct {
	Key      string `json:"key"`
	Value    []byte `json:"value"`
	IsDelete bool   `json:"is_delete"`
}

// WriteSetRoot commits to a transaction's writes regardless of their order. Empty and nil
// values hash alike since history does not keep the difference.
func WriteSetRoot(writes []Write) (string, error) {
	var ws hash.WriteSet
	for _, w := range writes {
		if len(w.Value) == 0 {
			w.Value = nil
		}
		if err := ws.Add(w); err != nil {
			return "", err
		}
	}
	return ws.Root(), nil
}

type chainBody struct {
	TxID      string    `json:"tx_id"`
	Contract  string    `json:"contract"`
	Function  string    `json:"function"`
	Args      []string  `json:"args"`
	WriteSet  string    `json:"write_set"`
	Timestamp time.Time `json:"timestamp"`
}

// ChainDigest is the data hash an entry carries: the invocation and the root of its
// writes.
func ChainDigest(e *storage.ChainEntry) (string, error) {
	return hash.Sum(chainBody{
		TxID:      e.TxID,
		Contract:  e.Contract,
		Function:  e.Function,
		Args:      e.Args,
		WriteSet:  e.WriteSetRoot,
		Timestamp: e.Timestamp,
	})
}
