package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinledger/clinledger/internal/ledger"
)

// Result is one drained iterator element. State queries fill Key and Record; history queries
// fill TxID, Timestamp, IsDelete and Value.
type Result struct {
	Key       string      `json:"Key,omitempty"`
	Record    interface{} `json:"Record,omitempty"`
	TxID      string      `json:"TxId,omitempty"`
	Timestamp *time.Time  `json:"Timestamp,omitempty"`
	IsDelete  bool        `json:"IsDelete,omitempty"`
	Value     interface{} `json:"Value,omitempty"`
}

// GetAllResults drains iter and closes it on every path. A value that is not JSON is kept
// as its raw string; an iterator error stops the drain.
func GetAllResults(iter ledger.ResultsIterator, isHistory bool) (results []Result, err error) {
	defer func() {
		if cerr := iter.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close iterator: %w", cerr)
		}
	}()

	results = make([]Result, 0)
	for iter.HasNext() {
		res, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read iterator: %w", err)
		}

		if isHistory {
			ts := res.Timestamp
			entry := Result{
				TxID:      res.TxID,
				Timestamp: &ts,
				IsDelete:  res.IsDelete,
			}
			if len(res.Value) > 0 {
				entry.Value = decodeValue(res.Value)
			}
			results = append(results, entry)
			continue
		}

		if len(res.Value) == 0 {
			continue
		}
		results = append(results, Result{
			Key:    res.Key,
			Record: decodeValue(res.Value),
		})
	}
	return results, nil
}

func decodeValue(raw []byte) interface{} {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
