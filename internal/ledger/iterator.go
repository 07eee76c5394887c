package ledger

import (
	"encoding/json"

	"github.com/clinledger/clinledger/internal/storage"
)

// cursorIterator walks state keys under a prefix, yielding the ones accept keeps. The next
// match is fetched ahead so HasNext never touches storage.
type cursorIterator struct {
	cursor *storage.Cursor
	accept func(key string, value []byte) bool
	next   *QueryResult
	limit  int
	count  int
	closed bool
}

func newCursorIterator(cursor *storage.Cursor, limit int, accept func(string, []byte) bool) *cursorIterator {
	it := &cursorIterator{cursor: cursor, accept: accept, limit: limit}
	it.advance()
	return it
}

func (it *cursorIterator) advance() {
	for {
		key, value, ok := it.cursor.Next()
		if !ok {
			it.next = nil
			return
		}
		if it.accept == nil || it.accept(key, value) {
			it.next = &QueryResult{Key: key, Value: value}
			return
		}
	}
}

func (it *cursorIterator) HasNext() bool {
	if it.closed || it.next == nil {
		return false
	}
	return it.limit == 0 || it.count < it.limit
}

func (it *cursorIterator) Next() (*QueryResult, error) {
	if !it.HasNext() {
		return nil, ErrIteratorDone
	}
	cur := it.next
	it.count++
	it.advance()
	return cur, nil
}

func (it *cursorIterator) Close() error {
	it.closed = true
	it.cursor.Close()
	return nil
}

// selectorAccept keeps documents, never index entries, whose JSON body matches q. Values
// that are not JSON objects cannot match a selector.
func selectorAccept(q *Query) func(string, []byte) bool {
	return func(key string, value []byte) bool {
		if IsCompositeKey(key) || len(value) == 0 {
			return false
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(value, &doc); err != nil {
			return false
		}
		return q.Match(doc)
	}
}

type historyIterator struct {
	key     string
	entries []storage.HistoryEntry
	pos     int
	closed  bool
}

func (it *historyIterator) HasNext() bool {
	return !it.closed && it.pos < len(it.entries)
}

func (it *historyIterator) Next() (*QueryResult, error) {
	if !it.HasNext() {
		return nil, ErrIteratorDone
	}
	e := it.entries[it.pos]
	it.pos++
	return &QueryResult{
		Key:       it.key,
		Value:     e.Value,
		TxID:      e.TxID,
		Timestamp: e.Timestamp,
		IsDelete:  e.IsDelete,
	}, nil
}

func (it *historyIterator) Close() error {
	it.closed = true
	return nil
}
