package ledger

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Query is a selector query: {"selector": {...}, "limit": n}.
type Query struct {
	Selector map[string]interface{} `json:"selector"`
	Limit    int                    `json:"limit,omitempty"`
}

func ParseQuery(query string) (*Query, error) {
	var q Query
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}
	if q.Selector == nil {
		return nil, fmt.Errorf("query has no selector")
	}
	if q.Limit < 0 {
		return nil, fmt.Errorf("negative limit: %d", q.Limit)
	}
	return &q, nil
}

// Match reports whether doc satisfies every condition of the selector.
func (q *Query) Match(doc map[string]interface{}) bool {
	return matchSelector(doc, q.Selector)
}

func matchSelector(doc map[string]interface{}, selector map[string]interface{}) bool {
	for field, cond := range selector {
		switch field {
		case "$and":
			subs, ok := cond.([]interface{})
			if !ok {
				return false
			}
			for _, s := range subs {
				sub, ok := s.(map[string]interface{})
				if !ok || !matchSelector(doc, sub) {
					return false
				}
			}
		case "$or":
			subs, ok := cond.([]interface{})
			if !ok {
				return false
			}
			matched := false
			for _, s := range subs {
				if sub, ok := s.(map[string]interface{}); ok && matchSelector(doc, sub) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			value, present := lookup(doc, field)
			if !matchCondition(value, present, cond) {
				return false
			}
		}
	}
	return true
}

// lookup resolves dotted paths into nested objects.
func lookup(doc map[string]interface{}, field string) (interface{}, bool) {
	var cur interface{} = doc
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matchCondition(value interface{}, present bool, cond interface{}) bool {
	ops, ok := cond.(map[string]interface{})
	if !ok || !isOperatorMap(ops) {
		return present && equalValues(value, cond)
	}

	for op, operand := range ops {
		switch op {
		case "$eq":
			if !present || !equalValues(value, operand) {
				return false
			}
		case "$ne":
			if present && equalValues(value, operand) {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !present {
				return false
			}
			c, ok := compareValues(value, operand)
			if !ok {
				return false
			}
			switch op {
			case "$gt":
				ok = c > 0
			case "$gte":
				ok = c >= 0
			case "$lt":
				ok = c < 0
			case "$lte":
				ok = c <= 0
			}
			if !ok {
				return false
			}
		case "$in":
			list, ok := operand.([]interface{})
			if !ok || !present {
				return false
			}
			found := false
			for _, candidate := range list {
				if equalValues(value, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$exists":
			want, ok := operand.(bool)
			if !ok || want != present {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func isOperatorMap(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func equalValues(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}

func compareValues(a, b interface{}) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	}
	return 0, false
}
