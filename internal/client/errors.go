package client

import (
	"errors"
	"fmt"
	"time"
)

type TimeoutError struct {
	TxID     string
	Function string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transaction %s (%s) timed out after %v", e.TxID, e.Function, e.Timeout)
}

func NewTimeoutError(txID, function string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{
		TxID:     txID,
		Function: function,
		Timeout:  timeout,
	}
}

func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func AsTimeoutError(err error) *TimeoutError {
	var te *TimeoutError
	if errors.As(err, &te) {
		return te
	}
	return nil
}

// RejectedError reports a transaction the ledger refused. It unwraps to the cause, so a
// contract ValidationError is still reachable with errors.As.
type RejectedError struct {
	TxID     string
	Function string
	Err      error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction %s (%s) rejected: %v", e.TxID, e.Function, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

func NewRejectedError(txID, function string, err error) *RejectedError {
	return &RejectedError{
		TxID:     txID,
		Function: function,
		Err:      err,
	}
}

func IsRejectedError(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

func AsRejectedError(err error) *RejectedError {
	var re *RejectedError
	if errors.As(err, &re) {
		return re
	}
	return nil
}
