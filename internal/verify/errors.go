package verify

import (
	"errors"
	"fmt"
)

// TamperingError reports ledger content that no longer agrees with the chain. Key is set
// when a state key or its history is at fault.
type TamperingError struct {
	SequenceNum  uint64
	TxID         string
	Key          string
	ExpectedHash string
	ActualHash   string
	Message      string
}

func (e *TamperingError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("TAMPERING DETECTED: key %q (chain entry %d, tx %s): %s", e.Key, e.SequenceNum, e.TxID, e.Message)
	}
	return fmt.Sprintf("TAMPERING DETECTED: chain entry %d (tx %s): %s", e.SequenceNum, e.TxID, e.Message)
}

func NewTamperingError(seq uint64, txID, expected, actual, message string) *TamperingError {
	return &TamperingError{
		SequenceNum:  seq,
		TxID:         txID,
		ExpectedHash: expected,
		ActualHash:   actual,
		Message:      message,
	}
}

func IsTamperingError(err error) bool {
	var te *TamperingError
	return errors.As(err, &te)
}

func AsTamperingError(err error) *TamperingError {
	var te *TamperingError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
