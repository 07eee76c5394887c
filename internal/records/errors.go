package records

import (
	"errors"
	"fmt"
)

// ValidationError rejects an input before anything is written.
type ValidationError struct {
	RecordType string
	Field      string
	Message    string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.RecordType, e.Message)
	}
	return fmt.Sprintf("invalid %s: field %s %s", e.RecordType, e.Field, e.Message)
}

func NewValidationError(recordType, field, message string) *ValidationError {
	return &ValidationError{
		RecordType: recordType,
		Field:      field,
		Message:    message,
	}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func AsValidationError(err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}

// DuplicateKeyError is returned when a record type that enforces uniqueness already holds the
// identity key.
type DuplicateKeyError struct {
	RecordType string
	Key        string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.RecordType, e.Key)
}

func NewDuplicateKeyError(recordType, key string) *DuplicateKeyError {
	return &DuplicateKeyError{
		RecordType: recordType,
		Key:        key,
	}
}

func IsDuplicateKeyError(err error) bool {
	var de *DuplicateKeyError
	return errors.As(err, &de)
}

func AsDuplicateKeyError(err error) *DuplicateKeyError {
	var de *DuplicateKeyError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s does not exist", e.Key)
}

func NewNotFoundError(key string) *NotFoundError {
	return &NotFoundError{Key: key}
}

func IsNotFoundError(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

func AsNotFoundError(err error) *NotFoundError {
	var ne *NotFoundError
	if errors.As(err, &ne) {
		return ne
	}
	return nil
}
