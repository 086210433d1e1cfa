package apperrors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	TypeConnection   ErrorType = "Connection"   // Dial, auth or session setup failure
	TypeNotConnected ErrorType = "NotConnected" // Operation before Connect; precondition violation, never retried
	TypeNotFound     ErrorType = "NotFound"     // Remote or local path does not exist
	TypeTransfer     ErrorType = "Transfer"     // Partial or failed upload/download
	TypePersistence  ErrorType = "Persistence"  // Task/item record read or write failure; fatal to a run
	TypeConfig       ErrorType = "Config"       // Invalid flags, missing required params
	TypeInternal     ErrorType = "Internal"     // Unexpected internal failure
)

// AppError is a rich error type that categorizes failures and carries a hint
// for the operator.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Hint    string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Hint:    hint,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Err:     err,
		Hint:    hint,
	}
}

// IsType reports whether err or any error in its chain is an AppError of the
// given type.
func IsType(err error, t ErrorType) bool {
	for err != nil {
		var ae *AppError
		if !errors.As(err, &ae) {
			return false
		}
		if ae.Type == t {
			return true
		}
		err = ae.Err
	}
	return false
}

// Transient reports whether err looks like a failure that a single
// reconnect-and-retry may recover from. Precondition and not-found errors are
// deliberately not transient.
func Transient(err error) bool {
	return IsType(err, TypeConnection) || IsType(err, TypeTransfer)
}
