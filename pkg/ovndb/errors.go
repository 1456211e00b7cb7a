package ovndb

import (
	"errors"
	"fmt"
)

// ConnectionError is returned when the NB database cannot be reached or the
// client has not connected yet.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("OVN NB database %s unreachable: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransactionError wraps a failed cache read or transaction. Port is empty
// for table-wide operations.
type TransactionError struct {
	Op   string
	Port string
	Err  error
}

func (e *TransactionError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("OVN %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("OVN %s of port %s failed: %v", e.Op, e.Port, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// ObjectNotFoundError means no Logical_Switch_Port carries the name.
type ObjectNotFoundError struct {
	Port string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("logical switch port %q not found", e.Port)
}

// ValidationError rejects bad arguments before anything is sent to the database.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func isError[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// IsNotFound reports whether err is, or wraps, an *ObjectNotFoundError.
func IsNotFound(err error) bool { return isError[*ObjectNotFoundError](err) }

func IsConnectionError(err error) bool { return isError[*ConnectionError](err) }

func IsTransactionError(err error) bool { return isError[*TransactionError](err) }

func IsValidationError(err error) bool { return isError[*ValidationError](err) }
