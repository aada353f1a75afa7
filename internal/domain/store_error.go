package domain

import "fmt"

// StoreError is a classified store write failure. It carries the structured
// summary logged on every failed flush.
type StoreError struct {
	// Code is the symbolic driver code (e.g. "ER_NO_SUCH_TABLE", "42P01")
	Code string

	// Errno is the numeric server error, 0 when the driver has none
	Errno int

	// SQLState is the five character SQLSTATE, when known
	SQLState string

	// Message is the server message, or the error text for non-server failures
	Message string

	// MissingTable is set when the destination table does not exist
	MissingTable bool

	// Err is the underlying driver error
	Err error
}

func (e *StoreError) Error() string {
	if e.Code == "" && e.Errno == 0 {
		return "store: " + e.Message
	}
	return fmt.Sprintf("store: code=%s errno=%d: %s", e.Code, e.Errno, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports ErrNoSuchTable for missing-table failures.
func (e *StoreError) Is(target error) bool {
	return target == ErrNoSuchTable && e.MissingTable
}
