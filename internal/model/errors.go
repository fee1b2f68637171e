package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a platform, option or other record does not exist.
	ErrNotFound = errors.New("ledger: not found")

	// ErrConflict is returned on uniqueness violations (e.g. duplicate platform name).
	ErrConflict = errors.New("ledger: conflict")

	// ErrInvalidTransition is returned when an option trade is moved out of a terminal status.
	ErrInvalidTransition = errors.New("ledger: invalid option status transition")
)

// ValidationError rejects malformed input at the boundary, before it reaches the ledger.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InconsistentLedgerError reports a ledger state reconciliation cannot resolve.
type InconsistentLedgerError struct {
	Ticker     string
	PlatformID int64
	TradeID    int64
	Reason     string
}

func (e *InconsistentLedgerError) Error() string {
	return fmt.Sprintf("inconsistent ledger: %s on platform %d (trade %d): %s",
		e.Ticker, e.PlatformID, e.TradeID, e.Reason)
}

// StorageError wraps a persistence failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError unless it is nil or already classified.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidTransition) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// StaleDataWarning accompanies a partial unrealized P&L result when some
// tickers had no current price.
type StaleDataWarning struct {
	Missing []string
}

func (w *StaleDataWarning) Error() string {
	m := append([]string(nil), w.Missing...)
	sort.Strings(m)
	return "stale data: no current price for " + strings.Join(m, ", ")
}
