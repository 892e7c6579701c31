package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrTransient marks storage failures worth retrying: lock contention,
	// busy handles, timed-out calls.
	ErrTransient = errors.New("transient storage error")

	// ErrNotFound is returned when an operation targets a row that must
	// already exist, e.g. classifying an event with no placeholder.
	ErrNotFound = errors.New("not found")

	// ErrValidation rejects malformed input before it touches a row.
	ErrValidation = errors.New("validation error")
)

// fatal wraps any storage error that is neither the expected duplicate
// case nor retryable. Events are the source of truth, so these must
// propagate; callers never downgrade them.
func fatal(op string, err error) error {
	return fmt.Errorf("%s: fatal storage error: %w", op, err)
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
}

// isDuplicatePair reports whether err is the unique-violation raised by the
// (conversation_id, source_message_id) constraint, for either driver.
func isDuplicatePair(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isTransientErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014":
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// classify maps a raw driver error onto the package taxonomy, keeping the
// original error in the chain.
func classify(op string, err error) error {
	if isTransientErr(err) {
		return transient(op, err)
	}
	return fatal(op, err)
}
