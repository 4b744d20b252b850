package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// PersistenceError wraps a failed round trip to the reminder repository.
type PersistenceError struct {
	Op  string // store operation, e.g. "list" or "update"
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("persistence error: %v", e.Err)
	}
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps err unless it is nil or already a PersistenceError.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *PersistenceError
	if errors.As(err, &existing) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// MalformedConditionError reports a reminder whose trigger condition cannot
// be evaluated. It is scoped to a single record.
type MalformedConditionError struct {
	ReminderID int64
	Type       string
	Err        error
}

func (e *MalformedConditionError) Error() string {
	return fmt.Sprintf("reminder %d: malformed %s condition: %v", e.ReminderID, e.Type, e.Err)
}

func (e *MalformedConditionError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a failed send to one live channel.
type DeliveryError struct {
	Handle string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Handle, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ConfigurationError describes a reminder whose settings were downgraded.
// It is logged, never returned to callers.
type ConfigurationError struct {
	ReminderID int64
	Reason     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("reminder %d: %s", e.ReminderID, e.Reason)
}

// ValidationError rejects caller input before it reaches the repository.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsPersistence checks whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// IsValidation checks whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsMalformedCondition checks whether err carries a MalformedConditionError.
func IsMalformedCondition(err error) bool {
	var target *MalformedConditionError
	return errors.As(err, &target)
}

// IsTransient reports whether a failed read is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsValidation(err) {
		return false
	}

	// pgconn and database/sql driver errors expose this when nothing was sent.
	var retryable interface{ SafeToRetry() bool }
	if errors.As(err, &retryable) && retryable.SafeToRetry() {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
