// Package syncerr defines the error taxonomy shared by the queue, executor,
// and orchestrator.
package syncerr

import (
	"errors"
	"fmt"
	"time"
)

// TransientNetworkError is a failure that is expected to go away on retry:
// timeouts, dropped connections, 5xx and rate-limit responses.
type TransientNetworkError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient network error: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient network error: %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ValidationError is a permanent rejection reported by the server. The
// Message is suitable for showing to the driver.
type ValidationError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ValidationError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("validation error: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("validation error: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// ConflictError means the server's copy of the entity reached a state the
// command cannot apply to (e.g. the duty was already ended elsewhere).
// ServerData carries the server's view verbatim for manual resolution.
type ConflictError struct {
	Op         string
	ServerData []byte
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Op)
}

// StorageError wraps a failure of the durable queue store. It is fatal to
// the batch that observed it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ExhaustedRetriesError reports a command that was never delivered because
// it failed on every allowed attempt.
type ExhaustedRetriesError struct {
	RecordID  uint
	Kind      string
	Attempts  int
	LastError string
	FailedAt  time.Time
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("command %d (%s) not delivered after %d attempts: %s", e.RecordID, e.Kind, e.Attempts, e.LastError)
}

// Storage wraps err as a StorageError. A nil err returns nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientNetworkError.
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var s *StorageError
	return errors.As(err, &s)
}

// IsExhausted reports whether err is (or wraps) an ExhaustedRetriesError.
func IsExhausted(err error) bool {
	var x *ExhaustedRetriesError
	return errors.As(err, &x)
}
