package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/fleetsync/internal/models"
	"github.com/zulandar/fleetsync/internal/syncerr"
	"gorm.io/gorm"
)

// OutcomeKind classifies the result of one execution attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
	OutcomeConflict
	// OutcomeDeferred returns a record to the queue without counting an
	// attempt; nothing was sent to the server.
	OutcomeDeferred
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeConflict:
		return "conflict"
	case OutcomeDeferred:
		return "deferred"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Outcome is what the executor reports for one record.
type Outcome struct {
	Kind           OutcomeKind
	ServerEntityID string // Success: id assigned to the created entity
	ServerData     string // Success: reconciliation data; Conflict: server's view
	Message        string // Failure/Deferred: description kept as LastError
	ShouldRetry    bool   // Failure only
}

// Success reports acceptance by the server.
func Success(serverEntityID, data string) Outcome {
	return Outcome{Kind: OutcomeSuccess, ServerEntityID: serverEntityID, ServerData: data}
}

// Failure reports a failed attempt. Retryable failures count against the
// record's retry budget; the rest remove it immediately.
func Failure(message string, shouldRetry bool) Outcome {
	return Outcome{Kind: OutcomeFailure, Message: message, ShouldRetry: shouldRetry}
}

// Conflict reports that the server's entity is in an incompatible state.
func Conflict(serverData string) Outcome {
	return Outcome{Kind: OutcomeConflict, ServerData: serverData}
}

// Deferred returns the record unexecuted, e.g. while a temp id it
// references is still unconfirmed.
func Deferred(reason string) Outcome {
	return Outcome{Kind: OutcomeDeferred, Message: reason}
}

// Disposition is what happened to a record after an outcome was applied.
type Disposition int

const (
	Delivered Disposition = iota
	Retrying
	Postponed
	Exhausted
	Rejected
	Conflicted
)

func (d Disposition) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Retrying:
		return "retrying"
	case Postponed:
		return "postponed"
	case Exhausted:
		return "exhausted"
	case Rejected:
		return "rejected"
	case Conflicted:
		return "conflicted"
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// Terminal reports whether the record left the queue undelivered.
func (d Disposition) Terminal() bool {
	return d == Exhausted || d == Rejected || d == Conflicted
}

// Result describes the queue state after ReportOutcome.
type Result struct {
	Disposition   Disposition
	RetryCount    int
	NextAttemptAt time.Time // Retrying and Postponed only
	Rewritten     int       // Delivered: queued records whose temp reference was rewritten
	Failure       *models.CommandFailure
}

// Err converts a terminal result into the matching syncerr type, or nil.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	f := r.Failure
	switch r.Disposition {
	case Exhausted:
		return &syncerr.ExhaustedRetriesError{RecordID: f.RecordID, Kind: f.Kind, Attempts: f.RetryCount, LastError: f.LastError, FailedAt: f.FailedAt}
	case Conflicted:
		return &syncerr.ConflictError{Op: f.Kind, ServerData: []byte(f.ServerData)}
	case Rejected:
		return &syncerr.ValidationError{Op: f.Kind, Message: f.LastError}
	}
	return nil
}

// ReportOutcome applies outcome to record id and clears its executing flag.
//
//   - Success deletes the record. If it created an entity, the temp id is
//     mapped to the server id and queued records that reference it are
//     rewritten, all in one transaction.
//   - A retryable Failure increments RetryCount and schedules the next
//     attempt with backoff, or removes the record as exhausted once
//     RetryCount reaches MaxRetries.
//   - A non-retryable Failure or a Conflict removes the record at once.
//   - Deferred puts the record back after DeferDelay without counting an
//     attempt.
//
// Records that leave the queue undelivered are kept as CommandFailure rows.
func (q *Queue) ReportOutcome(ctx context.Context, id uint, outcome Outcome) (Result, error) {
	q.mu.Lock()
	var res Result
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.QueuedCommand
		if err := tx.Where("id = ?", id).Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("queue: record %d: %w", id, ErrNotFound)
			}
			return syncerr.Storage("load record", err)
		}

		var err error
		switch outcome.Kind {
		case OutcomeSuccess:
			res, err = q.applySuccess(tx, &rec, outcome)
		case OutcomeFailure:
			if outcome.ShouldRetry {
				res, err = q.applyRetry(tx, &rec, outcome.Message)
			} else {
				res, err = q.applyTerminal(tx, &rec, Rejected, models.FailureRejected, outcome.Message, "")
			}
		case OutcomeConflict:
			msg := outcome.Message
			if msg == "" {
				msg = "server reported a conflicting state"
			}
			res, err = q.applyTerminal(tx, &rec, Conflicted, models.FailureConflict, msg, outcome.ServerData)
		case OutcomeDeferred:
			res, err = q.applyDeferred(tx, &rec, outcome.Message)
		default:
			err = fmt.Errorf("queue: unknown outcome %s", outcome.Kind)
		}
		return err
	})
	hook := q.opts.OnTerminal
	q.mu.Unlock()

	if err != nil {
		return Result{}, err
	}
	if res.Failure != nil && hook != nil {
		hook(*res.Failure)
	}
	return res, nil
}

func (q *Queue) applySuccess(tx *gorm.DB, rec *models.QueuedCommand, outcome Outcome) (Result, error) {
	if err := tx.Delete(&models.QueuedCommand{}, rec.ID).Error; err != nil {
		return Result{}, syncerr.Storage("delete delivered record", err)
	}
	res := Result{Disposition: Delivered, RetryCount: rec.RetryCount}
	if rec.TempEntityID == "" || outcome.ServerEntityID == "" {
		return res, nil
	}
	n, err := reconcile(tx, rec, outcome.ServerEntityID, q.opts.Now())
	if err != nil {
		return Result{}, err
	}
	res.Rewritten = n
	return res, nil
}

func (q *Queue) applyRetry(tx *gorm.DB, rec *models.QueuedCommand, message string) (Result, error) {
	attempts := rec.RetryCount + 1
	if attempts >= rec.MaxRetries {
		rec.RetryCount = attempts
		return q.applyTerminal(tx, rec, Exhausted, models.FailureExhausted, message, "")
	}

	next := q.opts.Now().Add(q.Backoff(attempts))
	if err := tx.Model(&models.QueuedCommand{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
		"retry_count":     attempts,
		"next_attempt_at": next.UnixMilli(),
		"last_error":      message,
		"is_executing":    false,
		"executing_since": nil,
	}).Error; err != nil {
		return Result{}, syncerr.Storage("schedule retry", err)
	}
	return Result{Disposition: Retrying, RetryCount: attempts, NextAttemptAt: next}, nil
}

func (q *Queue) applyDeferred(tx *gorm.DB, rec *models.QueuedCommand, reason string) (Result, error) {
	next := q.opts.Now().Add(q.opts.DeferDelay)
	updates := map[string]interface{}{
		"next_attempt_at": next.UnixMilli(),
		"is_executing":    false,
		"executing_since": nil,
	}
	if reason != "" {
		updates["last_error"] = "deferred: " + reason
	}
	if err := tx.Model(&models.QueuedCommand{}).Where("id = ?", rec.ID).Updates(updates).Error; err != nil {
		return Result{}, syncerr.Storage("defer record", err)
	}
	return Result{Disposition: Postponed, RetryCount: rec.RetryCount, NextAttemptAt: next}, nil
}

func (q *Queue) applyTerminal(tx *gorm.DB, rec *models.QueuedCommand, d Disposition, reason, message, serverData string) (Result, error) {
	if message == "" {
		message = rec.LastError
	}
	f := models.CommandFailure{
		RecordID:       rec.ID,
		IdempotencyKey: rec.IdempotencyKey,
		Kind:           rec.Kind,
		Payload:        rec.Payload,
		TempEntityID:   rec.TempEntityID,
		Reason:         reason,
		LastError:      message,
		ServerData:     serverData,
		RetryCount:     rec.RetryCount,
		FailedAt:       q.opts.Now(),
	}
	if err := tx.Delete(&models.QueuedCommand{}, rec.ID).Error; err != nil {
		return Result{}, syncerr.Storage("delete failed record", err)
	}
	if err := tx.Create(&f).Error; err != nil {
		return Result{}, syncerr.Storage("record failure", err)
	}
	return Result{Disposition: d, RetryCount: rec.RetryCount, Failure: &f}, nil
}
