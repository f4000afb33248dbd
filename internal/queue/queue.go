// Package queue is the durable store of pending offline commands. It owns
// every record's execution and retry state, and the reconciliation map
// from temp ids to server ids.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/models"
	"github.com/zulandar/fleetsync/internal/syncerr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a record or failure id does not exist.
var ErrNotFound = errors.New("queue: not found")

// Opts tunes retry bookkeeping. Zero values fall back to the defaults.
type Opts struct {
	MaxRetries  int           // default 3
	BackoffBase time.Duration // default 30s
	BackoffCap  time.Duration // default 900s
	Jitter      float64       // fraction of the delay, default 0.10
	DeferDelay  time.Duration // default 10s

	Now  func() time.Time
	Rand func() float64 // in [0,1)

	// OnTerminal is called after a record leaves the queue undelivered.
	// It runs outside the queue lock.
	OnTerminal func(models.CommandFailure)
}

// Queue is safe for concurrent use. All writes go through a single mutex
// so select-and-mark and outcome application never interleave.
type Queue struct {
	db   *gorm.DB
	opts Opts
	mu   sync.Mutex
}

// New returns a Queue backed by db. The schema must already be migrated.
func New(db *gorm.DB, opts Opts) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 30 * time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 900 * time.Second
	}
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	if opts.DeferDelay <= 0 {
		opts.DeferDelay = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	return &Queue{db: db, opts: opts}
}

// SetOnTerminal replaces the terminal-failure hook.
func (q *Queue) SetOnTerminal(fn func(models.CommandFailure)) {
	q.mu.Lock()
	q.opts.OnTerminal = fn
	q.mu.Unlock()
}

// Enqueue persists cmd and returns its record id. Enqueuing a command whose
// idempotency key is already queued is a no-op returning the existing id.
// A reference to a temp id that has already been reconciled is rewritten
// to the server id before the record is stored.
func (q *Queue) Enqueue(ctx context.Context, cmd command.Command) (uint, error) {
	if err := cmd.Validate(); err != nil {
		return 0, &syncerr.ValidationError{Op: "enqueue", Message: err.Error()}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var id uint
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findByKey(tx, cmd.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			id = existing.ID
			return nil
		}
		rec, err := q.insert(tx, cmd, 0, "")
		if err != nil {
			return err
		}
		id = rec.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// insert stores cmd as a new record. Must be called inside a transaction
// with q.mu held.
func (q *Queue) insert(tx *gorm.DB, cmd command.Command, retryCount int, lastError string) (*models.QueuedCommand, error) {
	chain := cmd.ChainKey()
	seq, err := sequence(tx, chain, cmd.TempEntityID)
	if err != nil {
		return nil, err
	}
	rec := models.QueuedCommand{
		Seq:            seq,
		IdempotencyKey: cmd.IdempotencyKey,
		Kind:           string(cmd.Kind()),
		Priority:       int(cmd.Kind().Priority()),
		ChainKey:       chain,
		EnqueuedAt:     q.opts.Now(),
		RetryCount:     retryCount,
		MaxRetries:     q.opts.MaxRetries,
		LastError:      lastError,
		TempEntityID:   cmd.TempEntityID,
	}

	if ref := cmd.EntityRef(); command.IsTempID(ref) {
		var rc models.Reconciliation
		err := tx.Where("temp_entity_id = ?", ref).Take(&rc).Error
		switch {
		case err == nil:
			cmd = cmd.WithEntityRef(rc.ServerEntityID)
			rec.ServerEntityID = rc.ServerEntityID
			rec.IsReconciled = true
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, syncerr.Storage("lookup reconciliation", err)
		}
	}
	rec.EntityRef = cmd.EntityRef()

	data, err := command.Encode(cmd)
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	rec.Payload = string(data)

	if err := tx.Create(&rec).Error; err != nil {
		// Another process may have won the race on the unique key.
		if existing, ferr := findByKey(tx, cmd.IdempotencyKey); ferr == nil && existing != nil {
			return existing, nil
		}
		return nil, syncerr.Storage("insert record", err)
	}
	return &rec, nil
}

// sequence returns the Seq for a new record in chain. A command creating
// tempID goes ahead of everything already queued in its chain, since
// those records can only run once it has; this happens when a failed
// creating command is requeued behind its dependents.
func sequence(tx *gorm.DB, chain, tempID string) (int64, error) {
	if chain != "" && tempID != "" {
		var lo sql.NullInt64
		if err := tx.Model(&models.QueuedCommand{}).Select("MIN(seq)").Where("chain_key = ?", chain).Row().Scan(&lo); err != nil {
			return 0, syncerr.Storage("chain sequence", err)
		}
		if lo.Valid {
			return lo.Int64 - 1, nil
		}
	}
	var hi int64
	if err := tx.Model(&models.QueuedCommand{}).Select("COALESCE(MAX(seq), 0)").Row().Scan(&hi); err != nil {
		return 0, syncerr.Storage("next sequence", err)
	}
	return hi + 1, nil
}

func findByKey(tx *gorm.DB, key string) (*models.QueuedCommand, error) {
	var rec models.QueuedCommand
	err := tx.Where("idempotency_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, syncerr.Storage("lookup idempotency key", err)
	}
	return &rec, nil
}

// DequeueDue atomically selects up to limit due, non-executing records with
// priority >= floor and marks them executing. Only the oldest record of
// each dependency chain (lowest Seq) is eligible, so a chain never has more
// than one record in flight and executes strictly in order.
func (q *Queue) DequeueDue(ctx context.Context, limit int, floor command.Priority) ([]models.QueuedCommand, error) {
	if limit <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now()
	var recs []models.QueuedCommand

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("is_executing = ? AND next_attempt_at <= ? AND priority >= ?", false, now.UnixMilli(), int(floor)).
			Where("(chain_key = ? OR seq = (SELECT MIN(h.seq) FROM queued_commands h WHERE h.chain_key = queued_commands.chain_key))", "").
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("priority DESC, seq ASC").
			Limit(limit).
			Find(&recs)
		if result.Error != nil {
			return syncerr.Storage("select due records", result.Error)
		}
		if len(recs) == 0 {
			return nil
		}

		ids := make([]uint, len(recs))
		for i := range recs {
			ids[i] = recs[i].ID
		}
		if err := tx.Model(&models.QueuedCommand{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"is_executing":    true,
			"executing_since": now,
		}).Error; err != nil {
			return syncerr.Storage("mark executing", err)
		}
		for i := range recs {
			recs[i].IsExecuting = true
			recs[i].ExecutingSince = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Release clears the executing flag on records that were dequeued but
// never reported, e.g. after a batch aborted on a storage error. Retry
// bookkeeping is left untouched.
func (q *Queue) Release(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.db.WithContext(ctx).Model(&models.QueuedCommand{}).
		Where("id IN ? AND is_executing = ?", ids, true).
		Updates(map[string]interface{}{"is_executing": false, "executing_since": nil}).Error
	return syncerr.Storage("release records", err)
}

// RecoverStale releases records left executing for longer than olderThan,
// which only happens when the process died mid-batch. The server dedupes
// any request that was already sent by its idempotency key.
func (q *Queue) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.opts.Now().Add(-olderThan)
	result := q.db.WithContext(ctx).Model(&models.QueuedCommand{}).
		Where("is_executing = ? AND (executing_since IS NULL OR executing_since <= ?)", true, cutoff).
		Updates(map[string]interface{}{"is_executing": false, "executing_since": nil})
	if result.Error != nil {
		return 0, syncerr.Storage("recover stale records", result.Error)
	}
	return result.RowsAffected, nil
}

// PendingCount returns the number of commands not yet delivered.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&models.QueuedCommand{}).Count(&n).Error
	if err != nil {
		return 0, syncerr.Storage("count pending", err)
	}
	return n, nil
}

// PendingRecords returns every queued record in dispatch order.
func (q *Queue) PendingRecords(ctx context.Context) ([]models.QueuedCommand, error) {
	var recs []models.QueuedCommand
	err := q.db.WithContext(ctx).Order("priority DESC, seq ASC").Find(&recs).Error
	if err != nil {
		return nil, syncerr.Storage("list pending", err)
	}
	return recs, nil
}

// NextDue returns when the earliest waiting record becomes due, or the
// zero time if nothing is waiting on backoff.
func (q *Queue) NextDue(ctx context.Context) (time.Time, error) {
	var rec models.QueuedCommand
	err := q.db.WithContext(ctx).
		Where("is_executing = ?", false).
		Order("next_attempt_at ASC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, syncerr.Storage("next due", err)
	}
	return time.UnixMilli(rec.NextAttemptAt), nil
}
