package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/models"
	"github.com/zulandar/fleetsync/internal/syncerr"
	"gorm.io/gorm"
)

// Failures lists undelivered commands, newest first. Dismissed entries are
// included only when all is true.
func (q *Queue) Failures(ctx context.Context, all bool) ([]models.CommandFailure, error) {
	tx := q.db.WithContext(ctx).Order("failed_at DESC, id DESC")
	if !all {
		tx = tx.Where("dismissed = ?", false)
	}
	var out []models.CommandFailure
	if err := tx.Find(&out).Error; err != nil {
		return nil, syncerr.Storage("list failures", err)
	}
	return out, nil
}

// DismissFailure hides a failure from the default listing. The row is
// kept for history.
func (q *Queue) DismissFailure(ctx context.Context, id uint) error {
	result := q.db.WithContext(ctx).Model(&models.CommandFailure{}).Where("id = ?", id).Update("dismissed", true)
	if result.Error != nil {
		return syncerr.Storage("dismiss failure", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("queue: failure %d: %w", id, ErrNotFound)
	}
	return nil
}

// RequeueFailure puts an undelivered command back on the queue with its
// original idempotency key and a fresh retry budget, and removes the
// failure row. It returns the new record id.
func (q *Queue) RequeueFailure(ctx context.Context, id uint) (uint, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var recordID uint
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var f models.CommandFailure
		if err := tx.Where("id = ?", id).Take(&f).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("queue: failure %d: %w", id, ErrNotFound)
			}
			return syncerr.Storage("load failure", err)
		}

		cmd, err := command.Decode([]byte(f.Payload))
		if err != nil {
			return fmt.Errorf("queue: requeue failure %d: %w", id, err)
		}

		existing, err := findByKey(tx, cmd.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			recordID = existing.ID
		} else {
			rec, err := q.insert(tx, cmd, 0, "requeued: "+f.LastError)
			if err != nil {
				return err
			}
			recordID = rec.ID
		}

		if err := tx.Delete(&models.CommandFailure{}, f.ID).Error; err != nil {
			return syncerr.Storage("delete failure", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recordID, nil
}
