package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/models"
	"github.com/zulandar/fleetsync/internal/syncerr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Resolution is the state of a temp id in the reconciliation map.
type Resolution int

const (
	// Resolved: the creating command succeeded and the server id is known.
	Resolved Resolution = iota
	// Pending: the creating command is still queued.
	Pending
	// Orphaned: nothing will ever confirm the temp id, typically because
	// the creating command failed terminally.
	Orphaned
)

func (r Resolution) String() string {
	switch r {
	case Resolved:
		return "resolved"
	case Pending:
		return "pending"
	case Orphaned:
		return "orphaned"
	}
	return fmt.Sprintf("resolution(%d)", int(r))
}

// reconcile appends the temp→server mapping for rec and rewrites queued,
// non-executing records that still reference the temp id. Executing
// records are left alone; the executor re-resolves them before sending.
func reconcile(tx *gorm.DB, rec *models.QueuedCommand, serverID string, now time.Time) (int, error) {
	entry := models.Reconciliation{
		TempEntityID:   rec.TempEntityID,
		ServerEntityID: serverID,
		Kind:           rec.Kind,
		RecordID:       rec.ID,
		CreatedAt:      now,
	}
	// Entries are append-only; a replayed success keeps the first mapping.
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error; err != nil {
		return 0, syncerr.Storage("write reconciliation", err)
	}

	var refs []models.QueuedCommand
	if err := tx.Where("entity_ref = ? AND is_executing = ?", rec.TempEntityID, false).Find(&refs).Error; err != nil {
		return 0, syncerr.Storage("find referencing records", err)
	}
	for _, r := range refs {
		cmd, err := command.Decode([]byte(r.Payload))
		if err != nil {
			// Leave it; the executor rejects undecodable payloads.
			continue
		}
		data, err := command.Encode(cmd.WithEntityRef(serverID))
		if err != nil {
			return 0, fmt.Errorf("queue: rewrite record %d: %w", r.ID, err)
		}
		if err := tx.Model(&models.QueuedCommand{}).Where("id = ?", r.ID).Updates(map[string]interface{}{
			"payload":          string(data),
			"entity_ref":       serverID,
			"server_entity_id": serverID,
			"is_reconciled":    true,
		}).Error; err != nil {
			return 0, syncerr.Storage("rewrite referencing record", err)
		}
	}
	return len(refs), nil
}

// Resolve looks up tempID in the reconciliation map.
func (q *Queue) Resolve(ctx context.Context, tempID string) (Resolution, string, error) {
	db := q.db.WithContext(ctx)

	var entry models.Reconciliation
	err := db.Where("temp_entity_id = ?", tempID).Take(&entry).Error
	if err == nil {
		return Resolved, entry.ServerEntityID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Pending, "", syncerr.Storage("resolve temp id", err)
	}

	var n int64
	if err := db.Model(&models.QueuedCommand{}).Where("temp_entity_id = ?", tempID).Count(&n).Error; err != nil {
		return Pending, "", syncerr.Storage("resolve temp id", err)
	}
	if n > 0 {
		return Pending, "", nil
	}
	return Orphaned, "", nil
}

// Reconciliations returns the whole map, newest first.
func (q *Queue) Reconciliations(ctx context.Context) ([]models.Reconciliation, error) {
	var entries []models.Reconciliation
	if err := q.db.WithContext(ctx).Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, syncerr.Storage("list reconciliations", err)
	}
	return entries, nil
}
