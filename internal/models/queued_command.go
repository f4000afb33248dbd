package models

import "time"

// QueuedCommand is one pending offline command. Rows are deleted once the
// command reaches a terminal outcome; see CommandFailure for the markers
// kept for undelivered commands.
type QueuedCommand struct {
	ID             uint       `gorm:"primaryKey;autoIncrement"`
	IdempotencyKey string     `gorm:"size:64;not null;uniqueIndex"`
	Kind           string     `gorm:"size:32;not null;index"`
	Priority       int        `gorm:"not null;default:0;index"`
	ChainKey       string     `gorm:"size:128;index"`
	// Seq orders records within a chain; the lowest live Seq is the head.
	// It normally grows with each insert, but a requeued creating command
	// is placed ahead of the records that depend on it.
	Seq            int64      `gorm:"not null;default:0;index"`
	EntityRef      string     `gorm:"size:64;index"`
	Payload        string     `gorm:"type:text;not null"`
	EnqueuedAt     time.Time  `gorm:"not null"`
	RetryCount     int        `gorm:"not null;default:0"`
	MaxRetries     int        `gorm:"not null;default:3"`
	NextAttemptAt  int64      `gorm:"not null;default:0;index"` // unix millis
	IsExecuting    bool       `gorm:"not null;default:false;index"`
	ExecutingSince *time.Time
	LastError      string     `gorm:"type:text"`
	TempEntityID   string     `gorm:"size:64;index"`
	// ServerEntityID and IsReconciled are set when a temp reference in
	// this record has been rewritten to the server-assigned id.
	ServerEntityID string `gorm:"size:64"`
	IsReconciled   bool   `gorm:"not null;default:false"`
	UpdatedAt      time.Time
}
