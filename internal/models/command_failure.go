package models

import "time"

// Failure reasons recorded on CommandFailure.
const (
	FailureExhausted = "exhausted" // retryable failures hit MaxRetries
	FailureRejected  = "rejected"  // server refused the command permanently
	FailureConflict  = "conflict"  // server state is incompatible
)

// CommandFailure retains a command that left the queue without being
// delivered, so the driver or an operator can see it and act on it.
type CommandFailure struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	RecordID       uint      `gorm:"index"`
	IdempotencyKey string    `gorm:"size:64;index"`
	Kind           string    `gorm:"size:32"`
	Payload        string    `gorm:"type:text"`
	TempEntityID   string    `gorm:"size:64;index"`
	Reason         string    `gorm:"size:16;index"`
	LastError      string    `gorm:"type:text"`
	ServerData     string    `gorm:"type:text"`
	RetryCount     int
	Dismissed      bool      `gorm:"default:false;index"`
	FailedAt       time.Time `gorm:"index"`
}
