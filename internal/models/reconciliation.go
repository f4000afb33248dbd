package models

import "time"

// Reconciliation maps a locally minted temp id to the id the server assigned
// when the creating command succeeded. Rows are never updated.
type Reconciliation struct {
	TempEntityID   string `gorm:"primaryKey;size:64"`
	ServerEntityID string `gorm:"size:64;not null;index"`
	Kind           string `gorm:"size:32"`
	RecordID       uint
	CreatedAt      time.Time
}
