package database

import (
	"time"

	"github.com/google/uuid"
)

// FontRecord is the metadata row kept for every stored font file.
type FontRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:text;index;not null" json:"user_id"`
	FontFamily    string    `json:"font_family"`
	FontSubfamily string    `json:"font_subfamily"`
	FontFoundry   string    `json:"font_foundry"`
	FontDesigner  string    `json:"font_designer"`
	FontLicense   string    `json:"font_license"`
	FontCopyright string    `json:"font_copyright"`
	FileName      string    `json:"file_name"`
	ObjectPath    string    `gorm:"index;not null" json:"object_path"`
	Checksum      string    `gorm:"index;not null" json:"checksum"`
	CreatedAt     time.Time `json:"created_at"`
}

// Sync statuses recorded for an upload batch.
const (
	SyncStatusSuccess = "success"
	SyncStatusPartial = "partial"
	SyncStatusFailed  = "failed"
)

// SyncTransaction records the outcome of one upload request.
type SyncTransaction struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:text;index" json:"user_id"`
	SyncTimestamp  time.Time `gorm:"autoCreateTime" json:"sync_timestamp"`
	SyncStatus     string    `gorm:"not null" json:"sync_status"`
	ProcessedCount int       `json:"processed_count"`
	InsertedCount  int       `json:"inserted_count"`
	SkippedCount   int       `json:"skipped_count"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Status derives the batch status from its counters.
func (t *SyncTransaction) Status() string {
	switch {
	case t.ErrorMessage != "" && t.InsertedCount == 0:
		return SyncStatusFailed
	case t.ErrorMessage != "":
		return SyncStatusPartial
	default:
		return SyncStatusSuccess
	}
}
