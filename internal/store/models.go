// internal/store/models.go

// Package store persists sessions, command history, and finalized timeline
// entries to SQLite. Timeline payloads are stored as opaque JSON so the
// schema never chases the entry union.
package store

import (
	"time"
)

// SessionRow is the persisted session record.
type SessionRow struct {
	ID               string    `gorm:"primaryKey;size:64"`
	WorkingDirectory string    `gorm:"size:512"`
	Mode             string    `gorm:"size:16;not null"`
	CreatedAt        time.Time `gorm:"index"`
}

func (SessionRow) TableName() string { return "sessions" }

// HistoryRow is one submitted input, ordered by insertion.
type HistoryRow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"size:64;not null;index"`
	Command   string    `gorm:"type:text;not null"`
	Mode      string    `gorm:"size:16;not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (HistoryRow) TableName() string { return "command_history" }

// TimelineRow is one finalized timeline entry. Payload holds the serialized
// entry; EntryType is duplicated as a column for filtering.
type TimelineRow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"size:64;not null;index"`
	EntryType string    `gorm:"size:32;not null;index"`
	Payload   string    `gorm:"type:json;not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (TimelineRow) TableName() string { return "timeline_entries" }
