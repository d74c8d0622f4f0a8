package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailriver/mailriver/internal/enum"
	"github.com/mailriver/mailriver/internal/utils"
)

// SyncState tracks the synchronization position of one account. Cursors are
// opaque per-folder tokens owned by the provider adapter; they only advance
// after the corresponding page's index writes have committed.
type SyncState struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID string `gorm:"column:account_id;type:varchar(50);uniqueIndex;not null"`

	Cursors JSONMap           `gorm:"column:cursors;type:jsonb"`
	State   enum.SyncRunState `gorm:"column:state;type:varchar(50);index;not null;default:idle"`

	LastSyncAt            *time.Time `gorm:"column:last_sync_at;type:timestamp"`
	ConsecutiveErrorCount int        `gorm:"column:consecutive_error_count;not null;default:0"`
	LastError             string     `gorm:"column:last_error;type:text"`

	// NextRetryAt schedules the backoff retry after a failure; SuspendedUntil
	// holds the provider-indicated rate-limit interval.
	NextRetryAt    *time.Time `gorm:"column:next_retry_at;type:timestamp"`
	SuspendedUntil *time.Time `gorm:"column:suspended_until;type:timestamp"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (SyncState) TableName() string {
	return "sync_states"
}

func (s *SyncState) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = utils.GenerateNanoIDWithPrefix("sync", 16)
	}
	return nil
}

// Cursor returns the stored cursor for a folder, or "" when none exists yet.
func (s *SyncState) Cursor(folder string) string {
	if s.Cursors == nil {
		return ""
	}
	if v, ok := s.Cursors[folder].(string); ok {
		return v
	}
	return ""
}

// SetCursor records the folder cursor in memory; persisting it is the caller's
// responsibility, after the page commit.
func (s *SyncState) SetCursor(folder, cursor string) {
	if s.Cursors == nil {
		s.Cursors = make(JSONMap)
	}
	s.Cursors[folder] = cursor
}
