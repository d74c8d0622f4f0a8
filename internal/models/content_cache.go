package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailriver/mailriver/internal/utils"
)

// ContentCacheEntry stores full message bodies. Entries exist independently of
// the index: created lazily on first body read, removed by the periodic sweep.
type ContentCacheEntry struct {
	ID                string `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID         string `gorm:"column:account_id;type:varchar(50);not null;uniqueIndex:idx_cache_account_message"`
	ProviderMessageID string `gorm:"column:provider_message_id;type:varchar(255);not null;uniqueIndex:idx_cache_account_message"`

	BodyText string `gorm:"column:body_text;type:text"`
	BodyHTML string `gorm:"column:body_html;type:text"`

	// StorageKey is set when the body was large enough to overflow into object
	// storage; the row then carries only the pointer.
	StorageKey string `gorm:"column:storage_key;type:varchar(512)"`
	Size       int64  `gorm:"column:size;not null"`

	CachedAt     time.Time `gorm:"column:cached_at;type:timestamp;not null"`
	LastAccessed time.Time `gorm:"column:last_accessed;type:timestamp;index;not null"`
	AccessCount  int       `gorm:"column:access_count;not null;default:0"`
}

func (ContentCacheEntry) TableName() string {
	return "content_cache_entries"
}

func (e *ContentCacheEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("body", 24)
	}
	return nil
}
