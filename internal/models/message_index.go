package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/mailriver/mailriver/internal/enum"
	"github.com/mailriver/mailriver/internal/utils"
)

// MessageIndexEntry is the lightweight, deduplicated metadata row for one
// message. Identity is (account_id, provider_message_id); writes are upserts.
type MessageIndexEntry struct {
	ID                string `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID         string `gorm:"column:account_id;type:varchar(50);not null;uniqueIndex:idx_account_provider_message"`
	ProviderMessageID string `gorm:"column:provider_message_id;type:varchar(255);not null;uniqueIndex:idx_account_provider_message"`

	// OwnerID is resolved at write time; rows without it are rejected, never repaired.
	OwnerID string `gorm:"column:owner_id;type:varchar(50);index;not null"`

	Folder    string                `gorm:"column:folder;type:varchar(100);index;not null"`
	Direction enum.MessageDirection `gorm:"column:direction;type:varchar(20);index;not null"`

	Subject     string         `gorm:"column:subject;type:varchar(1000)"`
	FromAddress string         `gorm:"column:from_address;type:varchar(255);index"`
	ToAddresses pq.StringArray `gorm:"column:to_addresses;type:text[]"`

	SentAt     *time.Time `gorm:"column:sent_at;type:timestamp;index"`
	ReceivedAt *time.Time `gorm:"column:received_at;type:timestamp;index"`
	Read       bool       `gorm:"column:read;not null;default:false"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (MessageIndexEntry) TableName() string {
	return "message_index_entries"
}

func (e *MessageIndexEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("msg", 24)
	}
	e.CreatedAt = utils.Now()
	return nil
}
