package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/mailriver/mailriver/internal/enum"
	"github.com/mailriver/mailriver/internal/utils"
)

// Account is a connected mailbox and its credential reference.
type Account struct {
	ID       string            `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	OwnerID  string            `gorm:"column:owner_id;type:varchar(50);index" json:"ownerId"`
	Provider enum.ProviderKind `gorm:"column:provider;type:varchar(50);index;not null" json:"provider"`

	// CredentialRef points into the token provider; raw secrets are never stored here.
	CredentialRef string `gorm:"column:credential_ref;type:varchar(255);not null" json:"credentialRef"`

	EmailAddress string         `gorm:"column:email_address;type:varchar(255);index" json:"emailAddress"`
	Folders      pq.StringArray `gorm:"column:folders;type:text[];not null" json:"folders"`

	// Settings holds provider-specific connection details (IMAP host/port,
	// Graph user id, ...), opaque to everything but the matching adapter.
	Settings JSONMap `gorm:"column:settings;type:jsonb" json:"settings"`

	// PollingIntervalSeconds is validated against the guard's floor before persisting.
	PollingIntervalSeconds int  `gorm:"column:polling_interval_seconds;not null;default:300" json:"pollingIntervalSeconds"`
	Active                 bool `gorm:"column:active;not null;default:true" json:"active"`
	SyncEnabled            bool `gorm:"column:sync_enabled;not null;default:true" json:"syncEnabled"`

	LastSyncAt *time.Time `gorm:"column:last_sync_at;type:timestamp" json:"lastSyncAt"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	return nil
}

// PollingInterval returns the polling interval as a duration.
func (a *Account) PollingInterval() time.Duration {
	return time.Duration(a.PollingIntervalSeconds) * time.Second
}
