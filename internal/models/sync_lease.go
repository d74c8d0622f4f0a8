package models

import "time"

// SyncLease backs the per-account mutual-exclusion lock. A worker holds the
// lease for one sync attempt; the expiry bounds damage from a worker that
// crashes mid-task.
type SyncLease struct {
	AccountID string    `gorm:"column:account_id;type:varchar(50);primaryKey"`
	Holder    string    `gorm:"column:holder;type:varchar(64);not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;type:timestamp;index;not null"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (SyncLease) TableName() string {
	return "sync_leases"
}
