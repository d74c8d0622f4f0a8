package models

import "time"

// SyncControl is the single configuration row holding the global kill switch.
// It is re-read by the scheduler and guard at the start of every enumeration
// cycle, so multiple worker processes observe it consistently.
type SyncControl struct {
	ID         int       `gorm:"column:id;primaryKey;default:1"`
	KillSwitch bool      `gorm:"column:kill_switch;not null;default:false"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (SyncControl) TableName() string {
	return "sync_control"
}
