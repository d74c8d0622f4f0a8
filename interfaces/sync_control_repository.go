package interfaces

import "context"

type SyncControlRepository interface {
	// GetKillSwitch re-reads the persisted control row; callers never cache it
	// across enumeration cycles.
	GetKillSwitch(ctx context.Context) (bool, error)
	SetKillSwitch(ctx context.Context, enabled bool) error
}
