package interfaces

import (
	"context"
	"time"
)

type SyncLeaseRepository interface {
	// Acquire takes the per-account lease when it is free or expired. It
	// reports false when another holder still owns it.
	Acquire(ctx context.Context, accountID, holder string, ttl time.Duration) (bool, error)
	// Renew extends the lease while a long cycle is still making progress.
	Renew(ctx context.Context, accountID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, accountID, holder string) error
}
