package interfaces

import (
	"context"
	"time"

	"github.com/mailriver/mailriver/internal/models"
)

type ContentCacheRepository interface {
	// Get returns the cached entry or ErrCacheMiss. Every hit stamps
	// last_accessed and increments access_count; that is the eviction signal,
	// not an optional side effect.
	Get(ctx context.Context, accountID, providerMessageID string) (*models.ContentCacheEntry, error)
	Put(ctx context.Context, entry *models.ContentCacheEntry) error
	// DeleteExpired removes, in one predicate delete, entries not accessed
	// since longCutoff, plus entries not accessed since shortCutoff whose
	// access_count is below minAccessCount. It returns the storage keys of the
	// removed rows so overflowed bodies can be deleted from object storage.
	DeleteExpired(ctx context.Context, shortCutoff, longCutoff time.Time, minAccessCount int) (removed int64, storageKeys []string, err error)
	DeleteForAccount(ctx context.Context, accountID string) error
}
