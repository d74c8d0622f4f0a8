package repository

import (
	"context"
	"errors"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailriver/mailriver/interfaces"
	mrerrors "github.com/mailriver/mailriver/internal/errors"
	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/internal/tracing"
	"github.com/mailriver/mailriver/internal/utils"
)

type contentCacheRepository struct {
	db *gorm.DB
}

func NewContentCacheRepository(db *gorm.DB) interfaces.ContentCacheRepository {
	return &contentCacheRepository{db: db}
}

// Get stamps last_accessed and access_count on every hit; the sweep predicate
// relies on those fields being current.
func (r *contentCacheRepository) Get(ctx context.Context, accountID, providerMessageID string) (*models.ContentCacheEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "contentCacheRepository.Get")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var entry models.ContentCacheEntry
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND provider_message_id = ?", accountID, providerMessageID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, mrerrors.ErrCacheMiss
		}
		tracing.TraceErr(span, err)
		return nil, err
	}

	now := utils.Now()
	err = r.db.WithContext(ctx).
		Model(&models.ContentCacheEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"last_accessed": now,
			"access_count":  gorm.Expr("access_count + 1"),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	entry.LastAccessed = now
	entry.AccessCount++
	return &entry, nil
}

func (r *contentCacheRepository) Put(ctx context.Context, entry *models.ContentCacheEntry) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "contentCacheRepository.Put")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, entry.AccountID)

	now := utils.Now()
	if entry.CachedAt.IsZero() {
		entry.CachedAt = now
	}
	if entry.LastAccessed.IsZero() {
		entry.LastAccessed = now
	}

	result := r.db.WithContext(ctx).
		Model(&models.ContentCacheEntry{}).
		Where("account_id = ? AND provider_message_id = ?", entry.AccountID, entry.ProviderMessageID).
		Updates(map[string]interface{}{
			"body_text":     entry.BodyText,
			"body_html":     entry.BodyHTML,
			"storage_key":   entry.StorageKey,
			"size":          entry.Size,
			"cached_at":     entry.CachedAt,
			"last_accessed": entry.LastAccessed,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// expiredPredicate evicts anything idle past the long cutoff, plus low-traffic
// entries idle past the short cutoff. Rows accessed since the short cutoff are
// always retained.
const expiredPredicate = "last_accessed < ? OR (last_accessed < ? AND access_count < ?)"

// DeleteExpired evicts in a single statement so a row read between selection
// and deletion cannot be swept with a fresh last_accessed stamp.
func (r *contentCacheRepository) DeleteExpired(ctx context.Context, shortCutoff, longCutoff time.Time, minAccessCount int) (int64, []string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "contentCacheRepository.DeleteExpired")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var removed []models.ContentCacheEntry
	err := r.db.WithContext(ctx).
		Raw("DELETE FROM "+models.ContentCacheEntry{}.TableName()+" WHERE "+expiredPredicate+" RETURNING id, storage_key",
			longCutoff, shortCutoff, minAccessCount).
		Scan(&removed).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, nil, err
	}

	var storageKeys []string
	for _, entry := range removed {
		if entry.StorageKey != "" {
			storageKeys = append(storageKeys, entry.StorageKey)
		}
	}
	span.SetTag("removed", len(removed))
	return int64(len(removed)), storageKeys, nil
}

func (r *contentCacheRepository) DeleteForAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "contentCacheRepository.DeleteForAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&models.ContentCacheEntry{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
