package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/internal/tracing"
	"github.com/mailriver/mailriver/internal/utils"
)

type syncLeaseRepository struct {
	db *gorm.DB
}

func NewSyncLeaseRepository(db *gorm.DB) interfaces.SyncLeaseRepository {
	return &syncLeaseRepository{db: db}
}

// Acquire takes the lease when the row is absent, already ours, or expired.
// The expiry comparison happens in the database so concurrent workers race on
// one atomic statement instead of a read-then-write.
func (r *syncLeaseRepository) Acquire(ctx context.Context, accountID, holder string, ttl time.Duration) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncLeaseRepository.Acquire")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	now := utils.Now()
	lease := models.SyncLease{
		AccountID: accountID,
		Holder:    holder,
		ExpiresAt: now.Add(ttl),
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Or(
				clause.Lt{Column: clause.Column{Table: "sync_leases", Name: "expires_at"}, Value: now},
				clause.Eq{Column: clause.Column{Table: "sync_leases", Name: "holder"}, Value: holder},
			),
		}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"holder":     holder,
			"expires_at": now.Add(ttl),
		}),
	}).Create(&lease)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, result.Error
	}

	acquired := result.RowsAffected > 0
	span.SetTag("acquired", acquired)
	return acquired, nil
}

func (r *syncLeaseRepository) Renew(ctx context.Context, accountID, holder string, ttl time.Duration) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncLeaseRepository.Renew")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Model(&models.SyncLease{}).
		Where("account_id = ? AND holder = ?", accountID, holder).
		Update("expires_at", utils.Now().Add(ttl))
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *syncLeaseRepository) Release(ctx context.Context, accountID, holder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncLeaseRepository.Release")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND holder = ?", accountID, holder).
		Delete(&models.SyncLease{}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
