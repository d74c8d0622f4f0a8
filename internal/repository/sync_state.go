package repository

import (
	"context"
	"errors"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/enum"
	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/internal/tracing"
	"github.com/mailriver/mailriver/internal/utils"
)

type syncStateRepository struct {
	db *gorm.DB
}

func NewSyncStateRepository(db *gorm.DB) interfaces.SyncStateRepository {
	return &syncStateRepository{db: db}
}

func (r *syncStateRepository) GetOrInit(ctx context.Context, accountID string) (*models.SyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.GetOrInit")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var state models.SyncState
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&state).Error
	if err == nil {
		return &state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		tracing.TraceErr(span, err)
		return nil, err
	}

	state = models.SyncState{
		AccountID: accountID,
		Cursors:   make(models.JSONMap),
		State:     enum.SyncIdle,
	}
	if err := r.db.WithContext(ctx).Create(&state).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &state, nil
}

func (r *syncStateRepository) GetByAccount(ctx context.Context, accountID string) (*models.SyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.GetByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var state models.SyncState
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &state, nil
}

func (r *syncStateRepository) SaveCursors(ctx context.Context, accountID string, cursors models.JSONMap) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.SaveCursors")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	err := r.db.WithContext(ctx).
		Model(&models.SyncState{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"cursors":    cursors,
			"updated_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *syncStateRepository) SetState(ctx context.Context, accountID string, state enum.SyncRunState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.SetState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("state", state)

	err := r.db.WithContext(ctx).
		Model(&models.SyncState{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"state":      state,
			"updated_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *syncStateRepository) RecordSuccess(ctx context.Context, accountID string, at time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.RecordSuccess")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	err := r.db.WithContext(ctx).
		Model(&models.SyncState{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"state":                   enum.SyncCompleted,
			"last_sync_at":            at,
			"consecutive_error_count": 0,
			"last_error":              "",
			"next_retry_at":           nil,
			"suspended_until":         nil,
			"updated_at":              utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *syncStateRepository) RecordError(ctx context.Context, accountID, errMsg string, nextRetryAt time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.RecordError")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	err := r.db.WithContext(ctx).
		Model(&models.SyncState{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"state":                   enum.SyncFailed,
			"consecutive_error_count": gorm.Expr("consecutive_error_count + 1"),
			"last_error":              errMsg,
			"next_retry_at":           nextRetryAt,
			"updated_at":              utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *syncStateRepository) Suspend(ctx context.Context, accountID string, until time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.Suspend")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("until", until)

	err := r.db.WithContext(ctx).
		Model(&models.SyncState{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"state":           enum.SyncRateLimited,
			"suspended_until": until,
			"updated_at":      utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *syncStateRepository) Reset(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.Reset")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	err := r.db.WithContext(ctx).
		Model(&models.SyncState{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"cursors":                 models.JSONMap{},
			"state":                   enum.SyncIdle,
			"consecutive_error_count": 0,
			"last_error":              "",
			"next_retry_at":           nil,
			"suspended_until":         nil,
			"updated_at":              utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *syncStateRepository) DeleteForAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.DeleteForAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&models.SyncState{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
