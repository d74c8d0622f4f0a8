package repository

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/internal/tracing"
	"github.com/mailriver/mailriver/internal/utils"
)

type syncControlRepository struct {
	db *gorm.DB
}

func NewSyncControlRepository(db *gorm.DB) interfaces.SyncControlRepository {
	return &syncControlRepository{db: db}
}

// GetKillSwitch reads the control row fresh every call. A missing row means
// the switch has never been thrown.
func (r *syncControlRepository) GetKillSwitch(ctx context.Context) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncControlRepository.GetKillSwitch")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var control models.SyncControl
	if err := r.db.WithContext(ctx).Where("id = ?", 1).First(&control).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		tracing.TraceErr(span, err)
		return false, err
	}
	return control.KillSwitch, nil
}

func (r *syncControlRepository) SetKillSwitch(ctx context.Context, enabled bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncControlRepository.SetKillSwitch")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("enabled", enabled)

	result := r.db.WithContext(ctx).
		Model(&models.SyncControl{}).
		Where("id = ?", 1).
		Updates(map[string]interface{}{
			"kill_switch": enabled,
			"updated_at":  utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		control := models.SyncControl{ID: 1, KillSwitch: enabled, UpdatedAt: utils.Now()}
		if err := r.db.WithContext(ctx).Create(&control).Error; err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	return nil
}
