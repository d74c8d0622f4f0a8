package repository

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailriver/mailriver/interfaces"
	mrerrors "github.com/mailriver/mailriver/internal/errors"
	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/internal/tracing"
	"github.com/mailriver/mailriver/internal/utils"
)

type messageIndexRepository struct {
	db *gorm.DB
}

func NewMessageIndexRepository(db *gorm.DB) interfaces.MessageIndexRepository {
	return &messageIndexRepository{db: db}
}

func (r *messageIndexRepository) Upsert(ctx context.Context, entry *models.MessageIndexEntry) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageIndexRepository.Upsert")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, entry.AccountID)

	created, err := upsertEntry(r.db.WithContext(ctx), entry)
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	span.SetTag("created", created)
	return created, nil
}

// UpsertBatch writes the page inside one transaction. Entries with no owner
// are collected as rejected and skipped; they do not fail the page.
func (r *messageIndexRepository) UpsertBatch(ctx context.Context, entries []*models.MessageIndexEntry) ([]*models.MessageIndexEntry, []*models.MessageIndexEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageIndexRepository.UpsertBatch")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("batch.size", len(entries))

	var created []*models.MessageIndexEntry
	var rejected []*models.MessageIndexEntry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range entries {
			if entry.OwnerID == "" {
				rejected = append(rejected, entry)
				continue
			}
			wasCreated, err := upsertEntry(tx, entry)
			if err != nil {
				return err
			}
			if wasCreated {
				created = append(created, entry)
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}
	span.SetTag("created", len(created))
	span.SetTag("rejected", len(rejected))
	return created, rejected, nil
}

func upsertEntry(tx *gorm.DB, entry *models.MessageIndexEntry) (bool, error) {
	if entry.OwnerID == "" {
		return false, mrerrors.ErrOwnerUnresolved
	}

	result := tx.Model(&models.MessageIndexEntry{}).
		Where("account_id = ? AND provider_message_id = ?", entry.AccountID, entry.ProviderMessageID).
		Updates(map[string]interface{}{
			"folder":       entry.Folder,
			"subject":      entry.Subject,
			"from_address": entry.FromAddress,
			"to_addresses": entry.ToAddresses,
			"sent_at":      entry.SentAt,
			"received_at":  entry.ReceivedAt,
			"read":         entry.Read,
			"updated_at":   utils.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return false, nil
	}

	if err := tx.Create(entry).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *messageIndexRepository) Exists(ctx context.Context, accountID, providerMessageID string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageIndexRepository.Exists")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MessageIndexEntry{}).
		Where("account_id = ? AND provider_message_id = ?", accountID, providerMessageID).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	return count > 0, nil
}

func (r *messageIndexRepository) List(ctx context.Context, accountID string, filter interfaces.MessageFilter) ([]*models.MessageIndexEntry, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageIndexRepository.List")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	query := r.db.WithContext(ctx).
		Model(&models.MessageIndexEntry{}).
		Where("account_id = ?", accountID)
	if filter.Folder != "" {
		query = query.Where("folder = ?", filter.Folder)
	}
	if filter.Direction != "" {
		query = query.Where("direction = ?", filter.Direction)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var entries []*models.MessageIndexEntry
	err := query.
		Order("received_at DESC NULLS LAST").
		Limit(limit).
		Offset(filter.Offset).
		Find(&entries).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *messageIndexRepository) GetByID(ctx context.Context, id string) (*models.MessageIndexEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageIndexRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var entry models.MessageIndexEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &entry, nil
}

func (r *messageIndexRepository) CountByAccount(ctx context.Context, accountID string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageIndexRepository.CountByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MessageIndexEntry{}).
		Where("account_id = ?", accountID).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	return count, nil
}

func (r *messageIndexRepository) DeleteForAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageIndexRepository.DeleteForAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&models.MessageIndexEntry{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
