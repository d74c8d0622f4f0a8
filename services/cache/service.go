package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailriver/mailriver/config"
	"github.com/mailriver/mailriver/interfaces"
	mrerrors "github.com/mailriver/mailriver/internal/errors"
	"github.com/mailriver/mailriver/internal/logger"
	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/internal/tracing"
	"github.com/mailriver/mailriver/internal/utils"
	"github.com/mailriver/mailriver/services/provider"
)

// overflowBody is the shape stored in object storage for oversized bodies.
type overflowBody struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// ContentCacheService serves message bodies read-through: cache hit, object
// storage redirect, or a lazy provider fetch that fills the cache.
type ContentCacheService struct {
	cfg            *config.CacheConfig
	log            logger.Logger
	accounts       interfaces.AccountRepository
	cacheRepo      interfaces.ContentCacheRepository
	storage        interfaces.StorageService
	tokens         interfaces.TokenProvider
	adapterFactory provider.Factory
}

func NewContentCacheService(
	cfg *config.CacheConfig,
	log logger.Logger,
	accounts interfaces.AccountRepository,
	cacheRepo interfaces.ContentCacheRepository,
	storage interfaces.StorageService,
	tokens interfaces.TokenProvider,
	adapterFactory provider.Factory,
) *ContentCacheService {
	return &ContentCacheService{
		cfg:            cfg,
		log:            log,
		accounts:       accounts,
		cacheRepo:      cacheRepo,
		storage:        storage,
		tokens:         tokens,
		adapterFactory: adapterFactory,
	}
}

// GetBody returns the message body, fetching and caching it on a miss. The
// caller holds a message that is already indexed; a provider-side deletion
// surfaces as NotFound.
func (s *ContentCacheService) GetBody(ctx context.Context, accountID, providerMessageID string) (*provider.BodyVariants, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ContentCacheService.GetBody")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	entry, err := s.cacheRepo.Get(ctx, accountID, providerMessageID)
	if err == nil {
		span.SetTag("cache.hit", true)
		return s.materialize(ctx, entry)
	}
	if !errors.Is(err, mrerrors.ErrCacheMiss) {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.SetTag("cache.hit", false)

	body, err := s.fetchFromProvider(ctx, accountID, providerMessageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if err := s.store(ctx, accountID, providerMessageID, body); err != nil {
		// A failed cache write does not fail the read.
		tracing.TraceErr(span, err)
		s.log.Warnf("failed to cache body for account %s message %s: %v", accountID, providerMessageID, err)
	}

	return body, nil
}

func (s *ContentCacheService) materialize(ctx context.Context, entry *models.ContentCacheEntry) (*provider.BodyVariants, error) {
	if entry.StorageKey == "" {
		return &provider.BodyVariants{Text: entry.BodyText, HTML: entry.BodyHTML, Size: entry.Size}, nil
	}

	raw, err := s.storage.Download(ctx, entry.StorageKey)
	if err != nil {
		return nil, errors.Wrap(err, "download overflowed body")
	}
	var body overflowBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errors.Wrap(err, "decode overflowed body")
	}
	return &provider.BodyVariants{Text: body.Text, HTML: body.HTML, Size: entry.Size}, nil
}

func (s *ContentCacheService) fetchFromProvider(ctx context.Context, accountID, providerMessageID string) (*provider.BodyVariants, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, mrerrors.ErrAccountNotFound
	}

	token, err := s.tokens.Refresh(ctx, accountID)
	if err != nil {
		return nil, errors.Wrap(err, "refresh token")
	}

	adapter, err := s.adapterFactory(ctx, account, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return adapter.FetchBody(ctx, providerMessageID)
}

func (s *ContentCacheService) store(ctx context.Context, accountID, providerMessageID string, body *provider.BodyVariants) error {
	entry := &models.ContentCacheEntry{
		AccountID:         accountID,
		ProviderMessageID: providerMessageID,
		Size:              body.Size,
	}

	if body.Size > int64(s.cfg.OverflowBytes) {
		raw, err := json.Marshal(overflowBody{Text: body.Text, HTML: body.HTML})
		if err != nil {
			return err
		}
		key := fmt.Sprintf("bodies/%s/%s", accountID, utils.GenerateNanoIDWithPrefix("blob", 21))
		if err := s.storage.Upload(ctx, key, raw, "application/json"); err != nil {
			return errors.Wrap(err, "upload overflowed body")
		}
		entry.StorageKey = key
	} else {
		entry.BodyText = body.Text
		entry.BodyHTML = body.HTML
	}

	return s.cacheRepo.Put(ctx, entry)
}

// Sweep evicts stale cache rows and their overflowed blobs. Orphaned blobs
// from failed storage deletes are retried on the next sweep only if the row
// survived; otherwise they age out through bucket lifecycle rules.
func (s *ContentCacheService) Sweep(ctx context.Context) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ContentCacheService.Sweep")
	defer span.Finish()
	tracing.TagComponentService(span)

	now := utils.Now()
	shortCutoff := now.Add(-time.Duration(s.cfg.ShortTTLHours) * time.Hour)
	longCutoff := now.Add(-time.Duration(s.cfg.LongTTLHours) * time.Hour)

	removed, storageKeys, err := s.cacheRepo.DeleteExpired(ctx, shortCutoff, longCutoff, s.cfg.MinAccessCount)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	for _, key := range storageKeys {
		if err := s.storage.Delete(ctx, key); err != nil {
			tracing.TraceErr(span, err)
			s.log.Warnf("failed to delete overflowed body %s: %v", key, err)
		}
	}

	span.SetTag("removed", removed)
	return removed, nil
}
