package services

import (
	"context"

	"github.com/mailriver/mailriver/config"
	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/enum"
	"github.com/mailriver/mailriver/internal/logger"
	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/internal/repository"
	"github.com/mailriver/mailriver/services/auth"
	"github.com/mailriver/mailriver/services/cache"
	"github.com/mailriver/mailriver/services/events"
	"github.com/mailriver/mailriver/services/provider"
	"github.com/mailriver/mailriver/services/provider/gmailmail"
	"github.com/mailriver/mailriver/services/provider/graphmail"
	"github.com/mailriver/mailriver/services/provider/imapmail"
	"github.com/mailriver/mailriver/services/storage"
	syncsvc "github.com/mailriver/mailriver/services/sync"
)

type Services struct {
	EventPublisher      interfaces.EventPublisher
	StorageService      interfaces.StorageService
	TokenProvider       interfaces.TokenProvider
	OwnerDirectory      interfaces.OwnerDirectory
	QuotaGuard          *syncsvc.QuotaGuard
	SyncService         interfaces.SyncService
	Scheduler           *syncsvc.Scheduler
	ContentCacheService *cache.ContentCacheService
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	var publisher interfaces.EventPublisher
	if cfg.AppConfig.RabbitMQURL != "" {
		p, err := events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log, nil)
		if err != nil {
			return nil, err
		}
		publisher = p
	}

	storageService := storage.NewR2StorageService(
		cfg.R2StorageConfig.AccountID,
		cfg.R2StorageConfig.AccessKeyID,
		cfg.R2StorageConfig.AccessKeySecret,
		cfg.R2StorageConfig.BodyBucket,
	)

	tokenProvider := auth.NewEnvTokenProvider(repos.AccountRepository)
	ownerDirectory := auth.NewAccountOwnerDirectory(repos.AccountRepository)

	guard := syncsvc.NewQuotaGuard(cfg.SyncConfig, log, repos.SyncControlRepository, repos.AccountRepository)

	orchestrator := syncsvc.NewSyncOrchestrator(
		cfg.SyncConfig,
		log,
		repos.AccountRepository,
		repos.SyncStateRepository,
		repos.MessageIndexRepository,
		repos.SyncLeaseRepository,
		guard,
		publisher,
		tokenProvider,
		ownerDirectory,
		AdapterFactory,
	)

	scheduler := syncsvc.NewScheduler(cfg.SyncConfig, log, repos.AccountRepository, guard, orchestrator)

	contentCache := cache.NewContentCacheService(
		cfg.CacheConfig,
		log,
		repos.AccountRepository,
		repos.ContentCacheRepository,
		storageService,
		tokenProvider,
		AdapterFactory,
	)

	services := Services{
		EventPublisher:      publisher,
		StorageService:      storageService,
		TokenProvider:       tokenProvider,
		OwnerDirectory:      ownerDirectory,
		QuotaGuard:          guard,
		SyncService:         orchestrator,
		Scheduler:           scheduler,
		ContentCacheService: contentCache,
	}

	return &services, nil
}

// AdapterFactory builds the provider adapter matching the account's kind.
func AdapterFactory(ctx context.Context, account *models.Account, token string) (provider.Adapter, error) {
	switch account.Provider {
	case enum.ProviderIMAP:
		return imapmail.New(ctx, account, token)
	case enum.ProviderGraph:
		return graphmail.New(ctx, account, token)
	case enum.ProviderREST:
		return gmailmail.New(ctx, account, token)
	default:
		return nil, provider.ErrUnsupportedProvider
	}
}
