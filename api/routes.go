package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/mailriver/mailriver/api/handlers"
	"github.com/mailriver/mailriver/api/middleware"
	"github.com/mailriver/mailriver/internal/logger"
	"github.com/mailriver/mailriver/internal/repository"
	"github.com/mailriver/mailriver/internal/tracing"
	"github.com/mailriver/mailriver/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, repos *repository.Repositories, log logger.Logger, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	// Health and status endpoints (no auth)
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(repos.SyncControlRepository))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILRIVER-API-KEY",
		ValidAPIKey: apikey,
	})

	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	{
		accounts := api.Group("/accounts")
		{
			accounts.POST("", handlers.CreateAccount(repos.AccountRepository, s.QuotaGuard))
			accounts.GET("/:id", handlers.GetAccount(repos.AccountRepository))
			accounts.DELETE("/:id", handlers.DeleteAccount(repos.AccountRepository))
			accounts.PUT("/:id/sync-enabled", handlers.SetSyncEnabled(repos.AccountRepository))

			accounts.POST("/:id/sync", handlers.TriggerSync(s.SyncService, s.QuotaGuard, log))
			accounts.POST("/:id/sync/stop", handlers.StopSync(s.SyncService))
			accounts.GET("/:id/sync/status", handlers.SyncStatus(s.SyncService))

			accounts.GET("/:id/messages", handlers.ListMessages(repos.MessageIndexRepository))
			accounts.GET("/:id/messages/:messageId", handlers.GetMessage(repos.MessageIndexRepository))
			accounts.GET("/:id/messages/:messageId/body", handlers.GetMessageBody(repos.MessageIndexRepository, s.ContentCacheService))
		}

		control := api.Group("/control")
		{
			control.GET("/killswitch", handlers.GetKillSwitch(repos.SyncControlRepository))
			control.PUT("/killswitch", handlers.SetKillSwitch(repos.SyncControlRepository))
			control.POST("/emergency-stop", handlers.EmergencyStop(s.QuotaGuard))
		}
	}
}
