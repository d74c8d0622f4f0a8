package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/enum"
	mrerrors "github.com/mailriver/mailriver/internal/errors"
	"github.com/mailriver/mailriver/internal/logger"
	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/internal/tracing"
	syncsvc "github.com/mailriver/mailriver/services/sync"
)

type createAccountRequest struct {
	OwnerID                string                 `json:"ownerId"`
	Provider               string                 `json:"provider" binding:"required"`
	CredentialRef          string                 `json:"credentialRef" binding:"required"`
	EmailAddress           string                 `json:"emailAddress" binding:"required"`
	Folders                []string               `json:"folders"`
	Settings               map[string]interface{} `json:"settings"`
	PollingIntervalSeconds int                    `json:"pollingIntervalSeconds"`
}

// CreateAccount registers a mailbox for synchronization.
func CreateAccount(accounts interfaces.AccountRepository, guard *syncsvc.QuotaGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CreateAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req createAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		kind, ok := enum.DecodeProviderKind(req.Provider)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider: " + req.Provider})
			return
		}

		folders := req.Folders
		if len(folders) == 0 {
			folders = []string{"INBOX"}
		}

		account := &models.Account{
			OwnerID:       req.OwnerID,
			Provider:      kind,
			CredentialRef: req.CredentialRef,
			EmailAddress:  req.EmailAddress,
			Folders:       folders,
			Settings:      models.JSONMap(req.Settings),
			Active:        true,
			SyncEnabled:   true,
		}
		if req.PollingIntervalSeconds > 0 {
			account.PollingIntervalSeconds = req.PollingIntervalSeconds
		} else {
			account.PollingIntervalSeconds = 300
		}

		if err := guard.ValidatePollingInterval(account.PollingInterval()); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		id, err := accounts.Create(ctx, account)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"status": "account created", "id": id})
	}
}

// GetAccount returns one account.
func GetAccount(accounts interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		account, err := accounts.GetByID(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": mrerrors.ErrAccountNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, account)
	}
}

// DeleteAccount removes an account and all of its synced data.
func DeleteAccount(accounts interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DeleteAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		if err := accounts.Delete(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "account deleted", "id": id})
	}
}

type setSyncEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetSyncEnabled pauses or resumes automatic syncing for an account.
func SetSyncEnabled(accounts interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SetSyncEnabled", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req setSyncEnabledRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		id := c.Param("id")
		if err := accounts.SetSyncEnabled(ctx, id, *req.Enabled); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sync setting updated", "id": id, "enabled": *req.Enabled})
	}
}

// TriggerSync kicks off a sync attempt in the background. Duplicate triggers
// for a running account report conflict instead of queuing. Manual triggers
// count against the same concurrency ceiling as scheduled work.
func TriggerSync(syncService interfaces.SyncService, guard *syncsvc.QuotaGuard, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "TriggerSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		mode := enum.SyncIncremental
		if c.Query("mode") == enum.SyncFull.String() {
			mode = enum.SyncFull
		}

		go func() {
			defer tracing.RecoverAndLogToJaeger(log)
			ctx := context.Background()
			if err := guard.AcquireSlot(ctx); err != nil {
				return
			}
			defer guard.ReleaseSlot()
			err := syncService.StartSync(ctx, id, mode)
			switch {
			case err == nil:
			case errors.Is(err, mrerrors.ErrSyncInProgress):
			default:
				log.Errorf("triggered sync failed for account %s: %v", id, err)
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{"status": "sync triggered", "id": id, "mode": mode})
	}
}

// StopSync aborts a running sync attempt after its current page.
func StopSync(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "StopSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		if err := syncService.StopSync(id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "stop requested", "id": id})
	}
}

// SyncStatus reports the account's sync state and index size.
func SyncStatus(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SyncStatus", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		status, err := syncService.Status(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}
