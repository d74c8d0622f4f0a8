package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailriver/mailriver/config"
	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/enum"
	"github.com/mailriver/mailriver/internal/logger"
	syncsvc "github.com/mailriver/mailriver/services/sync"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

type startedSync struct {
	accountID string
	mode      enum.SyncMode
}

type fakeSyncService struct {
	started chan startedSync
}

func (s *fakeSyncService) StartSync(ctx context.Context, accountID string, mode enum.SyncMode) error {
	s.started <- startedSync{accountID: accountID, mode: mode}
	return nil
}

func (s *fakeSyncService) StopSync(accountID string) error { return nil }

func (s *fakeSyncService) Status(ctx context.Context, accountID string) (*interfaces.SyncStatus, error) {
	return &interfaces.SyncStatus{State: enum.SyncIdle}, nil
}

func newTriggerRouter(svc interfaces.SyncService, guard *syncsvc.QuotaGuard) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/accounts/:id/sync", TriggerSync(svc, guard, getLogger()))
	return r
}

func TestTriggerSync_RespectsConcurrencyCeiling(t *testing.T) {
	log := getLogger()
	guard := syncsvc.NewQuotaGuard(&config.SyncConfig{MaxConcurrentAccounts: 1, PollingFloorSeconds: 60}, log, nil, nil)
	svc := &fakeSyncService{started: make(chan startedSync, 1)}
	r := newTriggerRouter(svc, guard)

	// Hold the only slot, the way a scheduled cycle would.
	require.True(t, guard.TryAcquireSlot())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/accounts/acct-1/sync", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-svc.started:
		t.Fatal("manual trigger bypassed the concurrency ceiling")
	case <-time.After(50 * time.Millisecond):
	}

	guard.ReleaseSlot()
	select {
	case got := <-svc.started:
		assert.Equal(t, "acct-1", got.accountID)
		assert.Equal(t, enum.SyncIncremental, got.mode)
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not start after a slot freed up")
	}

	// The trigger's slot is returned once the attempt ends.
	require.Eventually(t, func() bool {
		if !guard.TryAcquireSlot() {
			return false
		}
		guard.ReleaseSlot()
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerSync_FullModeQueryParam(t *testing.T) {
	log := getLogger()
	guard := syncsvc.NewQuotaGuard(&config.SyncConfig{MaxConcurrentAccounts: 2, PollingFloorSeconds: 60}, log, nil, nil)
	svc := &fakeSyncService{started: make(chan startedSync, 1)}
	r := newTriggerRouter(svc, guard)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/accounts/acct-1/sync?mode=full", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case got := <-svc.started:
		assert.Equal(t, enum.SyncFull, got.mode)
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not start")
	}
}
