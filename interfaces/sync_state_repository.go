package interfaces

import (
	"context"
	"time"

	"github.com/mailriver/mailriver/internal/enum"
	"github.com/mailriver/mailriver/internal/models"
)

type SyncStateRepository interface {
	// GetOrInit returns the account's sync state, creating an idle one on first
	// sync attempt.
	GetOrInit(ctx context.Context, accountID string) (*models.SyncState, error)
	GetByAccount(ctx context.Context, accountID string) (*models.SyncState, error)
	// SaveCursors persists the advanced cursors. Callers invoke it only after
	// the corresponding page's index writes have committed.
	SaveCursors(ctx context.Context, accountID string, cursors models.JSONMap) error
	SetState(ctx context.Context, accountID string, state enum.SyncRunState) error
	RecordSuccess(ctx context.Context, accountID string, at time.Time) error
	RecordError(ctx context.Context, accountID, errMsg string, nextRetryAt time.Time) error
	Suspend(ctx context.Context, accountID string, until time.Time) error
	// Reset clears cursors and errors; used by explicitly requested full resyncs.
	Reset(ctx context.Context, accountID string) error
	DeleteForAccount(ctx context.Context, accountID string) error
}
