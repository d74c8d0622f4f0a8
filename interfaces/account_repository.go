package interfaces

import (
	"context"
	"time"

	"github.com/mailriver/mailriver/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) (string, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	// ListDue returns active, sync-enabled accounts whose polling interval has
	// elapsed since their last sync.
	ListDue(ctx context.Context, now time.Time) ([]*models.Account, error)
	SetSyncEnabled(ctx context.Context, id string, enabled bool) error
	// DisableAllSync flips sync_enabled off for every account in one statement.
	DisableAllSync(ctx context.Context) (int64, error)
	SaveLastSyncAt(ctx context.Context, id string, at time.Time) error
	// Delete removes the account and cascades to sync state, index entries and
	// cached content.
	Delete(ctx context.Context, id string) error
}
