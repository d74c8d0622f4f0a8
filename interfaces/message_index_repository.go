package interfaces

import (
	"context"

	"github.com/mailriver/mailriver/internal/enum"
	"github.com/mailriver/mailriver/internal/models"
)

// MessageFilter narrows index queries; zero values mean "no constraint".
type MessageFilter struct {
	Folder    string
	Direction enum.MessageDirection
	Limit     int
	Offset    int
}

type MessageIndexRepository interface {
	// Upsert writes one entry keyed by (account_id, provider_message_id),
	// updating mutable fields in place. It reports whether the entry was
	// first-seen. Entries without a resolved owner are rejected.
	Upsert(ctx context.Context, entry *models.MessageIndexEntry) (created bool, err error)
	// UpsertBatch writes a page of entries in a single transaction so a cursor
	// can be advanced only after the whole page is durable. It returns the
	// first-seen entries and the entries rejected for a missing owner.
	UpsertBatch(ctx context.Context, entries []*models.MessageIndexEntry) (created []*models.MessageIndexEntry, rejected []*models.MessageIndexEntry, err error)
	Exists(ctx context.Context, accountID, providerMessageID string) (bool, error)
	List(ctx context.Context, accountID string, filter MessageFilter) ([]*models.MessageIndexEntry, int64, error)
	GetByID(ctx context.Context, id string) (*models.MessageIndexEntry, error)
	CountByAccount(ctx context.Context, accountID string) (int64, error)
	DeleteForAccount(ctx context.Context, accountID string) error
}
