package interfaces

import (
	"context"
	"time"

	"github.com/mailriver/mailriver/internal/enum"
)

// SyncService drives one account's fetch cycle.
type SyncService interface {
	// StartSync runs one sync attempt for the account. Concurrent triggers for
	// the same account are no-ops (ErrSyncInProgress), not queued duplicates.
	StartSync(ctx context.Context, accountID string, mode enum.SyncMode) error
	// StopSync signals an in-progress attempt to abort after its current page.
	StopSync(accountID string) error
	Status(ctx context.Context, accountID string) (*SyncStatus, error)
}

type SyncStatus struct {
	State        enum.SyncRunState `json:"state"`
	LastSyncAt   *time.Time        `json:"lastSyncAt"`
	LastError    string            `json:"lastError"`
	MessageCount int64             `json:"messageCount"`
}

// Token is what the token provider hands back on refresh.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// TokenProvider is the credential collaborator. Refresh is called once per
// AuthExpired before a single retry; acquisition flows live outside this system.
type TokenProvider interface {
	Refresh(ctx context.Context, accountID string) (*Token, error)
}

// OwnerDirectory resolves the tenant/user a mailbox's data is attributed to.
// An index write is rejected when the owner is unresolved.
type OwnerDirectory interface {
	ResolveOwner(ctx context.Context, accountID string) (string, error)
}
