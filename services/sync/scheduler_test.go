package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/enum"
	mrerrors "github.com/mailriver/mailriver/internal/errors"
	"github.com/mailriver/mailriver/internal/models"
)

type fakeSyncService struct {
	mu     gosync.Mutex
	calls  []string
	err    error
	synced chan string
}

func (s *fakeSyncService) StartSync(ctx context.Context, accountID string, mode enum.SyncMode) error {
	s.mu.Lock()
	s.calls = append(s.calls, accountID)
	s.mu.Unlock()
	if s.synced != nil {
		s.synced <- accountID
	}
	return s.err
}

func (s *fakeSyncService) StopSync(accountID string) error { return nil }

func (s *fakeSyncService) Status(ctx context.Context, accountID string) (*interfaces.SyncStatus, error) {
	return nil, nil
}

func newTestScheduler(accounts *fakeAccountRepo, control *fakeControlRepo, syncer *fakeSyncService) *Scheduler {
	cfg := testSyncConfig()
	log := getLogger()
	guard := NewQuotaGuard(cfg, log, control, accounts)
	return NewScheduler(cfg, log, accounts, guard, syncer)
}

func TestEnqueueDue_QueuesEachDueAccountOnce(t *testing.T) {
	a1 := testAccount("acct-1")
	a2 := testAccount("acct-2")
	accounts := newFakeAccountRepo(a1, a2)
	accounts.due = []*models.Account{a1, a2}
	s := newTestScheduler(accounts, &fakeControlRepo{}, &fakeSyncService{})

	require.NoError(t, s.EnqueueDue(context.Background()))
	// A second enumeration before workers drained the queue must not
	// duplicate the accounts.
	require.NoError(t, s.EnqueueDue(context.Background()))

	assert.Equal(t, 2, len(s.queue))
}

func TestEnqueueDue_SkipsWhenKillSwitchActive(t *testing.T) {
	a1 := testAccount("acct-1")
	accounts := newFakeAccountRepo(a1)
	accounts.due = []*models.Account{a1}
	control := &fakeControlRepo{killSwitch: true}
	s := newTestScheduler(accounts, control, &fakeSyncService{})

	require.NoError(t, s.EnqueueDue(context.Background()))

	assert.Equal(t, 0, len(s.queue))
}

func TestEnqueueDue_FullQueueDoesNotBlock(t *testing.T) {
	a1 := testAccount("acct-1")
	a2 := testAccount("acct-2")
	accounts := newFakeAccountRepo(a1, a2)
	accounts.due = []*models.Account{a1, a2}
	s := newTestScheduler(accounts, &fakeControlRepo{}, &fakeSyncService{})
	s.queue = make(chan string, 1)

	require.NoError(t, s.EnqueueDue(context.Background()))

	assert.Equal(t, 1, len(s.queue))
	// The overflowed account was unmarked so the next cycle can retry it.
	assert.True(t, s.markEnqueued(a2.ID))
}

func TestScheduler_WorkersDrainQueue(t *testing.T) {
	a1 := testAccount("acct-1")
	a2 := testAccount("acct-2")
	accounts := newFakeAccountRepo(a1, a2)
	accounts.due = []*models.Account{a1, a2}
	syncer := &fakeSyncService{synced: make(chan string, 4)}
	s := newTestScheduler(accounts, &fakeControlRepo{}, syncer)

	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.EnqueueDue(context.Background()))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-syncer.synced:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for workers to drain the queue")
		}
	}
	assert.True(t, seen[a1.ID])
	assert.True(t, seen[a2.ID])
}

func TestScheduler_ExpectedSyncOutcomesAreNotFailures(t *testing.T) {
	a1 := testAccount("acct-1")
	accounts := newFakeAccountRepo(a1)
	syncer := &fakeSyncService{err: mrerrors.ErrSyncInProgress}
	s := newTestScheduler(accounts, &fakeControlRepo{}, syncer)

	// Must complete without panicking and release its bookkeeping.
	s.runOne(context.Background(), a1.ID)

	assert.True(t, s.markEnqueued(a1.ID))
	assert.Len(t, syncer.calls, 1)
}
