package sync

import (
	"context"
	gosync "sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailriver/mailriver/config"
	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/enum"
	mrerrors "github.com/mailriver/mailriver/internal/errors"
	"github.com/mailriver/mailriver/internal/logger"
	"github.com/mailriver/mailriver/internal/tracing"
	"github.com/mailriver/mailriver/internal/utils"
)

// Scheduler feeds due accounts to a bounded worker pool. Enumeration never
// blocks on a slow account: when the queue is full the account simply waits
// for the next cycle.
type Scheduler struct {
	cfg      *config.SyncConfig
	log      logger.Logger
	accounts interfaces.AccountRepository
	guard    *QuotaGuard
	syncer   interfaces.SyncService

	queue  chan string
	wg     gosync.WaitGroup
	cancel context.CancelFunc

	mu       gosync.Mutex
	enqueued map[string]bool
}

func NewScheduler(cfg *config.SyncConfig, log logger.Logger, accounts interfaces.AccountRepository, guard *QuotaGuard, syncer interfaces.SyncService) *Scheduler {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Scheduler{
		cfg:      cfg,
		log:      log,
		accounts: accounts,
		guard:    guard,
		syncer:   syncer,
		queue:    make(chan string, queueSize),
		enqueued: make(map[string]bool),
	}
}

// Start launches the worker pool. Workers live until Stop or context end.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	workers := s.cfg.MaxConcurrentAccounts
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.log.Infof("sync scheduler started with %d workers", workers)
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// EnqueueDue enumerates due accounts and hands them to the pool without
// blocking. Runs on the cron schedule.
func (s *Scheduler) EnqueueDue(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Scheduler.EnqueueDue")
	defer span.Finish()
	tracing.TagComponentService(span)

	if s.guard.KillSwitchActive(ctx) {
		span.SetTag("skipped", "kill-switch")
		return nil
	}

	due, err := s.accounts.ListDue(ctx, utils.Now())
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.SetTag("due.count", len(due))

	queued := 0
	for _, account := range due {
		if !s.markEnqueued(account.ID) {
			continue
		}
		select {
		case s.queue <- account.ID:
			queued++
		default:
			// Queue full; the account stays due and is picked up next cycle.
			s.unmarkEnqueued(account.ID)
		}
	}
	span.SetTag("queued.count", queued)
	return nil
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case accountID := <-s.queue:
			s.runOne(ctx, accountID)
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, accountID string) {
	defer s.unmarkEnqueued(accountID)

	if err := s.guard.AcquireSlot(ctx); err != nil {
		return
	}
	defer s.guard.ReleaseSlot()

	err := s.syncer.StartSync(ctx, accountID, enum.SyncIncremental)
	switch {
	case err == nil:
	case errors.Is(err, mrerrors.ErrSyncInProgress),
		errors.Is(err, mrerrors.ErrAccountDisabled),
		errors.Is(err, mrerrors.ErrKillSwitchActive):
		// Expected no-ops, not failures.
	default:
		s.log.Errorf("sync failed for account %s: %v", accountID, err)
	}
}

func (s *Scheduler) markEnqueued(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueued[accountID] {
		return false
	}
	s.enqueued[accountID] = true
	return true
}

func (s *Scheduler) unmarkEnqueued(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.enqueued, accountID)
}
