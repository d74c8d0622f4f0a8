package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailriver/mailriver/config"
	"github.com/mailriver/mailriver/dto"
	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/enum"
	mrerrors "github.com/mailriver/mailriver/internal/errors"
	"github.com/mailriver/mailriver/internal/logger"
	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/internal/tracing"
	"github.com/mailriver/mailriver/internal/utils"
	"github.com/mailriver/mailriver/services/provider"
)

const transientRetries = 3

// errCycleAborted marks a cycle that parked itself cleanly (stop request,
// shutdown or kill switch) rather than completing or failing.
var errCycleAborted = errors.New("sync cycle aborted")

// SyncOrchestrator runs the fetch cycle state machine for individual accounts.
// One instance serves the whole process; per-account mutual exclusion is a
// database lease so cycles stay exclusive across processes too.
type SyncOrchestrator struct {
	cfg            *config.SyncConfig
	log            logger.Logger
	accounts       interfaces.AccountRepository
	states         interfaces.SyncStateRepository
	index          interfaces.MessageIndexRepository
	leases         interfaces.SyncLeaseRepository
	guard          *QuotaGuard
	publisher      interfaces.EventPublisher
	tokens         interfaces.TokenProvider
	owners         interfaces.OwnerDirectory
	adapterFactory provider.Factory

	// holder identifies this process on leases.
	holder string

	mu      gosync.Mutex
	running map[string]context.CancelFunc
}

func NewSyncOrchestrator(
	cfg *config.SyncConfig,
	log logger.Logger,
	accounts interfaces.AccountRepository,
	states interfaces.SyncStateRepository,
	index interfaces.MessageIndexRepository,
	leases interfaces.SyncLeaseRepository,
	guard *QuotaGuard,
	publisher interfaces.EventPublisher,
	tokens interfaces.TokenProvider,
	owners interfaces.OwnerDirectory,
	adapterFactory provider.Factory,
) *SyncOrchestrator {
	return &SyncOrchestrator{
		cfg:            cfg,
		log:            log,
		accounts:       accounts,
		states:         states,
		index:          index,
		leases:         leases,
		guard:          guard,
		publisher:      publisher,
		tokens:         tokens,
		owners:         owners,
		adapterFactory: adapterFactory,
		holder:         uuid.New().String(),
		running:        make(map[string]context.CancelFunc),
	}
}

// StartSync runs one sync attempt for the account and blocks until it ends.
// A concurrent trigger for the same account is rejected, not queued.
func (s *SyncOrchestrator) StartSync(ctx context.Context, accountID string, mode enum.SyncMode) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncOrchestrator.StartSync")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("mode", mode)

	if s.guard.KillSwitchActive(ctx) {
		return mrerrors.ErrKillSwitchActive
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if account == nil {
		return mrerrors.ErrAccountNotFound
	}
	if !account.Active || !account.SyncEnabled {
		return mrerrors.ErrAccountDisabled
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !s.markRunning(accountID, cancel) {
		return mrerrors.ErrSyncInProgress
	}
	defer s.unmarkRunning(accountID)

	leaseTTL := time.Duration(s.cfg.LeaseTTLSeconds) * time.Second
	acquired, err := s.leases.Acquire(ctx, accountID, s.holder, leaseTTL)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !acquired {
		return mrerrors.ErrSyncInProgress
	}
	defer func() {
		if err := s.leases.Release(context.WithoutCancel(ctx), accountID, s.holder); err != nil {
			s.log.Warnf("failed to release sync lease for account %s: %v", accountID, err)
		}
	}()

	state, err := s.states.GetOrInit(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	now := utils.Now()
	if state.SuspendedUntil != nil && state.SuspendedUntil.After(now) {
		span.SetTag("skipped", "suspended")
		s.log.Infof("account %s suspended until %s, skipping", accountID, state.SuspendedUntil)
		return nil
	}
	if state.NextRetryAt != nil && state.NextRetryAt.After(now) {
		span.SetTag("skipped", "backoff")
		return nil
	}

	if mode == enum.SyncFull {
		if err := s.states.Reset(ctx, accountID); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		state.Cursors = make(models.JSONMap)
	}

	if err := s.states.SetState(ctx, accountID, enum.SyncRunning); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.runCycle(ctx, account, state, leaseTTL); err != nil {
		if errors.Is(err, errCycleAborted) {
			return nil
		}
		s.recordFailure(ctx, accountID, state, err)
		tracing.TraceErr(span, err)
		return err
	}

	completedAt := utils.Now()
	if err := s.states.RecordSuccess(ctx, accountID, completedAt); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.accounts.SaveLastSyncAt(ctx, accountID, completedAt); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// StopSync signals a running attempt to abort after its current page. It is a
// no-op when the account is not syncing in this process.
func (s *SyncOrchestrator) StopSync(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[accountID]; ok {
		cancel()
	}
	return nil
}

func (s *SyncOrchestrator) Status(ctx context.Context, accountID string) (*interfaces.SyncStatus, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncOrchestrator.Status")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, accountID)

	state, err := s.states.GetByAccount(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if state == nil {
		return &interfaces.SyncStatus{State: enum.SyncIdle}, nil
	}

	count, err := s.index.CountByAccount(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &interfaces.SyncStatus{
		State:        state.State,
		LastSyncAt:   state.LastSyncAt,
		LastError:    state.LastError,
		MessageCount: count,
	}, nil
}

func (s *SyncOrchestrator) markRunning(accountID string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.running[accountID]; exists {
		return false
	}
	s.running[accountID] = cancel
	return true
}

func (s *SyncOrchestrator) unmarkRunning(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, accountID)
}

// runCycle walks all folders, one page at a time, inside this cycle's message
// budget. Cursors advance only after each page's index writes committed, so a
// crash anywhere re-fetches at most one page.
func (s *SyncOrchestrator) runCycle(ctx context.Context, account *models.Account, state *models.SyncState, leaseTTL time.Duration) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncOrchestrator.runCycle")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagAccount(span, account.ID)

	ownerID, err := s.resolveOwner(ctx, account)
	if err != nil {
		return err
	}

	token, err := s.tokens.Refresh(ctx, account.ID)
	if err != nil {
		return errors.Wrap(err, "refresh token")
	}
	adapter, err := s.adapterFactory(ctx, account, token.AccessToken)
	if err != nil {
		return err
	}

	budget := s.guard.CycleBudget()
	refreshed := false

	for _, folder := range account.Folders {
		if budget.Drained() {
			span.SetTag("budget.exhausted", true)
			break
		}
		direction := provider.DirectionForFolder(folder)
		if budget.Exhausted(direction) {
			continue
		}

		folderDone := false
		for !folderDone {
			// Abort cleanly between pages on stop, shutdown or kill switch.
			if err := ctx.Err(); err != nil {
				return s.abortCycle(ctx, span, account.ID, "context")
			}
			if s.guard.KillSwitchActive(ctx) {
				return s.abortCycle(ctx, span, account.ID, "kill-switch")
			}
			if budget.Exhausted(direction) {
				folderDone = true
				break
			}

			if _, err := s.leases.Renew(ctx, account.ID, s.holder, leaseTTL); err != nil {
				s.log.Warnf("failed to renew sync lease for account %s: %v", account.ID, err)
			}

			pageSize := s.cfg.PageSize
			cursor := state.Cursor(folder)

			page, err := s.listWithRecovery(ctx, account, &adapter, folder, cursor, pageSize, &refreshed)
			if err != nil {
				// A stop request landing mid-call surfaces as a context error
				// from the adapter; that is an abort, not a sync failure.
				if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return s.abortCycle(ctx, span, account.ID, "context")
				}
				if retryAfter, ok := provider.IsRateLimited(err); ok {
					if suspendErr := s.suspend(ctx, account.ID, retryAfter); suspendErr != nil {
						return suspendErr
					}
				}
				return err
			}

			if len(page.Summaries) == 0 {
				if page.NextCursor != "" && page.NextCursor != cursor {
					state.SetCursor(folder, page.NextCursor)
					if err := s.states.SaveCursors(ctx, account.ID, state.Cursors); err != nil {
						return err
					}
				}
				folderDone = true
				break
			}

			// A page larger than the direction's remaining budget is truncated
			// and its cursor left alone; the excess re-fetches next cycle and
			// deduplicates through the upsert.
			truncated := false
			summaries := page.Summaries
			if remaining := budget.Remaining(direction); len(summaries) > remaining {
				summaries = summaries[:remaining]
				truncated = true
			}

			entries := buildEntries(account.ID, ownerID, folder, summaries)
			created, rejected, err := s.index.UpsertBatch(ctx, entries)
			if err != nil {
				return err
			}
			for _, r := range rejected {
				s.log.Warnf("rejected index entry without owner: account %s message %s", account.ID, r.ProviderMessageID)
			}
			s.publishCreated(ctx, created)

			budget.Consume(direction, len(summaries))

			if truncated {
				// Folders of the other direction may still have allowance.
				span.SetTag("budget.truncated", folder)
				folderDone = true
				break
			}

			if page.NextCursor != "" {
				state.SetCursor(folder, page.NextCursor)
				if err := s.states.SaveCursors(ctx, account.ID, state.Cursors); err != nil {
					return err
				}
			}

			if page.NextCursor == "" || page.NextCursor == cursor {
				folderDone = true
			}
		}
	}

	return nil
}

// listWithRecovery wraps one ListMessages call with the error policy: a
// single token refresh on expiry, bounded jittered retries on transient
// failures, and pass-through for everything else.
func (s *SyncOrchestrator) listWithRecovery(
	ctx context.Context,
	account *models.Account,
	adapter *provider.Adapter,
	folder, cursor string,
	limit int,
	refreshed *bool,
) (*provider.Page, error) {
	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	attempts := 0
	for {
		page, err := (*adapter).ListMessages(ctx, folder, cursor, limit)
		if err == nil {
			return page, nil
		}

		switch {
		case provider.IsAuthExpired(err):
			if *refreshed {
				return nil, err
			}
			*refreshed = true
			fresh, refreshErr := s.tokens.Refresh(ctx, account.ID)
			if refreshErr != nil {
				return nil, errors.Wrap(refreshErr, "token refresh after auth expiry")
			}
			rebuilt, buildErr := s.adapterFactory(ctx, account, fresh.AccessToken)
			if buildErr != nil {
				return nil, buildErr
			}
			*adapter = rebuilt

		case provider.IsTransient(err):
			attempts++
			if attempts >= transientRetries {
				return nil, err
			}
			select {
			case <-time.After(retry.Duration()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			return nil, err
		}
	}
}

// abortCycle parks the account idle and returns the sentinel that keeps the
// attempt out of both the success and the failure bookkeeping.
func (s *SyncOrchestrator) abortCycle(ctx context.Context, span opentracing.Span, accountID, reason string) error {
	span.SetTag("aborted", reason)
	if err := s.states.SetState(context.WithoutCancel(ctx), accountID, enum.SyncIdle); err != nil {
		s.log.Warnf("failed to park sync state for account %s: %v", accountID, err)
	}
	return errCycleAborted
}

func (s *SyncOrchestrator) suspend(ctx context.Context, accountID string, retryAfter time.Duration) error {
	if retryAfter <= 0 {
		retryAfter = time.Minute
	}
	until := utils.Now().Add(retryAfter)
	s.log.Warnf("account %s rate limited, suspended until %s", accountID, until)
	return s.states.Suspend(ctx, accountID, until)
}

// recordFailure writes the failure and schedules the retry with exponential
// backoff derived from the consecutive error count, capped by configuration.
func (s *SyncOrchestrator) recordFailure(ctx context.Context, accountID string, state *models.SyncState, cause error) {
	ctx = context.WithoutCancel(ctx)

	if _, ok := provider.IsRateLimited(cause); ok {
		// Suspend already persisted the rate-limited state.
		return
	}

	delay := time.Duration(30) * time.Second
	for i := 0; i < state.ConsecutiveErrorCount; i++ {
		delay *= 2
		if delay >= time.Duration(s.cfg.MaxBackoffSeconds)*time.Second {
			delay = time.Duration(s.cfg.MaxBackoffSeconds) * time.Second
			break
		}
	}

	nextRetry := utils.Now().Add(delay)
	if err := s.states.RecordError(ctx, accountID, cause.Error(), nextRetry); err != nil {
		s.log.Errorf("failed to record sync error for account %s: %v", accountID, err)
	}
}

func (s *SyncOrchestrator) resolveOwner(ctx context.Context, account *models.Account) (string, error) {
	if account.OwnerID != "" {
		return account.OwnerID, nil
	}
	ownerID, err := s.owners.ResolveOwner(ctx, account.ID)
	if err != nil {
		return "", errors.Wrap(err, "resolve owner")
	}
	if ownerID == "" {
		return "", mrerrors.ErrOwnerUnresolved
	}
	return ownerID, nil
}

func (s *SyncOrchestrator) publishCreated(ctx context.Context, created []*models.MessageIndexEntry) {
	if s.publisher == nil {
		return
	}
	for _, entry := range created {
		event := dto.MessageIndexed{
			AccountID:         entry.AccountID,
			OwnerID:           entry.OwnerID,
			ProviderMessageID: entry.ProviderMessageID,
			Folder:            entry.Folder,
			Direction:         entry.Direction.String(),
			Subject:           entry.Subject,
			FromAddress:       entry.FromAddress,
			ReceivedAt:        entry.ReceivedAt,
			SentAt:            entry.SentAt,
		}
		if err := s.publisher.PublishMessageIndexed(ctx, event); err != nil {
			// Events are at-least-once best effort; the index row is the durable truth.
			s.log.Warnf("failed to publish message indexed event for %s: %v", entry.ProviderMessageID, err)
		}
	}
}

func buildEntries(accountID, ownerID, folder string, summaries []provider.MessageSummary) []*models.MessageIndexEntry {
	entries := make([]*models.MessageIndexEntry, 0, len(summaries))
	for _, summary := range summaries {
		direction := summary.Direction
		if direction == "" {
			direction = provider.DirectionForFolder(folder)
		}
		entries = append(entries, &models.MessageIndexEntry{
			AccountID:         accountID,
			OwnerID:           ownerID,
			ProviderMessageID: summary.ProviderMessageID,
			Folder:            folder,
			Direction:         direction,
			Subject:           summary.Subject,
			FromAddress:       summary.FromAddress,
			ToAddresses:       summary.ToAddresses,
			SentAt:            summary.SentAt,
			ReceivedAt:        summary.ReceivedAt,
			Read:              summary.Read,
		})
	}
	return entries
}
