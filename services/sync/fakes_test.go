package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/mailriver/mailriver/config"
	"github.com/mailriver/mailriver/dto"
	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/enum"
	"github.com/mailriver/mailriver/internal/logger"
	"github.com/mailriver/mailriver/internal/models"
	"github.com/mailriver/mailriver/services/provider"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		PollingFloorSeconds:   60,
		MaxInboundPerCycle:    5000,
		MaxOutboundPerCycle:   5000,
		MaxConcurrentAccounts: 2,
		PageSize:              100,
		LeaseTTLSeconds:       300,
		MaxBackoffSeconds:     3600,
		QueueSize:             16,
	}
}

func testAccount(id string) *models.Account {
	return &models.Account{
		ID:                     id,
		OwnerID:                "owner-1",
		Provider:               enum.ProviderIMAP,
		CredentialRef:          "TEST_CREDENTIAL",
		EmailAddress:           "user@example.com",
		Folders:                []string{"INBOX"},
		PollingIntervalSeconds: 300,
		Active:                 true,
		SyncEnabled:            true,
	}
}

type fakeAccountRepo struct {
	mu         gosync.Mutex
	accounts   map[string]*models.Account
	due        []*models.Account
	listDueErr error
	lastSyncAt map[string]time.Time
	disabled   int64
}

func newFakeAccountRepo(accounts ...*models.Account) *fakeAccountRepo {
	r := &fakeAccountRepo{
		accounts:   make(map[string]*models.Account),
		lastSyncAt: make(map[string]time.Time),
	}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) Create(ctx context.Context, account *models.Account) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.ID] = account
	return account.ID, nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id], nil
}

func (r *fakeAccountRepo) ListDue(ctx context.Context, now time.Time) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listDueErr != nil {
		return nil, r.listDueErr
	}
	return r.due, nil
}

func (r *fakeAccountRepo) SetSyncEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.SyncEnabled = enabled
	}
	return nil
}

func (r *fakeAccountRepo) DisableAllSync(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, a := range r.accounts {
		if a.SyncEnabled {
			a.SyncEnabled = false
			count++
		}
	}
	r.disabled = count
	return count, nil
}

func (r *fakeAccountRepo) SaveLastSyncAt(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSyncAt[id] = at
	return nil
}

func (r *fakeAccountRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

type fakeStateRepo struct {
	mu            gosync.Mutex
	state         *models.SyncState
	savedCursors  []models.JSONMap
	stateHistory  []enum.SyncRunState
	successAt     *time.Time
	recordedErrs  []string
	suspendedAt   *time.Time
	resetCalled   bool
	getOrInitErr  error
	suspendErr    error
	recordErrFail error
}

func newFakeStateRepo(accountID string) *fakeStateRepo {
	return &fakeStateRepo{
		state: &models.SyncState{
			ID:        "sync-test",
			AccountID: accountID,
			Cursors:   make(models.JSONMap),
			State:     enum.SyncIdle,
		},
	}
}

func (r *fakeStateRepo) GetOrInit(ctx context.Context, accountID string) (*models.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getOrInitErr != nil {
		return nil, r.getOrInitErr
	}
	return r.state, nil
}

func (r *fakeStateRepo) GetByAccount(ctx context.Context, accountID string) (*models.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

func (r *fakeStateRepo) SaveCursors(ctx context.Context, accountID string, cursors models.JSONMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(models.JSONMap, len(cursors))
	persisted := make(models.JSONMap, len(cursors))
	for k, v := range cursors {
		snapshot[k] = v
		persisted[k] = v
	}
	r.savedCursors = append(r.savedCursors, snapshot)
	r.state.Cursors = persisted
	return nil
}

func (r *fakeStateRepo) SetState(ctx context.Context, accountID string, state enum.SyncRunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateHistory = append(r.stateHistory, state)
	r.state.State = state
	return nil
}

func (r *fakeStateRepo) RecordSuccess(ctx context.Context, accountID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successAt = &at
	r.state.State = enum.SyncCompleted
	r.state.LastSyncAt = &at
	r.state.ConsecutiveErrorCount = 0
	r.state.LastError = ""
	r.state.NextRetryAt = nil
	r.state.SuspendedUntil = nil
	return nil
}

func (r *fakeStateRepo) RecordError(ctx context.Context, accountID, errMsg string, nextRetryAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErrFail != nil {
		return r.recordErrFail
	}
	r.recordedErrs = append(r.recordedErrs, errMsg)
	r.state.State = enum.SyncFailed
	r.state.ConsecutiveErrorCount++
	r.state.LastError = errMsg
	r.state.NextRetryAt = &nextRetryAt
	return nil
}

func (r *fakeStateRepo) Suspend(ctx context.Context, accountID string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suspendErr != nil {
		return r.suspendErr
	}
	r.suspendedAt = &until
	r.state.State = enum.SyncRateLimited
	r.state.SuspendedUntil = &until
	return nil
}

func (r *fakeStateRepo) Reset(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetCalled = true
	r.state.Cursors = make(models.JSONMap)
	r.state.ConsecutiveErrorCount = 0
	r.state.LastError = ""
	r.state.NextRetryAt = nil
	r.state.SuspendedUntil = nil
	return nil
}

func (r *fakeStateRepo) DeleteForAccount(ctx context.Context, accountID string) error {
	return nil
}

func (r *fakeStateRepo) cursorSaves() []models.JSONMap {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.JSONMap(nil), r.savedCursors...)
}

type fakeIndexRepo struct {
	mu       gosync.Mutex
	entries  map[string]*models.MessageIndexEntry
	batchErr error
	upserts  int
}

func newFakeIndexRepo() *fakeIndexRepo {
	return &fakeIndexRepo{entries: make(map[string]*models.MessageIndexEntry)}
}

func (r *fakeIndexRepo) key(accountID, providerMessageID string) string {
	return accountID + "|" + providerMessageID
}

func (r *fakeIndexRepo) Upsert(ctx context.Context, entry *models.MessageIndexEntry) (bool, error) {
	created, _, err := r.UpsertBatch(ctx, []*models.MessageIndexEntry{entry})
	if err != nil {
		return false, err
	}
	return len(created) == 1, nil
}

func (r *fakeIndexRepo) UpsertBatch(ctx context.Context, entries []*models.MessageIndexEntry) ([]*models.MessageIndexEntry, []*models.MessageIndexEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batchErr != nil {
		return nil, nil, r.batchErr
	}
	r.upserts++
	var created, rejected []*models.MessageIndexEntry
	for _, entry := range entries {
		if entry.OwnerID == "" {
			rejected = append(rejected, entry)
			continue
		}
		k := r.key(entry.AccountID, entry.ProviderMessageID)
		if _, exists := r.entries[k]; !exists {
			created = append(created, entry)
		}
		r.entries[k] = entry
	}
	return created, rejected, nil
}

func (r *fakeIndexRepo) Exists(ctx context.Context, accountID, providerMessageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[r.key(accountID, providerMessageID)]
	return ok, nil
}

func (r *fakeIndexRepo) List(ctx context.Context, accountID string, filter interfaces.MessageFilter) ([]*models.MessageIndexEntry, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MessageIndexEntry
	for _, e := range r.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeIndexRepo) GetByID(ctx context.Context, id string) (*models.MessageIndexEntry, error) {
	return nil, nil
}

func (r *fakeIndexRepo) CountByAccount(ctx context.Context, accountID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, e := range r.entries {
		if e.AccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (r *fakeIndexRepo) DeleteForAccount(ctx context.Context, accountID string) error {
	return nil
}

func (r *fakeIndexRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type fakeLeaseRepo struct {
	mu           gosync.Mutex
	denyAcquire  bool
	acquireCalls int
	renewCalls   int
	releases     int
}

func (r *fakeLeaseRepo) Acquire(ctx context.Context, accountID, holder string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquireCalls++
	return !r.denyAcquire, nil
}

func (r *fakeLeaseRepo) Renew(ctx context.Context, accountID, holder string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renewCalls++
	return true, nil
}

func (r *fakeLeaseRepo) Release(ctx context.Context, accountID, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases++
	return nil
}

type fakeControlRepo struct {
	mu         gosync.Mutex
	killSwitch bool
	getErr     error
	getCalls   int
}

func (r *fakeControlRepo) GetKillSwitch(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if r.getErr != nil {
		return false, r.getErr
	}
	return r.killSwitch, nil
}

func (r *fakeControlRepo) SetKillSwitch(ctx context.Context, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killSwitch = enabled
	return nil
}

func (r *fakeControlRepo) throw() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killSwitch = true
}

type fakePublisher struct {
	mu     gosync.Mutex
	events []dto.MessageIndexed
	err    error
}

func (p *fakePublisher) PublishMessageIndexed(ctx context.Context, event dto.MessageIndexed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) published() []dto.MessageIndexed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]dto.MessageIndexed(nil), p.events...)
}

type fakeTokenProvider struct {
	mu        gosync.Mutex
	token     string
	err       error
	refreshes int
}

func (p *fakeTokenProvider) Refresh(ctx context.Context, accountID string) (*interfaces.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	if p.err != nil {
		return nil, p.err
	}
	token := p.token
	if token == "" {
		token = "test-token"
	}
	return &interfaces.Token{AccessToken: token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakeOwnerDirectory struct {
	owner string
	err   error
}

func (d *fakeOwnerDirectory) ResolveOwner(ctx context.Context, accountID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return d.owner, nil
}

// fakeAdapter scripts ListMessages behavior per call. listCtxFn takes
// precedence over listFn when both are set.
type fakeAdapter struct {
	mu        gosync.Mutex
	listFn    func(call int, folder, cursor string, limit int) (*provider.Page, error)
	listCtxFn func(ctx context.Context, call int, folder, cursor string, limit int) (*provider.Page, error)
	fetchFn   func(providerMessageID string) (*provider.BodyVariants, error)
	calls     int
}

func (a *fakeAdapter) ListMessages(ctx context.Context, folder, cursor string, limit int) (*provider.Page, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.mu.Unlock()
	if a.listCtxFn != nil {
		return a.listCtxFn(ctx, call, folder, cursor, limit)
	}
	return a.listFn(call, folder, cursor, limit)
}

func (a *fakeAdapter) FetchBody(ctx context.Context, providerMessageID string) (*provider.BodyVariants, error) {
	if a.fetchFn == nil {
		return &provider.BodyVariants{}, nil
	}
	return a.fetchFn(providerMessageID)
}

func (a *fakeAdapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{}
}

func (a *fakeAdapter) listCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func summaries(folder string, ids ...string) []provider.MessageSummary {
	out := make([]provider.MessageSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, provider.MessageSummary{
			ProviderMessageID: id,
			Folder:            folder,
			Subject:           "subject " + id,
			FromAddress:       "sender@example.com",
		})
	}
	return out
}

// testHarness wires an orchestrator over fakes with sane defaults.
type testHarness struct {
	orch      *SyncOrchestrator
	accounts  *fakeAccountRepo
	states    *fakeStateRepo
	index     *fakeIndexRepo
	leases    *fakeLeaseRepo
	control   *fakeControlRepo
	publisher *fakePublisher
	tokens    *fakeTokenProvider
	adapter   *fakeAdapter
	factory   *countingFactory
}

type countingFactory struct {
	mu      gosync.Mutex
	adapter provider.Adapter
	err     error
	builds  int
}

func (f *countingFactory) build(ctx context.Context, account *models.Account, token string) (provider.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	if f.err != nil {
		return nil, f.err
	}
	return f.adapter, nil
}

func newTestHarness(account *models.Account, adapter *fakeAdapter) *testHarness {
	cfg := testSyncConfig()
	log := getLogger()
	accounts := newFakeAccountRepo(account)
	states := newFakeStateRepo(account.ID)
	index := newFakeIndexRepo()
	leases := &fakeLeaseRepo{}
	control := &fakeControlRepo{}
	publisher := &fakePublisher{}
	tokens := &fakeTokenProvider{}
	owners := &fakeOwnerDirectory{owner: account.OwnerID}
	factory := &countingFactory{adapter: adapter}

	guard := NewQuotaGuard(cfg, log, control, accounts)
	orch := NewSyncOrchestrator(cfg, log, accounts, states, index, leases, guard, publisher, tokens, owners, factory.build)

	return &testHarness{
		orch:      orch,
		accounts:  accounts,
		states:    states,
		index:     index,
		leases:    leases,
		control:   control,
		publisher: publisher,
		tokens:    tokens,
		adapter:   adapter,
		factory:   factory,
	}
}
