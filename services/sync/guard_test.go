package sync

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailriver/mailriver/internal/enum"
	mrerrors "github.com/mailriver/mailriver/internal/errors"
)

func newTestGuard(control *fakeControlRepo, accounts *fakeAccountRepo) *QuotaGuard {
	return NewQuotaGuard(testSyncConfig(), getLogger(), control, accounts)
}

func TestValidatePollingInterval(t *testing.T) {
	guard := newTestGuard(&fakeControlRepo{}, newFakeAccountRepo())

	assert.ErrorIs(t, guard.ValidatePollingInterval(30*time.Second), mrerrors.ErrPollingTooShort)
	assert.NoError(t, guard.ValidatePollingInterval(60*time.Second))
	assert.NoError(t, guard.ValidatePollingInterval(5*time.Minute))
}

func TestKillSwitchActive_ReadsPersistedSwitch(t *testing.T) {
	control := &fakeControlRepo{}
	guard := newTestGuard(control, newFakeAccountRepo())

	assert.False(t, guard.KillSwitchActive(context.Background()))

	control.throw()
	assert.True(t, guard.KillSwitchActive(context.Background()))

	// Every check re-reads the control row.
	assert.Equal(t, 2, control.getCalls)
}

func TestKillSwitchActive_FailsClosed(t *testing.T) {
	control := &fakeControlRepo{getErr: errors.New("connection refused")}
	guard := newTestGuard(control, newFakeAccountRepo())

	assert.True(t, guard.KillSwitchActive(context.Background()))
}

func TestSlots_BoundConcurrency(t *testing.T) {
	cfg := testSyncConfig()
	cfg.MaxConcurrentAccounts = 2
	guard := NewQuotaGuard(cfg, getLogger(), &fakeControlRepo{}, newFakeAccountRepo())

	require.True(t, guard.TryAcquireSlot())
	require.True(t, guard.TryAcquireSlot())
	assert.False(t, guard.TryAcquireSlot())

	guard.ReleaseSlot()
	assert.True(t, guard.TryAcquireSlot())
}

func TestAcquireSlot_UnblocksOnContextEnd(t *testing.T) {
	cfg := testSyncConfig()
	cfg.MaxConcurrentAccounts = 1
	guard := NewQuotaGuard(cfg, getLogger(), &fakeControlRepo{}, newFakeAccountRepo())

	require.NoError(t, guard.AcquireSlot(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := guard.AcquireSlot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseSlot_WithoutAcquireIsNoop(t *testing.T) {
	guard := newTestGuard(&fakeControlRepo{}, newFakeAccountRepo())

	// Must not block or panic on an empty semaphore.
	guard.ReleaseSlot()
	assert.True(t, guard.TryAcquireSlot())
}

func TestEmergencyStop_ThrowsSwitchAndDisablesAccounts(t *testing.T) {
	a1 := testAccount("acct-1")
	a2 := testAccount("acct-2")
	a3 := testAccount("acct-3")
	a3.SyncEnabled = false
	accounts := newFakeAccountRepo(a1, a2, a3)
	control := &fakeControlRepo{}
	guard := newTestGuard(control, accounts)

	disabled, err := guard.EmergencyStop(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(2), disabled)
	assert.True(t, control.killSwitch)
	assert.False(t, a1.SyncEnabled)
	assert.False(t, a2.SyncEnabled)
}

func TestCycleBudget_TracksDirectionsIndependently(t *testing.T) {
	cfg := testSyncConfig()
	cfg.MaxInboundPerCycle = 10
	cfg.MaxOutboundPerCycle = 3
	guard := NewQuotaGuard(cfg, getLogger(), &fakeControlRepo{}, newFakeAccountRepo())

	budget := guard.CycleBudget()
	assert.Equal(t, 10, budget.Remaining(enum.MessageInbound))
	assert.Equal(t, 3, budget.Remaining(enum.MessageOutbound))

	budget.Consume(enum.MessageOutbound, 3)
	assert.True(t, budget.Exhausted(enum.MessageOutbound))
	assert.False(t, budget.Exhausted(enum.MessageInbound))
	assert.False(t, budget.Drained())

	// Overconsumption clamps at zero instead of going negative.
	budget.Consume(enum.MessageInbound, 99)
	assert.Zero(t, budget.Remaining(enum.MessageInbound))
	assert.True(t, budget.Drained())
}
