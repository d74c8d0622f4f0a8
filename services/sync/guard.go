package sync

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/mailriver/mailriver/config"
	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/enum"
	mrerrors "github.com/mailriver/mailriver/internal/errors"
	"github.com/mailriver/mailriver/internal/logger"
	"github.com/mailriver/mailriver/internal/tracing"
)

// QuotaGuard enforces the budgets that keep the system inside provider rate
// limits: the per-cycle message cap, the concurrency bound, the polling floor
// and the global kill switch. It fails closed: when the control row cannot be
// read, sync does not run.
type QuotaGuard struct {
	cfg      *config.SyncConfig
	log      logger.Logger
	control  interfaces.SyncControlRepository
	accounts interfaces.AccountRepository

	// slots is the account-level concurrency semaphore.
	slots chan struct{}
}

func NewQuotaGuard(cfg *config.SyncConfig, log logger.Logger, control interfaces.SyncControlRepository, accounts interfaces.AccountRepository) *QuotaGuard {
	max := cfg.MaxConcurrentAccounts
	if max <= 0 {
		max = 1
	}
	return &QuotaGuard{
		cfg:      cfg,
		log:      log,
		control:  control,
		accounts: accounts,
		slots:    make(chan struct{}, max),
	}
}

// ValidatePollingInterval rejects intervals below the configured floor.
func (g *QuotaGuard) ValidatePollingInterval(interval time.Duration) error {
	if interval < time.Duration(g.cfg.PollingFloorSeconds)*time.Second {
		return mrerrors.ErrPollingTooShort
	}
	return nil
}

// CycleBudget tracks one cycle's remaining message allowance, capped per
// direction so a flood in one folder type cannot starve or hide the other.
type CycleBudget struct {
	remaining map[enum.MessageDirection]int
}

// CycleBudget starts a fresh per-direction budget for one sync cycle.
func (g *QuotaGuard) CycleBudget() *CycleBudget {
	return &CycleBudget{
		remaining: map[enum.MessageDirection]int{
			enum.MessageInbound:  g.cfg.MaxInboundPerCycle,
			enum.MessageOutbound: g.cfg.MaxOutboundPerCycle,
		},
	}
}

func (b *CycleBudget) Remaining(direction enum.MessageDirection) int {
	return b.remaining[direction]
}

func (b *CycleBudget) Consume(direction enum.MessageDirection, n int) {
	b.remaining[direction] -= n
	if b.remaining[direction] < 0 {
		b.remaining[direction] = 0
	}
}

func (b *CycleBudget) Exhausted(direction enum.MessageDirection) bool {
	return b.remaining[direction] <= 0
}

// Drained reports whether every direction's allowance is spent.
func (b *CycleBudget) Drained() bool {
	for _, left := range b.remaining {
		if left > 0 {
			return false
		}
	}
	return true
}

// KillSwitchActive re-reads the persisted switch. Read errors count as active.
func (g *QuotaGuard) KillSwitchActive(ctx context.Context) bool {
	span, ctx := opentracing.StartSpanFromContext(ctx, "QuotaGuard.KillSwitchActive")
	defer span.Finish()
	tracing.TagComponentService(span)

	active, err := g.control.GetKillSwitch(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		g.log.Errorf("failed to read kill switch, treating as active: %v", err)
		return true
	}
	return active
}

// AcquireSlot claims a concurrency slot, blocking until one frees up or the
// context ends.
func (g *QuotaGuard) AcquireSlot(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquireSlot claims a slot without blocking.
func (g *QuotaGuard) TryAcquireSlot() bool {
	select {
	case g.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *QuotaGuard) ReleaseSlot() {
	select {
	case <-g.slots:
	default:
	}
}

// EmergencyStop throws the kill switch and disables sync on every account in
// one pass. Used by operators when a provider flags abusive traffic.
func (g *QuotaGuard) EmergencyStop(ctx context.Context) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "QuotaGuard.EmergencyStop")
	defer span.Finish()
	tracing.TagComponentService(span)

	if err := g.control.SetKillSwitch(ctx, true); err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	disabled, err := g.accounts.DisableAllSync(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	g.log.Warnf("emergency stop: kill switch thrown, %d accounts disabled", disabled)
	return disabled, nil
}
