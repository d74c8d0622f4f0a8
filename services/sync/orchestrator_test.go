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
	"github.com/mailriver/mailriver/services/provider"
)

func TestStartSync_AdvancesCursorPerCommittedPage(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			switch cursor {
			case "":
				return &provider.Page{Summaries: summaries(folder, "m1", "m2"), NextCursor: "c1"}, nil
			case "c1":
				return &provider.Page{Summaries: summaries(folder, "m3"), NextCursor: "c2"}, nil
			case "c2":
				return &provider.Page{}, nil
			default:
				return nil, errors.Errorf("unexpected cursor %q", cursor)
			}
		},
	}
	h := newTestHarness(account, adapter)

	// Act
	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, h.index.count())
	assert.Equal(t, 3, h.adapter.listCalls())

	saves := h.states.cursorSaves()
	require.Len(t, saves, 2)
	assert.Equal(t, "c1", saves[0]["INBOX"])
	assert.Equal(t, "c2", saves[1]["INBOX"])

	assert.NotNil(t, h.states.successAt)
	assert.Equal(t, enum.SyncCompleted, h.states.state.State)
	assert.Contains(t, h.accounts.lastSyncAt, account.ID)
	assert.Equal(t, 1, h.leases.acquireCalls)
	assert.Equal(t, 1, h.leases.releases)
	assert.Len(t, h.publisher.published(), 3)
}

func TestStartSync_SecondRunResumesFromSavedCursor(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			if cursor == "" {
				return &provider.Page{Summaries: summaries(folder, "m1", "m2"), NextCursor: "c1"}, nil
			}
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)

	require.NoError(t, h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental))
	require.NoError(t, h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental))

	// The second run started at "c1" and saw an empty page; nothing new was
	// indexed or published.
	assert.Equal(t, 2, h.index.count())
	assert.Len(t, h.publisher.published(), 2)
}

func TestStartSync_RepeatedPageDeduplicates(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			// Same page served twice under different cursors, as a provider
			// might after a crash between commit and cursor save.
			switch call {
			case 1:
				return &provider.Page{Summaries: summaries(folder, "m1", "m2"), NextCursor: "c1"}, nil
			case 2:
				return &provider.Page{Summaries: summaries(folder, "m1", "m2"), NextCursor: "c2"}, nil
			default:
				return &provider.Page{}, nil
			}
		},
	}
	h := newTestHarness(account, adapter)

	require.NoError(t, h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental))

	assert.Equal(t, 2, h.index.count())
	// Only first-seen entries produce events.
	assert.Len(t, h.publisher.published(), 2)
}

func TestStartSync_RateLimitSuspendsWithoutAdvancingCursor(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			if cursor == "" {
				return &provider.Page{Summaries: summaries(folder, "m1"), NextCursor: "c1"}, nil
			}
			return nil, provider.RateLimited(5*time.Minute, errors.New("429"))
		},
	}
	h := newTestHarness(account, adapter)

	before := time.Now().UTC()
	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	_, rateLimited := provider.IsRateLimited(err)
	require.True(t, rateLimited)

	// Page one committed and advanced; the failing page did not.
	saves := h.states.cursorSaves()
	require.Len(t, saves, 1)
	assert.Equal(t, "c1", saves[0]["INBOX"])

	require.NotNil(t, h.states.suspendedAt)
	assert.True(t, h.states.suspendedAt.After(before.Add(4*time.Minute)))
	assert.Equal(t, enum.SyncRateLimited, h.states.state.State)

	// Rate limits are suspensions, not failures; no retry backoff is written.
	assert.Empty(t, h.states.recordedErrs)
	assert.Nil(t, h.states.successAt)
}

func TestStartSync_SkipsWhileSuspended(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)
	until := time.Now().UTC().Add(time.Hour)
	h.states.state.SuspendedUntil = &until

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.NoError(t, err)
	assert.Equal(t, 0, h.adapter.listCalls())
	assert.Equal(t, 0, h.factory.builds)
}

func TestStartSync_SkipsDuringBackoffWindow(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)
	retryAt := time.Now().UTC().Add(time.Hour)
	h.states.state.NextRetryAt = &retryAt

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.NoError(t, err)
	assert.Equal(t, 0, h.adapter.listCalls())
}

func TestStartSync_AuthExpiredRefreshesOnceAndRetries(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			if call == 1 {
				return nil, provider.AuthExpired(errors.New("401"))
			}
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.NoError(t, err)
	// One refresh building the adapter, one more after the expiry.
	assert.Equal(t, 2, h.tokens.refreshes)
	assert.Equal(t, 2, h.factory.builds)
	assert.Equal(t, 2, h.adapter.listCalls())
}

func TestStartSync_AuthExpiredAfterRefreshFailsCycle(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			return nil, provider.AuthExpired(errors.New("401"))
		},
	}
	h := newTestHarness(account, adapter)

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.Error(t, err)
	assert.True(t, provider.IsAuthExpired(err))
	// Refresh is attempted exactly once per cycle.
	assert.Equal(t, 2, h.tokens.refreshes)
	require.Len(t, h.states.recordedErrs, 1)
	assert.Equal(t, enum.SyncFailed, h.states.state.State)
	assert.NotNil(t, h.states.state.NextRetryAt)
}

func TestStartSync_TransientErrorsRetryThenSucceed(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			if call == 1 {
				return nil, provider.Transient(errors.New("i/o timeout"))
			}
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.NoError(t, err)
	assert.Equal(t, 2, h.adapter.listCalls())
	// No extra token refresh for transient retries.
	assert.Equal(t, 1, h.tokens.refreshes)
}

func TestStartSync_TransientErrorsExhaustRetries(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			return nil, provider.Transient(errors.New("i/o timeout"))
		},
	}
	h := newTestHarness(account, adapter)

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))
	assert.Equal(t, transientRetries, h.adapter.listCalls())
	require.Len(t, h.states.recordedErrs, 1)
}

func TestStartSync_BudgetTruncatesPageAndHoldsCursor(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			return &provider.Page{Summaries: summaries(folder, "m1", "m2", "m3", "m4", "m5"), NextCursor: "c1"}, nil
		},
	}
	h := newTestHarness(account, adapter)
	h.orch.cfg.MaxInboundPerCycle = 3

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.NoError(t, err)
	// Only the budgeted prefix was written and the cursor stayed put, so the
	// next cycle re-fetches the same page and the upsert deduplicates.
	assert.Equal(t, 3, h.index.count())
	assert.Empty(t, h.states.cursorSaves())
	assert.Equal(t, 1, h.adapter.listCalls())
	assert.NotNil(t, h.states.successAt)
}

func TestStartSync_InboundCapDoesNotStarveOutboundFolders(t *testing.T) {
	account := testAccount("acct-1")
	account.Folders = []string{"INBOX", "Sent"}
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			if cursor == "" {
				return &provider.Page{Summaries: summaries(folder, folder+"-m1", folder+"-m2"), NextCursor: folder + "-c1"}, nil
			}
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)
	h.orch.cfg.MaxInboundPerCycle = 1

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.NoError(t, err)
	// INBOX was truncated to its cap; Sent drew on its own allowance.
	assert.Equal(t, 3, h.index.count())
	assert.Equal(t, "", h.states.state.Cursor("INBOX"))
	assert.Equal(t, "Sent-c1", h.states.state.Cursor("Sent"))
}

func TestStartSync_ConcurrentTriggersRejected(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)

	// Simulate an attempt already running in this process.
	require.True(t, h.orch.markRunning(account.ID, func() {}))
	defer h.orch.unmarkRunning(account.ID)

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)
	assert.ErrorIs(t, err, mrerrors.ErrSyncInProgress)
}

func TestStartSync_LeaseHeldElsewhereRejected(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)
	h.leases.denyAcquire = true

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	assert.ErrorIs(t, err, mrerrors.ErrSyncInProgress)
	assert.Equal(t, 0, h.adapter.listCalls())
}

func TestStartSync_KillSwitchBlocksStart(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)
	h.control.killSwitch = true

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	assert.ErrorIs(t, err, mrerrors.ErrKillSwitchActive)
	assert.Equal(t, 0, h.leases.acquireCalls)
}

func TestStartSync_KillSwitchAbortsMidCycle(t *testing.T) {
	account := testAccount("acct-1")
	h := newTestHarness(account, nil)
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			// Thrown after the first page is served.
			h.control.throw()
			return &provider.Page{Summaries: summaries(folder, "m1"), NextCursor: "c1"}, nil
		},
	}
	h.adapter = adapter
	h.factory.adapter = adapter

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.NoError(t, err)
	assert.Equal(t, 1, h.adapter.listCalls())
	assert.Equal(t, 1, h.index.count())
	// The cycle parked itself instead of completing.
	assert.Equal(t, enum.SyncIdle, h.states.state.State)
	assert.Nil(t, h.states.successAt)
}

func TestStartSync_StopAbortsAfterCurrentPage(t *testing.T) {
	account := testAccount("acct-1")
	h := newTestHarness(account, nil)
	adapter := &fakeAdapter{}
	adapter.listFn = func(call int, folder, cursor string, limit int) (*provider.Page, error) {
		require.NoError(t, h.orch.StopSync(account.ID))
		return &provider.Page{Summaries: summaries(folder, "m1"), NextCursor: "c1"}, nil
	}
	h.adapter = adapter
	h.factory.adapter = adapter

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.NoError(t, err)
	// The in-flight page still committed before the abort.
	assert.Equal(t, 1, h.adapter.listCalls())
	assert.Equal(t, 1, h.index.count())
	saves := h.states.cursorSaves()
	require.Len(t, saves, 1)
	assert.Equal(t, "c1", saves[0]["INBOX"])
	assert.Equal(t, enum.SyncIdle, h.states.state.State)
	assert.Nil(t, h.states.successAt)
}

func TestStartSync_StopDuringInFlightCallAbortsCleanly(t *testing.T) {
	account := testAccount("acct-1")
	h := newTestHarness(account, nil)
	adapter := &fakeAdapter{}
	adapter.listCtxFn = func(ctx context.Context, call int, folder, cursor string, limit int) (*provider.Page, error) {
		// The stop request lands while the call is blocked on the provider.
		require.NoError(t, h.orch.StopSync(account.ID))
		<-ctx.Done()
		return nil, ctx.Err()
	}
	h.adapter = adapter
	h.factory.adapter = adapter

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.NoError(t, err)
	assert.Equal(t, 1, h.adapter.listCalls())
	// An abort mid-call is not a failure: no error stored, no retry scheduled.
	assert.Empty(t, h.states.recordedErrs)
	assert.Nil(t, h.states.state.NextRetryAt)
	assert.Equal(t, enum.SyncIdle, h.states.state.State)
	assert.Nil(t, h.states.successAt)
}

func TestStartSync_ShutdownDuringTransientBackoffAbortsCleanly(t *testing.T) {
	account := testAccount("acct-1")
	ctx, cancel := context.WithCancel(context.Background())
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			// Cancelled while the retry loop waits out the backoff.
			cancel()
			return nil, provider.Transient(errors.New("connection reset"))
		},
	}
	h := newTestHarness(account, adapter)

	err := h.orch.StartSync(ctx, account.ID, enum.SyncIncremental)

	require.NoError(t, err)
	assert.Empty(t, h.states.recordedErrs)
	assert.Equal(t, enum.SyncIdle, h.states.state.State)
	assert.Nil(t, h.states.successAt)
}

func TestStartSync_FullModeResetsCursors(t *testing.T) {
	account := testAccount("acct-1")
	var firstCursor string
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			if call == 1 {
				firstCursor = cursor
			}
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)
	h.states.state.SetCursor("INBOX", "c9")

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncFull)

	require.NoError(t, err)
	assert.True(t, h.states.resetCalled)
	assert.Equal(t, "", firstCursor)
}

func TestStartSync_UnknownAccount(t *testing.T) {
	h := newTestHarness(testAccount("acct-1"), &fakeAdapter{})

	err := h.orch.StartSync(context.Background(), "acct-missing", enum.SyncIncremental)

	assert.ErrorIs(t, err, mrerrors.ErrAccountNotFound)
}

func TestStartSync_DisabledAccount(t *testing.T) {
	account := testAccount("acct-1")
	account.SyncEnabled = false
	h := newTestHarness(account, &fakeAdapter{})

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	assert.ErrorIs(t, err, mrerrors.ErrAccountDisabled)
}

func TestStartSync_MultipleFoldersEachGetOwnCursor(t *testing.T) {
	account := testAccount("acct-1")
	account.Folders = []string{"INBOX", "Sent"}
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			if cursor == "" {
				return &provider.Page{Summaries: summaries(folder, folder+"-m1"), NextCursor: folder + "-c1"}, nil
			}
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)

	err := h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental)

	require.NoError(t, err)
	assert.Equal(t, 2, h.index.count())
	assert.Equal(t, "INBOX-c1", h.states.state.Cursor("INBOX"))
	assert.Equal(t, "Sent-c1", h.states.state.Cursor("Sent"))

	// The Sent folder entry carries the outbound direction.
	exists, err := h.index.Exists(context.Background(), account.ID, "Sent-m1")
	require.NoError(t, err)
	assert.True(t, exists)
	for _, e := range h.index.entries {
		if e.Folder == "Sent" {
			assert.Equal(t, enum.MessageOutbound, e.Direction)
		} else {
			assert.Equal(t, enum.MessageInbound, e.Direction)
		}
	}
}

func TestStatus_NoStateIsIdle(t *testing.T) {
	account := testAccount("acct-1")
	h := newTestHarness(account, &fakeAdapter{})
	h.states.state = nil

	status, err := h.orch.Status(context.Background(), account.ID)

	require.NoError(t, err)
	assert.Equal(t, enum.SyncIdle, status.State)
	assert.Zero(t, status.MessageCount)
}

func TestStatus_ReportsStateAndCount(t *testing.T) {
	account := testAccount("acct-1")
	adapter := &fakeAdapter{
		listFn: func(call int, folder, cursor string, limit int) (*provider.Page, error) {
			if cursor == "" {
				return &provider.Page{Summaries: summaries(folder, "m1", "m2"), NextCursor: "c1"}, nil
			}
			return &provider.Page{}, nil
		},
	}
	h := newTestHarness(account, adapter)
	require.NoError(t, h.orch.StartSync(context.Background(), account.ID, enum.SyncIncremental))

	status, err := h.orch.Status(context.Background(), account.ID)

	require.NoError(t, err)
	assert.Equal(t, enum.SyncCompleted, status.State)
	assert.Equal(t, int64(2), status.MessageCount)
	assert.NotNil(t, status.LastSyncAt)
	assert.Empty(t, status.LastError)
}

func TestBuildEntries_FillsDirectionFromFolder(t *testing.T) {
	entries := buildEntries("acct-1", "owner-1", "Sent", summaries("Sent", "m1"))

	require.Len(t, entries, 1)
	assert.Equal(t, enum.MessageOutbound, entries[0].Direction)
	assert.Equal(t, "owner-1", entries[0].OwnerID)
	assert.Equal(t, "Sent", entries[0].Folder)
}
