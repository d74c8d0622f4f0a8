package enum

type SyncRunState string

const (
	SyncIdle        SyncRunState = "idle"
	SyncRunning     SyncRunState = "running"
	SyncCompleted   SyncRunState = "completed"
	SyncFailed      SyncRunState = "failed"
	SyncRateLimited SyncRunState = "rate_limited"
)

func (t SyncRunState) String() string {
	return string(t)
}

type SyncMode string

const (
	SyncIncremental SyncMode = "incremental"
	SyncFull        SyncMode = "full"
)

func (t SyncMode) String() string {
	return string(t)
}
