package errors

import "github.com/pkg/errors"

var (
	// account errors
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountDisabled  = errors.New("account sync is disabled")
	ErrPollingTooShort  = errors.New("polling interval below configured floor")
	ErrSyncInProgress   = errors.New("sync already running for account")
	ErrKillSwitchActive = errors.New("global kill switch is active")

	// index store errors
	ErrOwnerUnresolved  = errors.New("owner could not be resolved for account")
	ErrMalformedMessage = errors.New("message identity is malformed")

	// content cache errors
	ErrCacheMiss = errors.New("content cache miss")
)
