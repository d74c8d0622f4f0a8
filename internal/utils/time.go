package utils

import "time"

// Now returns the current time in UTC. All persisted timestamps go through here.
func Now() time.Time {
	return time.Now().UTC()
}

func NowPtr() *time.Time {
	now := Now()
	return &now
}
