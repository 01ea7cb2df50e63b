// Package ratelimit provides fixed one-minute window request counters keyed
// by principal.
package ratelimit

import (
	"context"
	"time"
)

// Window is the length of one counting window.
const Window = time.Minute

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Store counts requests per key per window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

// windowStart truncates now to the start of its window.
func windowStart(now time.Time) int64 {
	return now.Unix() - now.Unix()%int64(Window/time.Second)
}

func resetAt(window int64) time.Time {
	return time.Unix(window+int64(Window/time.Second), 0).UTC()
}
