// Package ratelimit throttles moderation commands per guild and moderator.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"shibe/internal/metrics"
)

var ErrInvalidWindow = errors.New("invalid rate window")

// WindowStore counts hits for key over window and returns the count
// including this hit plus the time until the oldest counted hit leaves.
type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type Limiter struct {
	store  WindowStore
	limit  int
	window time.Duration
}

// NewLimiter allows limit commands per window. A non-positive limit
// disables the limiter.
func NewLimiter(store WindowStore, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// Allow reports whether the moderator may run another command now and, if
// not, how long to wait.
func (l *Limiter) Allow(ctx context.Context, guildID, moderatorID string) (bool, time.Duration, error) {
	if l == nil || l.store == nil || l.limit <= 0 || l.window <= 0 {
		return true, 0, nil
	}
	count, ttl, err := l.store.IncrementWindow(ctx, key(guildID, moderatorID), l.window)
	if err != nil {
		return false, 0, err
	}
	if count > int64(l.limit) {
		metrics.CommandsRateLimitedTotal.Inc()
		return false, ceilSecond(ttl), nil
	}
	return true, 0, nil
}

func key(guildID, moderatorID string) string {
	return "shibe:cmd:" + guildID + ":" + moderatorID
}

func ceilSecond(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
