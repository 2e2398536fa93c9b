package domain

import (
	"context"
	"time"
)

// MarketCache is a read-through cache over market rows. Implementations return
// ErrNotFound on a miss; callers treat every cache error as a miss and fall
// back to the store.
type MarketCache interface {
	Get(ctx context.Context, id int64) (Market, error)
	Set(ctx context.Context, m Market) error
	Invalidate(ctx context.Context, id int64) error
}

// RateLimiter provides distributed rate limiting keyed by caller identity.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
