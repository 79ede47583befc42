package idempotency

import (
	"context"
	"time"
)

// Guard runs operations at most once per idempotency key.
type Guard struct {
	store Store
	ttl   time.Duration
}

// NewGuard creates a Guard over store. A nil store disables deduplication.
func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{store: store, ttl: ttl}
}

// Do returns the recorded result of an earlier run with the same operation,
// key and input, or runs fn and records its result. Empty keys always run fn.
// Failed runs are not recorded so the client may retry them.
func (g *Guard) Do(ctx context.Context, operation, key string, input any, fn func() (Record, error)) (rec Record, replayed bool, err error) {
	if g == nil || g.store == nil || key == "" {
		rec, err = fn()
		return rec, false, err
	}

	hash, err := HashInput(input)
	if err != nil {
		return Record{}, false, err
	}
	storeKey := FormatKey(operation, key)

	cached, found, err := g.store.Check(ctx, storeKey, hash)
	if err != nil {
		return Record{}, found, err
	}
	if found {
		return *cached, true, nil
	}

	rec, err = fn()
	if err != nil {
		return rec, false, err
	}
	if err := g.store.Store(ctx, storeKey, hash, rec, g.ttl); err != nil {
		return rec, false, err
	}
	return rec, false, nil
}
