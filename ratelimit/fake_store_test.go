package ratelimit

import (
	"context"
	"sync"
	"time"
)

// fakeCounterStore is an in-memory CounterStore used to test the
// engine's orchestration logic without a real Redis instance. It
// mimics incrAndExpire's atomicity with a mutex, the same property a
// real Lua script provides server-side.
type fakeCounterStore struct {
	mu      sync.Mutex
	counts  map[string]int
	expires map[string]time.Time
	now     func() time.Time
}

func newFakeCounterStore(now func() time.Time) *fakeCounterStore {
	return &fakeCounterStore{
		counts:  make(map[string]int),
		expires: make(map[string]time.Time),
		now:     now,
	}
}

func (f *fakeCounterStore) IncrAndExpire(ctx context.Context, key string, windowSeconds int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts[key]++
	if f.counts[key] == 1 {
		f.expires[key] = f.now().Add(time.Duration(windowSeconds) * time.Second)
	}

	return f.counts[key], nil
}

func (f *fakeCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	expiry, ok := f.expires[key]
	if !ok {
		return -2 * time.Second, nil
	}

	remaining := expiry.Sub(f.now())
	if remaining < 0 {
		return -2 * time.Second, nil
	}

	return remaining, nil
}

func (f *fakeCounterStore) Get(ctx context.Context, key string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.counts[key], nil
}
