package worker

import (
	"sync"
	"sync/atomic"
)

// UsageCounters tracks per-policy reencrypt usage. Each counter is an
// atomic, incremented and read without a lock; finding a policy's counter in
// the map takes a short mutex on every call, so neither Increment nor Count
// is lock-free as a whole.
type UsageCounters struct {
	mu     sync.Mutex // guards every map lookup and insertion, never the counter value itself
	counts map[string]*atomic.Uint64
}

func NewUsageCounters() *UsageCounters {
	return &UsageCounters{counts: make(map[string]*atomic.Uint64)}
}

func (u *UsageCounters) counter(policyKey string) *atomic.Uint64 {
	u.mu.Lock()
	c, ok := u.counts[policyKey]
	if !ok {
		c = &atomic.Uint64{}
		u.counts[policyKey] = c
	}
	u.mu.Unlock()
	return c
}

// Increment records one reencrypt for policyKey and returns the new total.
func (u *UsageCounters) Increment(policyKey string) uint64 {
	return u.counter(policyKey).Add(1)
}

// Count reads the current total with an atomic load after the locked map
// lookup; an unknown policy gets a zero counter created for it.
func (u *UsageCounters) Count(policyKey string) uint64 {
	return u.counter(policyKey).Load()
}
