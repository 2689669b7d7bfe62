package oracle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dedis/prenet/errs"
)

// MemorySnapshot is a test/reference Oracle backed by an in-memory map. It
// simulates chain lag/unavailability via SetUnavailable, used to exercise
// spec §8's "Authorization oracle transitions from available -> stale ->
// available during a retrieve" boundary.
type MemorySnapshot struct {
	mu           sync.RWMutex
	records      map[string]*WorkerRecord
	domains      map[string][]string // domain -> sorted operator addresses
	epoch        uint64
	lastRefresh  time.Time
	unavailable  bool
	maxStaleness time.Duration
}

// NewMemorySnapshot builds an empty oracle considered fresh as of now.
func NewMemorySnapshot(maxStaleness time.Duration) *MemorySnapshot {
	return &MemorySnapshot{
		records:      map[string]*WorkerRecord{},
		domains:      map[string][]string{},
		lastRefresh:  time.Now(),
		maxStaleness: maxStaleness,
	}
}

// Put registers (or replaces) a worker's chain record under a domain.
func (m *MemorySnapshot) Put(domain, operatorAddress string, rec *WorkerRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[operatorAddress]; !exists {
		addrs := append(m.domains[domain], operatorAddress)
		sort.Strings(addrs)
		m.domains[domain] = addrs
	}
	m.records[operatorAddress] = rec
	m.epoch++
}

// SetUnavailable flips the soft-failure mode on or off, for tests driving
// the stale-oracle-degraded scenario.
func (m *MemorySnapshot) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
	if !down {
		m.lastRefresh = time.Now()
	}
}

func (m *MemorySnapshot) checkAvailable() error {
	if m.unavailable {
		return errs.OracleUnavailable
	}
	if m.maxStaleness > 0 && time.Since(m.lastRefresh) > m.maxStaleness {
		return errs.OracleUnavailable
	}
	return nil
}

func (m *MemorySnapshot) IsAuthorized(ctx context.Context, operatorAddress string, at time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkAvailable(); err != nil {
		return false, err
	}
	rec, ok := m.records[operatorAddress]
	if !ok {
		return false, nil
	}
	return !rec.BondedSince.After(at), nil
}

func (m *MemorySnapshot) LookupWorker(ctx context.Context, operatorAddress string) (*WorkerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkAvailable(); err != nil {
		return nil, err
	}
	rec, ok := m.records[operatorAddress]
	if !ok {
		return nil, errs.Wrap(errs.ErrResource, "operator not found")
	}
	cp := *rec
	return &cp, nil
}

func (m *MemorySnapshot) ListAuthorized(ctx context.Context, domain, cursor string, limit int) ([]string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkAvailable(); err != nil {
		return nil, "", err
	}
	all := m.domains[domain]
	start := 0
	if cursor != "" {
		for i, a := range all {
			if a == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	page := append([]string{}, all[start:end]...)
	next := ""
	if end < len(all) {
		next = all[end-1]
	}
	return page, next, nil
}

func (m *MemorySnapshot) CurrentEpoch(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkAvailable(); err != nil {
		return 0, err
	}
	return m.epoch, nil
}

func (m *MemorySnapshot) SnapshotAge(ctx context.Context) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.lastRefresh), nil
}
