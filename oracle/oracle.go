// Package oracle is the read-only Authorization Oracle of spec §4.B: a
// snapshot-consistent view over the blockchain-side staking/authorization
// contracts, which are explicitly out of scope here (spec §1). Callers only
// see this interface; a real deployment backs it with a chain client, tests
// back it with the in-memory MemorySnapshot implementation in memory.go.
package oracle

import (
	"context"
	"time"

	"github.com/dedis/kyber"
)

// WorkerRecord is what the chain knows about an operator address: its
// declared signing key and staking status (spec §4.B lookup_worker).
type WorkerRecord struct {
	SigningPK   kyber.Point
	Stake       uint64
	BondedSince time.Time
}

// Oracle is the read-only authorization view every component depends on.
// Every method returns errs.OracleUnavailable (wrapped) when the underlying
// chain endpoint is unreachable or lagging past the configured staleness
// bound; callers are expected to fall back to the last good snapshot and
// annotate results as "possibly stale" rather than treat this as fatal
// (spec §4.B failure model).
type Oracle interface {
	IsAuthorized(ctx context.Context, operatorAddress string, at time.Time) (bool, error)
	LookupWorker(ctx context.Context, operatorAddress string) (*WorkerRecord, error)
	// ListAuthorized returns a finite, restartable sequence of operator
	// addresses for a domain. Cursor is empty to start; a non-empty
	// returned cursor means more results are available.
	ListAuthorized(ctx context.Context, domain, cursor string, limit int) (addrs []string, nextCursor string, err error)
	CurrentEpoch(ctx context.Context) (uint64, error)
	// SnapshotAge reports how long ago the underlying view was last
	// refreshed successfully; callers use this against MaxSnapshotAge to
	// decide whether "possibly stale" is still acceptable (spec §4.D step
	// 5 degraded mode, §8 stale-oracle-degraded scenario).
	SnapshotAge(ctx context.Context) (time.Duration, error)
}
