package fleet

import (
	"context"
	"math/rand"
	"time"

	"github.com/dedis/prenet/internal/netlog"
)

// LearningConfig carries the tunables named as defaults-not-contracts in
// spec §4.C/§9.
type LearningConfig struct {
	PeersPerRound     int           // K, default 3
	ExchangeTimeout   time.Duration // T_exchange, default 5s
	StaleAfter        time.Duration // default 6h
	ColdRetryInterval time.Duration // default 1h
	EvictAfter        time.Duration // default 7d
	ConflictWindow    time.Duration // default 24h
	RoundInterval     time.Duration // base pacing interval
	Jitter            time.Duration // total spread: RoundInterval is offset by a random amount in [-Jitter/2, +Jitter/2]
	Domain            string
	ProtocolVersion   ProtocolVersion
}

// DefaultLearningConfig returns the literal starting-point defaults from
// spec §4.C.
func DefaultLearningConfig(domain string, version ProtocolVersion) LearningConfig {
	return LearningConfig{
		PeersPerRound:     3,
		ExchangeTimeout:   5 * time.Second,
		StaleAfter:        6 * time.Hour,
		ColdRetryInterval: time.Hour,
		EvictAfter:        7 * 24 * time.Hour,
		ConflictWindow:    DefaultConflictWindow,
		RoundInterval:     30 * time.Second,
		Jitter:            5 * time.Second,
		Domain:            domain,
		ProtocolVersion:   version,
	}
}

// ExchangeResult is what a node-metadata exchange with one peer yields:
// either the peer's own identity plus the identities it announces from its
// own FleetState, or an error.
type ExchangeResult struct {
	Peer       *WorkerIdentity
	Announced  []*WorkerIdentity
	PeerNodeID NodeID
}

// Exchanger performs one "node-metadata exchange" with a peer (spec §4.C
// step 2). It MUST respect ctx and return promptly on cancellation; the
// learning loop treats every call as a suspension point (spec §5).
type Exchanger interface {
	Exchange(ctx context.Context, peer *WorkerIdentity) (*ExchangeResult, error)
}

// Authorizer is the subset of the Authorization Oracle the learning loop
// consults to decide verified vs. unverified placement (spec §4.C step 3).
type Authorizer interface {
	IsAuthorized(ctx context.Context, operatorAddress string, at time.Time) (bool, error)
	SnapshotAge(ctx context.Context) (time.Duration, error)
}

// Learner runs the epidemic learning loop against one Fleet.
type Learner struct {
	fleet      *Fleet
	exchange   Exchanger
	oracle     Authorizer
	cfg        LearningConfig
	selfID     NodeID
	maxStale   time.Duration // oracle snapshot age beyond which checks are treated as soft/unverified
	identitySk func() *WorkerIdentity
}

// NewLearner wires a Learner. maxOracleStaleness bounds how old an oracle
// snapshot may be before its authorization answers are no longer trusted
// to gate the verified shard (spec §4.C step 3: "this check is soft when
// the oracle is stale").
func NewLearner(f *Fleet, selfID NodeID, exchange Exchanger, oracle Authorizer, cfg LearningConfig, maxOracleStaleness time.Duration) *Learner {
	return &Learner{fleet: f, exchange: exchange, oracle: oracle, cfg: cfg, selfID: selfID, maxStale: maxOracleStaleness}
}

// Round runs exactly one learning round (spec §4.C steps 1-5). The effect
// on FleetState is installed atomically at the end of the round: either
// every merge from this round becomes visible, or (on ctx cancellation)
// none does (spec §4.C ordering guarantee, §5 cancellation semantics).
func (l *Learner) Round(ctx context.Context, now time.Time) error {
	snapshot := l.fleet.Current()
	peers := snapshot.Sample(l.cfg.PeersPerRound, now.UnixNano(), l.selfID, func(w *WorkerIdentity) bool {
		return !l.fleet.Quarantine().IsQuarantined(w.NodeID, now)
	})
	if len(peers) == 0 {
		netlog.Lvl3("learning round: no peers to contact")
		return nil
	}

	type outcome struct {
		res *ExchangeResult
		err error
	}
	results := make(chan outcome, len(peers))
	for _, p := range peers {
		p := p
		go func() {
			exCtx, cancel := context.WithTimeout(ctx, l.cfg.ExchangeTimeout)
			defer cancel()
			res, err := l.exchange.Exchange(exCtx, p)
			results <- outcome{res, err}
		}()
	}

	merged := make(map[NodeID]entry)
	for id, e := range snapshot.entries {
		merged[id] = e
	}

	for range peers {
		select {
		case <-ctx.Done():
			// Cancellation at a suspension point: discard everything
			// gathered so far for this round rather than installing a
			// partial merge (spec §5 cancellation semantics).
			return ctx.Err()
		case o := <-results:
			if o.err != nil {
				netlog.Lvl3("learning exchange failed:", o.err)
				continue
			}
			l.ingest(ctx, merged, o.res.Peer, now)
			for _, announced := range o.res.Announced {
				l.ingest(ctx, merged, announced, now)
			}
		}
	}

	// A cancellation that raced with the last exchange result still
	// discards the round.
	if err := ctx.Err(); err != nil {
		return err
	}

	l.ageShards(merged, now)
	next := &FleetState{entries: merged, builtAt: now}
	next.checksum = computeChecksum(merged)

	l.fleet.witness.mu.Lock()
	l.fleet.witness.r.push(next.checksum)
	l.fleet.witness.mu.Unlock()

	l.fleet.current.Store(next)
	return nil
}

// ingest validates and merges one candidate identity into the in-progress
// round buffer (spec §4.C steps 3-4). It never touches the published
// FleetState directly.
func (l *Learner) ingest(ctx context.Context, merged map[NodeID]entry, w *WorkerIdentity, now time.Time) {
	if err := w.VerifySelf(l.cfg.Domain, l.cfg.ProtocolVersion, now); err != nil {
		netlog.Lvl2("rejecting identity", w.NodeID, ":", err)
		return
	}

	// Key-rotation conflict: same operator address, different signing key
	// than what we already know for a different node_id.
	for _, e := range merged {
		if e.identity.OperatorAddress == w.OperatorAddress && e.identity.NodeID != w.NodeID {
			netlog.Warnf("key rotation conflict for operator %s: %x vs %x", w.OperatorAddress, e.identity.NodeID, w.NodeID)
			l.fleet.Quarantine().Raise(w.OperatorAddress, e.identity.NodeID, w.NodeID, now, l.cfg.ConflictWindow)
		}
	}
	if l.fleet.Quarantine().IsQuarantined(w.NodeID, now) {
		return
	}

	sh := shardUnverified
	age, ageErr := l.oracle.SnapshotAge(ctx)
	oracleFresh := ageErr == nil && age <= l.maxStale
	if oracleFresh {
		authorized, err := l.oracle.IsAuthorized(ctx, w.OperatorAddress, now)
		if err == nil && authorized {
			sh = shardVerified
		}
	}

	cp := *w
	cp.LastSeen = now
	merged[w.NodeID] = entry{identity: cp, shard: sh}
}

// ageShards demotes stale verified entries to cold and evicts entries past
// EvictAfter (spec §4.C liveness).
func (l *Learner) ageShards(merged map[NodeID]entry, now time.Time) {
	for id, e := range merged {
		age := now.Sub(e.identity.LastSeen)
		switch {
		case age > l.cfg.EvictAfter:
			delete(merged, id)
		case age > l.cfg.StaleAfter && e.shard != shardCold:
			e.shard = shardCold
			merged[id] = e
		}
	}
}

// RunLoop paces Round() with interval+jitter until ctx is cancelled,
// matching spec §4.C's "pacing is governed by an interval with jitter".
func (l *Learner) RunLoop(ctx context.Context) {
	for {
		jitter := time.Duration(rand.Int63n(int64(l.cfg.Jitter)+1)) - l.cfg.Jitter/2
		wait := l.cfg.RoundInterval + jitter
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := l.Round(ctx, time.Now()); err != nil {
			netlog.Lvl2("learning round aborted:", err)
		}
	}
}
