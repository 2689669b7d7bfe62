package fleet

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dedis/prenet/errs"
)

// Checksum is hash(sorted list of (node_id, timestamp)) per spec §3,
// used as the cheap equality check gossiped between peers.
type Checksum [32]byte

// shard names a FleetState bucket (spec §4.C step 3/liveness).
type shard int

const (
	shardVerified shard = iota
	shardUnverified
	shardCold
)

type entry struct {
	identity WorkerIdentity
	shard    shard
}

// FleetState is one immutable snapshot of known WorkerIdentities (spec
// §3). It is never mutated after construction; the Fleet publishes new
// snapshots by atomically swapping a pointer (spec §5 shared-resource
// policy).
type FleetState struct {
	entries  map[NodeID]entry
	checksum Checksum
	builtAt  time.Time
}

func newEmptyFleetState() *FleetState {
	return &FleetState{entries: map[NodeID]entry{}, builtAt: time.Now()}
}

// computeChecksum implements spec §3's checksum definition.
func computeChecksum(entries map[NodeID]entry) Checksum {
	type row struct {
		id NodeID
		ts int64
	}
	rows := make([]row, 0, len(entries))
	for id, e := range entries {
		rows = append(rows, row{id, e.identity.LastSeen.UnixNano()})
	}
	sort.Slice(rows, func(i, j int) bool {
		for k := 0; k < len(rows[i].id); k++ {
			if rows[i].id[k] != rows[j].id[k] {
				return rows[i].id[k] < rows[j].id[k]
			}
		}
		return false
	})
	h := sha256.New()
	var buf [8]byte
	for _, r := range rows {
		h.Write(r.id[:])
		binary.BigEndian.PutUint64(buf[:], uint64(r.ts))
		h.Write(buf[:])
	}
	var cs Checksum
	copy(cs[:], h.Sum(nil))
	return cs
}

// ByNodeID implements the lookup contract of spec §4.C. Cold entries are
// still returned (a caller may still want to probe them); only evicted
// entries return NotKnown.
func (s *FleetState) ByNodeID(id NodeID) (*WorkerIdentity, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, errs.NotKnown
	}
	cp := e.identity
	return &cp, nil
}

// Predicate filters candidates during Sample.
type Predicate func(*WorkerIdentity) bool

// VerifiedOnly accepts every identity. A Predicate sees only the
// WorkerIdentity, not the shard it sits in, so this does not restrict
// sampling to the verified shard; Sample itself skips only cold entries.
func VerifiedOnly(e *WorkerIdentity) bool { return true }

// Sample implements the deterministic lookup contract of spec §4.C: given
// the same seed and the same FleetState, the same up-to-n identities are
// returned, letting a Delegator reproduce its worker selection for
// diagnosis (spec §4.E step 3).
func (s *FleetState) Sample(n int, seed int64, excludeSelf NodeID, pred Predicate) []*WorkerIdentity {
	candidates := make([]*WorkerIdentity, 0, len(s.entries))
	for id, e := range s.entries {
		if id == excludeSelf || e.shard == shardCold {
			continue
		}
		cp := e.identity
		if pred == nil || pred(&cp) {
			candidates = append(candidates, &cp)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NodeID.less(candidates[j].NodeID)
	})
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates
}

func (id NodeID) less(other NodeID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// Checksum returns this snapshot's derived checksum.
func (s *FleetState) Checksum() Checksum { return s.checksum }

// Size returns the number of known identities across all shards.
func (s *FleetState) Size() int { return len(s.entries) }

// witnessRing keeps the last N checksums observed across learning rounds
// (spec §4.C step 5: "fleet-state witness"), mirroring the teacher's own
// "keep the last N" idiom for skipchain forward-link witnesses.
type witnessRing struct {
	buf  [10]Checksum
	next int
	full bool
}

func (w *witnessRing) push(cs Checksum) {
	w.buf[w.next] = cs
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
}

func (w *witnessRing) list() []Checksum {
	if !w.full {
		return append([]Checksum{}, w.buf[:w.next]...)
	}
	out := make([]Checksum, 0, len(w.buf))
	for i := 0; i < len(w.buf); i++ {
		out = append(out, w.buf[(w.next+i)%len(w.buf)])
	}
	return out
}

// Fleet owns the single current FleetState pointer and the witness ring.
// Single writer (the learning loop), many readers via Current() snapshots
// (spec §5 shared-resource policy).
type Fleet struct {
	current atomic.Pointer[FleetState]
	witness struct {
		mu sync.Mutex
		r  witnessRing
	}
	quarantine *quarantineTable
}

// NewFleet starts from an empty FleetState.
func NewFleet() *Fleet {
	f := &Fleet{quarantine: newQuarantineTable()}
	f.current.Store(newEmptyFleetState())
	return f
}

// Current returns the latest published snapshot. Safe for concurrent use by
// any number of readers; never blocks the writer.
func (f *Fleet) Current() *FleetState {
	return f.current.Load()
}

// WitnessChecksums returns the ring of recent checksums, most recent last.
func (f *Fleet) WitnessChecksums() []Checksum {
	f.witness.mu.Lock()
	defer f.witness.mu.Unlock()
	return f.witness.r.list()
}

// Quarantine exposes the quarantine table (learn.go installs into it, the
// Client's retrieve path reads from it to reject quarantined node_ids per
// spec §4.E step 2).
func (f *Fleet) Quarantine() *quarantineTable { return f.quarantine }

// Seed installs a set of already-known identities directly into the
// verified shard, bypassing the learning loop's gossip round. Spec §4.C's
// algorithm describes how a fleet grows once it has peers to exchange
// with, but says nothing about where the very first peers come from; every
// node needs an initial bootstrap list before it has anyone to gossip
// with, the same role onet's statically configured Roster plays for the
// teacher. Callers are expected to have already run VerifySelf over each
// identity (an operator-supplied bootstrap list is trusted out-of-band,
// not learned, so Seed itself does not re-verify).
func (f *Fleet) Seed(now time.Time, identities ...*WorkerIdentity) {
	current := f.Current()
	merged := make(map[NodeID]entry, len(current.entries)+len(identities))
	for id, e := range current.entries {
		merged[id] = e
	}
	for _, w := range identities {
		cp := *w
		cp.LastSeen = now
		merged[w.NodeID] = entry{identity: cp, shard: shardVerified}
	}
	next := &FleetState{entries: merged, builtAt: now, checksum: computeChecksum(merged)}
	f.current.Store(next)
}
