package client

import (
	"sync"

	"github.com/dedis/prenet/fleet"
)

// Suspicion tracks, for the lifetime of a single Retriever, which workers
// returned a cfrag that failed verification during a retrieve call. Spec
// §4.E step 4: a worker in this state "is recorded as suspicious for this
// session but is not globally banned" — no persistence, no propagation to
// the Peer Fleet's quarantine table.
type Suspicion struct {
	mu      sync.Mutex
	flagged map[fleet.NodeID]int
}

func NewSuspicion() *Suspicion {
	return &Suspicion{flagged: map[fleet.NodeID]int{}}
}

// Mark records one verification failure against a worker.
func (s *Suspicion) Mark(id fleet.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flagged[id]++
}

// Count returns how many times this worker has been marked this session.
func (s *Suspicion) Count(id fleet.NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flagged[id]
}

// Suspects returns the set of node_ids flagged at least once this session.
func (s *Suspicion) Suspects() []fleet.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fleet.NodeID, 0, len(s.flagged))
	for id := range s.flagged {
		out = append(out, id)
	}
	return out
}
