// Package client implements the Delegator and Retriever roles of spec
// §4.E: granting a policy (kfrag generation, worker selection, enactment)
// and retrieving plaintext (threshold reencrypt fan-out, cfrag
// verification, decryption). Per spec §9's "dynamic dispatch over
// characters" design note, Delegator and Retriever are distinct structs
// with disjoint capability sets rather than one polymorphic "user" type.
package client

import (
	"time"

	"github.com/dedis/kyber"
	"github.com/dedis/prenet/fleet"
	"github.com/google/uuid"
)

// Policy is spec §3's access-grant record.
type Policy struct {
	PolicyID              []byte
	DelegatorSigningPK    kyber.Point
	RetrieverDecryptionPK kyber.Point
	Label                 string
	Threshold             int
	Shares                int
	EncryptedPayloadPK    kyber.Point
	IssuedAt              time.Time
	ExpiresAt             time.Time
}

func newPolicyID() []byte {
	id := uuid.New()
	return id[:]
}

// WorkerOutcome is one worker's result within a grant or retrieve call,
// the "discriminated outcome" spec §7 requires every failed client call to
// report.
type WorkerOutcome struct {
	NodeID       fleet.NodeID
	Address      string
	Err          error
	RetryHint    bool
	PossiblyStale bool
}
