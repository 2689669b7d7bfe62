// Package fleet is the Peer Fleet of spec §4.C: a verified set of
// WorkerIdentities, the epidemic "learning loop" gossip that keeps it
// current, and lookup primitives used by the Worker Service and the
// Delegator/Retriever Client. It is the part of the spec the teacher
// (dedis/cothority) has no direct analogue for — onet's Roster is a static,
// operator-configured list distributed through a tree-broadcast, not an
// epidemic gossip membership protocol (see DESIGN.md) — so the learning
// loop below is built directly from spec §4.C's algorithm using only
// goroutines, channels and context.Context, in the cooperative-scheduling
// style spec §5 describes.
package fleet

import (
	"time"

	"github.com/dedis/kyber"
	"github.com/dedis/kyber/sign/schnorr"
	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/errs"
	"golang.org/x/crypto/blake2b"
)

// NodeID is the stable identifier derived from a worker's signing public
// key (spec §6: first 20 bytes of blake2b(signing_pk)).
type NodeID [20]byte

// DeriveNodeID implements spec §6's node identity derivation.
func DeriveNodeID(signingPKBytes []byte) NodeID {
	sum := blake2b.Sum512(signingPKBytes)
	var id NodeID
	copy(id[:], sum[:20])
	return id
}

// ProtocolVersion is the (major, minor) pair carried in every wire frame
// and in WorkerIdentity (spec §6).
type ProtocolVersion struct {
	Major, Minor uint8
}

// WorkerIdentity is the signed metadata certificate for one worker (spec
// §3). SelfSignature covers every other field and is verified against
// SigningPK by VerifySelf.
type WorkerIdentity struct {
	NodeID          NodeID
	SigningPK       kyber.Point
	DecryptionPK    kyber.Point
	NetworkAddress  string
	OperatorAddress string
	Domain          string
	ProtocolVersion ProtocolVersion
	HostCertificate []byte
	ValidFrom       time.Time
	ExpiresAt       time.Time
	SelfSignature   []byte

	// LastSeen is learning-loop bookkeeping, not part of the signed
	// payload (spec §4.C liveness).
	LastSeen time.Time
}

// signedPayload returns the canonical byte encoding covered by
// SelfSignature. Field order matches the struct declaration order, the
// same discipline the wire codec uses for on-the-wire framing (spec §6).
func (w *WorkerIdentity) signedPayload() []byte {
	var buf []byte
	buf = append(buf, marshalPoint(w.SigningPK)...)
	buf = append(buf, marshalPoint(w.DecryptionPK)...)
	buf = append(buf, []byte(w.NetworkAddress)...)
	buf = append(buf, []byte(w.OperatorAddress)...)
	buf = append(buf, []byte(w.Domain)...)
	buf = append(buf, w.ProtocolVersion.Major, w.ProtocolVersion.Minor)
	buf = append(buf, w.HostCertificate...)
	buf = append(buf, []byte(w.ValidFrom.UTC().Format(time.RFC3339Nano))...)
	buf = append(buf, []byte(w.ExpiresAt.UTC().Format(time.RFC3339Nano))...)
	return buf
}

func marshalPoint(p kyber.Point) []byte {
	b, err := p.MarshalBinary()
	if err != nil {
		panic("fleet: invalid group point: " + err.Error())
	}
	return b
}

// Sign fills in SelfSignature and NodeID, self-signed with the worker's own
// signing key (the same kyber Schnorr key used to verify cfrags, so a
// worker proves both its network identity and its PRE signing capability
// with one keypair).
func (w *WorkerIdentity) Sign(priv kyber.Scalar) error {
	w.NodeID = DeriveNodeID(marshalPoint(w.SigningPK))
	sig, err := schnorr.Sign(crypto.Suite, priv, w.signedPayload())
	if err != nil {
		return err
	}
	w.SelfSignature = sig
	return nil
}

// VerifySelf checks the self-signature and the protocol/domain
// preconditions the learning loop applies on ingest (spec §4.C step 3).
func (w *WorkerIdentity) VerifySelf(wantDomain string, wantVersion ProtocolVersion, now time.Time) error {
	if w.Domain != wantDomain {
		return errs.WrongDomain
	}
	if w.ProtocolVersion != wantVersion {
		return errs.ProtocolMismatch
	}
	if now.Before(w.ValidFrom) || now.After(w.ExpiresAt) {
		return errs.Wrap(errs.ErrProtocol, "identity outside its validity window")
	}
	if err := schnorr.Verify(crypto.Suite, w.SigningPK, w.signedPayload(), w.SelfSignature); err != nil {
		return errs.InvalidSignature
	}
	return nil
}
