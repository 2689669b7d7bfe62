// Package worker implements the Worker Service of spec §4.D: the
// long-running process each network participant runs, accepting
// ReencryptionRequests, validating them against the Authorization Oracle
// and an external condition evaluator, producing signed cfrags, and
// serving the node-metadata/public-information/status endpoints the Peer
// Fleet's learning loop and ordinary clients depend on.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dedis/kyber/sign/schnorr"
	"github.com/dedis/prenet/condition"
	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/errs"
	"github.com/dedis/prenet/fleet"
	"github.com/dedis/prenet/internal/netlog"
	"github.com/dedis/prenet/oracle"
	"github.com/dedis/prenet/wire"
	"golang.org/x/sync/semaphore"
)

// Config is the subset of config.WorkerConfig the Service itself needs;
// kept separate from the TOML-loading config package so this package has
// no ambient-config dependency of its own (spec §9: global process state
// is the pattern being re-architected away — a Service is constructed
// explicitly from plain values, not from a package-level config singleton).
type Config struct {
	Domain         string
	ProtocolVersion fleet.ProtocolVersion
	MaxInflight    int64
	MaxSnapshotAge time.Duration
}

// Service is one worker's reencrypt pipeline plus its three ancillary
// endpoints. It holds no network transport of its own (spec §6: "wire-level,
// transport-agnostic"); a caller wires these methods to whatever listener
// it likes.
type Service struct {
	cfg      Config
	identity *fleet.WorkerIdentity
	keys     *KeyMaterial
	kfrags   *KFragStore
	oracle   oracle.Oracle
	cond     condition.Evaluator
	fleet    *fleet.Fleet
	usage    *UsageCounters
	audit    *Auditor
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	started  time.Time
}

// Spawn constructs a running Service, the library entry point spec §6
// names as Worker::spawn(config) → handle.
func Spawn(cfg Config, identity *fleet.WorkerIdentity, keys *KeyMaterial, kfrags *KFragStore, orc oracle.Oracle, cond condition.Evaluator, fl *fleet.Fleet, audit *Auditor) *Service {
	return &Service{
		cfg:      cfg,
		identity: identity,
		keys:     keys,
		kfrags:   kfrags,
		oracle:   orc,
		cond:     cond,
		fleet:    fl,
		usage:    NewUsageCounters(),
		audit:    audit,
		sem:      semaphore.NewWeighted(cfg.MaxInflight),
		started:  time.Now(),
	}
}

// PublicInformation serves the `public_information` endpoint: a static
// identity block, no input, no documented failure modes (spec §4.D).
func (s *Service) PublicInformation(ctx context.Context) (*fleet.WorkerIdentity, error) {
	return s.identity, nil
}

// Status serves the `status` endpoint: liveness/version info.
func (s *Service) Status(ctx context.Context) (*wire.StatusResponse, error) {
	snap := s.fleet.Current()
	return &wire.StatusResponse{
		Version:      wire.Version{Major: s.cfg.ProtocolVersion.Major, Minor: s.cfg.ProtocolVersion.Minor},
		NodeID:       s.identity.NodeID,
		UptimeSince:  s.started,
		FleetSize:    uint32(snap.Size()),
		InFlightReqs: uint32(s.inFlight.Load()),
	}, nil
}

// NodeMetadata serves the `node_metadata` endpoint (spec §4.D): validates
// the peer's self-signed identity and answers with this worker's own
// identity plus a bounded announcement sample from its FleetState.
func (s *Service) NodeMetadata(ctx context.Context, peer *fleet.WorkerIdentity, now time.Time) (*wire.NodeMetadataResponse, error) {
	if err := peer.VerifySelf(s.cfg.Domain, s.cfg.ProtocolVersion, now); err != nil {
		return nil, err
	}
	snap := s.fleet.Current()
	announced := snap.Sample(8, now.UnixNano(), s.identity.NodeID, fleet.VerifiedOnly)
	identities := make([]*fleet.WorkerIdentity, len(announced))
	for i, w := range announced {
		wCopy := w
		identities[i] = &wCopy
	}
	return &wire.NodeMetadataResponse{Self: s.identity, Announced: identities}, nil
}

// EnactPolicy installs a kfrag this worker has been assigned (spec §4.E
// step 6: the "enact_policy side channel" variant this implementation
// picked over a self-distributing treasure map — see DESIGN.md). vk must
// already have passed crypto.VerifyKFrag; the caller (the Delegator
// client's enactment RPC handler) is responsible for that check before the
// kfrag crosses the worker process boundary.
func (s *Service) EnactPolicy(hrac wire.HRAC, rec PolicyRecord, vk *crypto.VerifiedKeyFragment) error {
	return s.kfrags.Put(hrac, rec, vk)
}

// Reencrypt implements the reencrypt pipeline of spec §4.D, the hardest
// path in the Worker Service.
func (s *Service) Reencrypt(ctx context.Context, req *wire.ReencryptionRequest, now time.Time) (*wire.ReencryptionResponse, error) {
	if !s.sem.TryAcquire(1) {
		// No queueing beyond a shallow accept buffer (spec §5 backpressure):
		// reject immediately rather than block.
		return nil, errs.CapacityExhausted
	}
	s.inFlight.Add(1)
	defer func() {
		s.inFlight.Add(-1)
		s.sem.Release(1)
	}()

	// Step 2: verify request_signature over (retriever_decryption_pk ||
	// HRAC || capsules || conditions || nonce).
	if err := schnorr.Verify(crypto.Suite, req.RetrieverSigningPK, req.SignedPayload(), req.RequestSignature); err != nil {
		s.audit.Record(AuditRecord{Timestamp: now, HRAC: policyKey(req.HRAC), Outcome: "InvalidSignature"})
		return nil, errs.InvalidSignature
	}

	// Step 3: locate this worker's kfrag for the policy via HRAC.
	rec, vk, err := s.kfrags.Get(req.HRAC)
	if err != nil {
		s.audit.Record(AuditRecord{Timestamp: now, HRAC: policyKey(req.HRAC), Outcome: "KFragNotHeld"})
		return nil, err
	}
	if now.After(rec.ExpiresAt) {
		s.audit.Record(AuditRecord{Timestamp: now, HRAC: policyKey(req.HRAC), Outcome: "PolicyExpired"})
		return nil, errs.PolicyExpired
	}

	// Step 4: evaluate every condition; any failure rejects the whole
	// request (no partial cfrags).
	condCtx := condition.Context{RetrieverPublicKey: req.RetrieverDecryptionPK, HRAC: req.HRAC, Now: now}
	for _, c := range req.Capsules {
		if err := s.cond.Evaluate(ctx, c.Condition, condCtx); err != nil {
			s.audit.Record(AuditRecord{Timestamp: now, HRAC: policyKey(req.HRAC), NumCapsules: len(req.Capsules), Outcome: "ConditionNotMet"})
			return nil, errs.ConditionNotMet
		}
	}

	// Step 5: consult the Authorization Oracle, falling back to degraded
	// mode within MaxSnapshotAge (spec §4.D step 5, §8 stale-oracle scenario).
	age, ageErr := s.oracle.SnapshotAge(ctx)
	switch {
	case ageErr == nil && age <= s.cfg.MaxSnapshotAge:
		authorized, err := s.oracle.IsAuthorized(ctx, rec.DelegatorOperatorAddress, now)
		if err != nil {
			netlog.Lvl2("oracle degraded mid-check, proceeding on last snapshot:", err)
		} else if !authorized {
			s.audit.Record(AuditRecord{Timestamp: now, HRAC: policyKey(req.HRAC), Outcome: "PolicyExpired", Detail: "delegator no longer authorized"})
			return nil, errs.PolicyExpired
		}
	case ageErr == nil && age <= 2*s.cfg.MaxSnapshotAge:
		// Degraded mode: still within an outer tolerance band, proceed on
		// the last good snapshot (spec: "possibly stale").
		netlog.Lvl2("authorization oracle stale, proceeding in degraded mode")
	default:
		s.audit.Record(AuditRecord{Timestamp: now, HRAC: policyKey(req.HRAC), Outcome: "TemporarilyUnavailable"})
		return nil, errs.TemporarilyUnavail
	}

	// Steps 6-7: reencrypt every capsule and sign the ordered list.
	cfrags := make([]*crypto.CapsuleFragment, len(req.Capsules))
	for i, c := range req.Capsules {
		cf, err := crypto.Reencrypt(vk, c.Capsule, s.keys.Signing.Private, s.keys.Signing.Public)
		if err != nil {
			s.audit.Record(AuditRecord{Timestamp: now, HRAC: policyKey(req.HRAC), Outcome: "CryptoError", Detail: err.Error()})
			return nil, errs.Wrap(errs.ErrCrypto, "reencrypt failed: "+err.Error())
		}
		cfrags[i] = cf
	}

	resp := &wire.ReencryptionResponse{CFrags: cfrags, Nonce: req.Nonce}
	sig, err := schnorr.Sign(crypto.Suite, s.keys.Signing.Private, resp.SignedPayload())
	if err != nil {
		return nil, err
	}
	resp.WorkerSignature = sig

	s.usage.Increment(policyKey(req.HRAC))
	s.audit.Record(AuditRecord{Timestamp: now, HRAC: policyKey(req.HRAC), NumCapsules: len(req.Capsules), Outcome: "ok"})
	return resp, nil
}
