package client

import (
	"context"
	"time"

	"github.com/dedis/kyber"
	"github.com/dedis/kyber/sign/schnorr"
	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/errs"
	"github.com/dedis/prenet/fleet"
	"github.com/dedis/prenet/internal/netlog"
	"github.com/dedis/prenet/wire"
)

// DelegatorKeys are spec §3's long-lived (signing, decryption) keypairs.
type DelegatorKeys struct {
	Signing    *crypto.KeyPair
	Decryption *crypto.KeyPair
}

// Delegator grants policies against a Peer Fleet and a worker transport.
type Delegator struct {
	keys            DelegatorKeys
	fleet           *fleet.Fleet
	transport       WorkerTransport
	operatorAddress string
	retryBudget     int
}

func NewDelegator(keys DelegatorKeys, fl *fleet.Fleet, transport WorkerTransport, operatorAddress string, retryBudget int) *Delegator {
	return &Delegator{keys: keys, fleet: fl, transport: transport, operatorAddress: operatorAddress, retryBudget: retryBudget}
}

// GrantResult is grant()'s return value plus the per-worker enactment
// report spec §4.E step 7 and §7 require.
type GrantResult struct {
	Policy       Policy
	TreasureMap  *wire.TreasureMap
	Outcomes     []WorkerOutcome
}

// Grant implements spec §4.E's Delegator.grant(retriever_decryption_pk,
// label, m, n, expires_at) → Policy + TreasureMap.
func (d *Delegator) Grant(ctx context.Context, retrieverDecPK kyber.Point, label string, m, n int, expiresAt time.Time) (*GrantResult, error) {
	policyID := newPolicyID()
	payloadKP := crypto.DerivePolicyKeyPair(d.keys.Signing.Private, []byte(label))

	kfrags, err := crypto.GenerateKFrags(payloadKP.Private, retrieverDecPK, d.keys.Signing.Private, m, n)
	if err != nil {
		return nil, err
	}

	seed := int64(0)
	for _, b := range policyID {
		seed = seed*31 + int64(b)
	}
	snap := d.fleet.Current()
	workers := snap.Sample(n, seed, fleet.NodeID{}, func(w *fleet.WorkerIdentity) bool { return true })

	policy := Policy{
		PolicyID: policyID, DelegatorSigningPK: d.keys.Signing.Public, RetrieverDecryptionPK: retrieverDecPK,
		Label: label, Threshold: m, Shares: n, EncryptedPayloadPK: payloadKP.Public,
		IssuedAt: time.Now(), ExpiresAt: expiresAt,
	}

	if len(workers) == 0 {
		return &GrantResult{Policy: policy}, errs.NoWorkersSampled
	}

	hrac := wire.DeriveHRAC(retrieverDecPK, policyID, nil)
	entries := make([]wire.TreasureMapEntry, 0, n)
	outcomes := make([]WorkerOutcome, 0, n)
	tried := map[fleet.NodeID]bool{}
	kfragIdx := 0

	// Spec §4.E step 7 partial-failure policy: attempt replacement workers
	// if fewer than n enactments succeed; fail the whole grant only once
	// even replacements are exhausted and fewer than m succeeded.
	candidates := workers
	for round := 0; (len(entries) < n) && kfragIdx < len(kfrags) && len(candidates) > 0; round++ {
		for _, w := range candidates {
			if kfragIdx >= len(kfrags) || len(entries) >= n {
				break
			}
			if tried[w.NodeID] {
				continue
			}
			tried[w.NodeID] = true
			kf := kfrags[kfragIdx]

			vk, err := crypto.VerifyKFrag(kf, d.keys.Signing.Public, retrieverDecPK)
			if err != nil {
				outcomes = append(outcomes, WorkerOutcome{NodeID: w.NodeID, Address: w.NetworkAddress, Err: err})
				continue
			}
			if _, err := d.enactWithRetry(ctx, w, hrac, policyID, expiresAt, vk); err != nil {
				netlog.Lvl2("enactment failed for worker", w.NodeID, ":", err)
				outcomes = append(outcomes, WorkerOutcome{NodeID: w.NodeID, Address: w.NetworkAddress, Err: err, RetryHint: true})
				continue
			}

			encCapsule, encCiphertext, err := crypto.Encrypt(w.DecryptionPK, policyID, wire.EncodeKFrag(kf))
			if err != nil {
				outcomes = append(outcomes, WorkerOutcome{NodeID: w.NodeID, Address: w.NetworkAddress, Err: err})
				continue
			}
			entries = append(entries, wire.TreasureMapEntry{NodeID: w.NodeID, EncryptedKFrag: append(wire.EncodeCapsule(encCapsule), encCiphertext...)})
			outcomes = append(outcomes, WorkerOutcome{NodeID: w.NodeID, Address: w.NetworkAddress})
			kfragIdx++
		}
		if len(entries) >= n || round >= d.retryBudget {
			break
		}
		snap = d.fleet.Current()
		candidates = snap.Sample(n-len(entries), seed+int64(round)+1, fleet.NodeID{}, func(w *fleet.WorkerIdentity) bool { return !tried[w.NodeID] })
	}

	if len(entries) < m {
		return &GrantResult{Policy: policy, Outcomes: outcomes}, errs.Wrap(errs.ErrPolicy, "grant failed: fewer than threshold enactments succeeded")
	}

	tm := &wire.TreasureMap{
		PolicyID: policyID, Threshold: uint32(m), N: uint32(len(entries)),
		RetrieverPointerPK: retrieverDecPK, Entries: entries,
	}
	sig, err := schnorr.Sign(crypto.Suite, d.keys.Signing.Private, tm.SignedPayload())
	if err != nil {
		return nil, err
	}
	tm.DelegatorSignature = sig

	return &GrantResult{Policy: policy, TreasureMap: tm, Outcomes: outcomes}, nil
}

func (d *Delegator) enactWithRetry(ctx context.Context, w *fleet.WorkerIdentity, hrac wire.HRAC, policyID []byte, expiresAt time.Time, vk *crypto.VerifiedKeyFragment) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= d.retryBudget; attempt++ {
		receipt, err := d.transport.EnactPolicy(ctx, w.NetworkAddress, hrac, policyID, d.operatorAddress, expiresAt, vk)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return nil, lastErr
}
