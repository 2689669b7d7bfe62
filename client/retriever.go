package client

import (
	"context"
	"sync"
	"time"

	"github.com/dedis/kyber"
	"github.com/dedis/kyber/sign/schnorr"
	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/errs"
	"github.com/dedis/prenet/fleet"
	"github.com/dedis/prenet/internal/netlog"
	"github.com/dedis/prenet/wire"
)

// RetrieverKeys are spec §3's long-lived (signing, decryption) keypairs held
// by the retriever character.
type RetrieverKeys struct {
	Signing    *crypto.KeyPair
	Decryption *crypto.KeyPair
}

// Retriever implements spec §4.E's retrieve(policy, treasure_map,
// capsules[], ciphertexts[], conditions[]) operation: a threshold fan-out
// to the workers named in a TreasureMap, racing to the first m verified
// cfrags per capsule.
type Retriever struct {
	keys      RetrieverKeys
	fleet     *fleet.Fleet
	transport WorkerTransport
	suspects  *Suspicion
}

func NewRetriever(keys RetrieverKeys, fl *fleet.Fleet, transport WorkerTransport) *Retriever {
	return &Retriever{keys: keys, fleet: fl, transport: transport, suspects: NewSuspicion()}
}

// RetrieveResult is retrieve()'s return value plus the per-worker report
// spec §7 requires.
type RetrieveResult struct {
	Plaintext  []byte
	Outcomes   []WorkerOutcome
}

type workerResult struct {
	nodeID  fleet.NodeID
	address string
	vcf     *crypto.VerifiedCFrag
	err     error
}

// Retrieve implements spec §4.E steps 1-5 for a single capsule/ciphertext
// pair: resolve the TreasureMap's candidate workers via the Peer Fleet
// (rejecting quarantined identities), fan out reencrypt requests to all
// candidates in parallel, verify each returned cfrag, and race to the
// first threshold successes. Outstanding requests are cancelled once the
// threshold is reached, and their outcomes are still collected into the
// per-worker report.
func (r *Retriever) Retrieve(ctx context.Context, policy Policy, tm *wire.TreasureMap, capsule *crypto.Capsule, condition []byte, ciphertext []byte, deadline time.Duration) (*RetrieveResult, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	snap := r.fleet.Current()
	now := time.Now()

	type candidate struct {
		nodeID    fleet.NodeID
		address   string
		signingPK kyber.Point
	}
	candidates := make([]candidate, 0, len(tm.Entries))
	outcomes := make([]WorkerOutcome, 0, len(tm.Entries))
	for _, e := range tm.Entries {
		if r.fleet.Quarantine().IsQuarantined(e.NodeID, now) {
			outcomes = append(outcomes, WorkerOutcome{NodeID: e.NodeID, Err: errs.AlreadyQuarantined})
			continue
		}
		w, err := snap.ByNodeID(e.NodeID)
		if err != nil {
			outcomes = append(outcomes, WorkerOutcome{NodeID: e.NodeID, Err: err, RetryHint: true})
			continue
		}
		candidates = append(candidates, candidate{nodeID: e.NodeID, address: w.NetworkAddress, signingPK: w.SigningPK})
	}

	hrac := wire.DeriveHRAC(r.keys.Decryption.Public, policy.PolicyID, nil)
	req := &wire.ReencryptionRequest{
		RetrieverDecryptionPK: r.keys.Decryption.Public,
		RetrieverSigningPK:    r.keys.Signing.Public,
		HRAC:                  hrac,
		Capsules:              []wire.ConditionedCapsule{{Capsule: capsule, Condition: condition}},
	}
	sig, err := signRequest(r.keys.Signing.Private, req)
	if err != nil {
		return nil, err
	}
	req.RequestSignature = sig

	resultsCh := make(chan workerResult, len(candidates))
	reqCtx, cancelReqs := context.WithCancel(ctx)
	defer cancelReqs()

	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			resp, err := r.transport.Reencrypt(reqCtx, c.address, req)
			if err != nil {
				resultsCh <- workerResult{nodeID: c.nodeID, address: c.address, err: err}
				return
			}
			if len(resp.CFrags) == 0 {
				resultsCh <- workerResult{nodeID: c.nodeID, address: c.address, err: errs.ShapeMismatch}
				return
			}
			vcf, err := crypto.VerifyCFrag(resp.CFrags[0], capsule, policy.DelegatorSigningPK, r.keys.Decryption.Public, c.signingPK)
			if err != nil {
				r.suspects.Mark(c.nodeID)
				resultsCh <- workerResult{nodeID: c.nodeID, address: c.address, err: err}
				return
			}
			resultsCh <- workerResult{nodeID: c.nodeID, address: c.address, vcf: vcf}
		}(c)
	}
	go func() { wg.Wait(); close(resultsCh) }()

	verified := make([]*crypto.VerifiedCFrag, 0, policy.Threshold)
	for res := range resultsCh {
		if res.err != nil {
			netlog.Lvl3("reencrypt failed for worker", res.nodeID, ":", res.err)
			outcomes = append(outcomes, WorkerOutcome{NodeID: res.nodeID, Address: res.address, Err: res.err})
			continue
		}
		verified = append(verified, res.vcf)
		outcomes = append(outcomes, WorkerOutcome{NodeID: res.nodeID, Address: res.address})
		if len(verified) >= policy.Threshold {
			cancelReqs()
			break
		}
	}
	// Record whatever the cancelled requests return, so the report lists
	// every contacted worker.
	for res := range resultsCh {
		outcomes = append(outcomes, WorkerOutcome{NodeID: res.nodeID, Address: res.address, Err: res.err})
	}

	if len(verified) < policy.Threshold {
		return &RetrieveResult{Outcomes: outcomes}, errs.Wrap(errs.ErrPolicy, "retrieve failed: threshold not met")
	}

	pt, err := crypto.DecryptReencrypted(r.keys.Decryption.Private, policy.DelegatorSigningPK, capsule, verified[:policy.Threshold], ciphertext)
	if err != nil {
		return &RetrieveResult{Outcomes: outcomes}, err
	}
	return &RetrieveResult{Plaintext: pt, Outcomes: outcomes}, nil
}

func signRequest(sk kyber.Scalar, req *wire.ReencryptionRequest) ([]byte, error) {
	return schnorr.Sign(crypto.Suite, sk, req.SignedPayload())
}
