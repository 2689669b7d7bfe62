package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dedis/kyber"
	"github.com/dedis/prenet/condition"
	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/errs"
	"github.com/dedis/prenet/fleet"
	"github.com/dedis/prenet/oracle"
	"github.com/dedis/prenet/wire"
	"github.com/dedis/prenet/worker"
	"github.com/stretchr/testify/require"
)

const testDomain = "test-domain"

var testVersion = fleet.ProtocolVersion{Major: 1, Minor: 0}

// workerNode is one in-process worker.Service plus the identity it
// advertises, wired into the shared in-memory transport below by address.
type workerNode struct {
	identity *fleet.WorkerIdentity
	svc      *worker.Service
}

func newWorkerNode(t *testing.T, i int, now time.Time, orc oracle.Oracle) *workerNode {
	t.Helper()
	signKP := crypto.GenerateKeyPair()
	decKP := crypto.GenerateKeyPair()

	identity := &fleet.WorkerIdentity{
		SigningPK: signKP.Public, DecryptionPK: decKP.Public,
		NetworkAddress: fmt.Sprintf("127.0.0.1:%d", 9000+i), OperatorAddress: fmt.Sprintf("0xworker%d", i),
		Domain: testDomain, ProtocolVersion: testVersion,
		ValidFrom: now.Add(-time.Minute), ExpiresAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, identity.Sign(signKP.Private))

	dir := t.TempDir()
	store, err := worker.NewKFragStore(dir)
	require.NoError(t, err)
	auditor, err := worker.NewAuditor(dir + "/audit.log")
	require.NoError(t, err)

	cfg := worker.Config{Domain: testDomain, ProtocolVersion: testVersion, MaxInflight: 16, MaxSnapshotAge: time.Hour}
	svc := worker.Spawn(cfg, identity, &worker.KeyMaterial{Signing: signKP, Decryption: decKP}, store, orc, condition.AlwaysAllow{}, fleet.NewFleet(), auditor)
	return &workerNode{identity: identity, svc: svc}
}

// stubTransport dispatches WorkerTransport calls straight to the matching
// in-process worker.Service, keyed by NetworkAddress. It can be told to
// treat specific addresses as unreachable or to corrupt the cfrags a
// specific address returns, simulating an offline or misbehaving worker
// without any real network.
type stubTransport struct {
	nodes       map[string]*workerNode
	unreachable map[string]bool
	corrupt     map[string]bool
}

func newStubTransport(nodes []*workerNode) *stubTransport {
	byAddr := make(map[string]*workerNode, len(nodes))
	for _, n := range nodes {
		byAddr[n.identity.NetworkAddress] = n
	}
	return &stubTransport{nodes: byAddr, unreachable: map[string]bool{}, corrupt: map[string]bool{}}
}

func (s *stubTransport) Reencrypt(ctx context.Context, address string, req *wire.ReencryptionRequest) (*wire.ReencryptionResponse, error) {
	if s.unreachable[address] {
		return nil, fmt.Errorf("connection refused: %s", address)
	}
	n, ok := s.nodes[address]
	if !ok {
		return nil, fmt.Errorf("no such worker: %s", address)
	}
	resp, err := n.svc.Reencrypt(ctx, req, time.Now())
	if err != nil {
		return nil, err
	}
	if s.corrupt[address] {
		// Simulate a misbehaving worker returning a cfrag that does not
		// match its own correctness proof.
		resp.CFrags[0].E1 = crypto.Suite.Point().Add(resp.CFrags[0].E1, crypto.Suite.Point().Base())
	}
	return resp, nil
}

func (s *stubTransport) EnactPolicy(ctx context.Context, address string, hrac wire.HRAC, policyID []byte, delegatorOperatorAddress string, expiresAt time.Time, vk *crypto.VerifiedKeyFragment) ([]byte, error) {
	if s.unreachable[address] {
		return nil, fmt.Errorf("connection refused: %s", address)
	}
	n, ok := s.nodes[address]
	if !ok {
		return nil, fmt.Errorf("no such worker: %s", address)
	}
	rec := worker.PolicyRecord{PolicyID: policyID, DelegatorOperatorAddress: delegatorOperatorAddress, ExpiresAt: expiresAt}
	if err := n.svc.EnactPolicy(hrac, rec, vk); err != nil {
		return nil, err
	}
	return []byte("receipt"), nil
}

// harness builds a fleet seeded with numWorkers in-process worker nodes,
// a delegator authorized at the shared oracle, and delegator/retriever
// keypairs, ready to drive Grant/Retrieve end to end.
type harness struct {
	fleet     *fleet.Fleet
	transport *stubTransport
	nodes     []*workerNode
	delegator DelegatorKeys
	retriever RetrieverKeys
	oracle    *oracle.MemorySnapshot
}

func newHarness(t *testing.T, numWorkers int, now time.Time) *harness {
	t.Helper()
	orc := oracle.NewMemorySnapshot(time.Hour)
	orc.Put(testDomain, "0xdelegator", &oracle.WorkerRecord{Stake: 100, BondedSince: now.Add(-time.Hour)})

	nodes := make([]*workerNode, numWorkers)
	identities := make([]*fleet.WorkerIdentity, numWorkers)
	for i := range nodes {
		n := newWorkerNode(t, i, now, orc)
		nodes[i] = n
		identities[i] = n.identity
	}

	fl := fleet.NewFleet()
	fl.Seed(now, identities...)

	return &harness{
		fleet:     fl,
		transport: newStubTransport(nodes),
		nodes:     nodes,
		delegator: DelegatorKeys{Signing: crypto.GenerateKeyPair(), Decryption: crypto.GenerateKeyPair()},
		retriever: RetrieverKeys{Signing: crypto.GenerateKeyPair(), Decryption: crypto.GenerateKeyPair()},
		oracle:    orc,
	}
}

func (h *harness) grant(t *testing.T, ctx context.Context, retrieverPK kyber.Point, m, n int, expiresAt time.Time) *GrantResult {
	t.Helper()
	d := NewDelegator(h.delegator, h.fleet, h.transport, "0xdelegator", 2)
	res, err := d.Grant(ctx, retrieverPK, "test-label", m, n, expiresAt)
	require.NoError(t, err)
	return res
}

// TestGrantRetrieve_HappyPath drives a full grant->encrypt->reencrypt->
// retrieve round trip through the real Delegator and Retriever (not the
// crypto facade directly), across 5 in-process workers with a 3-of-5
// policy. Before the payload-keypair fix this failed decryption with
// errs.BadCiphertext, since Grant split kfrags from the delegator's
// long-lived decryption key instead of the per-policy payload key the
// capsule was actually sealed under.
func TestGrantRetrieve_HappyPath(t *testing.T) {
	now := time.Now()
	h := newHarness(t, 5, now)
	ctx := context.Background()

	grantRes := h.grant(t, ctx, h.retriever.Decryption.Public, 3, 5, now.Add(time.Hour))
	require.NotNil(t, grantRes.TreasureMap)
	require.Len(t, grantRes.TreasureMap.Entries, 5)
	for _, o := range grantRes.Outcomes {
		require.NoError(t, o.Err)
	}

	plaintext := []byte("the quick brown fox")
	capsule, ciphertext, err := crypto.Encrypt(grantRes.Policy.EncryptedPayloadPK, grantRes.Policy.PolicyID, plaintext)
	require.NoError(t, err)

	r := NewRetriever(h.retriever, h.fleet, h.transport)
	result, err := r.Retrieve(ctx, grantRes.Policy, grantRes.TreasureMap, capsule, nil, ciphertext, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, plaintext, result.Plaintext)
}

// TestGrantRetrieve_ThresholdEdge exercises a 3-of-5 policy where two of
// the five workers return cfrags that fail correctness verification;
// retrieval must still succeed on the remaining three.
func TestGrantRetrieve_ThresholdEdge(t *testing.T) {
	now := time.Now()
	h := newHarness(t, 5, now)
	ctx := context.Background()

	grantRes := h.grant(t, ctx, h.retriever.Decryption.Public, 3, 5, now.Add(time.Hour))
	require.Len(t, grantRes.TreasureMap.Entries, 5)

	h.transport.corrupt[h.nodes[0].identity.NetworkAddress] = true
	h.transport.corrupt[h.nodes[1].identity.NetworkAddress] = true

	plaintext := []byte("edge of the threshold")
	capsule, ciphertext, err := crypto.Encrypt(grantRes.Policy.EncryptedPayloadPK, grantRes.Policy.PolicyID, plaintext)
	require.NoError(t, err)

	r := NewRetriever(h.retriever, h.fleet, h.transport)
	result, err := r.Retrieve(ctx, grantRes.Policy, grantRes.TreasureMap, capsule, nil, ciphertext, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, plaintext, result.Plaintext)

	var corrupted int
	for _, o := range result.Outcomes {
		if o.Err != nil {
			corrupted++
			require.ErrorIs(t, o.Err, errs.ErrCrypto)
		}
	}
	require.Equal(t, 2, corrupted)
}

// TestGrantRetrieve_BelowThreshold has three of five workers unreachable,
// leaving only two of the three needed cfrags obtainable; Retrieve must
// fail with errs.ErrPolicy rather than return a partial/garbage plaintext.
func TestGrantRetrieve_BelowThreshold(t *testing.T) {
	now := time.Now()
	h := newHarness(t, 5, now)
	ctx := context.Background()

	grantRes := h.grant(t, ctx, h.retriever.Decryption.Public, 3, 5, now.Add(time.Hour))
	require.Len(t, grantRes.TreasureMap.Entries, 5)

	h.transport.unreachable[h.nodes[0].identity.NetworkAddress] = true
	h.transport.unreachable[h.nodes[1].identity.NetworkAddress] = true
	h.transport.unreachable[h.nodes[2].identity.NetworkAddress] = true

	plaintext := []byte("should never come back")
	capsule, ciphertext, err := crypto.Encrypt(grantRes.Policy.EncryptedPayloadPK, grantRes.Policy.PolicyID, plaintext)
	require.NoError(t, err)

	r := NewRetriever(h.retriever, h.fleet, h.transport)
	result, err := r.Retrieve(ctx, grantRes.Policy, grantRes.TreasureMap, capsule, nil, ciphertext, 5*time.Second)
	require.ErrorIs(t, err, errs.ErrPolicy)
	require.Nil(t, result.Plaintext)
}

// TestGrantRetrieve_QuarantinedWorkerExcluded raises a quarantine on one
// worker's node_id before retrieval; Retrieve must reject that worker
// without contacting it (spec §4.E step 2) and still reach threshold on
// the rest.
func TestGrantRetrieve_QuarantinedWorkerExcluded(t *testing.T) {
	now := time.Now()
	h := newHarness(t, 5, now)
	ctx := context.Background()

	grantRes := h.grant(t, ctx, h.retriever.Decryption.Public, 3, 5, now.Add(time.Hour))
	require.Len(t, grantRes.TreasureMap.Entries, 5)

	quarantined := h.nodes[0].identity.NodeID
	h.fleet.Quarantine().Raise(h.nodes[0].identity.OperatorAddress, quarantined, fleet.NodeID{1, 2, 3}, now, time.Hour)

	plaintext := []byte("rotated away")
	capsule, ciphertext, err := crypto.Encrypt(grantRes.Policy.EncryptedPayloadPK, grantRes.Policy.PolicyID, plaintext)
	require.NoError(t, err)

	r := NewRetriever(h.retriever, h.fleet, h.transport)
	result, err := r.Retrieve(ctx, grantRes.Policy, grantRes.TreasureMap, capsule, nil, ciphertext, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, plaintext, result.Plaintext)

	var sawQuarantined bool
	for _, o := range result.Outcomes {
		if o.NodeID == quarantined {
			sawQuarantined = true
			require.ErrorIs(t, o.Err, errs.AlreadyQuarantined)
		}
	}
	require.True(t, sawQuarantined)
}

// TestGrantRetrieve_ReplayIsIdempotent confirms that replaying an
// identical retrieve does not disturb the Worker Service's kfrag state or
// the recovered plaintext (spec §8's replay-defense scenario).
func TestGrantRetrieve_ReplayIsIdempotent(t *testing.T) {
	now := time.Now()
	h := newHarness(t, 3, now)
	ctx := context.Background()

	grantRes := h.grant(t, ctx, h.retriever.Decryption.Public, 2, 3, now.Add(time.Hour))
	require.Len(t, grantRes.TreasureMap.Entries, 3)

	plaintext := []byte("replay me")
	capsule, ciphertext, err := crypto.Encrypt(grantRes.Policy.EncryptedPayloadPK, grantRes.Policy.PolicyID, plaintext)
	require.NoError(t, err)

	r := NewRetriever(h.retriever, h.fleet, h.transport)
	first, err := r.Retrieve(ctx, grantRes.Policy, grantRes.TreasureMap, capsule, nil, ciphertext, 5*time.Second)
	require.NoError(t, err)
	second, err := r.Retrieve(ctx, grantRes.Policy, grantRes.TreasureMap, capsule, nil, ciphertext, 5*time.Second)
	require.NoError(t, err)

	require.Equal(t, plaintext, first.Plaintext)
	require.Equal(t, plaintext, second.Plaintext)
}
