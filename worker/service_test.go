package worker

import (
	"context"
	"testing"
	"time"

	"github.com/dedis/kyber/sign/schnorr"
	"github.com/dedis/prenet/condition"
	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/errs"
	"github.com/dedis/prenet/fleet"
	"github.com/dedis/prenet/oracle"
	"github.com/dedis/prenet/wire"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc        *Service
	delegator  *crypto.KeyPair
	retrieverDec *crypto.KeyPair
	retrieverSign *crypto.KeyPair
	workerSign *crypto.KeyPair
	hrac       wire.HRAC
	capsule    *crypto.Capsule
	ciphertext []byte
	rec        PolicyRecord
	plaintext  []byte
}

func newFixture(t *testing.T, now time.Time, orc oracle.Oracle, cond condition.Evaluator) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := NewKFragStore(dir)
	require.NoError(t, err)
	auditor, err := NewAuditor(dir + "/audit.log")
	require.NoError(t, err)

	delegator := crypto.GenerateKeyPair()
	retrieverDec := crypto.GenerateKeyPair()
	retrieverSign := crypto.GenerateKeyPair()
	workerSign := crypto.GenerateKeyPair()
	workerDec := crypto.GenerateKeyPair()

	plaintext := []byte("hello")
	policyID := []byte("policy-1")
	cap, ciphertext, err := crypto.Encrypt(delegator.Public, policyID, plaintext)
	require.NoError(t, err)

	kfrags, err := crypto.GenerateKFrags(delegator.Private, retrieverDec.Public, delegator.Private, 1, 1)
	require.NoError(t, err)
	vk, err := crypto.VerifyKFrag(kfrags[0], delegator.Public, retrieverDec.Public)
	require.NoError(t, err)

	hrac := wire.DeriveHRAC(retrieverDec.Public, policyID, nil)
	rec := PolicyRecord{PolicyID: policyID, DelegatorOperatorAddress: "0xdelegator", ExpiresAt: now.Add(time.Hour)}

	identity := &fleet.WorkerIdentity{
		SigningPK: workerSign.Public, DecryptionPK: workerDec.Public,
		NetworkAddress: "127.0.0.1:9000", OperatorAddress: "0xworker",
		Domain: "test-domain", ProtocolVersion: fleet.ProtocolVersion{Major: 1, Minor: 0},
		ValidFrom: now.Add(-time.Minute), ExpiresAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, identity.Sign(workerSign.Private))

	cfg := Config{Domain: "test-domain", ProtocolVersion: fleet.ProtocolVersion{Major: 1, Minor: 0}, MaxInflight: 4, MaxSnapshotAge: 10 * time.Minute}
	svc := Spawn(cfg, identity, &KeyMaterial{Signing: workerSign, Decryption: workerDec}, store, orc, cond, fleet.NewFleet(), auditor)
	require.NoError(t, svc.EnactPolicy(hrac, rec, vk))

	return &fixture{
		svc: svc, delegator: delegator, retrieverDec: retrieverDec, retrieverSign: retrieverSign,
		workerSign: workerSign, hrac: hrac, capsule: cap, ciphertext: ciphertext, rec: rec, plaintext: plaintext,
	}
}

func (f *fixture) request(t *testing.T, cond []byte, tamper bool) *wire.ReencryptionRequest {
	t.Helper()
	req := &wire.ReencryptionRequest{
		RetrieverDecryptionPK: f.retrieverDec.Public,
		RetrieverSigningPK:    f.retrieverSign.Public,
		HRAC:                  f.hrac,
		Capsules:              []wire.ConditionedCapsule{{Capsule: f.capsule, Condition: cond}},
		Nonce:                 [16]byte{9, 9, 9},
	}
	sig, err := schnorr.Sign(crypto.Suite, f.retrieverSign.Private, req.SignedPayload())
	require.NoError(t, err)
	req.RequestSignature = sig
	if tamper {
		req.Capsules[0].Condition = append([]byte{0xff}, req.Capsules[0].Condition...)
	}
	return req
}

func alwaysFreshOracle(authorized bool) oracle.Oracle {
	return &fixtureOracle{authorized: authorized}
}

type fixtureOracle struct {
	authorized  bool
	age         time.Duration
	unavailable bool
}

func (o *fixtureOracle) IsAuthorized(ctx context.Context, addr string, at time.Time) (bool, error) {
	return o.authorized, nil
}
func (o *fixtureOracle) LookupWorker(ctx context.Context, addr string) (*oracle.WorkerRecord, error) {
	return nil, errs.NotKnown
}
func (o *fixtureOracle) ListAuthorized(ctx context.Context, domain, cursor string, limit int) ([]string, string, error) {
	return nil, "", nil
}
func (o *fixtureOracle) CurrentEpoch(ctx context.Context) (uint64, error) { return 0, nil }
func (o *fixtureOracle) SnapshotAge(ctx context.Context) (time.Duration, error) {
	if o.unavailable {
		return 0, errs.OracleUnavailable
	}
	return o.age, nil
}

func TestReencrypt_HappyPath(t *testing.T) {
	now := time.Now()
	f := newFixture(t, now, alwaysFreshOracle(true), condition.AlwaysAllow{})
	req := f.request(t, nil, false)

	resp, err := f.svc.Reencrypt(context.Background(), req, now)
	require.NoError(t, err)
	require.Len(t, resp.CFrags, 1)
	require.Equal(t, req.Nonce, resp.Nonce)

	vcf, err := crypto.VerifyCFrag(resp.CFrags[0], f.capsule, f.delegator.Public, f.retrieverDec.Public, f.workerSign.Public)
	require.NoError(t, err)
	pt, err := crypto.DecryptReencrypted(f.retrieverDec.Private, f.delegator.Public, f.capsule, []*crypto.VerifiedCFrag{vcf}, f.ciphertext)
	require.NoError(t, err)
	require.Equal(t, f.plaintext, pt)
}

func TestReencrypt_InvalidSignature(t *testing.T) {
	now := time.Now()
	f := newFixture(t, now, alwaysFreshOracle(true), condition.AlwaysAllow{})
	req := f.request(t, nil, true)

	_, err := f.svc.Reencrypt(context.Background(), req, now)
	require.ErrorIs(t, err, errs.ErrAuth)
}

func TestReencrypt_KFragNotHeld(t *testing.T) {
	now := time.Now()
	f := newFixture(t, now, alwaysFreshOracle(true), condition.AlwaysAllow{})
	req := f.request(t, nil, false)
	req.HRAC = wire.DeriveHRAC(f.retrieverDec.Public, []byte("other-policy"), nil)
	sig, err := schnorr.Sign(crypto.Suite, f.retrieverSign.Private, req.SignedPayload())
	require.NoError(t, err)
	req.RequestSignature = sig

	_, err = f.svc.Reencrypt(context.Background(), req, now)
	require.ErrorIs(t, err, errs.KFragNotHeld)
}

func TestReencrypt_PolicyExpired(t *testing.T) {
	now := time.Now()
	f := newFixture(t, now, alwaysFreshOracle(true), condition.AlwaysAllow{})
	req := f.request(t, nil, false)

	_, err := f.svc.Reencrypt(context.Background(), req, now.Add(2*time.Hour))
	require.ErrorIs(t, err, errs.PolicyExpired)
}

func TestReencrypt_ConditionNotMet(t *testing.T) {
	now := time.Now()
	f := newFixture(t, now, alwaysFreshOracle(true), condition.TimeWindow{})
	expiredWindow := condition.EncodeTimeWindow(now.Add(-2*time.Hour), now.Add(-time.Hour))
	req := f.request(t, expiredWindow, false)

	_, err := f.svc.Reencrypt(context.Background(), req, now)
	require.ErrorIs(t, err, errs.ConditionNotMet)
}

func TestReencrypt_OracleUnavailableBeyondTolerance(t *testing.T) {
	now := time.Now()
	orc := &fixtureOracle{authorized: true, unavailable: true}
	f := newFixture(t, now, orc, condition.AlwaysAllow{})
	req := f.request(t, nil, false)

	_, err := f.svc.Reencrypt(context.Background(), req, now)
	require.ErrorIs(t, err, errs.TemporarilyUnavail)
}

func TestReencrypt_DegradedModeWithinTolerance(t *testing.T) {
	now := time.Now()
	// age (15m) exceeds MaxSnapshotAge (10m) but is within the outer 2x
	// tolerance band: the request must still succeed in degraded mode.
	orc := &fixtureOracle{authorized: true, age: 15 * time.Minute}
	f := newFixture(t, now, orc, condition.AlwaysAllow{})
	req := f.request(t, nil, false)

	_, err := f.svc.Reencrypt(context.Background(), req, now)
	require.NoError(t, err)
}

func TestReencrypt_FarBeyondToleranceFails(t *testing.T) {
	now := time.Now()
	orc := &fixtureOracle{authorized: true, age: 999 * time.Hour}
	f := newFixture(t, now, orc, condition.AlwaysAllow{})
	req := f.request(t, nil, false)

	_, err := f.svc.Reencrypt(context.Background(), req, now)
	require.ErrorIs(t, err, errs.TemporarilyUnavail)
}

func TestReencrypt_CapacityExhausted(t *testing.T) {
	now := time.Now()
	f := newFixture(t, now, alwaysFreshOracle(true), condition.AlwaysAllow{})
	f.svc.cfg.MaxInflight = 1
	f.svc = Spawn(f.svc.cfg, f.svc.identity, f.svc.keys, f.svc.kfrags, f.svc.oracle, f.svc.cond, f.svc.fleet, f.svc.audit)

	require.NoError(t, f.svc.sem.Acquire(context.Background(), 1))
	req := f.request(t, nil, false)
	_, err := f.svc.Reencrypt(context.Background(), req, now)
	require.ErrorIs(t, err, errs.CapacityExhausted)
}

func TestReencrypt_IdempotentUnderReplay(t *testing.T) {
	now := time.Now()
	f := newFixture(t, now, alwaysFreshOracle(true), condition.AlwaysAllow{})
	req := f.request(t, nil, false)

	resp1, err := f.svc.Reencrypt(context.Background(), req, now)
	require.NoError(t, err)
	resp2, err := f.svc.Reencrypt(context.Background(), req, now)
	require.NoError(t, err)

	vcf1, err := crypto.VerifyCFrag(resp1.CFrags[0], f.capsule, f.delegator.Public, f.retrieverDec.Public, f.workerSign.Public)
	require.NoError(t, err)
	vcf2, err := crypto.VerifyCFrag(resp2.CFrags[0], f.capsule, f.delegator.Public, f.retrieverDec.Public, f.workerSign.Public)
	require.NoError(t, err)

	pt1, err := crypto.DecryptReencrypted(f.retrieverDec.Private, f.delegator.Public, f.capsule, []*crypto.VerifiedCFrag{vcf1}, f.ciphertext)
	require.NoError(t, err)
	pt2, err := crypto.DecryptReencrypted(f.retrieverDec.Private, f.delegator.Public, f.capsule, []*crypto.VerifiedCFrag{vcf2}, f.ciphertext)
	require.NoError(t, err)
	require.Equal(t, pt1, pt2)
}
