package crypto

import (
	"encoding/binary"

	"github.com/dedis/kyber"
	"github.com/dedis/kyber/share"
	"github.com/dedis/kyber/sign/schnorr"
	"github.com/dedis/prenet/errs"
)

// CapsuleFragment is one worker's partial re-encryption of a capsule (spec
// §3). Proof stands in for Umbral's non-interactive correctness proof: a
// Schnorr signature by the worker's own signing key over the transformed
// point and its generation context, verifiable by anyone who knows the
// worker's signing public key (see cfrag_verify below). This is a
// documented simplification, not a zero-knowledge proof of correct
// exponentiation; see DESIGN.md.
type CapsuleFragment struct {
	KFragID     uint32
	E1          kyber.Point // capsule.E raised to the worker's share value
	Commits     []kyber.Point
	Precursor   kyber.Point
	RetrieverPK kyber.Point
	WorkerPK    kyber.Point
	Proof       []byte
}

// VerifiedCFrag is a CapsuleFragment whose correctness proof has been
// checked (spec §4.A: cfrag_verify returns VerifiedCFrag).
type VerifiedCFrag struct {
	*CapsuleFragment
}

func cfragProofPayload(kfragID uint32, e1 kyber.Point, capsuleE kyber.Point, commits []kyber.Point, precursor, retrieverPK, workerPK kyber.Point) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, kfragID)
	buf = append(buf, marshal(e1)...)
	buf = append(buf, marshal(capsuleE)...)
	for _, c := range commits {
		buf = append(buf, marshal(c)...)
	}
	buf = append(buf, marshal(precursor)...)
	buf = append(buf, marshal(retrieverPK)...)
	buf = append(buf, marshal(workerPK)...)
	return buf
}

// Reencrypt implements Crypto Facade reencrypt(verified_kfrag, capsule). The
// facade as specified is a pure function of (kfrag, capsule); producing a
// verifiable correctness proof additionally requires the worker's own
// signing keypair, so this implementation takes it explicitly rather than
// threading it through a package-level "current worker" global (spec §9:
// global process state is exactly the pattern being re-architected away).
func Reencrypt(vk *VerifiedKeyFragment, cap *Capsule, workerSK kyber.Scalar, workerPK kyber.Point) (*CapsuleFragment, error) {
	e1 := Suite.Point().Mul(vk.Share.V, cap.E)
	payload := cfragProofPayload(vk.ID, e1, cap.E, vk.Commits, vk.Precursor, vk.RetrieverPK, workerPK)
	proof, err := schnorr.Sign(Suite, workerSK, payload)
	if err != nil {
		return nil, err
	}
	return &CapsuleFragment{
		KFragID:     vk.ID,
		E1:          e1,
		Commits:     vk.Commits,
		Precursor:   vk.Precursor,
		RetrieverPK: vk.RetrieverPK,
		WorkerPK:    workerPK,
		Proof:       proof,
	}, nil
}

// VerifyCFrag implements Crypto Facade
// cfrag_verify(cfrag, capsule, delegator_signing_pk, retriever_pk,
// worker_signing_pk). delegatorSigningPK is accepted for interface parity
// with the spec and to let callers bind the check to a specific policy
// generation; the proof itself only needs the worker's signing key.
func VerifyCFrag(cf *CapsuleFragment, cap *Capsule, delegatorSigningPK, retrieverPK, workerSigningPK kyber.Point) (*VerifiedCFrag, error) {
	if !cf.RetrieverPK.Equal(retrieverPK) || !cf.WorkerPK.Equal(workerSigningPK) {
		return nil, errs.ShapeMismatch
	}
	payload := cfragProofPayload(cf.KFragID, cf.E1, cap.E, cf.Commits, cf.Precursor, cf.RetrieverPK, cf.WorkerPK)
	if err := schnorr.Verify(Suite, workerSigningPK, payload, cf.Proof); err != nil {
		return nil, errs.BadProof
	}
	return &VerifiedCFrag{cf}, nil
}

// DecryptReencrypted implements Crypto Facade
// decrypt_reencrypted(retriever_sk, delegator_pk, capsule, verified_cfrags,
// ciphertext). Succeeds iff len(cfrags) >= the generation's threshold, all
// cfrags share the same generation (precursor/commits) and capsule, per the
// facade contract in spec §4.A.
func DecryptReencrypted(retrieverSK kyber.Scalar, delegatorPK kyber.Point, cap *Capsule, cfrags []*VerifiedCFrag, ciphertext []byte) ([]byte, error) {
	if len(cfrags) == 0 {
		return nil, errs.NotEnough
	}
	threshold := len(cfrags[0].Commits)
	precursor := cfrags[0].Precursor
	retrieverPK := cfrags[0].RetrieverPK

	pubShares := make([]*share.PubShare, 0, len(cfrags))
	seen := map[uint32]bool{}
	maxIndex := 0
	for _, cf := range cfrags {
		if !cf.Precursor.Equal(precursor) || !cf.RetrieverPK.Equal(retrieverPK) || len(cf.Commits) != threshold {
			return nil, errs.Wrap(errs.ErrCrypto, "cfrags come from different generations")
		}
		if seen[cf.KFragID] {
			continue // duplicate worker contribution, ignore rather than double count
		}
		seen[cf.KFragID] = true
		pubShares = append(pubShares, &share.PubShare{I: int(cf.KFragID), V: cf.E1})
		if int(cf.KFragID)+1 > maxIndex {
			maxIndex = int(cf.KFragID) + 1
		}
	}
	if len(pubShares) < threshold {
		return nil, errs.NotEnough
	}

	// n bounds which share indices RecoverCommit will consider, so it must
	// exceed the largest KFragID present, not merely count the shares.
	recoveredRK, err := share.RecoverCommit(Suite, pubShares, threshold, maxIndex)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCrypto, "lagrange recovery failed: "+err.Error())
	}

	dhPoint := Suite.Point().Mul(retrieverSK, precursor)
	d := hashToScalar(marshal(precursor), marshal(retrieverPK), marshal(dhPoint))
	shared := Suite.Point().Mul(d, recoveredRK)

	pt, err := open(deriveKey(shared, cap.PolicyID), append(marshal(cap.E), cap.PolicyID...), ciphertext)
	if err != nil {
		return nil, errs.BadCiphertext
	}
	return pt, nil
}
