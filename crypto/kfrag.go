package crypto

import (
	"encoding/binary"

	"github.com/dedis/kyber"
	"github.com/dedis/kyber/share"
	"github.com/dedis/kyber/sign/schnorr"
	"github.com/dedis/prenet/errs"
)

// KeyFragment is one of n shares of a re-encryption key, destined for
// exactly one worker (spec §3). Precursor carries the
// retriever-binding material common to every kfrag of one generation: a
// worker needs no secret beyond its own Share to reencrypt, but the
// retriever needs Precursor plus its own decryption secret to finish the
// decrypt (see cfrag.go).
type KeyFragment struct {
	ID          uint32
	Share       *share.PriShare
	Commits     []kyber.Point // public commitments to the degree-(m-1) poly
	Precursor   kyber.Point   // g^x1, shared by all n kfrags of this generation
	DelegatorPK kyber.Point
	RetrieverPK kyber.Point
	Threshold   int
	Shares      int
	Signature   []byte // signer's signature over ID, Commits, Precursor and RetrieverPK
}

// VerifiedKeyFragment is a KeyFragment whose delegator signature has been
// checked. Only VerifiedKeyFragment can be reencrypted, mirroring the
// facade contract in spec §4.A (kfrag_verify returns VerifiedKFrag).
type VerifiedKeyFragment struct {
	*KeyFragment
}

func kfragSignedPayload(id uint32, commits []kyber.Point, precursor, retrieverPK kyber.Point) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	for _, c := range commits {
		buf = append(buf, marshal(c)...)
	}
	buf = append(buf, marshal(precursor)...)
	buf = append(buf, marshal(retrieverPK)...)
	return buf
}

// GenerateKFrags implements Crypto Facade
// kfrags_generate(delegator_sk, retriever_pk, signer_sk, m, n). It produces
// n shares of the scalar (delegatorSK / d), where d is a Diffie-Hellman
// blinding factor derived from a fresh precursor keypair and the
// retriever's public key; only a holder of retrieverSK can later recompute
// d and undo the blinding (decrypt_reencrypted in cfrag.go).
func GenerateKFrags(delegatorSK kyber.Scalar, retrieverPK kyber.Point, signerSK kyber.Scalar, m, n int) ([]*KeyFragment, error) {
	if m < 1 || m > n {
		return nil, errs.Wrap(errs.ErrProtocol, "invalid threshold: need 1 <= m <= n")
	}

	x1 := Suite.Scalar().Pick(Suite.RandomStream())
	precursor := Suite.Point().Mul(x1, nil)
	dhPoint := Suite.Point().Mul(x1, retrieverPK)
	d := hashToScalar(marshal(precursor), marshal(retrieverPK), marshal(dhPoint))
	dInv := Suite.Scalar().Inv(d)
	rk := Suite.Scalar().Mul(delegatorSK, dInv)

	poly := share.NewPriPoly(Suite, m, rk, Suite.RandomStream())
	commits := poly.Commit(nil)
	_, commitPoints := commits.Info()

	shares := poly.Shares(n)
	delegatorPK := Suite.Point().Mul(delegatorSK, nil)

	kfrags := make([]*KeyFragment, 0, n)
	for _, sh := range shares {
		payload := kfragSignedPayload(uint32(sh.I), commitPoints, precursor, retrieverPK)
		sig, err := schnorr.Sign(Suite, signerSK, payload)
		if err != nil {
			return nil, err
		}
		kfrags = append(kfrags, &KeyFragment{
			ID:          uint32(sh.I),
			Share:       sh,
			Commits:     commitPoints,
			Precursor:   precursor,
			DelegatorPK: delegatorPK,
			RetrieverPK: retrieverPK,
			Threshold:   m,
			Shares:      n,
			Signature:   sig,
		})
	}
	return kfrags, nil
}

// VerifyKFrag implements Crypto Facade
// kfrag_verify(kfrag, delegator_signing_pk, retriever_pk).
func VerifyKFrag(kf *KeyFragment, delegatorSigningPK, retrieverPK kyber.Point) (*VerifiedKeyFragment, error) {
	if len(kf.Commits) < 1 || kf.Threshold < 1 || kf.Threshold > kf.Shares {
		return nil, errs.ShapeMismatch
	}
	if !kf.RetrieverPK.Equal(retrieverPK) {
		return nil, errs.ShapeMismatch
	}
	payload := kfragSignedPayload(kf.ID, kf.Commits, kf.Precursor, kf.RetrieverPK)
	if err := schnorr.Verify(Suite, delegatorSigningPK, payload, kf.Signature); err != nil {
		return nil, errs.BadSignature
	}
	return &VerifiedKeyFragment{kf}, nil
}
