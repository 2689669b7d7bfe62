// Package crypto is the narrow, side-effect-free Crypto Facade of spec
// §4.A. It wraps a kyber elliptic-curve group (the stand-in for the
// Umbral/BLS primitives the spec treats as an external library) with a
// small proxy re-encryption scheme: a single-dealer Shamir split of a
// per-policy secret, rebound to the retriever through a precursor point and
// a Diffie-Hellman blinding factor, combined at decrypt time with
// kyber/share's Lagrange recovery — the same recombination primitive the
// teacher's calypso service uses for its OCS re-encryption protocol
// (calypso/service.go, share.RecoverCommit).
//
// This is not bit-compatible with NuCypher's Umbral; see DESIGN.md for the
// simplifications taken (a plain Schnorr signature stands in for Umbral's
// non-interactive correctness proof).
package crypto

import (
	"crypto/sha256"

	"github.com/dedis/kyber"
	"github.com/dedis/kyber/group/edwards25519"
)

// Suite is the group used for every point/scalar operation in this
// package. edwards25519 is kyber's standard Ed25519-compatible suite.
var Suite = edwards25519.NewBlakeSHA256Ed25519()

// hashToScalar derives a deterministic scalar from an arbitrary number of
// byte strings. Used to turn the DH-derived blinding point into the factor
// "d" that rebinds a kfrag to a specific retriever (see kfrag.go).
func hashToScalar(parts ...[]byte) kyber.Scalar {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return Suite.Scalar().SetBytes(h.Sum(nil))
}

func marshal(p kyber.Marshaling) []byte {
	b, err := p.MarshalBinary()
	if err != nil {
		// Points/scalars from this suite always marshal; a failure here
		// means a caller passed a nil or foreign-group value.
		panic("prenet/crypto: marshal of invalid group element: " + err.Error())
	}
	return b
}
