package crypto

import (
	"github.com/dedis/kyber"
	"github.com/dedis/kyber/util/key"
)

// KeyPair is either a signing or a decryption keypair; the facade does not
// distinguish the two at the type level, callers do (spec §3:
// DelegatorKeys/RetrieverKeys each hold two independent KeyPairs).
type KeyPair struct {
	Private kyber.Scalar
	Public  kyber.Point
}

// GenerateKeyPair implements Crypto Facade keypair_generate().
func GenerateKeyPair() *KeyPair {
	p := key.NewKeyPair(Suite)
	return &KeyPair{Private: p.Private, Public: p.Public}
}

// PublicBytes returns the canonical marshaled form of the public point,
// used wherever the spec calls for "signing_pk_bytes" (e.g. node_id
// derivation, signature payloads).
func (k *KeyPair) PublicBytes() []byte {
	return marshal(k.Public)
}

// DerivePolicyKeyPair implements spec §4.E step 1: "derive a deterministic
// policy payload keypair from (delegator_sk, label)". Determinism lets a
// delegator reproduce encrypted_payload_pk for a given label without
// persisting it separately.
func DerivePolicyKeyPair(delegatorSK kyber.Scalar, label []byte) *KeyPair {
	sk := hashToScalar(marshal(delegatorSK), label)
	return &KeyPair{Private: sk, Public: Suite.Point().Mul(sk, nil)}
}
