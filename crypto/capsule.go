package crypto

import (
	"crypto/rand"
	"errors"

	"github.com/dedis/kyber"
	"github.com/dedis/prenet/errs"
	"golang.org/x/crypto/chacha20poly1305"
)

// Capsule is the cryptographic envelope bound to a ciphertext (spec §3). E
// is the ephemeral public point; the encapsulated data-encryption key is
// never carried in the clear, it is re-derived by whoever can raise E to
// the right private exponent (the delegator directly, or a retriever after
// threshold re-encryption).
type Capsule struct {
	E        kyber.Point
	PolicyID []byte
}

// deriveKey turns a shared group element into a 32-byte AEAD key. The
// policy ID is folded in as context so the same point never yields the same
// symmetric key across two different policies.
func deriveKey(shared kyber.Point, policyID []byte) []byte {
	return hashToScalar(marshal(shared), policyID).Bytes()
}

func seal(key, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:chacha20poly1305.KeySize])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, aad)...), nil
}

func open(key, aad, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:chacha20poly1305.KeySize])
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, aad)
}

// Encrypt implements Crypto Facade encrypt(pk, plaintext). pk is the
// policy's encrypting public key (spec: encrypted_payload_pk). The
// associated data is (capsule || policy_id) when policyID is non-empty, per
// spec §4.A.
func Encrypt(pk kyber.Point, policyID, plaintext []byte) (*Capsule, []byte, error) {
	k := Suite.Scalar().Pick(Suite.RandomStream())
	e := Suite.Point().Mul(k, nil)
	shared := Suite.Point().Mul(k, pk)

	cap := &Capsule{E: e, PolicyID: append([]byte{}, policyID...)}
	aad := append(marshal(e), policyID...)
	ct, err := seal(deriveKey(shared, policyID), aad, plaintext)
	if err != nil {
		return nil, nil, err
	}
	return cap, ct, nil
}

// DecryptOriginal implements Crypto Facade decrypt_original(sk, capsule,
// ciphertext). Used by the delegator (or anyone holding the policy's
// decryption secret) without any re-encryption round trip.
func DecryptOriginal(sk kyber.Scalar, cap *Capsule, ciphertext []byte) ([]byte, error) {
	shared := Suite.Point().Mul(sk, cap.E)
	aad := append(marshal(cap.E), cap.PolicyID...)
	pt, err := open(deriveKey(shared, cap.PolicyID), aad, ciphertext)
	if err != nil {
		return nil, errs.BadCiphertext
	}
	return pt, nil
}
