package wire

import (
	"testing"
	"time"

	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/fleet"
	"github.com/stretchr/testify/require"
)

func TestCapsuleRoundTrip(t *testing.T) {
	delegator := crypto.GenerateKeyPair()
	cap, _, err := crypto.Encrypt(delegator.Public, []byte("policy-1"), []byte("hello world"))
	require.NoError(t, err)

	raw := EncodeCapsule(cap)
	got, err := DecodeCapsule(raw)
	require.NoError(t, err)
	require.True(t, cap.E.Equal(got.E))
	require.Equal(t, cap.PolicyID, got.PolicyID)
}

func TestKFragRoundTrip(t *testing.T) {
	delegator := crypto.GenerateKeyPair()
	retriever := crypto.GenerateKeyPair()
	signer := crypto.GenerateKeyPair()

	kfrags, err := crypto.GenerateKFrags(delegator.Private, retriever.Public, signer.Private, 3, 5)
	require.NoError(t, err)

	raw := EncodeKFrag(kfrags[0])
	got, err := DecodeKFrag(raw)
	require.NoError(t, err)
	require.Equal(t, kfrags[0].ID, got.ID)
	require.Equal(t, kfrags[0].Threshold, got.Threshold)
	require.Equal(t, kfrags[0].Shares, got.Shares)
	require.True(t, kfrags[0].Share.V.Equal(got.Share.V))

	_, err = crypto.VerifyKFrag(got, signer.Public, retriever.Public)
	require.NoError(t, err, "a kfrag that round-tripped through the wire codec must still verify")
}

func TestReencryptionRequestRoundTrip(t *testing.T) {
	retrieverDec := crypto.GenerateKeyPair()
	retrieverSign := crypto.GenerateKeyPair()
	delegator := crypto.GenerateKeyPair()

	cap, _, err := crypto.Encrypt(delegator.Public, []byte("policy-1"), []byte("secret"))
	require.NoError(t, err)

	req := &ReencryptionRequest{
		RetrieverDecryptionPK: retrieverDec.Public,
		RetrieverSigningPK:    retrieverSign.Public,
		HRAC:                  DeriveHRAC(retrieverDec.Public, []byte("policy-1"), nil),
		Capsules:              []ConditionedCapsule{{Capsule: cap, Condition: nil}},
		Nonce:                 [16]byte{1, 2, 3},
		RequestSignature:      []byte("sig"),
	}

	got, err := DecodeReencryptionRequest(req.Encode())
	require.NoError(t, err)
	require.Equal(t, req.HRAC, got.HRAC)
	require.Equal(t, req.Nonce, got.Nonce)
	require.Equal(t, req.RequestSignature, got.RequestSignature)
	require.Len(t, got.Capsules, 1)
	require.True(t, req.Capsules[0].Capsule.E.Equal(got.Capsules[0].Capsule.E))
}

func TestFrameRoundTrip(t *testing.T) {
	f := &Frame{
		Version:   Version{1, 0},
		Kind:      KindStatusResponse,
		Payload:   []byte("payload-bytes"),
		Signature: []byte("sig-bytes"),
	}
	raw := f.Encode()
	got, err := DecodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, f.Version, got.Version)
	require.Equal(t, f.Kind, got.Kind)
	require.Equal(t, f.Payload, got.Payload)
	require.Equal(t, f.Signature, got.Signature)
	require.NoError(t, got.CheckVersion(Version{1, 0}))
	require.Error(t, got.CheckVersion(Version{2, 0}))
}

func TestTreasureMapRoundTrip(t *testing.T) {
	pointerKP := crypto.GenerateKeyPair()
	tm := &TreasureMap{
		PolicyID:           []byte("policy-1"),
		Threshold:          3,
		N:                  5,
		RetrieverPointerPK: pointerKP.Public,
		Entries: []TreasureMapEntry{
			{NodeID: fleet.NodeID{1}, EncryptedKFrag: []byte("blob-1")},
			{NodeID: fleet.NodeID{2}, EncryptedKFrag: []byte("blob-2")},
		},
	}
	tm.N = uint32(len(tm.Entries))
	tm.DelegatorSignature = []byte("delegator-sig")

	got, err := DecodeTreasureMap(tm.Encode())
	require.NoError(t, err)
	require.Equal(t, tm.PolicyID, got.PolicyID)
	require.Equal(t, tm.Threshold, got.Threshold)
	require.Equal(t, tm.N, got.N)
	require.Len(t, got.Entries, 2)
	require.Equal(t, tm.DelegatorSignature, got.DelegatorSignature)

	dup := *tm
	dup.Entries = append(dup.Entries, tm.Entries[0])
	_, err = DecodeTreasureMap(dup.Encode())
	require.Error(t, err, "duplicate worker entries must be rejected")
}

func TestWorkerIdentityRoundTrip(t *testing.T) {
	kp := crypto.GenerateKeyPair()
	now := time.Now()
	w := &fleet.WorkerIdentity{
		SigningPK:       kp.Public,
		DecryptionPK:    crypto.GenerateKeyPair().Public,
		NetworkAddress:  "10.0.0.1:9000",
		OperatorAddress: "0xabc",
		Domain:          "mainnet",
		ProtocolVersion: fleet.ProtocolVersion{Major: 1, Minor: 0},
		ValidFrom:       now.Add(-time.Hour),
		ExpiresAt:       now.Add(time.Hour),
	}
	require.NoError(t, w.Sign(kp.Private))

	got, err := DecodeWorkerIdentity(EncodeWorkerIdentity(w))
	require.NoError(t, err)
	require.Equal(t, w.NodeID, got.NodeID)
	require.Equal(t, w.NetworkAddress, got.NetworkAddress)
	require.NoError(t, got.VerifySelf("mainnet", fleet.ProtocolVersion{Major: 1, Minor: 0}, now))
}
