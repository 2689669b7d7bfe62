package wire

import (
	"github.com/dedis/kyber"
	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/errs"
	"golang.org/x/crypto/blake2b"
)

// HRAC (Hash of Retriever And Conditions) is the stable policy handle used
// to locate a worker's kfrag for a request (spec §3, GLOSSARY).
type HRAC [32]byte

// ConditionedCapsule pairs one capsule with its optional opaque condition
// (spec §3: ReencryptionRequest "MAY carry one condition per capsule").
type ConditionedCapsule struct {
	Capsule   *crypto.Capsule
	Condition []byte // opaque to the core; evaluated by condition.Evaluator
}

// ReencryptionRequest is spec §3's wire request.
type ReencryptionRequest struct {
	RetrieverDecryptionPK kyber.Point
	RetrieverSigningPK    kyber.Point
	HRAC                  HRAC
	Capsules              []ConditionedCapsule
	Nonce                 [16]byte
	RequestSignature      []byte
}

// SignedPayload returns the bytes covered by RequestSignature: the
// canonical encoding of (retriever_decryption_pk || HRAC || capsules ||
// conditions || nonce), per spec §4.D step 2.
func (r *ReencryptionRequest) SignedPayload() []byte {
	e := &encoder{}
	e.point(r.RetrieverDecryptionPK)
	e.bytes(r.HRAC[:])
	e.u32(uint32(len(r.Capsules)))
	for _, c := range r.Capsules {
		e.bytes(EncodeCapsule(c.Capsule))
		e.bytes(c.Condition)
	}
	e.bytes(r.Nonce[:])
	return e.buf
}

// Encode produces the canonical payload (without the outer Frame).
func (r *ReencryptionRequest) Encode() []byte {
	e := &encoder{}
	e.point(r.RetrieverDecryptionPK)
	e.point(r.RetrieverSigningPK)
	e.bytes(r.HRAC[:])
	e.u32(uint32(len(r.Capsules)))
	for _, c := range r.Capsules {
		e.bytes(EncodeCapsule(c.Capsule))
		e.bytes(c.Condition)
	}
	e.bytes(r.Nonce[:])
	e.bytes(r.RequestSignature)
	return e.buf
}

// DecodeReencryptionRequest parses the payload produced by Encode.
func DecodeReencryptionRequest(b []byte) (*ReencryptionRequest, error) {
	d := newDecoder(b)
	retrieverDecPK, err := d.point()
	if err != nil {
		return nil, err
	}
	retrieverSignPK, err := d.point()
	if err != nil {
		return nil, err
	}
	hracBytes, err := d.bytes()
	if err != nil {
		return nil, err
	}
	if len(hracBytes) != len(HRAC{}) {
		return nil, errs.MalformedFrame
	}
	var hrac HRAC
	copy(hrac[:], hracBytes)

	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	caps := make([]ConditionedCapsule, n)
	for i := range caps {
		capBytes, err := d.bytes()
		if err != nil {
			return nil, err
		}
		cap, err := DecodeCapsule(capBytes)
		if err != nil {
			return nil, err
		}
		cond, err := d.bytes()
		if err != nil {
			return nil, err
		}
		caps[i] = ConditionedCapsule{Capsule: cap, Condition: cond}
	}
	nonceBytes, err := d.bytes()
	if err != nil {
		return nil, err
	}
	if len(nonceBytes) != 16 {
		return nil, errs.MalformedFrame
	}
	var nonce [16]byte
	copy(nonce[:], nonceBytes)
	sig, err := d.bytes()
	if err != nil {
		return nil, err
	}
	return &ReencryptionRequest{
		RetrieverDecryptionPK: retrieverDecPK,
		RetrieverSigningPK:    retrieverSignPK,
		HRAC:                  hrac,
		Capsules:              caps,
		Nonce:                 nonce,
		RequestSignature:      sig,
	}, nil
}

// ReencryptionResponse is spec §3's wire response: one cfrag per input
// capsule, signed as an ordered list by the worker.
type ReencryptionResponse struct {
	CFrags         []*crypto.CapsuleFragment
	Nonce          [16]byte // echoes the request nonce (spec §5 ordering guarantee)
	WorkerSignature []byte
}

func (r *ReencryptionResponse) SignedPayload() []byte {
	e := &encoder{}
	e.u32(uint32(len(r.CFrags)))
	for _, cf := range r.CFrags {
		e.bytes(EncodeCFrag(cf))
	}
	e.bytes(r.Nonce[:])
	return e.buf
}

func (r *ReencryptionResponse) Encode() []byte {
	e := &encoder{}
	e.buf = append(e.buf, r.SignedPayload()...)
	e.bytes(r.WorkerSignature)
	return e.buf
}

func DecodeReencryptionResponse(b []byte) (*ReencryptionResponse, error) {
	d := newDecoder(b)
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	cfrags := make([]*crypto.CapsuleFragment, n)
	for i := range cfrags {
		raw, err := d.bytes()
		if err != nil {
			return nil, err
		}
		cfrags[i], err = DecodeCFrag(raw)
		if err != nil {
			return nil, err
		}
	}
	nonceBytes, err := d.bytes()
	if err != nil {
		return nil, err
	}
	if len(nonceBytes) != 16 {
		return nil, errs.MalformedFrame
	}
	var nonce [16]byte
	copy(nonce[:], nonceBytes)
	sig, err := d.bytes()
	if err != nil {
		return nil, err
	}
	return &ReencryptionResponse{CFrags: cfrags, Nonce: nonce, WorkerSignature: sig}, nil
}

// codecEntry is one row of the canonical codec table keyed by message kind
// (spec §9's replacement for reflection-based dispatch): given a Kind, it
// tells a transport how to turn a payload into the right Go value.
type codecEntry struct {
	decode func([]byte) (interface{}, error)
}

// codecTable is exhaustive over every Kind this package defines. A Kind
// missing from the table is a programming error, not a runtime one: it is
// only ever looked up by code in this module.
var codecTable = map[Kind]codecEntry{
	KindNodeMetadataRequest:  {decode: func(b []byte) (interface{}, error) { return DecodeWorkerIdentity(b) }},
	KindNodeMetadataResponse: {decode: func(b []byte) (interface{}, error) { return DecodeNodeMetadataResponse(b) }},
	KindReencryptRequest:     {decode: func(b []byte) (interface{}, error) { return DecodeReencryptionRequest(b) }},
	KindReencryptResponse:    {decode: func(b []byte) (interface{}, error) { return DecodeReencryptionResponse(b) }},
	KindPublicInformationRequest:  {decode: func(b []byte) (interface{}, error) { return struct{}{}, nil }},
	KindPublicInformationResponse: {decode: func(b []byte) (interface{}, error) { return DecodeWorkerIdentity(b) }},
	KindStatusRequest:             {decode: func(b []byte) (interface{}, error) { return struct{}{}, nil }},
	KindStatusResponse:            {decode: func(b []byte) (interface{}, error) { return DecodeStatusResponse(b) }},
}

// DecodePayload dispatches on f.Kind through the canonical codec table.
func DecodePayload(f *Frame) (interface{}, error) {
	entry, ok := codecTable[f.Kind]
	if !ok {
		return nil, errs.Wrap(errs.ErrProtocol, "no codec registered for message kind")
	}
	return entry.decode(f.Payload)
}

// derive a 32-byte HRAC from (retriever_decryption_pk || policy_id ||
// conditions digest), the stable handle a worker uses to find its kfrag
// (spec GLOSSARY, §4.D step 3).
func DeriveHRAC(retrieverDecPK kyber.Point, policyID []byte, conditions [][]byte) HRAC {
	e := &encoder{}
	e.point(retrieverDecPK)
	e.bytes(policyID)
	e.u32(uint32(len(conditions)))
	for _, c := range conditions {
		e.bytes(c)
	}
	return blake2bSum32(e.buf)
}

func blake2bSum32(b []byte) HRAC {
	return HRAC(blake2b.Sum256(b))
}
