package wire

import (
	"time"

	"github.com/dedis/prenet/errs"
	"github.com/dedis/prenet/fleet"
)

// EncodeWorkerIdentity canonically encodes a fleet.WorkerIdentity for the
// node_metadata endpoint (spec §3/§4.D).
func EncodeWorkerIdentity(w *fleet.WorkerIdentity) []byte {
	e := &encoder{}
	e.point(w.SigningPK)
	e.point(w.DecryptionPK)
	e.bytes([]byte(w.NetworkAddress))
	e.bytes([]byte(w.OperatorAddress))
	e.bytes([]byte(w.Domain))
	e.buf = append(e.buf, w.ProtocolVersion.Major, w.ProtocolVersion.Minor)
	e.bytes(w.HostCertificate)
	e.bytes([]byte(w.ValidFrom.UTC().Format(time.RFC3339Nano)))
	e.bytes([]byte(w.ExpiresAt.UTC().Format(time.RFC3339Nano)))
	e.bytes(w.SelfSignature)
	return e.buf
}

// DecodeWorkerIdentity parses the payload produced by EncodeWorkerIdentity
// and recomputes NodeID, matching spec §6's derivation rule. It does not
// call VerifySelf; callers apply the learning loop's validation policy.
func DecodeWorkerIdentity(b []byte) (*fleet.WorkerIdentity, error) {
	d := newDecoder(b)
	signingPK, err := d.point()
	if err != nil {
		return nil, err
	}
	decryptionPK, err := d.point()
	if err != nil {
		return nil, err
	}
	netAddr, err := d.bytes()
	if err != nil {
		return nil, err
	}
	opAddr, err := d.bytes()
	if err != nil {
		return nil, err
	}
	domain, err := d.bytes()
	if err != nil {
		return nil, err
	}
	if d.pos+2 > len(d.buf) {
		return nil, errs.MalformedFrame
	}
	version := fleet.ProtocolVersion{Major: d.buf[d.pos], Minor: d.buf[d.pos+1]}
	d.pos += 2
	hostCert, err := d.bytes()
	if err != nil {
		return nil, err
	}
	validFromRaw, err := d.bytes()
	if err != nil {
		return nil, err
	}
	validFrom, err := time.Parse(time.RFC3339Nano, string(validFromRaw))
	if err != nil {
		return nil, errs.MalformedFrame
	}
	expiresRaw, err := d.bytes()
	if err != nil {
		return nil, err
	}
	expires, err := time.Parse(time.RFC3339Nano, string(expiresRaw))
	if err != nil {
		return nil, errs.MalformedFrame
	}
	sig, err := d.bytes()
	if err != nil {
		return nil, err
	}

	w := &fleet.WorkerIdentity{
		SigningPK:       signingPK,
		DecryptionPK:    decryptionPK,
		NetworkAddress:  string(netAddr),
		OperatorAddress: string(opAddr),
		Domain:          string(domain),
		ProtocolVersion: version,
		HostCertificate: hostCert,
		ValidFrom:       validFrom,
		ExpiresAt:       expires,
		SelfSignature:   sig,
	}
	w.NodeID = fleet.DeriveNodeID(marshalPointFor(signingPK))
	return w, nil
}

func marshalPointFor(p interface{ MarshalBinary() ([]byte, error) }) []byte {
	b, err := p.MarshalBinary()
	if err != nil {
		panic("wire: invalid point: " + err.Error())
	}
	return b
}
