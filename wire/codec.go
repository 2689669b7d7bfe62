package wire

import (
	"encoding/binary"

	"github.com/dedis/kyber"
	"github.com/dedis/kyber/share"
	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/errs"
)

// encoder is a tiny canonical-encoding cursor: append-only writes with a
// 4-byte length prefix per variable-length field, the same "fixed-width,
// length-prefixed" discipline spec §6 mandates for the outer frame, applied
// consistently to nested fields too.
type encoder struct {
	buf []byte
}

func (e *encoder) bytes(b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	e.buf = append(e.buf, l[:]...)
	e.buf = append(e.buf, b...)
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) point(p kyber.Point) {
	b, err := p.MarshalBinary()
	if err != nil {
		panic("wire: invalid point: " + err.Error())
	}
	e.bytes(b)
}

func (e *encoder) scalar(s kyber.Scalar) {
	b, err := s.MarshalBinary()
	if err != nil {
		panic("wire: invalid scalar: " + err.Error())
	}
	e.bytes(b)
}

func (e *encoder) pointList(ps []kyber.Point) {
	e.u32(uint32(len(ps)))
	for _, p := range ps {
		e.point(p)
	}
}

type decoder struct {
	buf []byte
	pos int
}

func newDecoder(b []byte) *decoder { return &decoder{buf: b} }

func (d *decoder) bytes() ([]byte, error) {
	if d.pos+4 > len(d.buf) {
		return nil, errs.MalformedFrame
	}
	n := int(binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4]))
	d.pos += 4
	if d.pos+n > len(d.buf) {
		return nil, errs.MalformedFrame
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, errs.MalformedFrame
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, errs.MalformedFrame
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *decoder) point() (kyber.Point, error) {
	b, err := d.bytes()
	if err != nil {
		return nil, err
	}
	p := crypto.Suite.Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, errs.MalformedFrame
	}
	return p, nil
}

func (d *decoder) scalar() (kyber.Scalar, error) {
	b, err := d.bytes()
	if err != nil {
		return nil, err
	}
	s := crypto.Suite.Scalar()
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, errs.MalformedFrame
	}
	return s, nil
}

func (d *decoder) pointList() ([]kyber.Point, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]kyber.Point, n)
	for i := range out {
		out[i], err = d.point()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncodeCapsule/DecodeCapsule canonically encode spec §3's Capsule.
func EncodeCapsule(c *crypto.Capsule) []byte {
	e := &encoder{}
	e.point(c.E)
	e.bytes(c.PolicyID)
	return e.buf
}

func DecodeCapsule(b []byte) (*crypto.Capsule, error) {
	d := newDecoder(b)
	e, err := d.point()
	if err != nil {
		return nil, err
	}
	policyID, err := d.bytes()
	if err != nil {
		return nil, err
	}
	return &crypto.Capsule{E: e, PolicyID: policyID}, nil
}

// EncodeCFrag/DecodeCFrag canonically encode spec §3's CapsuleFragment.
func EncodeCFrag(cf *crypto.CapsuleFragment) []byte {
	e := &encoder{}
	e.u32(cf.KFragID)
	e.point(cf.E1)
	e.pointList(cf.Commits)
	e.point(cf.Precursor)
	e.point(cf.RetrieverPK)
	e.point(cf.WorkerPK)
	e.bytes(cf.Proof)
	return e.buf
}

func DecodeCFrag(b []byte) (*crypto.CapsuleFragment, error) {
	d := newDecoder(b)
	id, err := d.u32()
	if err != nil {
		return nil, err
	}
	e1, err := d.point()
	if err != nil {
		return nil, err
	}
	commits, err := d.pointList()
	if err != nil {
		return nil, err
	}
	precursor, err := d.point()
	if err != nil {
		return nil, err
	}
	retrieverPK, err := d.point()
	if err != nil {
		return nil, err
	}
	workerPK, err := d.point()
	if err != nil {
		return nil, err
	}
	proof, err := d.bytes()
	if err != nil {
		return nil, err
	}
	return &crypto.CapsuleFragment{
		KFragID: id, E1: e1, Commits: commits, Precursor: precursor,
		RetrieverPK: retrieverPK, WorkerPK: workerPK, Proof: proof,
	}, nil
}

// EncodeKFrag/DecodeKFrag canonically encode spec §3's KeyFragment.
func EncodeKFrag(kf *crypto.KeyFragment) []byte {
	e := &encoder{}
	e.u32(kf.ID)
	e.u32(uint32(kf.Share.I))
	e.scalar(kf.Share.V)
	e.pointList(kf.Commits)
	e.point(kf.Precursor)
	e.point(kf.DelegatorPK)
	e.point(kf.RetrieverPK)
	e.u32(uint32(kf.Threshold))
	e.u32(uint32(kf.Shares))
	e.bytes(kf.Signature)
	return e.buf
}

func DecodeKFrag(b []byte) (*crypto.KeyFragment, error) {
	d := newDecoder(b)
	id, err := d.u32()
	if err != nil {
		return nil, err
	}
	shareIdx, err := d.u32()
	if err != nil {
		return nil, err
	}
	shareV, err := d.scalar()
	if err != nil {
		return nil, err
	}
	commits, err := d.pointList()
	if err != nil {
		return nil, err
	}
	precursor, err := d.point()
	if err != nil {
		return nil, err
	}
	delegatorPK, err := d.point()
	if err != nil {
		return nil, err
	}
	retrieverPK, err := d.point()
	if err != nil {
		return nil, err
	}
	threshold, err := d.u32()
	if err != nil {
		return nil, err
	}
	shares, err := d.u32()
	if err != nil {
		return nil, err
	}
	sig, err := d.bytes()
	if err != nil {
		return nil, err
	}
	if threshold < 1 || shares < threshold {
		return nil, errs.ShapeMismatch
	}
	return &crypto.KeyFragment{
		ID:          id,
		Share:       &share.PriShare{I: int(shareIdx), V: shareV},
		Commits:     commits,
		Precursor:   precursor,
		DelegatorPK: delegatorPK,
		RetrieverPK: retrieverPK,
		Threshold:   int(threshold),
		Shares:      int(shares),
		Signature:   sig,
	}, nil
}
