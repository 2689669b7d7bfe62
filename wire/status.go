package wire

import (
	"time"

	"github.com/dedis/prenet/errs"
	"github.com/dedis/prenet/fleet"
)

// NodeMetadataResponse is the `node_metadata` endpoint's output of spec
// §4.D: the responder's own identity plus a FleetState announcement (a
// bounded sample of peers it currently knows about).
type NodeMetadataResponse struct {
	Self      *fleet.WorkerIdentity
	Announced []*fleet.WorkerIdentity
}

func (r *NodeMetadataResponse) Encode() []byte {
	e := &encoder{}
	e.bytes(EncodeWorkerIdentity(r.Self))
	e.u32(uint32(len(r.Announced)))
	for _, a := range r.Announced {
		e.bytes(EncodeWorkerIdentity(a))
	}
	return e.buf
}

func DecodeNodeMetadataResponse(b []byte) (*NodeMetadataResponse, error) {
	d := newDecoder(b)
	selfBytes, err := d.bytes()
	if err != nil {
		return nil, err
	}
	self, err := DecodeWorkerIdentity(selfBytes)
	if err != nil {
		return nil, err
	}
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	announced := make([]*fleet.WorkerIdentity, n)
	for i := range announced {
		raw, err := d.bytes()
		if err != nil {
			return nil, err
		}
		announced[i], err = DecodeWorkerIdentity(raw)
		if err != nil {
			return nil, err
		}
	}
	return &NodeMetadataResponse{Self: self, Announced: announced}, nil
}

// StatusResponse is the `status` endpoint's output: liveness/version info
// (spec §4.D). It is deliberately unsigned — spec §4.D lists no failure
// modes for this endpoint, and it carries nothing a forged response could
// exploit beyond what node_metadata already authenticates.
type StatusResponse struct {
	Version      Version
	NodeID       fleet.NodeID
	UptimeSince  time.Time
	FleetSize    uint32
	InFlightReqs uint32
}

func (s *StatusResponse) Encode() []byte {
	e := &encoder{}
	e.buf = append(e.buf, s.Version.Major, s.Version.Minor)
	e.bytes(s.NodeID[:])
	e.bytes([]byte(s.UptimeSince.UTC().Format(time.RFC3339Nano)))
	e.u32(s.FleetSize)
	e.u32(s.InFlightReqs)
	return e.buf
}

func DecodeStatusResponse(b []byte) (*StatusResponse, error) {
	d := newDecoder(b)
	if d.pos+2 > len(d.buf) {
		return nil, errs.MalformedFrame
	}
	version := Version{d.buf[d.pos], d.buf[d.pos+1]}
	d.pos += 2
	idBytes, err := d.bytes()
	if err != nil {
		return nil, err
	}
	if len(idBytes) != len(fleet.NodeID{}) {
		return nil, errs.MalformedFrame
	}
	var id fleet.NodeID
	copy(id[:], idBytes)
	uptimeRaw, err := d.bytes()
	if err != nil {
		return nil, err
	}
	uptime, err := time.Parse(time.RFC3339Nano, string(uptimeRaw))
	if err != nil {
		return nil, errs.MalformedFrame
	}
	fleetSize, err := d.u32()
	if err != nil {
		return nil, err
	}
	inFlight, err := d.u32()
	if err != nil {
		return nil, err
	}
	return &StatusResponse{
		Version: version, NodeID: id, UptimeSince: uptime,
		FleetSize: fleetSize, InFlightReqs: inFlight,
	}, nil
}
