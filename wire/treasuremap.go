package wire

import (
	"github.com/dedis/kyber"
	"github.com/dedis/prenet/errs"
	"github.com/dedis/prenet/fleet"
)

// TreasureMapEntry is one worker's encrypted kfrag pointer (spec §2, §4.E
// step 4: "encrypt its kfrag under its decryption_pk and attach to a
// TreasureMap entry"). The kfrag itself is encrypted with the same Crypto
// Facade envelope used for ordinary payloads (crypto.Encrypt/DecryptOriginal),
// so a TreasureMapEntry is simply a Capsule plus the resulting ciphertext.
type TreasureMapEntry struct {
	NodeID           fleet.NodeID
	EncryptedKFrag   []byte // EncodeCapsule(capsule) || AEAD ciphertext, opaque here
}

// TreasureMap is the delegator-signed directory of spec §2 GLOSSARY: exactly
// n entries, threshold m embedded and immutable once signed.
type TreasureMap struct {
	PolicyID           []byte
	Threshold          uint32
	N                  uint32
	RetrieverPointerPK kyber.Point // the retriever's public key this map is addressed to; the map itself is not encrypted under it
	Entries            []TreasureMapEntry
	DelegatorSignature []byte
}

// SignedPayload is the canonical byte sequence the delegator signs, and
// that a retriever re-derives to verify DelegatorSignature.
func (t *TreasureMap) SignedPayload() []byte {
	e := &encoder{}
	e.bytes(t.PolicyID)
	e.u32(t.Threshold)
	e.u32(t.N)
	e.point(t.RetrieverPointerPK)
	e.u32(uint32(len(t.Entries)))
	for _, ent := range t.Entries {
		e.bytes(ent.NodeID[:])
		e.bytes(ent.EncryptedKFrag)
	}
	return e.buf
}

func (t *TreasureMap) Encode() []byte {
	e := &encoder{}
	e.buf = append(e.buf, t.SignedPayload()...)
	e.bytes(t.DelegatorSignature)
	return e.buf
}

// DecodeTreasureMap parses a payload produced by Encode and checks the
// n/threshold invariant of spec §2 ("references exactly n distinct
// workers; threshold m is embedded and immutable").
func DecodeTreasureMap(b []byte) (*TreasureMap, error) {
	d := newDecoder(b)
	policyID, err := d.bytes()
	if err != nil {
		return nil, err
	}
	threshold, err := d.u32()
	if err != nil {
		return nil, err
	}
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	pointerPK, err := d.point()
	if err != nil {
		return nil, err
	}
	count, err := d.u32()
	if err != nil {
		return nil, err
	}
	entries := make([]TreasureMapEntry, count)
	seen := make(map[fleet.NodeID]bool, count)
	for i := range entries {
		idBytes, err := d.bytes()
		if err != nil {
			return nil, err
		}
		if len(idBytes) != len(fleet.NodeID{}) {
			return nil, errs.MalformedFrame
		}
		var id fleet.NodeID
		copy(id[:], idBytes)
		if seen[id] {
			return nil, errs.Wrap(errs.ErrProtocol, "treasure map references the same worker twice")
		}
		seen[id] = true
		kfragBytes, err := d.bytes()
		if err != nil {
			return nil, err
		}
		entries[i] = TreasureMapEntry{NodeID: id, EncryptedKFrag: kfragBytes}
	}
	if uint32(len(entries)) != n {
		return nil, errs.Wrap(errs.ErrProtocol, "treasure map entry count does not match declared n")
	}
	sig, err := d.bytes()
	if err != nil {
		return nil, err
	}
	return &TreasureMap{
		PolicyID:           policyID,
		Threshold:          threshold,
		N:                  n,
		RetrieverPointerPK: pointerPK,
		Entries:            entries,
		DelegatorSignature: sig,
	}, nil
}
