// Package condition provides the external predicate evaluator hook of spec
// §4.D step 4: conditions attached to a ReencryptionRequest are opaque to
// the core protocol ("the predicate language is out of scope and must be
// supplied by the integrator", spec §9 Non-goals). This package defines the
// Evaluator boundary and two reference implementations used by tests and by
// operators that don't need a real policy language.
package condition

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/dedis/kyber"
	"github.com/dedis/prenet/errs"
)

// Context carries the information the spec says an evaluator MAY consult
// (spec §4.D step 4: "passing retriever public key and any context").
type Context struct {
	RetrieverPublicKey kyber.Point
	HRAC               [32]byte
	Now                time.Time
}

// Evaluator checks one opaque condition blob attached to a capsule. A
// nil/empty condition is always satisfied (spec §3: conditions are
// per-capsule and optional).
type Evaluator interface {
	Evaluate(ctx context.Context, condition []byte, cc Context) error
}

// AlwaysAllow is the trivial evaluator for deployments and tests that don't
// attach conditions.
type AlwaysAllow struct{}

func (AlwaysAllow) Evaluate(ctx context.Context, condition []byte, cc Context) error {
	return nil
}

// TimeWindow is a reference evaluator whose condition blob is two
// big-endian int64 Unix timestamps (notBefore, notAfter), satisfied iff
// cc.Now falls inside the window. It exists to give the worker pipeline a
// concrete, testable non-trivial predicate without committing the core
// protocol to any particular condition language.
type TimeWindow struct{}

func (TimeWindow) Evaluate(ctx context.Context, condition []byte, cc Context) error {
	if len(condition) == 0 {
		return nil
	}
	if len(condition) != 16 {
		return errs.ConditionNotMet
	}
	notBefore := int64(binary.BigEndian.Uint64(condition[0:8]))
	notAfter := int64(binary.BigEndian.Uint64(condition[8:16]))
	now := cc.Now.Unix()
	if now < notBefore || now > notAfter {
		return errs.ConditionNotMet
	}
	return nil
}

// EncodeTimeWindow builds the condition blob TimeWindow.Evaluate expects.
func EncodeTimeWindow(notBefore, notAfter time.Time) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(notBefore.Unix()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(notAfter.Unix()))
	return buf
}
