package client

import (
	"context"
	"time"

	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/wire"
)

// WorkerTransport is the network boundary a Delegator/Retriever calls
// through. Spec §1 treats "HTTP/TLS transport plumbing" as peripheral and
// out of scope; this interface is the typed seam a real transport plugs
// into, mirroring fleet.Exchanger's shape so both components share one
// cancellation/suspension-point discipline (spec §5).
type WorkerTransport interface {
	// Reencrypt issues the reencrypt endpoint call (spec §4.D).
	Reencrypt(ctx context.Context, address string, req *wire.ReencryptionRequest) (*wire.ReencryptionResponse, error)
	// EnactPolicy delivers one worker's encrypted kfrag via the
	// enact_policy side channel this implementation picked (spec §4.E step
	// 6, §9 Open Question — see DESIGN.md) and returns the worker's signed
	// receipt.
	EnactPolicy(ctx context.Context, address string, hrac wire.HRAC, policyID []byte, delegatorOperatorAddress string, expiresAt time.Time, vk *crypto.VerifiedKeyFragment) (receipt []byte, err error)
}
