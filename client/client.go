package client

import (
	"context"
	"fmt"

	"github.com/gloam-network/gloam/types"
)

const (
	RestClient = "rest"
)

// Rejection codes returned by the node when a transaction is refused.
const (
	RejectInvalidProof    = "invalid_proof"
	RejectTTLExpired      = "ttl_expired"
	RejectDoubleSpend     = "double_spend"
	RejectUnknownContract = "unknown_contract"
	RejectMalformed       = "malformed"
)

// RejectionError is the structured refusal surfaced by the submission
// boundary. Callers branch on Code, never on the message text.
type RejectionError struct {
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("transaction rejected (%s): %s", e.Code, e.Message)
}

type Info struct {
	Network             string
	Height              uint64
	MinFee              uint64
	DustChangeThreshold uint64
}

// NodeClient is the transport to the submission boundary.
type NodeClient interface {
	GetInfo(ctx context.Context) (*Info, error)
	EstimateFee(
		ctx context.Context, draft types.Draft, numInputs int,
	) (uint64, error)
	SubmitTransaction(
		ctx context.Context, tx types.FinalizedTx,
	) (string, error)
	Close()
}
