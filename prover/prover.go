package prover

import (
	"context"
	"encoding/json"
)

const (
	RestProver = "rest"
)

// ProofRequest describes one circuit invocation. The witness never leaves
// the machine boundary: the proving service is a local, trusted process.
type ProofRequest struct {
	Circuit         string
	ContractAddress string
	Args            json.RawMessage
	Nullifiers      []string
	Commitments     []string
	Witness         Witness
}

type Witness struct {
	SpendKey string
	Values   []uint64
	Rhos     []string
	Rands    []string
}

// ProvingService turns a funded transaction description into the proof
// artifact attached at balancing time.
type ProvingService interface {
	Prove(ctx context.Context, req ProofRequest) ([]byte, error)
	Close()
}
