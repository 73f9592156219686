package restprover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gloam-network/gloam/prover"
)

type restProver struct {
	baseUrl string
}

func NewProver(baseUrl string) (prover.ProvingService, error) {
	if len(baseUrl) <= 0 {
		return nil, fmt.Errorf("missing prover url")
	}
	return &restProver{baseUrl}, nil
}

type proveRequest struct {
	Circuit         string          `json:"circuit"`
	ContractAddress string          `json:"contractAddress,omitempty"`
	Args            json.RawMessage `json:"args,omitempty"`
	Nullifiers      []string        `json:"nullifiers"`
	Commitments     []string        `json:"commitments"`
	Witness         proveWitness    `json:"witness"`
}

type proveWitness struct {
	SpendKey string   `json:"spendKey"`
	Values   []uint64 `json:"values"`
	Rhos     []string `json:"rhos"`
	Rands    []string `json:"rands"`
}

type proveResponse struct {
	Proof []byte `json:"proof"`
}

func (p *restProver) Prove(
	ctx context.Context, req prover.ProofRequest,
) ([]byte, error) {
	payload, err := json.Marshal(proveRequest{
		Circuit:         req.Circuit,
		ContractAddress: req.ContractAddress,
		Args:            req.Args,
		Nullifiers:      req.Nullifiers,
		Commitments:     req.Commitments,
		Witness: proveWitness{
			SpendKey: req.Witness.SpendKey,
			Values:   req.Witness.Values,
			Rhos:     req.Witness.Rhos,
			Rands:    req.Witness.Rands,
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/prove", p.baseUrl),
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s", string(body))
	}

	var resp proveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Proof) == 0 {
		return nil, fmt.Errorf("prover returned empty proof")
	}
	return resp.Proof, nil
}

func (p *restProver) Close() {}
