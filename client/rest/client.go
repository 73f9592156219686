package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gloam-network/gloam/client"
	"github.com/gloam-network/gloam/types"
)

type restNodeClient struct {
	baseUrl string
}

func NewClient(baseUrl string) (client.NodeClient, error) {
	if len(baseUrl) <= 0 {
		return nil, fmt.Errorf("missing node url")
	}
	return &restNodeClient{baseUrl}, nil
}

type infoResponse struct {
	Network             string `json:"network"`
	Height              uint64 `json:"height"`
	MinFee              uint64 `json:"minFee"`
	DustChangeThreshold uint64 `json:"dustChangeThreshold"`
}

func (c *restNodeClient) GetInfo(ctx context.Context) (*client.Info, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/v1/info", c.baseUrl))
	if err != nil {
		return nil, err
	}

	var resp infoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return &client.Info{
		Network:             resp.Network,
		Height:              resp.Height,
		MinFee:              resp.MinFee,
		DustChangeThreshold: resp.DustChangeThreshold,
	}, nil
}

type feeRequest struct {
	Circuit    string `json:"circuit"`
	NumInputs  int    `json:"numInputs"`
	NumOutputs int    `json:"numOutputs"`
}

type feeResponse struct {
	Fee uint64 `json:"fee"`
}

func (c *restNodeClient) EstimateFee(
	ctx context.Context, draft types.Draft, numInputs int,
) (uint64, error) {
	payload, err := json.Marshal(feeRequest{
		Circuit:    draft.Circuit,
		NumInputs:  numInputs,
		NumOutputs: len(draft.Outputs),
	})
	if err != nil {
		return 0, err
	}

	body, err := c.post(ctx, fmt.Sprintf("%s/v1/fees/estimate", c.baseUrl), payload)
	if err != nil {
		return 0, err
	}

	var resp feeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	return resp.Fee, nil
}

type submitOutput struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type submitRequest struct {
	TxID            string          `json:"txid"`
	Kind            string          `json:"kind"`
	ContractAddress string          `json:"contractAddress,omitempty"`
	Circuit         string          `json:"circuit"`
	Args            json.RawMessage `json:"args,omitempty"`
	Nonce           string          `json:"nonce"`
	Nullifiers      []string        `json:"nullifiers"`
	Commitments     []string        `json:"commitments"`
	Outputs         []submitOutput  `json:"outputs"`
	Change          *submitOutput   `json:"change,omitempty"`
	Fee             uint64          `json:"fee"`
	Proof           []byte          `json:"proof"`
	ExpiresAt       int64           `json:"expiresAt"`
	Signatures      []submitSig     `json:"signatures"`
}

type submitSig struct {
	PublicKey string `json:"publicKey"`
	Value     string `json:"value"`
}

type submitResponse struct {
	TxID string `json:"txid"`
}

type rejectionResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *restNodeClient) SubmitTransaction(
	ctx context.Context, tx types.FinalizedTx,
) (string, error) {
	req := submitRequest{
		TxID:            tx.TxID,
		Kind:            string(tx.Draft.Kind),
		ContractAddress: tx.Draft.ContractAddress,
		Circuit:         tx.Draft.Circuit,
		Args:            tx.Draft.Args,
		Nonce:           tx.Draft.Nonce,
		Nullifiers:      make([]string, 0, len(tx.Inputs)),
		Commitments:     make([]string, 0, len(tx.Inputs)),
		Outputs:         make([]submitOutput, 0, len(tx.Draft.Outputs)),
		Fee:             tx.Fee,
		Proof:           tx.Proof,
		ExpiresAt:       tx.ExpiresAt.Unix(),
		Signatures:      make([]submitSig, 0, len(tx.Signatures)),
	}
	for _, in := range tx.Inputs {
		req.Nullifiers = append(req.Nullifiers, in.Nullifier)
		req.Commitments = append(req.Commitments, in.Commitment)
	}
	for _, out := range tx.Draft.Outputs {
		req.Outputs = append(req.Outputs, submitOutput{out.Address, out.Amount})
	}
	if tx.Change != nil {
		req.Change = &submitOutput{tx.Change.Address, tx.Change.Amount}
	}
	for _, sig := range tx.Signatures {
		req.Signatures = append(req.Signatures, submitSig{sig.PublicKey, sig.Value})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/transactions", c.baseUrl),
		bytes.NewReader(payload),
	)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", err
	}

	if httpResp.StatusCode != http.StatusOK {
		var rejection rejectionResponse
		if err := json.Unmarshal(body, &rejection); err == nil &&
			rejection.Code != "" {
			return "", &client.RejectionError{
				Code:    rejection.Code,
				Message: rejection.Message,
			}
		}
		return "", fmt.Errorf("%s", string(body))
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.TxID, nil
}

func (c *restNodeClient) Close() {}

func (c *restNodeClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s", string(body))
	}
	return body, nil
}

func (c *restNodeClient) post(
	ctx context.Context, url string, payload []byte,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewReader(payload),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s", string(body))
	}
	return body, nil
}
