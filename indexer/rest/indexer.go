package restindexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gloam-network/gloam/indexer"
	"github.com/gloam-network/gloam/internal/utils"
	"github.com/gloam-network/gloam/types"
	"golang.org/x/time/rate"
)

type restIndexer struct {
	baseUrl string
	limiter *rate.Limiter
	// confirmed and rejected statuses never change, cache them
	statusCache *utils.Cache[*indexer.TxStatusResponse]
}

func NewIndexer(baseUrl string) (indexer.Indexer, error) {
	if len(baseUrl) <= 0 {
		return nil, fmt.Errorf("missing indexer url")
	}
	return &restIndexer{
		baseUrl:     baseUrl,
		limiter:     rate.NewLimiter(rate.Limit(10), 20),
		statusCache: utils.NewCache[*indexer.TxStatusResponse](),
	}, nil
}

type tipResponse struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

func (i *restIndexer) GetChainTip(
	ctx context.Context,
) (*indexer.ChainTip, error) {
	body, err := i.get(ctx, fmt.Sprintf("%s/v1/tip", i.baseUrl))
	if err != nil {
		return nil, err
	}

	var resp tipResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &indexer.ChainTip{Height: resp.Height, Hash: resp.Hash}, nil
}

type txStatusResponse struct {
	Found  bool   `json:"found"`
	Status string `json:"status"`
	Height uint64 `json:"height"`
	Reason string `json:"reason"`
}

func (i *restIndexer) GetTransaction(
	ctx context.Context, txid string,
) (*indexer.TxStatusResponse, error) {
	if status, ok := i.statusCache.Get(txid); ok {
		return status, nil
	}

	body, err := i.get(
		ctx, fmt.Sprintf("%s/v1/transactions/%s", i.baseUrl, txid),
	)
	if err != nil {
		return nil, err
	}

	var resp txStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	status := &indexer.TxStatusResponse{
		Found:  resp.Found,
		Status: resp.Status,
		Height: resp.Height,
		Reason: resp.Reason,
	}
	if status.Status == indexer.TxConfirmed ||
		status.Status == indexer.TxRejected {
		i.statusCache.Set(txid, status)
	}
	return status, nil
}

type contractStateResponse struct {
	Address string `json:"address"`
	Value   uint64 `json:"value"`
	Height  uint64 `json:"height"`
}

func (i *restIndexer) GetContractState(
	ctx context.Context, address string,
) (*indexer.ContractState, error) {
	body, err := i.get(
		ctx, fmt.Sprintf("%s/v1/contracts/%s", i.baseUrl, address),
	)
	if err != nil {
		return nil, err
	}

	var resp contractStateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &indexer.ContractState{
		Address: resp.Address,
		Value:   resp.Value,
		Height:  resp.Height,
	}, nil
}

type walletCoin struct {
	Commitment string `json:"commitment"`
	Value      uint64 `json:"value"`
	Rho        string `json:"rho"`
	R          string `json:"r"`
	OwnerKey   string `json:"ownerKey"`
	Height     uint64 `json:"height"`
	CreatedAt  int64  `json:"createdAt"`
	SpentBy    string `json:"spentBy"`
	Spent      bool   `json:"spent"`
}

type walletStateResponse struct {
	Height            uint64       `json:"height"`
	Coins             []walletCoin `json:"coins"`
	DustBalance       uint64       `json:"dustBalance"`
	UnregisteredEmber uint64       `json:"unregisteredEmber"`
}

func (i *restIndexer) GetWalletState(
	ctx context.Context, viewingKey string,
) (*indexer.WalletStateResponse, error) {
	body, err := i.get(
		ctx, fmt.Sprintf("%s/v1/wallets/%s", i.baseUrl, viewingKey),
	)
	if err != nil {
		return nil, err
	}

	var resp walletStateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	coins := make([]types.Coin, 0, len(resp.Coins))
	for _, c := range resp.Coins {
		coins = append(coins, types.Coin{
			CoinKey:   types.CoinKey{Commitment: c.Commitment},
			Value:     c.Value,
			Rho:       c.Rho,
			R:         c.R,
			OwnerKey:  c.OwnerKey,
			Height:    c.Height,
			CreatedAt: time.Unix(c.CreatedAt, 0),
			SpentBy:   c.SpentBy,
			Spent:     c.Spent,
		})
	}

	return &indexer.WalletStateResponse{
		Height:            resp.Height,
		Coins:             coins,
		DustBalance:       resp.DustBalance,
		UnregisteredEmber: resp.UnregisteredEmber,
	}, nil
}

func (i *restIndexer) Close() {}

func (i *restIndexer) get(ctx context.Context, url string) ([]byte, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return nil, err
	}

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
