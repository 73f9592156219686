package indexer

import (
	"context"

	"github.com/gloam-network/gloam/types"
)

const (
	RestIndexer = "rest"
)

const (
	TxPending   = "pending"
	TxConfirmed = "confirmed"
	TxRejected  = "rejected"
)

type ChainTip struct {
	Height uint64
	Hash   string
}

type TxStatusResponse struct {
	Found  bool
	Status string
	Height uint64
	Reason string
}

type ContractState struct {
	Address string
	Value   uint64
	Height  uint64
}

// WalletStateResponse is the indexer's view of a wallet identified by its
// viewing key: all coins it can link, plus the dust accounting.
type WalletStateResponse struct {
	Height            uint64
	Coins             []types.Coin
	DustBalance       uint64
	UnregisteredEmber uint64
}

// Indexer is the read-only public-data provider.
type Indexer interface {
	GetChainTip(ctx context.Context) (*ChainTip, error)
	GetTransaction(ctx context.Context, txid string) (*TxStatusResponse, error)
	GetContractState(ctx context.Context, address string) (*ContractState, error)
	GetWalletState(ctx context.Context, viewingKey string) (*WalletStateResponse, error)
	Close()
}
