package gloam

import (
	"context"

	"github.com/gloam-network/gloam/coordinator"
	"github.com/gloam-network/gloam/types"
)

type Client interface {
	GetConfigData(ctx context.Context) (*types.Config, error)
	Init(ctx context.Context, args InitArgs) error
	IsLocked(ctx context.Context) bool
	Unlock(ctx context.Context, password string) error
	Lock(ctx context.Context, password string) error
	GetAddress(ctx context.Context) (string, error)
	WaitSynced(ctx context.Context) error
	Balance(ctx context.Context) (*Balance, error)
	DustStatus(ctx context.Context) (types.DustStatus, error)
	RegisterFees(ctx context.Context, units uint64) (types.Outcome, error)
	Deploy(ctx context.Context) (contractAddr string, outcome types.Outcome, err error)
	Join(ctx context.Context, contractAddr string) (*CounterState, error)
	Increment(ctx context.Context, contractAddr string) (types.Outcome, error)
	QueryCounter(ctx context.Context, contractAddr string) (*CounterState, error)
	Execute(ctx context.Context, op types.Operation) (*Result, error)
	SetApproveHandler(fn coordinator.ApproveFunc)
	Dump(ctx context.Context, password string) (mnemonic string, err error)
	GetTransactionHistory(ctx context.Context) ([]types.Transaction, error)
	GetTransactionEventChannel() chan types.TransactionEvent
	GetOperationEventChannel() chan coordinator.OperationEvent
	GetSnapshotChannel() chan types.WalletSnapshot
	Stop()
}
