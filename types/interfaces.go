package types

import "context"

type Store interface {
	ConfigStore() ConfigStore
	TransactionStore() TransactionStore
	CoinStore() CoinStore
	Close()
}

type ConfigStore interface {
	GetType() string
	GetDatadir() string
	AddData(ctx context.Context, data Config) error
	GetData(ctx context.Context) (*Config, error)
	CleanData(ctx context.Context) error
	Close()
}

type TransactionStore interface {
	AddTransactions(ctx context.Context, txs []Transaction) error
	UpdateTransactions(ctx context.Context, txs []Transaction) error
	GetAllTransactions(ctx context.Context) ([]Transaction, error)
	GetTransactions(ctx context.Context, txids []string) ([]Transaction, error)
	GetEventChannel() chan TransactionEvent
	Close()
}

type CoinStore interface {
	AddCoins(ctx context.Context, coins []Coin) error
	UpdateCoins(ctx context.Context, coins []Coin) error
	GetAllCoins(ctx context.Context) (spendable []Coin, spent []Coin, err error)
	GetCoins(ctx context.Context, keys []CoinKey) ([]Coin, error)
	GetEventChannel() chan CoinEvent
	Close()
}
