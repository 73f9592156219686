package store

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	filestore "github.com/gloam-network/gloam/store/file"
	inmemorystore "github.com/gloam-network/gloam/store/inmemory"
	kvstore "github.com/gloam-network/gloam/store/kv"
	sqlstore "github.com/gloam-network/gloam/store/sql"
	"github.com/gloam-network/gloam/types"
)

type service struct {
	configStore types.ConfigStore
	txStore     types.TransactionStore
	coinStore   types.CoinStore
}

type Config struct {
	ConfigStoreType  string
	AppDataStoreType string

	BaseDir       string
	MigrationPath string
	BadgerLogger  badger.Logger
}

func NewStore(storeConfig Config) (types.Store, error) {
	var (
		configStore types.ConfigStore
		txStore     types.TransactionStore
		coinStore   types.CoinStore
		err         error

		dir          = storeConfig.BaseDir
		badgerLogger = storeConfig.BadgerLogger
	)

	switch storeConfig.ConfigStoreType {
	case types.InMemoryStore:
		configStore, err = inmemorystore.NewConfigStore()
	case types.FileStore:
		configStore, err = filestore.NewConfigStore(dir)
	default:
		err = fmt.Errorf(
			"unsupported config store type '%s'", storeConfig.ConfigStoreType,
		)
	}
	if err != nil {
		return nil, err
	}

	switch storeConfig.AppDataStoreType {
	case "":
		// App data storage is optional, a client can run with config only.
	case types.KVStore:
		txStore, err = kvstore.NewTransactionStore(dir, badgerLogger)
		if err != nil {
			return nil, err
		}
		coinStore, err = kvstore.NewCoinStore(dir, badgerLogger)
		if err != nil {
			return nil, err
		}
	case types.SQLStore:
		if len(storeConfig.MigrationPath) <= 0 {
			return nil, fmt.Errorf("missing migration path for sql store")
		}
		db, err := sqlstore.OpenDb(dir, storeConfig.MigrationPath)
		if err != nil {
			return nil, err
		}
		txStore = sqlstore.NewTransactionStore(db)
		coinStore = sqlstore.NewCoinStore(db)
	default:
		return nil, fmt.Errorf(
			"unsupported app data store type '%s'", storeConfig.AppDataStoreType,
		)
	}

	return &service{
		configStore: configStore,
		txStore:     txStore,
		coinStore:   coinStore,
	}, nil
}

func (s *service) ConfigStore() types.ConfigStore {
	return s.configStore
}

func (s *service) TransactionStore() types.TransactionStore {
	return s.txStore
}

func (s *service) CoinStore() types.CoinStore {
	return s.coinStore
}

func (s *service) Close() {
	if s.txStore != nil {
		s.txStore.Close()
	}
	if s.coinStore != nil {
		s.coinStore.Close()
	}
	s.configStore.Close()
}
