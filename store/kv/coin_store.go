package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gloam-network/gloam/types"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const (
	coinStoreDir = "coins"
)

type coinStore struct {
	db      *badgerhold.Store
	lock    *sync.Mutex
	eventCh chan types.CoinEvent
}

func NewCoinStore(dir string, logger badger.Logger) (types.CoinStore, error) {
	if len(dir) > 0 {
		dir = filepath.Join(dir, coinStoreDir)
	}
	badgerDb, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open coin store: %s", err)
	}
	return &coinStore{
		db:      badgerDb,
		lock:    &sync.Mutex{},
		eventCh: make(chan types.CoinEvent),
	}, nil
}

func (s *coinStore) AddCoins(_ context.Context, coins []types.Coin) error {
	addedCoins := make([]types.Coin, 0, len(coins))
	for _, coin := range coins {
		if err := s.db.Insert(coin.CoinKey.String(), &coin); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				continue
			}
			return err
		}
		addedCoins = append(addedCoins, coin)
	}

	if len(addedCoins) > 0 {
		go s.sendEvent(types.CoinEvent{Type: types.CoinsAdded, Coins: addedCoins})
	}
	return nil
}

func (s *coinStore) UpdateCoins(_ context.Context, coins []types.Coin) error {
	spentCoins := make([]types.Coin, 0, len(coins))
	updatedCoins := make([]types.Coin, 0, len(coins))
	for _, coin := range coins {
		var prev types.Coin
		justSpent := false
		if err := s.db.Get(coin.CoinKey.String(), &prev); err == nil {
			justSpent = coin.Spent && !prev.Spent
		}
		if err := s.db.Upsert(coin.CoinKey.String(), &coin); err != nil {
			return err
		}
		if justSpent {
			spentCoins = append(spentCoins, coin)
		} else {
			updatedCoins = append(updatedCoins, coin)
		}
	}

	if len(spentCoins) > 0 {
		go s.sendEvent(types.CoinEvent{Type: types.CoinsSpent, Coins: spentCoins})
	}
	if len(updatedCoins) > 0 {
		go s.sendEvent(types.CoinEvent{Type: types.CoinsUpdated, Coins: updatedCoins})
	}
	return nil
}

func (s *coinStore) GetAllCoins(
	_ context.Context,
) (spendable, spent []types.Coin, err error) {
	var allCoins []types.Coin
	err = s.db.Find(&allCoins, nil)
	if err != nil {
		return nil, nil, err
	}

	for _, coin := range allCoins {
		if coin.Spent {
			spent = append(spent, coin)
		} else {
			spendable = append(spendable, coin)
		}
	}
	return
}

func (s *coinStore) GetCoins(
	_ context.Context, keys []types.CoinKey,
) ([]types.Coin, error) {
	var coins []types.Coin
	for _, key := range keys {
		var coin types.Coin
		err := s.db.Get(key.String(), &coin)
		if err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				continue
			}

			return nil, err
		}
		coins = append(coins, coin)
	}

	return coins, nil
}

func (s *coinStore) GetEventChannel() chan types.CoinEvent {
	return s.eventCh
}

func (s *coinStore) Close() {
	if err := s.db.Close(); err != nil {
		log.Debugf("error on closing coins db: %s", err)
	}
	close(s.eventCh)
}

func (s *coinStore) sendEvent(event types.CoinEvent) {
	s.lock.Lock()
	defer s.lock.Unlock()

	select {
	case s.eventCh <- event:
		return
	default:
		time.Sleep(100 * time.Millisecond)
	}
}
