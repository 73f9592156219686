package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gloam-network/gloam/types"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const (
	transactionStoreDir = "transactions"
)

type txStore struct {
	db      *badgerhold.Store
	lock    *sync.Mutex
	eventCh chan types.TransactionEvent
}

func NewTransactionStore(
	dir string, logger badger.Logger,
) (types.TransactionStore, error) {
	if len(dir) > 0 {
		dir = filepath.Join(dir, transactionStoreDir)
	}
	badgerDb, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction store: %s", err)
	}
	return &txStore{
		db:      badgerDb,
		lock:    &sync.Mutex{},
		eventCh: make(chan types.TransactionEvent),
	}, nil
}

func (s *txStore) AddTransactions(
	_ context.Context, txs []types.Transaction,
) error {
	addedTxs := make([]types.Transaction, 0, len(txs))
	for _, tx := range txs {
		if err := s.db.Insert(tx.TransactionKey.String(), &tx); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				continue
			}
			return err
		}
		addedTxs = append(addedTxs, tx)
	}

	if len(addedTxs) > 0 {
		go s.sendEvent(types.TransactionEvent{
			Type: types.TxsAdded, Txs: addedTxs,
		})
	}
	return nil
}

func (s *txStore) UpdateTransactions(
	_ context.Context, txs []types.Transaction,
) error {
	settledTxs := make([]types.Transaction, 0, len(txs))
	updatedTxs := make([]types.Transaction, 0, len(txs))
	for _, tx := range txs {
		var prev types.Transaction
		justSettled := false
		if err := s.db.Get(tx.TransactionKey.String(), &prev); err == nil {
			justSettled = tx.Settled && !prev.Settled
		}
		if err := s.db.Upsert(tx.TransactionKey.String(), &tx); err != nil {
			return err
		}
		if justSettled {
			settledTxs = append(settledTxs, tx)
		} else {
			updatedTxs = append(updatedTxs, tx)
		}
	}

	if len(settledTxs) > 0 {
		go s.sendEvent(types.TransactionEvent{
			Type: types.TxsSettled, Txs: settledTxs,
		})
	}
	if len(updatedTxs) > 0 {
		go s.sendEvent(types.TransactionEvent{
			Type: types.TxsUpdated, Txs: updatedTxs,
		})
	}
	return nil
}

func (s *txStore) GetAllTransactions(
	_ context.Context,
) ([]types.Transaction, error) {
	var txs []types.Transaction
	err := s.db.Find(&txs, nil)

	sort.Slice(txs, func(i, j int) bool {
		txi := txs[i]
		txj := txs[j]
		if txi.CreatedAt.Equal(txj.CreatedAt) {
			return txi.Kind > txj.Kind
		}
		return txi.CreatedAt.After(txj.CreatedAt)
	})

	return txs, err
}

func (s *txStore) GetTransactions(
	_ context.Context, txids []string,
) ([]types.Transaction, error) {
	txs := make([]types.Transaction, 0, len(txids))
	for _, txid := range txids {
		var tx types.Transaction
		if err := s.db.Get(txid, &tx); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				continue
			}
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (s *txStore) GetEventChannel() chan types.TransactionEvent {
	return s.eventCh
}

func (s *txStore) Close() {
	if err := s.db.Close(); err != nil {
		log.Debugf("error on closing transactions db: %s", err)
	}
	close(s.eventCh)
}

func (s *txStore) sendEvent(event types.TransactionEvent) {
	s.lock.Lock()
	defer s.lock.Unlock()

	select {
	case s.eventCh <- event:
		return
	default:
		time.Sleep(100 * time.Millisecond)
	}
}
