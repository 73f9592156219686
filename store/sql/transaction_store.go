package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/gloam-network/gloam/types"
)

const (
	insertTx = `
INSERT INTO txs (
    txid, kind, contract_address, amount, fee, settled, height, created_at
) VALUES (
    ?, ?, ?, ?, ?, ?, ?, ?
)`
	updateTx = `
UPDATE txs SET settled = ?, height = ? WHERE txid = ?`
	selectAllTxs = `
SELECT txid, kind, contract_address, amount, fee, settled, height, created_at
FROM txs ORDER BY created_at DESC`
	selectTx = `
SELECT txid, kind, contract_address, amount, fee, settled, height, created_at
FROM txs WHERE txid = ?`
)

type txStore struct {
	db      *sql.DB
	lock    *sync.Mutex
	eventCh chan types.TransactionEvent
}

func NewTransactionStore(db *sql.DB) types.TransactionStore {
	return &txStore{
		db:      db,
		lock:    &sync.Mutex{},
		eventCh: make(chan types.TransactionEvent),
	}
}

func (s *txStore) AddTransactions(
	ctx context.Context, txs []types.Transaction,
) error {
	addedTxs := make([]types.Transaction, 0, len(txs))
	txBody := func(dbTx *sql.Tx) error {
		stmt, err := dbTx.PrepareContext(ctx, insertTx)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, tx := range txs {
			var createdAt int64
			if !tx.CreatedAt.IsZero() {
				createdAt = tx.CreatedAt.Unix()
			}
			if _, err := stmt.ExecContext(ctx,
				tx.TransactionKey.String(),
				string(tx.Kind),
				tx.ContractAddress,
				int64(tx.Amount),
				int64(tx.Fee),
				tx.Settled,
				int64(tx.Height),
				createdAt,
			); err != nil {
				if strings.Contains(err.Error(), "UNIQUE constraint failed") {
					continue
				}
				return err
			}
			addedTxs = append(addedTxs, tx)
		}
		return nil
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return err
	}

	if len(addedTxs) > 0 {
		go s.sendEvent(types.TransactionEvent{
			Type: types.TxsAdded, Txs: addedTxs,
		})
	}
	return nil
}

func (s *txStore) UpdateTransactions(
	ctx context.Context, txs []types.Transaction,
) error {
	txids := make([]string, 0, len(txs))
	for _, tx := range txs {
		txids = append(txids, tx.TransactionKey.String())
	}
	prevTxs, err := s.GetTransactions(ctx, txids)
	if err != nil {
		return err
	}
	prevSettled := make(map[string]bool, len(prevTxs))
	for _, tx := range prevTxs {
		prevSettled[tx.TransactionKey.String()] = tx.Settled
	}

	settledTxs := make([]types.Transaction, 0, len(txs))
	updatedTxs := make([]types.Transaction, 0, len(txs))
	txBody := func(dbTx *sql.Tx) error {
		stmt, err := dbTx.PrepareContext(ctx, updateTx)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, tx := range txs {
			if _, err := stmt.ExecContext(ctx,
				tx.Settled, int64(tx.Height), tx.TransactionKey.String(),
			); err != nil {
				return err
			}
			if tx.Settled && !prevSettled[tx.TransactionKey.String()] {
				settledTxs = append(settledTxs, tx)
			} else {
				updatedTxs = append(updatedTxs, tx)
			}
		}
		return nil
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return err
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
	ctx context.Context,
) ([]types.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, selectAllTxs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return readTxRows(rows)
}

func (s *txStore) GetTransactions(
	ctx context.Context, txids []string,
) ([]types.Transaction, error) {
	txs := make([]types.Transaction, 0, len(txids))
	for _, txid := range txids {
		rows, err := s.db.QueryContext(ctx, selectTx, txid)
		if err != nil {
			return nil, err
		}
		found, err := readTxRows(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		txs = append(txs, found...)
	}
	return txs, nil
}

func (s *txStore) GetEventChannel() chan types.TransactionEvent {
	return s.eventCh
}

func (s *txStore) Close() {
	// nolint:all
	s.db.Close()
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

func readTxRows(rows *sql.Rows) ([]types.Transaction, error) {
	txs := make([]types.Transaction, 0)
	for rows.Next() {
		var (
			txid, kind, contractAddress string
			amount, fee, height         int64
			settled                     bool
			createdAt                   int64
		)
		if err := rows.Scan(
			&txid, &kind, &contractAddress,
			&amount, &fee, &settled, &height, &createdAt,
		); err != nil {
			return nil, err
		}
		var timestamp time.Time
		if createdAt != 0 {
			timestamp = time.Unix(createdAt, 0)
		}
		txs = append(txs, types.Transaction{
			TransactionKey:  types.TransactionKey{TxID: txid},
			Kind:            types.OperationKind(kind),
			ContractAddress: contractAddress,
			Amount:          uint64(amount),
			Fee:             uint64(fee),
			Settled:         settled,
			Height:          uint64(height),
			CreatedAt:       timestamp,
		})
	}
	return txs, rows.Err()
}
