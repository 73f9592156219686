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
	insertCoin = `
INSERT INTO coins (
    commitment, value, rho, r, owner_key, height, created_at, spent_by, spent
) VALUES (
    ?, ?, ?, ?, ?, ?, ?, ?, ?
)`
	updateCoin = `
UPDATE coins SET height = ?, spent_by = ?, spent = ? WHERE commitment = ?`
	selectAllCoins = `
SELECT commitment, value, rho, r, owner_key, height, created_at, spent_by, spent
FROM coins`
	selectCoin = `
SELECT commitment, value, rho, r, owner_key, height, created_at, spent_by, spent
FROM coins WHERE commitment = ?`
)

type coinStore struct {
	db      *sql.DB
	lock    *sync.Mutex
	eventCh chan types.CoinEvent
}

func NewCoinStore(db *sql.DB) types.CoinStore {
	return &coinStore{
		db:      db,
		lock:    &sync.Mutex{},
		eventCh: make(chan types.CoinEvent),
	}
}

func (s *coinStore) AddCoins(ctx context.Context, coins []types.Coin) error {
	addedCoins := make([]types.Coin, 0, len(coins))
	txBody := func(dbTx *sql.Tx) error {
		stmt, err := dbTx.PrepareContext(ctx, insertCoin)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, coin := range coins {
			var createdAt int64
			if !coin.CreatedAt.IsZero() {
				createdAt = coin.CreatedAt.Unix()
			}
			if _, err := stmt.ExecContext(ctx,
				coin.CoinKey.String(),
				int64(coin.Value),
				coin.Rho,
				coin.R,
				coin.OwnerKey,
				int64(coin.Height),
				createdAt,
				coin.SpentBy,
				coin.Spent,
			); err != nil {
				if strings.Contains(err.Error(), "UNIQUE constraint failed") {
					continue
				}
				return err
			}
			addedCoins = append(addedCoins, coin)
		}
		return nil
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return err
	}

	if len(addedCoins) > 0 {
		go s.sendEvent(types.CoinEvent{Type: types.CoinsAdded, Coins: addedCoins})
	}
	return nil
}

func (s *coinStore) UpdateCoins(ctx context.Context, coins []types.Coin) error {
	keys := make([]types.CoinKey, 0, len(coins))
	for _, coin := range coins {
		keys = append(keys, coin.CoinKey)
	}
	prevCoins, err := s.GetCoins(ctx, keys)
	if err != nil {
		return err
	}
	prevSpent := make(map[string]bool, len(prevCoins))
	for _, coin := range prevCoins {
		prevSpent[coin.CoinKey.String()] = coin.Spent
	}

	spentCoins := make([]types.Coin, 0, len(coins))
	updatedCoins := make([]types.Coin, 0, len(coins))
	txBody := func(dbTx *sql.Tx) error {
		stmt, err := dbTx.PrepareContext(ctx, updateCoin)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, coin := range coins {
			if _, err := stmt.ExecContext(ctx,
				int64(coin.Height), coin.SpentBy, coin.Spent,
				coin.CoinKey.String(),
			); err != nil {
				return err
			}
			if coin.Spent && !prevSpent[coin.CoinKey.String()] {
				spentCoins = append(spentCoins, coin)
			} else {
				updatedCoins = append(updatedCoins, coin)
			}
		}
		return nil
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return err
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
	ctx context.Context,
) (spendable, spent []types.Coin, err error) {
	rows, err := s.db.QueryContext(ctx, selectAllCoins)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	allCoins, err := readCoinRows(rows)
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
	ctx context.Context, keys []types.CoinKey,
) ([]types.Coin, error) {
	coins := make([]types.Coin, 0, len(keys))
	for _, key := range keys {
		rows, err := s.db.QueryContext(ctx, selectCoin, key.String())
		if err != nil {
			return nil, err
		}
		found, err := readCoinRows(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		coins = append(coins, found...)
	}
	return coins, nil
}

func (s *coinStore) GetEventChannel() chan types.CoinEvent {
	return s.eventCh
}

func (s *coinStore) Close() {
	// nolint:all
	s.db.Close()
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

func readCoinRows(rows *sql.Rows) ([]types.Coin, error) {
	coins := make([]types.Coin, 0)
	for rows.Next() {
		var (
			commitment, rho, r, ownerKey, spentBy string
			value, height, createdAt              int64
			spent                                 bool
		)
		if err := rows.Scan(
			&commitment, &value, &rho, &r, &ownerKey,
			&height, &createdAt, &spentBy, &spent,
		); err != nil {
			return nil, err
		}
		var timestamp time.Time
		if createdAt != 0 {
			timestamp = time.Unix(createdAt, 0)
		}
		coins = append(coins, types.Coin{
			CoinKey:   types.CoinKey{Commitment: commitment},
			Value:     uint64(value),
			Rho:       rho,
			R:         r,
			OwnerKey:  ownerKey,
			Height:    uint64(height),
			CreatedAt: timestamp,
			SpentBy:   spentBy,
			Spent:     spent,
		})
	}
	return coins, rows.Err()
}
