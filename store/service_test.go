package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/gloam-network/gloam/store"
	"github.com/gloam-network/gloam/types"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestAppDataStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
	}{
		{
			name: types.KVStore,
		},
		{
			name: types.SQLStore,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			dbConfig := store.Config{
				ConfigStoreType:  types.FileStore,
				AppDataStoreType: tt.name,
				BaseDir:          t.TempDir(),
			}
			if tt.name == types.SQLStore {
				dbConfig.MigrationPath = "file://sql/migration"
			}

			service, err := store.NewStore(dbConfig)
			require.NoError(t, err)
			require.NotNil(t, service)
			defer service.Close()

			go func() {
				eventCh := service.TransactionStore().GetEventChannel()
				for event := range eventCh {
					log.Infof("tx event: %s (%d txs)", event.Type, len(event.Txs))
				}
			}()
			go func() {
				eventCh := service.CoinStore().GetEventChannel()
				for event := range eventCh {
					log.Infof("coin event: %s (%d coins)", event.Type, len(event.Coins))
				}
			}()

			txStore := service.TransactionStore()
			require.NotNil(t, txStore)

			testTxs := []types.Transaction{
				{
					TransactionKey:  types.TransactionKey{TxID: "tx1"},
					Kind:            types.OperationDeploy,
					ContractAddress: "glc1qtest",
					Amount:          1000,
					Fee:             1,
					CreatedAt:       time.Now(),
				},
				{
					TransactionKey:  types.TransactionKey{TxID: "tx2"},
					Kind:            types.OperationInvoke,
					ContractAddress: "glc1qtest",
					Amount:          2000,
					Fee:             1,
					CreatedAt:       time.Now(),
				},
			}
			err = txStore.AddTransactions(ctx, testTxs)
			require.NoError(t, err)

			retrievedTxs, err := txStore.GetAllTransactions(ctx)
			require.NoError(t, err)
			require.Len(t, retrievedTxs, 2)

			// Re-adding the same txs must not duplicate them.
			err = txStore.AddTransactions(ctx, testTxs)
			require.NoError(t, err)

			retrievedTxs, err = txStore.GetAllTransactions(ctx)
			require.NoError(t, err)
			require.Len(t, retrievedTxs, 2)

			settled := testTxs[0]
			settled.Settled = true
			settled.Height = 42
			err = txStore.UpdateTransactions(ctx, []types.Transaction{settled})
			require.NoError(t, err)

			found, err := txStore.GetTransactions(ctx, []string{"tx1"})
			require.NoError(t, err)
			require.Len(t, found, 1)
			require.True(t, found[0].Settled)
			require.Equal(t, uint64(42), found[0].Height)

			coinStore := service.CoinStore()
			require.NotNil(t, coinStore)

			testCoins := []types.Coin{
				{
					CoinKey:   types.CoinKey{Commitment: "cm1"},
					Value:     1000,
					Rho:       "aa",
					R:         "bb",
					OwnerKey:  "cc",
					Height:    1,
					CreatedAt: time.Now(),
				},
				{
					CoinKey:   types.CoinKey{Commitment: "cm2"},
					Value:     2000,
					Rho:       "dd",
					R:         "ee",
					OwnerKey:  "cc",
					Height:    2,
					CreatedAt: time.Now(),
				},
			}
			err = coinStore.AddCoins(ctx, testCoins)
			require.NoError(t, err)

			spendable, spent, err := coinStore.GetAllCoins(ctx)
			require.NoError(t, err)
			require.Len(t, spendable, 2)
			require.Empty(t, spent)

			spentCoin := testCoins[0]
			spentCoin.Spent = true
			spentCoin.SpentBy = "tx1"
			err = coinStore.UpdateCoins(ctx, []types.Coin{spentCoin})
			require.NoError(t, err)

			spendable, spent, err = coinStore.GetAllCoins(ctx)
			require.NoError(t, err)
			require.Len(t, spendable, 1)
			require.Len(t, spent, 1)
			require.Equal(t, "tx1", spent[0].SpentBy)

			foundCoins, err := coinStore.GetCoins(
				ctx, []types.CoinKey{{Commitment: "cm2"}},
			)
			require.NoError(t, err)
			require.Len(t, foundCoins, 1)
			require.Equal(t, uint64(2000), foundCoins[0].Value)
		})
	}
}
