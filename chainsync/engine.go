package chainsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gloam-network/gloam/indexer"
	"github.com/gloam-network/gloam/internal/utils"
	"github.com/gloam-network/gloam/types"
	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
)

const defaultPollInterval = 5 * time.Second

// WalletReader is the read-only wallet surface the engine needs: the
// viewing key links on-chain coins back to the wallet without exposing any
// spending capability.
type WalletReader interface {
	ViewingKey(ctx context.Context) (string, error)
}

type Config struct {
	Indexer indexer.Indexer
	Wallet  WalletReader
	// TxStore and CoinStore are optional; when set, every poll reconciles
	// them against the indexer's view.
	TxStore      types.TransactionStore
	CoinStore    types.CoinStore
	PollInterval time.Duration
}

// Engine periodically polls the indexer, reconciles the local stores and
// publishes wallet snapshots. The first successful poll flips the snapshot
// to synchronized; consumers must always take the latest one.
type Engine struct {
	indexer      indexer.Indexer
	wallet       WalletReader
	txStore      types.TransactionStore
	coinStore    types.CoinStore
	pollInterval time.Duration
	scheduler    *gocron.Scheduler
	snapshots    *utils.Broadcaster[types.WalletSnapshot]

	lock   sync.RWMutex
	latest types.WalletSnapshot
	ready  bool

	synced     chan struct{}
	syncedOnce sync.Once
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Indexer == nil {
		return nil, fmt.Errorf("missing indexer")
	}
	if cfg.Wallet == nil {
		return nil, fmt.Errorf("missing wallet")
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Engine{
		indexer:      cfg.Indexer,
		wallet:       cfg.Wallet,
		txStore:      cfg.TxStore,
		coinStore:    cfg.CoinStore,
		pollInterval: pollInterval,
		scheduler:    gocron.NewScheduler(time.UTC),
		snapshots:    utils.NewBroadcaster[types.WalletSnapshot](1),
		synced:       make(chan struct{}),
	}, nil
}

func (e *Engine) Start() error {
	interval := int(e.pollInterval.Seconds())
	if interval < 1 {
		interval = 1
	}
	if _, err := e.scheduler.Every(interval).Seconds().Do(e.tick); err != nil {
		return fmt.Errorf("failed to schedule wallet sync: %s", err)
	}
	e.scheduler.StartAsync()
	return nil
}

func (e *Engine) Stop() {
	e.scheduler.Stop()
	e.snapshots.Stop()
}

// Snapshot returns the latest synchronized view, false before the first
// successful poll.
func (e *Engine) Snapshot() (types.WalletSnapshot, bool) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.latest, e.ready
}

// WaitSynced blocks until the first successful poll or ctx expiry.
func (e *Engine) WaitSynced(ctx context.Context) error {
	select {
	case <-e.synced:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wallet never synchronized: %s", ctx.Err())
	}
}

// Snapshots returns a channel receiving every published snapshot. The
// caller must call Unsubscribe when done.
func (e *Engine) Snapshots() chan types.WalletSnapshot {
	return e.snapshots.Subscribe()
}

func (e *Engine) Unsubscribe(ch chan types.WalletSnapshot) {
	e.snapshots.Unsubscribe(ch)
}

func (e *Engine) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), e.pollInterval)
	defer cancel()

	if err := e.reconcile(ctx); err != nil {
		log.WithError(err).Debug("wallet sync poll failed")
	}
}

func (e *Engine) reconcile(ctx context.Context) error {
	viewingKey, err := e.wallet.ViewingKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to read viewing key: %s", err)
	}

	tip, err := e.indexer.GetChainTip(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch chain tip: %s", err)
	}

	state, err := e.indexer.GetWalletState(ctx, viewingKey)
	if err != nil {
		return fmt.Errorf("failed to fetch wallet state: %s", err)
	}

	if err := e.reconcileCoins(ctx, state.Coins); err != nil {
		return err
	}
	if err := e.settleConfirmed(ctx); err != nil {
		return err
	}

	spendable := make([]types.Coin, 0, len(state.Coins))
	var emberBalance uint64
	for _, coin := range state.Coins {
		if coin.Spent {
			continue
		}
		spendable = append(spendable, coin)
		emberBalance += coin.Value
	}

	snapshot := types.WalletSnapshot{
		Synced:            true,
		Height:            tip.Height,
		EmberBalance:      emberBalance,
		DustBalance:       state.DustBalance,
		UnregisteredEmber: state.UnregisteredEmber,
		SpendableCoins:    spendable,
		UpdatedAt:         time.Now(),
	}

	e.lock.Lock()
	e.latest = snapshot
	e.ready = true
	e.lock.Unlock()

	e.syncedOnce.Do(func() { close(e.synced) })
	e.snapshots.Publish(snapshot)
	return nil
}

func (e *Engine) reconcileCoins(ctx context.Context, coins []types.Coin) error {
	if e.coinStore == nil || len(coins) == 0 {
		return nil
	}

	spendable, spent, err := e.coinStore.GetAllCoins(ctx)
	if err != nil {
		return fmt.Errorf("failed to read coin store: %s", err)
	}
	known := make(map[string]types.Coin, len(spendable)+len(spent))
	for _, coin := range spendable {
		known[coin.Commitment] = coin
	}
	for _, coin := range spent {
		known[coin.Commitment] = coin
	}

	toAdd := make([]types.Coin, 0, len(coins))
	toUpdate := make([]types.Coin, 0, len(coins))
	for _, coin := range coins {
		prev, ok := known[coin.Commitment]
		if !ok {
			toAdd = append(toAdd, coin)
			continue
		}
		if prev.Spent != coin.Spent || prev.Height != coin.Height {
			toUpdate = append(toUpdate, coin)
		}
	}

	if len(toAdd) > 0 {
		if err := e.coinStore.AddCoins(ctx, toAdd); err != nil {
			return fmt.Errorf("failed to add coins: %s", err)
		}
	}
	if len(toUpdate) > 0 {
		if err := e.coinStore.UpdateCoins(ctx, toUpdate); err != nil {
			return fmt.Errorf("failed to update coins: %s", err)
		}
	}
	return nil
}

// settleConfirmed resolves transactions recorded before their confirmation
// was known, typically after a submission that timed out.
func (e *Engine) settleConfirmed(ctx context.Context) error {
	if e.txStore == nil {
		return nil
	}

	txs, err := e.txStore.GetAllTransactions(ctx)
	if err != nil {
		return fmt.Errorf("failed to read transaction store: %s", err)
	}

	settled := make([]types.Transaction, 0)
	for _, tx := range txs {
		if tx.Settled {
			continue
		}
		status, err := e.indexer.GetTransaction(ctx, tx.TxID)
		if err != nil {
			log.WithError(err).Debugf("failed to check status of %s", tx.TxID)
			continue
		}
		if status == nil || !status.Found || status.Status != indexer.TxConfirmed {
			continue
		}
		tx.Settled = true
		tx.Height = status.Height
		settled = append(settled, tx)
	}

	if len(settled) > 0 {
		if err := e.txStore.UpdateTransactions(ctx, settled); err != nil {
			return fmt.Errorf("failed to settle transactions: %s", err)
		}
	}
	return nil
}
