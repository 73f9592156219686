package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gloam-network/gloam/client"
	"github.com/gloam-network/gloam/indexer"
	"github.com/gloam-network/gloam/internal/utils"
	"github.com/gloam-network/gloam/prover"
	"github.com/gloam-network/gloam/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTTL          = 30 * time.Minute
	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 10
)

const (
	StageIdle Stage = iota
	StageResolving
	StageNeedsFeeRegistration
	StageBalancing
	StageSigning
	StageSubmitting
	StageConfirmed
	StageRejected
	StageTimedOut
	StageFailed
)

type Stage int

func (s Stage) String() string {
	switch s {
	case StageResolving:
		return "RESOLVING"
	case StageNeedsFeeRegistration:
		return "NEEDS_FEE_REGISTRATION"
	case StageBalancing:
		return "BALANCING"
	case StageSigning:
		return "SIGNING"
	case StageSubmitting:
		return "SUBMITTING"
	case StageConfirmed:
		return "CONFIRMED"
	case StageRejected:
		return "REJECTED"
	case StageTimedOut:
		return "TIMED_OUT"
	case StageFailed:
		return "FAILED"
	default:
		return "IDLE"
	}
}

func (s Stage) Terminal() bool {
	switch s {
	case StageConfirmed, StageRejected, StageTimedOut, StageFailed,
		StageNeedsFeeRegistration:
		return true
	default:
		return false
	}
}

// OperationEvent is one state transition of a lifecycle run. Kind is set on
// failure transitions, Outcome on terminal submission ones.
type OperationEvent struct {
	OperationID string
	WalletID    string
	Stage       Stage
	Kind        Kind
	Outcome     *types.Outcome
}

// WalletContext is the per-wallet key surface the pipeline drives. It is
// satisfied by wallet.WalletService; tests provide their own.
type WalletContext interface {
	ID() string
	GetAddress(ctx context.Context) (string, error)
	Nullifier(ctx context.Context, rho []byte) ([]byte, error)
	ProofWitness(ctx context.Context, coins []types.Coin) (prover.Witness, error)
	SignDigest(ctx context.Context, digest []byte) (types.Signature, error)
	IsLocked() bool
}

type Config struct {
	Node      client.NodeClient
	Indexer   indexer.Indexer
	Prover    prover.ProvingService
	Snapshots SnapshotSource
	// Approve is consulted once per required signature.
	Approve ApproveFunc
	// TxStore and CoinStore are optional; when set, confirmed operations are
	// settled into them.
	TxStore             types.TransactionStore
	CoinStore           types.CoinStore
	DustChangeThreshold uint64
	DefaultTTL          time.Duration
	PollInterval        time.Duration
	MaxPolls            int
	// Metrics may be nil to run without registered collectors.
	Metrics prometheus.Registerer
}

func (c Config) validate() error {
	if c.Node == nil {
		return fmt.Errorf("missing node client")
	}
	if c.Indexer == nil {
		return fmt.Errorf("missing indexer")
	}
	if c.Prover == nil {
		return fmt.Errorf("missing proving service")
	}
	if c.Snapshots == nil {
		return fmt.Errorf("missing snapshot source")
	}
	if c.Approve == nil {
		return fmt.Errorf("missing signing approval callback")
	}
	return nil
}

// Coordinator drives drafts through resolve, balance, sign and submit,
// holding an exclusive per-wallet lock for the whole run.
type Coordinator struct {
	resolver   *resolver
	balancer   *balancer
	signer     *signer
	submitter  *submitter
	registry   *inputRegistry
	txStore    types.TransactionStore
	coinStore  types.CoinStore
	locks      *walletLocks
	events     *utils.Broadcaster[OperationEvent]
	metrics    *pipelineMetrics
	defaultTTL time.Duration
}

func NewCoordinator(cfg Config) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}

	metrics := newPipelineMetrics(cfg.Metrics)
	registry := newInputRegistry()
	return &Coordinator{
		resolver: newResolver(cfg.Snapshots),
		balancer: newBalancer(
			cfg.Node, cfg.Prover, cfg.Snapshots, registry, cfg.DustChangeThreshold,
		),
		signer: newSigner(cfg.Approve),
		submitter: newSubmitter(
			cfg.Node, cfg.Indexer, pollInterval, maxPolls, metrics,
		),
		registry:   registry,
		txStore:    cfg.TxStore,
		coinStore:  cfg.CoinStore,
		locks:      newWalletLocks(),
		events:     utils.NewBroadcaster[OperationEvent](16),
		metrics:    metrics,
		defaultTTL: ttl,
	}, nil
}

// DustStatus reports the fee posture of the latest synchronized snapshot.
func (c *Coordinator) DustStatus(ctx context.Context) (types.DustStatus, error) {
	return c.resolver.Resolve(ctx)
}

func (c *Coordinator) Events() chan OperationEvent {
	return c.events.Subscribe()
}

func (c *Coordinator) Unsubscribe(ch chan OperationEvent) {
	c.events.Unsubscribe(ch)
}

func (c *Coordinator) Stop() {
	c.events.Stop()
}

// Run executes one draft end to end and returns its outcome. A zero ttl
// falls back to the coordinator default. Runs against the same wallet are
// serialized; acquisition of the wallet lock honors ctx.
func (c *Coordinator) Run(
	ctx context.Context, walletCtx WalletContext, draft types.Draft,
	ttl time.Duration,
) (types.Outcome, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	opID := uuid.New().String()
	walletID := walletCtx.ID()

	if err := c.locks.acquire(ctx, walletID); err != nil {
		return types.Outcome{}, fmt.Errorf(
			"waiting for wallet %s: %s", walletID, err,
		)
	}
	defer c.locks.release(walletID)

	start := time.Now()
	c.publish(opID, walletID, StageResolving, "", nil)

	status, err := c.resolver.Resolve(ctx)
	if err != nil {
		return types.Outcome{}, c.fail(opID, walletID, draft.Kind, start, err)
	}
	// Registering dust is the one operation allowed to run without dust,
	// otherwise a fresh wallet could never bootstrap its fee balance.
	if !status.HasSufficientFee && draft.Kind != types.OperationRegisterFees {
		c.publish(opID, walletID, StageNeedsFeeRegistration, KindInsufficientFee, nil)
		c.metrics.operationObserved(
			draft.Kind, "needs_fee_registration", time.Since(start),
		)
		return types.Outcome{}, newErrorf(
			KindInsufficientFee, "wallet holds no dust",
		)
	}

	c.publish(opID, walletID, StageBalancing, "", nil)
	fundedTx, err := c.balancer.Balance(ctx, walletCtx, draft, ttl, opID)
	if err != nil {
		return types.Outcome{}, c.fail(opID, walletID, draft.Kind, start, err)
	}

	c.publish(opID, walletID, StageSigning, "", nil)
	finalizedTx, err := c.signer.Sign(ctx, walletCtx, fundedTx)
	if err != nil {
		return types.Outcome{}, c.fail(opID, walletID, draft.Kind, start, err)
	}

	c.publish(opID, walletID, StageSubmitting, "", nil)
	outcome, err := c.submitter.Submit(ctx, finalizedTx)
	switch outcome.Status {
	case types.OutcomeConfirmed:
		c.settle(ctx, finalizedTx, outcome)
		c.registry.release(opID)
		c.publish(opID, walletID, StageConfirmed, "", &outcome)
		c.metrics.operationObserved(draft.Kind, "confirmed", time.Since(start))
		return outcome, nil
	case types.OutcomeRejected:
		c.registry.release(opID)
		c.publish(opID, walletID, StageRejected, KindRejected, &outcome)
		c.metrics.operationObserved(draft.Kind, "rejected", time.Since(start))
		return outcome, err
	case types.OutcomeTimedOut:
		// Fate unknown: inputs stay reserved until the transaction's TTL
		// elapses, resubmitting them earlier could double-spend. The
		// transaction is recorded unsettled so a later sync can settle it
		// if it did land.
		c.recordPending(ctx, finalizedTx)
		c.publish(opID, walletID, StageTimedOut, KindTimedOut, &outcome)
		c.metrics.operationObserved(draft.Kind, "timed_out", time.Since(start))
		return outcome, err
	default:
		return types.Outcome{}, c.fail(opID, walletID, draft.Kind, start, err)
	}
}

func (c *Coordinator) fail(
	opID, walletID string, kind types.OperationKind, start time.Time, err error,
) error {
	c.registry.release(opID)

	var coordErr *Error
	errKind := Kind("")
	if errors.As(err, &coordErr) {
		errKind = coordErr.Kind
	}
	c.publish(opID, walletID, StageFailed, errKind, nil)
	c.metrics.operationObserved(kind, "failed", time.Since(start))
	return err
}

func (c *Coordinator) recordPending(
	ctx context.Context, tx types.FinalizedTx,
) {
	if c.txStore == nil {
		return
	}
	record := types.Transaction{
		TransactionKey:  types.TransactionKey{TxID: tx.TxID},
		Kind:            tx.Draft.Kind,
		ContractAddress: tx.Draft.ContractAddress,
		Amount:          tx.Draft.RequiredValue(),
		Fee:             tx.Fee,
		CreatedAt:       tx.Draft.CreatedAt,
	}
	if err := c.txStore.AddTransactions(
		ctx, []types.Transaction{record},
	); err != nil {
		log.WithError(err).Warnf("failed to record pending transaction %s", tx.TxID)
	}
}

// settle records a confirmed operation in the optional local stores. Store
// failures are logged, never propagated: the network already confirmed.
func (c *Coordinator) settle(
	ctx context.Context, tx types.FinalizedTx, outcome types.Outcome,
) {
	if c.txStore != nil {
		record := types.Transaction{
			TransactionKey:  types.TransactionKey{TxID: outcome.TxID},
			Kind:            tx.Draft.Kind,
			ContractAddress: tx.Draft.ContractAddress,
			Amount:          tx.Draft.RequiredValue(),
			Fee:             tx.Fee,
			Settled:         true,
			Height:          outcome.BlockHeight,
			CreatedAt:       tx.Draft.CreatedAt,
		}
		if err := c.txStore.AddTransactions(
			ctx, []types.Transaction{record},
		); err != nil {
			log.WithError(err).Warnf("failed to record transaction %s", outcome.TxID)
		}
		if err := c.txStore.UpdateTransactions(
			ctx, []types.Transaction{record},
		); err != nil {
			log.WithError(err).Warnf("failed to settle transaction %s", outcome.TxID)
		}
	}

	if c.coinStore != nil && len(tx.Inputs) > 0 {
		spent := make([]types.Coin, 0, len(tx.Inputs))
		for _, input := range tx.Inputs {
			coin := input.Coin
			coin.Spent = true
			coin.SpentBy = outcome.TxID
			spent = append(spent, coin)
		}
		if err := c.coinStore.UpdateCoins(ctx, spent); err != nil {
			log.WithError(err).Warnf(
				"failed to mark %d coins spent by %s", len(spent), outcome.TxID,
			)
		}
	}
}

func (c *Coordinator) publish(
	opID, walletID string, stage Stage, kind Kind, outcome *types.Outcome,
) {
	log.WithFields(log.Fields{
		"operation": opID,
		"wallet":    walletID,
		"stage":     stage.String(),
	}).Debug("lifecycle transition")
	c.events.Publish(OperationEvent{
		OperationID: opID,
		WalletID:    walletID,
		Stage:       stage,
		Kind:        kind,
		Outcome:     outcome,
	})
}

type walletLocks struct {
	lock  sync.Mutex
	locks map[string]chan struct{}
}

func newWalletLocks() *walletLocks {
	return &walletLocks{locks: make(map[string]chan struct{})}
}

func (w *walletLocks) acquire(ctx context.Context, walletID string) error {
	w.lock.Lock()
	ch, ok := w.locks[walletID]
	if !ok {
		ch = make(chan struct{}, 1)
		w.locks[walletID] = ch
	}
	w.lock.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *walletLocks) release(walletID string) {
	w.lock.Lock()
	ch, ok := w.locks[walletID]
	w.lock.Unlock()
	if !ok {
		return
	}
	select {
	case <-ch:
	default:
	}
}
