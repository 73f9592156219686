package coordinator

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/gloam-network/gloam/client"
	"github.com/gloam-network/gloam/internal/utils"
	"github.com/gloam-network/gloam/prover"
	"github.com/gloam-network/gloam/types"
)

type balancer struct {
	node            client.NodeClient
	prover          prover.ProvingService
	snapshots       SnapshotSource
	registry        *inputRegistry
	changeThreshold uint64
}

func newBalancer(
	node client.NodeClient, proverSvc prover.ProvingService,
	snapshots SnapshotSource, registry *inputRegistry, changeThreshold uint64,
) *balancer {
	return &balancer{
		node:            node,
		prover:          proverSvc,
		snapshots:       snapshots,
		registry:        registry,
		changeThreshold: changeThreshold,
	}
}

// Balance turns a draft into a funded transaction: pick input coins for
// the draft's value outputs, allocate dust for the fee, derive nullifiers
// and fetch the proof artifact. Deterministic for identical snapshot and
// draft. Selected inputs are reserved under opID until released or until
// the transaction's TTL elapses.
func (b *balancer) Balance(
	ctx context.Context, walletCtx WalletContext, draft types.Draft,
	ttl time.Duration, opID string,
) (types.FundedTx, error) {
	snapshot, ok := b.snapshots.Snapshot()
	if !ok || !snapshot.Synced {
		return types.FundedTx{}, newErrorf(
			KindNotSynced, "no synchronized wallet snapshot yet",
		)
	}

	expiresAt := time.Now().Add(ttl)

	var selected []types.Coin
	requiredValue := draft.RequiredValue()
	change := uint64(0)
	if requiredValue > 0 {
		available := b.registry.filter(snapshot.SpendableCoins)
		var err error
		selected, change, err = utils.CoinSelect(
			available, requiredValue, b.changeThreshold, true,
		)
		if err != nil {
			return types.FundedTx{}, newError(KindInsufficientFunds, err)
		}
	}

	fee, err := b.node.EstimateFee(ctx, draft, len(selected))
	if err != nil {
		return types.FundedTx{}, fmt.Errorf("failed to estimate fee: %s", err)
	}
	if fee > snapshot.DustBalance {
		return types.FundedTx{}, newErrorf(
			KindInsufficientFee,
			"fee %d exceeds dust balance %d", fee, snapshot.DustBalance,
		)
	}

	inputs := make([]types.FundedInput, 0, len(selected))
	nullifiers := make([]string, 0, len(selected))
	commitments := make([]string, 0, len(selected))
	for _, coin := range selected {
		rho, err := hex.DecodeString(coin.Rho)
		if err != nil {
			return types.FundedTx{}, fmt.Errorf(
				"malformed coin randomness for %s: %s", coin.Commitment, err,
			)
		}
		nullifier, err := walletCtx.Nullifier(ctx, rho)
		if err != nil {
			return types.FundedTx{}, newError(KindKeyUnavailable, err)
		}
		nullifierHex := hex.EncodeToString(nullifier)
		inputs = append(inputs, types.FundedInput{
			Coin: coin, Nullifier: nullifierHex,
		})
		nullifiers = append(nullifiers, nullifierHex)
		commitments = append(commitments, coin.Commitment)
	}

	// Change below the dust-change threshold is not worth a dedicated
	// output, it rides with the fee instead.
	var changeOutput *types.Output
	if change >= b.changeThreshold && change > 0 {
		addr, err := walletCtx.GetAddress(ctx)
		if err != nil {
			return types.FundedTx{}, newError(KindKeyUnavailable, err)
		}
		changeOutput = &types.Output{Address: addr, Amount: change}
	}

	witness, err := walletCtx.ProofWitness(ctx, selected)
	if err != nil {
		return types.FundedTx{}, newError(KindKeyUnavailable, err)
	}
	proof, err := b.prover.Prove(ctx, prover.ProofRequest{
		Circuit:         draft.Circuit,
		ContractAddress: draft.ContractAddress,
		Args:            draft.Args,
		Nullifiers:      nullifiers,
		Commitments:     commitments,
		Witness:         witness,
	})
	if err != nil {
		return types.FundedTx{}, newError(KindProofFailed, err)
	}

	b.registry.reserve(opID, selected, expiresAt)

	return types.FundedTx{
		Draft:     draft.Copy(),
		Inputs:    inputs,
		Change:    changeOutput,
		Fee:       fee,
		Proof:     proof,
		ExpiresAt: expiresAt,
	}, nil
}

type inputReservation struct {
	opID      string
	expiresAt time.Time
}

// inputRegistry tracks coins held by in-flight operations so concurrent
// pipelines can never select overlapping inputs. A reservation lives until
// its operation releases it or the owning transaction's TTL elapses, after
// which the network can no longer accept the transaction and the coins are
// safe to reuse.
type inputRegistry struct {
	lock     sync.Mutex
	reserved map[string]inputReservation
}

func newInputRegistry() *inputRegistry {
	return &inputRegistry{reserved: make(map[string]inputReservation)}
}

func (r *inputRegistry) filter(coins []types.Coin) []types.Coin {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := time.Now()
	available := make([]types.Coin, 0, len(coins))
	for _, coin := range coins {
		if reservation, ok := r.reserved[coin.Commitment]; ok {
			if now.Before(reservation.expiresAt) {
				continue
			}
			delete(r.reserved, coin.Commitment)
		}
		available = append(available, coin)
	}
	return available
}

func (r *inputRegistry) reserve(
	opID string, coins []types.Coin, expiresAt time.Time,
) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, coin := range coins {
		r.reserved[coin.Commitment] = inputReservation{
			opID: opID, expiresAt: expiresAt,
		}
	}
}

func (r *inputRegistry) release(opID string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for commitment, reservation := range r.reserved {
		if reservation.opID == opID {
			delete(r.reserved, commitment)
		}
	}
}
