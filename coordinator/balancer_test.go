package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gloam-network/gloam/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type balancerFixture struct {
	node      *mockedNode
	prover    *mockedProver
	snapshots *staticSnapshots
	registry  *inputRegistry
	wallet    *testWallet
	balancer  *balancer
}

func newBalancerFixture(
	t *testing.T, snapshot types.WalletSnapshot, changeThreshold uint64,
) *balancerFixture {
	node := &mockedNode{}
	proverSvc := &mockedProver{}
	snapshots := newStaticSnapshots(snapshot)
	registry := newInputRegistry()
	wallet, err := newTestWallet("alice")
	require.NoError(t, err)

	return &balancerFixture{
		node:      node,
		prover:    proverSvc,
		snapshots: snapshots,
		registry:  registry,
		wallet:    wallet,
		balancer: newBalancer(
			node, proverSvc, snapshots, registry, changeThreshold,
		),
	}
}

func TestBalance(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		description     string
		coins           []uint64
		value           uint64
		changeThreshold uint64
		fee             uint64
		expectedInputs  int
		expectedChange  uint64
	}{
		{
			description:     "exact cover leaves no change",
			coins:           []uint64{5, 3},
			value:           5,
			changeThreshold: 2,
			fee:             2,
			expectedInputs:  1,
			expectedChange:  0,
		},
		{
			description:     "change above the threshold returns to the wallet",
			coins:           []uint64{10},
			value:           4,
			changeThreshold: 2,
			fee:             2,
			expectedInputs:  1,
			expectedChange:  6,
		},
		{
			description:     "sub-threshold change rides with the fee",
			coins:           []uint64{5},
			value:           4,
			changeThreshold: 10,
			fee:             2,
			expectedInputs:  1,
			expectedChange:  0,
		},
		{
			description:     "no value outputs means no inputs",
			coins:           []uint64{5, 3},
			value:           0,
			changeThreshold: 2,
			fee:             1,
			expectedInputs:  0,
			expectedChange:  0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			fixture := newBalancerFixture(
				t, testSnapshot(100, testCoins(tc.coins...)), tc.changeThreshold,
			)
			fixture.node.On(
				"EstimateFee", mock.Anything, mock.Anything, mock.Anything,
			).Return(tc.fee, nil)
			fixture.prover.On("Prove", mock.Anything, mock.Anything).
				Return([]byte("proof-artifact"), nil)

			draft := invokeDraft(tc.value, "nonce-1")
			funded, err := fixture.balancer.Balance(
				ctx, fixture.wallet, draft, 30*time.Minute, "op-1",
			)
			require.NoError(t, err)
			require.Len(t, funded.Inputs, tc.expectedInputs)
			require.Equal(t, tc.fee, funded.Fee)
			require.Equal(t, []byte("proof-artifact"), funded.Proof)
			require.Equal(t, draft.Nonce, funded.Draft.Nonce)
			require.WithinDuration(
				t, time.Now().Add(30*time.Minute), funded.ExpiresAt, 5*time.Second,
			)

			for _, input := range funded.Inputs {
				require.NotEmpty(t, input.Nullifier)
			}
			if tc.expectedChange > 0 {
				require.NotNil(t, funded.Change)
				require.Equal(t, tc.expectedChange, funded.Change.Amount)
				addr, err := fixture.wallet.GetAddress(ctx)
				require.NoError(t, err)
				require.Equal(t, addr, funded.Change.Address)
			} else {
				require.Nil(t, funded.Change)
			}
		})
	}
}

func TestBalanceFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient funds", func(t *testing.T) {
		fixture := newBalancerFixture(t, testSnapshot(10, testCoins(2)), 2)

		_, err := fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(5, "nonce-1"), 30*time.Minute, "op-1",
		)
		require.ErrorIs(t, err, ErrInsufficientFunds)
		fixture.node.AssertNotCalled(
			t, "EstimateFee", mock.Anything, mock.Anything, mock.Anything,
		)
	})

	t.Run("fee above dust balance", func(t *testing.T) {
		fixture := newBalancerFixture(t, testSnapshot(1, testCoins(10)), 2)
		fixture.node.On(
			"EstimateFee", mock.Anything, mock.Anything, mock.Anything,
		).Return(uint64(2), nil)

		_, err := fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(5, "nonce-1"), 30*time.Minute, "op-1",
		)
		require.ErrorIs(t, err, ErrInsufficientFee)
	})

	t.Run("fee equal to dust balance passes", func(t *testing.T) {
		fixture := newBalancerFixture(t, testSnapshot(2, testCoins(10)), 2)
		fixture.node.On(
			"EstimateFee", mock.Anything, mock.Anything, mock.Anything,
		).Return(uint64(2), nil)
		fixture.prover.On("Prove", mock.Anything, mock.Anything).
			Return([]byte("proof-artifact"), nil)

		_, err := fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(5, "nonce-1"), 30*time.Minute, "op-1",
		)
		require.NoError(t, err)
	})

	t.Run("no synchronized snapshot", func(t *testing.T) {
		fixture := newBalancerFixture(t, testSnapshot(10, nil), 2)
		fixture.snapshots.set(types.WalletSnapshot{}, false)

		_, err := fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(5, "nonce-1"), 30*time.Minute, "op-1",
		)
		require.ErrorIs(t, err, ErrNotSynced)
	})

	t.Run("proving failure", func(t *testing.T) {
		fixture := newBalancerFixture(t, testSnapshot(10, testCoins(10)), 2)
		fixture.node.On(
			"EstimateFee", mock.Anything, mock.Anything, mock.Anything,
		).Return(uint64(2), nil)
		fixture.prover.On("Prove", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("circuit constraint unsatisfied"))

		_, err := fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(5, "nonce-1"), 30*time.Minute, "op-1",
		)
		require.ErrorIs(t, err, ErrProofFailed)
	})

	t.Run("locked wallet", func(t *testing.T) {
		fixture := newBalancerFixture(t, testSnapshot(10, testCoins(10)), 2)
		fixture.node.On(
			"EstimateFee", mock.Anything, mock.Anything, mock.Anything,
		).Return(uint64(2), nil)
		fixture.wallet.setLocked(true)

		_, err := fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(5, "nonce-1"), 30*time.Minute, "op-1",
		)
		require.ErrorIs(t, err, ErrKeyUnavailable)
	})
}

func TestBalanceIdempotent(t *testing.T) {
	ctx := context.Background()
	fixture := newBalancerFixture(t, testSnapshot(10, testCoins(5, 3, 2)), 2)
	fixture.node.On(
		"EstimateFee", mock.Anything, mock.Anything, mock.Anything,
	).Return(uint64(2), nil)
	fixture.prover.On("Prove", mock.Anything, mock.Anything).
		Return([]byte("proof-artifact"), nil)

	draft := invokeDraft(4, "nonce-1")

	first, err := fixture.balancer.Balance(
		ctx, fixture.wallet, draft, 30*time.Minute, "op-1",
	)
	require.NoError(t, err)
	fixture.registry.release("op-1")

	second, err := fixture.balancer.Balance(
		ctx, fixture.wallet, draft, 30*time.Minute, "op-2",
	)
	require.NoError(t, err)

	require.Equal(t, inputCommitments(first), inputCommitments(second))
	require.Equal(t, first.Fee, second.Fee)
}

func TestBalanceReservations(t *testing.T) {
	ctx := context.Background()

	t.Run("reserved inputs are never reused", func(t *testing.T) {
		fixture := newBalancerFixture(t, testSnapshot(10, testCoins(5)), 2)
		fixture.node.On(
			"EstimateFee", mock.Anything, mock.Anything, mock.Anything,
		).Return(uint64(2), nil)
		fixture.prover.On("Prove", mock.Anything, mock.Anything).
			Return([]byte("proof-artifact"), nil)

		first, err := fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(4, "nonce-1"), 30*time.Minute, "op-1",
		)
		require.NoError(t, err)

		_, err = fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(4, "nonce-2"), 30*time.Minute, "op-2",
		)
		require.ErrorIs(t, err, ErrInsufficientFunds)

		fixture.registry.release("op-1")

		second, err := fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(4, "nonce-2"), 30*time.Minute, "op-2",
		)
		require.NoError(t, err)
		require.Equal(t, inputCommitments(first), inputCommitments(second))
	})

	t.Run("reservations expire with the transaction ttl", func(t *testing.T) {
		fixture := newBalancerFixture(t, testSnapshot(10, testCoins(5)), 2)
		fixture.node.On(
			"EstimateFee", mock.Anything, mock.Anything, mock.Anything,
		).Return(uint64(2), nil)
		fixture.prover.On("Prove", mock.Anything, mock.Anything).
			Return([]byte("proof-artifact"), nil)

		_, err := fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(4, "nonce-1"), 20*time.Millisecond, "op-1",
		)
		require.NoError(t, err)

		_, err = fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(4, "nonce-2"), 30*time.Minute, "op-2",
		)
		require.ErrorIs(t, err, ErrInsufficientFunds)

		time.Sleep(40 * time.Millisecond)

		_, err = fixture.balancer.Balance(
			ctx, fixture.wallet, invokeDraft(4, "nonce-2"), 30*time.Minute, "op-2",
		)
		require.NoError(t, err)
	})
}

func inputCommitments(tx types.FundedTx) []string {
	commitments := make([]string, 0, len(tx.Inputs))
	for _, input := range tx.Inputs {
		commitments = append(commitments, input.Commitment)
	}
	return commitments
}
