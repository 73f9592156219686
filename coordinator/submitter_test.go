package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gloam-network/gloam/client"
	"github.com/gloam-network/gloam/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type submitterFixture struct {
	node      *mockedNode
	indexer   *mockedIndexer
	submitter *submitter
}

func newSubmitterFixture(maxPolls int) *submitterFixture {
	node := &mockedNode{}
	indexerSvc := &mockedIndexer{}
	return &submitterFixture{
		node:    node,
		indexer: indexerSvc,
		submitter: newSubmitter(
			node, indexerSvc, 5*time.Millisecond, maxPolls, newPipelineMetrics(nil),
		),
	}
}

func finalizedTxFixture(t *testing.T, numInputs int) types.FinalizedTx {
	wallet, err := newTestWallet("alice")
	require.NoError(t, err)

	finalized, err := newSigner(approveAll).Sign(
		context.Background(), wallet, fundedTxFixture(t, wallet, numInputs),
	)
	require.NoError(t, err)
	return finalized
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed after pending polls", func(t *testing.T) {
		fixture := newSubmitterFixture(5)
		finalized := finalizedTxFixture(t, 1)
		fixture.node.On("SubmitTransaction", mock.Anything, mock.Anything).
			Return(finalized.TxID, nil)
		fixture.indexer.On("GetTransaction", mock.Anything, finalized.TxID).
			Return(pendingStatus(), nil).Twice()
		fixture.indexer.On("GetTransaction", mock.Anything, finalized.TxID).
			Return(confirmedStatus(42), nil)

		outcome, err := fixture.submitter.Submit(ctx, finalized)
		require.NoError(t, err)
		require.Equal(t, types.OutcomeConfirmed, outcome.Status)
		require.Equal(t, finalized.TxID, outcome.TxID)
		require.Equal(t, uint64(42), outcome.BlockHeight)
		fixture.node.AssertNumberOfCalls(t, "SubmitTransaction", 1)
		fixture.indexer.AssertNumberOfCalls(t, "GetTransaction", 3)
	})

	t.Run("rejected by the node", func(t *testing.T) {
		fixture := newSubmitterFixture(5)
		finalized := finalizedTxFixture(t, 1)
		fixture.node.On("SubmitTransaction", mock.Anything, mock.Anything).
			Return("", &client.RejectionError{
				Code: client.RejectDoubleSpend, Message: "nullifier already revealed",
			})

		outcome, err := fixture.submitter.Submit(ctx, finalized)
		require.ErrorIs(t, err, ErrRejected)
		require.Equal(t, types.OutcomeRejected, outcome.Status)
		require.Equal(t, client.RejectDoubleSpend, outcome.Reason)
		fixture.indexer.AssertNotCalled(
			t, "GetTransaction", mock.Anything, mock.Anything,
		)
	})

	t.Run("rejected at confirmation", func(t *testing.T) {
		fixture := newSubmitterFixture(5)
		finalized := finalizedTxFixture(t, 1)
		fixture.node.On("SubmitTransaction", mock.Anything, mock.Anything).
			Return(finalized.TxID, nil)
		fixture.indexer.On("GetTransaction", mock.Anything, finalized.TxID).
			Return(rejectedStatus(client.RejectTTLExpired), nil)

		outcome, err := fixture.submitter.Submit(ctx, finalized)
		require.ErrorIs(t, err, ErrRejected)
		require.Equal(t, types.OutcomeRejected, outcome.Status)
		require.Equal(t, client.RejectTTLExpired, outcome.Reason)
	})

	t.Run("transit failure times out, retry never reposts", func(t *testing.T) {
		fixture := newSubmitterFixture(5)
		finalized := finalizedTxFixture(t, 1)
		fixture.node.On("SubmitTransaction", mock.Anything, mock.Anything).
			Return("", fmt.Errorf("connection refused")).Once()
		fixture.indexer.On("GetTransaction", mock.Anything, finalized.TxID).
			Return(confirmedStatus(42), nil)

		outcome, err := fixture.submitter.Submit(ctx, finalized)
		require.ErrorIs(t, err, ErrTimedOut)
		require.Equal(t, types.OutcomeTimedOut, outcome.Status)

		// The node may have seen the transaction. A retry must only poll.
		outcome, err = fixture.submitter.Submit(ctx, finalized)
		require.NoError(t, err)
		require.Equal(t, types.OutcomeConfirmed, outcome.Status)
		fixture.node.AssertNumberOfCalls(t, "SubmitTransaction", 1)
	})

	t.Run("bounded polling times out", func(t *testing.T) {
		fixture := newSubmitterFixture(2)
		finalized := finalizedTxFixture(t, 1)
		fixture.node.On("SubmitTransaction", mock.Anything, mock.Anything).
			Return(finalized.TxID, nil)
		fixture.indexer.On("GetTransaction", mock.Anything, finalized.TxID).
			Return(pendingStatus(), nil)

		outcome, err := fixture.submitter.Submit(ctx, finalized)
		require.ErrorIs(t, err, ErrTimedOut)
		require.Equal(t, types.OutcomeTimedOut, outcome.Status)
		require.Equal(t, finalized.TxID, outcome.TxID)
		fixture.indexer.AssertNumberOfCalls(t, "GetTransaction", 2)
	})

	t.Run("indexer hiccups are tolerated", func(t *testing.T) {
		fixture := newSubmitterFixture(5)
		finalized := finalizedTxFixture(t, 1)
		fixture.node.On("SubmitTransaction", mock.Anything, mock.Anything).
			Return(finalized.TxID, nil)
		fixture.indexer.On("GetTransaction", mock.Anything, finalized.TxID).
			Return(nil, fmt.Errorf("status 502")).Once()
		fixture.indexer.On("GetTransaction", mock.Anything, finalized.TxID).
			Return(confirmedStatus(42), nil)

		outcome, err := fixture.submitter.Submit(ctx, finalized)
		require.NoError(t, err)
		require.Equal(t, types.OutcomeConfirmed, outcome.Status)
	})

	t.Run("elapsed ttl never submits", func(t *testing.T) {
		fixture := newSubmitterFixture(5)
		finalized := finalizedTxFixture(t, 1)
		finalized.ExpiresAt = time.Now().Add(-time.Minute)

		_, err := fixture.submitter.Submit(ctx, finalized)
		require.ErrorIs(t, err, ErrTxExpired)
		fixture.node.AssertNotCalled(
			t, "SubmitTransaction", mock.Anything, mock.Anything,
		)
	})

	t.Run("missing transaction id", func(t *testing.T) {
		fixture := newSubmitterFixture(5)

		_, err := fixture.submitter.Submit(ctx, types.FinalizedTx{})
		require.Error(t, err)
	})

	t.Run("concurrent submission of the same transaction", func(t *testing.T) {
		fixture := newSubmitterFixture(3)
		finalized := finalizedTxFixture(t, 1)
		started := make(chan struct{})
		fixture.node.On("SubmitTransaction", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { close(started) }).
			Return(finalized.TxID, nil)
		fixture.indexer.On("GetTransaction", mock.Anything, finalized.TxID).
			Return(pendingStatus(), nil).Twice()
		fixture.indexer.On("GetTransaction", mock.Anything, finalized.TxID).
			Return(confirmedStatus(42), nil)

		done := make(chan error, 1)
		go func() {
			_, err := fixture.submitter.Submit(ctx, finalized)
			done <- err
		}()

		<-started
		_, err := fixture.submitter.Submit(ctx, finalized)
		require.ErrorContains(t, err, "already being submitted")

		require.NoError(t, <-done)
		fixture.node.AssertNumberOfCalls(t, "SubmitTransaction", 1)
	})
}
