package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gloam-network/gloam/client"
	"github.com/gloam-network/gloam/indexer"
	"github.com/gloam-network/gloam/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type submitter struct {
	node         client.NodeClient
	indexer      indexer.Indexer
	limiter      *rate.Limiter
	pollInterval time.Duration
	maxPolls     int
	metrics      *pipelineMetrics

	lock      sync.Mutex
	submitted map[string]struct{}
	inflight  map[string]struct{}
}

func newSubmitter(
	node client.NodeClient, indexerSvc indexer.Indexer,
	pollInterval time.Duration, maxPolls int, metrics *pipelineMetrics,
) *submitter {
	return &submitter{
		node:         node,
		indexer:      indexerSvc,
		limiter:      rate.NewLimiter(rate.Limit(5), 10),
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		metrics:      metrics,
		submitted:    make(map[string]struct{}),
		inflight:     make(map[string]struct{}),
	}
}

// Submit hands a finalized transaction to the node at most once, then polls
// the indexer for its fate. A TxID that was already handed over is never
// posted again, only re-polled. TimedOut reports an unknown fate, it is
// never a green light to resubmit.
func (s *submitter) Submit(
	ctx context.Context, finalizedTx types.FinalizedTx,
) (types.Outcome, error) {
	txid := finalizedTx.TxID
	if len(txid) <= 0 {
		return types.Outcome{}, fmt.Errorf("missing transaction id")
	}
	if finalizedTx.Expired(time.Now()) {
		return types.Outcome{}, newErrorf(
			KindTxExpired,
			"finalized transaction expired at %s",
			finalizedTx.ExpiresAt.Format(time.RFC3339),
		)
	}

	s.lock.Lock()
	if _, ok := s.inflight[txid]; ok {
		s.lock.Unlock()
		return types.Outcome{}, fmt.Errorf(
			"transaction %s is already being submitted", txid,
		)
	}
	s.inflight[txid] = struct{}{}
	_, alreadySubmitted := s.submitted[txid]
	// Mark before posting: once the node may have seen the transaction,
	// the only safe follow-up is polling.
	s.submitted[txid] = struct{}{}
	s.lock.Unlock()

	defer func() {
		s.lock.Lock()
		delete(s.inflight, txid)
		s.lock.Unlock()
	}()

	if !alreadySubmitted {
		if _, err := s.node.SubmitTransaction(ctx, finalizedTx); err != nil {
			var rejection *client.RejectionError
			if errors.As(err, &rejection) {
				outcome := types.Outcome{
					Status: types.OutcomeRejected,
					TxID:   txid,
					Reason: rejection.Code,
				}
				return outcome, newError(KindRejected, rejection)
			}
			// The post may or may not have reached the node. Fate unknown.
			log.WithError(err).Warnf("submission of %s failed in transit", txid)
			outcome := types.Outcome{Status: types.OutcomeTimedOut, TxID: txid}
			return outcome, newError(KindTimedOut, err)
		}
		log.Debugf("submitted transaction %s", txid)
	}

	return s.poll(ctx, txid)
}

func (s *submitter) poll(
	ctx context.Context, txid string,
) (types.Outcome, error) {
	for attempt := 1; attempt <= s.maxPolls; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(s.pollInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				outcome := types.Outcome{Status: types.OutcomeTimedOut, TxID: txid}
				return outcome, newError(KindTimedOut, ctx.Err())
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			outcome := types.Outcome{Status: types.OutcomeTimedOut, TxID: txid}
			return outcome, newError(KindTimedOut, err)
		}
		s.metrics.pollObserved()

		status, err := s.indexer.GetTransaction(ctx, txid)
		if err != nil {
			log.WithError(err).Debugf(
				"confirmation poll %d/%d for %s failed", attempt, s.maxPolls, txid,
			)
			continue
		}
		if status == nil || !status.Found || status.Status == indexer.TxPending {
			continue
		}

		switch status.Status {
		case indexer.TxConfirmed:
			return types.Outcome{
				Status:      types.OutcomeConfirmed,
				TxID:        txid,
				BlockHeight: status.Height,
			}, nil
		case indexer.TxRejected:
			outcome := types.Outcome{
				Status: types.OutcomeRejected,
				TxID:   txid,
				Reason: status.Reason,
			}
			return outcome, newErrorf(
				KindRejected, "rejected by the network: %s", status.Reason,
			)
		}
	}

	outcome := types.Outcome{Status: types.OutcomeTimedOut, TxID: txid}
	return outcome, newErrorf(
		KindTimedOut, "no confirmation after %d polls", s.maxPolls,
	)
}
