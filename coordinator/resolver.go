package coordinator

import (
	"context"

	"github.com/gloam-network/gloam/types"
)

// SnapshotSource hands out the latest synchronized wallet view. The
// resolver and balancer never read chain state directly, they only ever
// consume the most recent snapshot.
type SnapshotSource interface {
	Snapshot() (types.WalletSnapshot, bool)
	WaitSynced(ctx context.Context) error
}

type resolver struct {
	snapshots SnapshotSource
}

func newResolver(snapshots SnapshotSource) *resolver {
	return &resolver{snapshots: snapshots}
}

// Resolve reports the wallet's funding and fee standing. Read-only: it
// must never trigger key derivation or network writes.
func (r *resolver) Resolve(_ context.Context) (types.DustStatus, error) {
	snapshot, ok := r.snapshots.Snapshot()
	if !ok || !snapshot.Synced {
		return types.DustStatus{}, newErrorf(
			KindNotSynced, "no synchronized wallet snapshot yet",
		)
	}

	return types.DustStatus{
		FeeBalance:               snapshot.DustBalance,
		UnregisteredFundingUnits: snapshot.UnregisteredEmber,
		HasSufficientFee:         snapshot.DustBalance > 0,
	}, nil
}
