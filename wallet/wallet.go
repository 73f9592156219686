package wallet

import (
	"context"

	"github.com/gloam-network/gloam/prover"
	"github.com/gloam-network/gloam/types"
)

const (
	SeedKeyWallet = "seedkey"
)

// WalletService bundles the shielded key set, the dust key and the
// unshielded signing keystore behind one handle. Key material never leaves
// the implementation: spends are expressed through Nullifier, ProofWitness
// and SignDigest.
type WalletService interface {
	GetType() string
	Create(
		ctx context.Context, password, mnemonic string,
	) (walletMnemonic string, err error)
	Lock(ctx context.Context, password string) (err error)
	Unlock(ctx context.Context, password string) (alreadyUnlocked bool, err error)
	IsLocked() bool
	// ID is a stable, non-secret identifier for this wallet.
	ID() string
	GetAddress(ctx context.Context) (string, error)
	ViewingKey(ctx context.Context) (string, error)
	// DustTag is the public tag of the dust account, the identity under
	// which registered ember accrues dust.
	DustTag(ctx context.Context) (string, error)
	OwnerKey(ctx context.Context) ([]byte, error)
	Nullifier(ctx context.Context, rho []byte) ([]byte, error)
	ProofWitness(
		ctx context.Context, coins []types.Coin,
	) (prover.Witness, error)
	SignDigest(ctx context.Context, digest []byte) (types.Signature, error)
	Dump(ctx context.Context, password string) (mnemonic string, err error)
	Clear(ctx context.Context) error
}
