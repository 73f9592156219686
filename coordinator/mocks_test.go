package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gloam-network/gloam/client"
	"github.com/gloam-network/gloam/indexer"
	"github.com/gloam-network/gloam/prover"
	"github.com/gloam-network/gloam/types"
	"github.com/stretchr/testify/mock"
)

type mockedNode struct {
	mock.Mock
}

func (m *mockedNode) GetInfo(ctx context.Context) (*client.Info, error) {
	args := m.Called(ctx)

	var res *client.Info
	if a := args.Get(0); a != nil {
		res = a.(*client.Info)
	}
	return res, args.Error(1)
}

func (m *mockedNode) EstimateFee(
	ctx context.Context, draft types.Draft, numInputs int,
) (uint64, error) {
	args := m.Called(ctx, draft, numInputs)

	var res uint64
	if a := args.Get(0); a != nil {
		res = a.(uint64)
	}
	return res, args.Error(1)
}

func (m *mockedNode) SubmitTransaction(
	ctx context.Context, tx types.FinalizedTx,
) (string, error) {
	args := m.Called(ctx, tx)

	var res string
	if a := args.Get(0); a != nil {
		res = a.(string)
	}
	return res, args.Error(1)
}

func (m *mockedNode) Close() {
	m.Called()
}

type mockedIndexer struct {
	mock.Mock
}

func (m *mockedIndexer) GetChainTip(
	ctx context.Context,
) (*indexer.ChainTip, error) {
	args := m.Called(ctx)

	var res *indexer.ChainTip
	if a := args.Get(0); a != nil {
		res = a.(*indexer.ChainTip)
	}
	return res, args.Error(1)
}

func (m *mockedIndexer) GetTransaction(
	ctx context.Context, txid string,
) (*indexer.TxStatusResponse, error) {
	args := m.Called(ctx, txid)

	var res *indexer.TxStatusResponse
	if a := args.Get(0); a != nil {
		res = a.(*indexer.TxStatusResponse)
	}
	return res, args.Error(1)
}

func (m *mockedIndexer) GetContractState(
	ctx context.Context, address string,
) (*indexer.ContractState, error) {
	args := m.Called(ctx, address)

	var res *indexer.ContractState
	if a := args.Get(0); a != nil {
		res = a.(*indexer.ContractState)
	}
	return res, args.Error(1)
}

func (m *mockedIndexer) GetWalletState(
	ctx context.Context, viewingKey string,
) (*indexer.WalletStateResponse, error) {
	args := m.Called(ctx, viewingKey)

	var res *indexer.WalletStateResponse
	if a := args.Get(0); a != nil {
		res = a.(*indexer.WalletStateResponse)
	}
	return res, args.Error(1)
}

func (m *mockedIndexer) Close() {
	m.Called()
}

type mockedProver struct {
	mock.Mock
}

func (m *mockedProver) Prove(
	ctx context.Context, req prover.ProofRequest,
) ([]byte, error) {
	args := m.Called(ctx, req)

	var res []byte
	if a := args.Get(0); a != nil {
		res = a.([]byte)
	}
	return res, args.Error(1)
}

func (m *mockedProver) Close() {
	m.Called()
}

// staticSnapshots serves a fixed snapshot, standing in for the sync engine.
type staticSnapshots struct {
	lock     sync.Mutex
	snapshot types.WalletSnapshot
	ok       bool
}

func newStaticSnapshots(snapshot types.WalletSnapshot) *staticSnapshots {
	return &staticSnapshots{snapshot: snapshot, ok: true}
}

func (s *staticSnapshots) Snapshot() (types.WalletSnapshot, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.snapshot, s.ok
}

func (s *staticSnapshots) WaitSynced(_ context.Context) error {
	return nil
}

func (s *staticSnapshots) set(snapshot types.WalletSnapshot, ok bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.snapshot = snapshot
	s.ok = ok
}

// testWallet is a WalletContext backed by a throwaway key pair, with real
// BIP340 signatures so finalized transactions verify.
type testWallet struct {
	id     string
	key    *secp256k1.PrivateKey
	lock   sync.Mutex
	locked bool
}

func newTestWallet(id string) (*testWallet, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &testWallet{id: id, key: key}, nil
}

func (w *testWallet) ID() string {
	return w.id
}

func (w *testWallet) GetAddress(_ context.Context) (string, error) {
	return "rglm1" + w.id, nil
}

func (w *testWallet) Nullifier(_ context.Context, rho []byte) ([]byte, error) {
	if w.IsLocked() {
		return nil, fmt.Errorf("wallet is locked")
	}
	payload := append([]byte("nullifier/"), rho...)
	payload = append(payload, w.key.Serialize()...)
	sum := sha256.Sum256(payload)
	return sum[:], nil
}

func (w *testWallet) ProofWitness(
	_ context.Context, coins []types.Coin,
) (prover.Witness, error) {
	if w.IsLocked() {
		return prover.Witness{}, fmt.Errorf("wallet is locked")
	}
	witness := prover.Witness{SpendKey: "spend-key-" + w.id}
	for _, coin := range coins {
		witness.Values = append(witness.Values, coin.Value)
		witness.Rhos = append(witness.Rhos, coin.Rho)
		witness.Rands = append(witness.Rands, coin.R)
	}
	return witness, nil
}

func (w *testWallet) SignDigest(
	_ context.Context, digest []byte,
) (types.Signature, error) {
	if w.IsLocked() {
		return types.Signature{}, fmt.Errorf("wallet is locked")
	}
	sig, err := schnorr.Sign(w.key, digest)
	if err != nil {
		return types.Signature{}, err
	}
	return types.Signature{
		PublicKey: fmt.Sprintf("%x", schnorr.SerializePubKey(w.key.PubKey())),
		Value:     fmt.Sprintf("%x", sig.Serialize()),
	}, nil
}

func (w *testWallet) IsLocked() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.locked
}

func (w *testWallet) setLocked(locked bool) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.locked = locked
}

func testCoins(values ...uint64) []types.Coin {
	base := time.Now().Add(-time.Hour)
	coins := make([]types.Coin, 0, len(values))
	for i, value := range values {
		coins = append(coins, types.Coin{
			CoinKey:   types.CoinKey{Commitment: fmt.Sprintf("%064x", 0xc100+i)},
			Value:     value,
			Rho:       fmt.Sprintf("%064x", 0xa100+i),
			R:         fmt.Sprintf("%064x", 0xb100+i),
			OwnerKey:  fmt.Sprintf("%064x", 0xee),
			Height:    uint64(100 + i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return coins
}

func testSnapshot(dust uint64, coins []types.Coin) types.WalletSnapshot {
	var total uint64
	for _, coin := range coins {
		total += coin.Value
	}
	return types.WalletSnapshot{
		Synced:         true,
		Height:         120,
		EmberBalance:   total,
		DustBalance:    dust,
		SpendableCoins: coins,
		UpdatedAt:      time.Now(),
	}
}

func invokeDraft(value uint64, nonce string) types.Draft {
	draft := types.Draft{
		Kind:            types.OperationInvoke,
		ContractAddress: "glc1qcounterdemo",
		Circuit:         "counter/increment",
		Args:            json.RawMessage(`{"method":"increment","step":1}`),
		Nonce:           nonce,
		CreatedAt:       time.Now(),
	}
	if value > 0 {
		draft.Outputs = []types.Output{{Address: "rglm1recipient", Amount: value}}
	}
	return draft
}

func approveAll(types.Draft, *types.FundedInput) bool {
	return true
}

func pendingStatus() *indexer.TxStatusResponse {
	return &indexer.TxStatusResponse{Found: true, Status: indexer.TxPending}
}

func confirmedStatus(height uint64) *indexer.TxStatusResponse {
	return &indexer.TxStatusResponse{
		Found: true, Status: indexer.TxConfirmed, Height: height,
	}
}

func rejectedStatus(reason string) *indexer.TxStatusResponse {
	return &indexer.TxStatusResponse{
		Found: true, Status: indexer.TxRejected, Reason: reason,
	}
}
