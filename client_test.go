package gloam_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gloam "github.com/gloam-network/gloam"
	"github.com/gloam-network/gloam/common"
	"github.com/gloam-network/gloam/contract"
	"github.com/gloam-network/gloam/coordinator"
	"github.com/gloam-network/gloam/store"
	"github.com/gloam-network/gloam/types"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery staple"

type fakeCoin struct {
	Commitment string `json:"commitment"`
	Value      uint64 `json:"value"`
	Rho        string `json:"rho"`
	R          string `json:"r"`
	OwnerKey   string `json:"ownerKey"`
	Height     uint64 `json:"height"`
	CreatedAt  int64  `json:"createdAt"`
	SpentBy    string `json:"spentBy"`
	Spent      bool   `json:"spent"`
}

type fakeTxStatus struct {
	Found  bool   `json:"found"`
	Status string `json:"status"`
	Height uint64 `json:"height"`
	Reason string `json:"reason"`
}

type fakeSignature struct {
	PublicKey string `json:"publicKey"`
	Value     string `json:"value"`
}

type fakeSubmission struct {
	TxID            string          `json:"txid"`
	Kind            string          `json:"kind"`
	ContractAddress string          `json:"contractAddress"`
	Circuit         string          `json:"circuit"`
	Args            json.RawMessage `json:"args"`
	Nullifiers      []string        `json:"nullifiers"`
	Commitments     []string        `json:"commitments"`
	Fee             uint64          `json:"fee"`
	Proof           []byte          `json:"proof"`
	Signatures      []fakeSignature `json:"signatures"`
}

// fakeChain serves the node, indexer and prover REST surfaces from one
// shared ledger. Every accepted submission confirms in the next block.
type fakeChain struct {
	mu           sync.Mutex
	height       uint64
	fee          uint64
	dustBalance  uint64
	unregistered uint64
	coins        []fakeCoin
	contracts    map[string]uint64
	txStatuses   map[string]fakeTxStatus
	submissions  []fakeSubmission
	rejectCode   string

	node    *httptest.Server
	indexer *httptest.Server
	prover  *httptest.Server
}

func newFakeChain(t *testing.T) *fakeChain {
	f := &fakeChain{
		height:       120,
		fee:          2,
		dustBalance:  40,
		unregistered: 25,
		contracts:    make(map[string]uint64),
		txStatuses:   make(map[string]fakeTxStatus),
	}
	base := time.Now().Add(-time.Hour)
	for i, value := range []uint64{10, 6} {
		f.coins = append(f.coins, fakeCoin{
			Commitment: fmt.Sprintf("%064x", 0xc100+i),
			Value:      value,
			Rho:        fmt.Sprintf("%064x", 0xd100+i),
			R:          fmt.Sprintf("%064x", 0xe100+i),
			OwnerKey:   fmt.Sprintf("%064x", 0xf100),
			Height:     100,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute).Unix(),
		})
	}

	nodeMux := http.NewServeMux()
	nodeMux.HandleFunc("/v1/info", f.handleInfo)
	nodeMux.HandleFunc("/v1/fees/estimate", f.handleEstimateFee)
	nodeMux.HandleFunc("/v1/transactions", f.handleSubmit)
	f.node = httptest.NewServer(nodeMux)

	indexerMux := http.NewServeMux()
	indexerMux.HandleFunc("/v1/tip", f.handleTip)
	indexerMux.HandleFunc("/v1/transactions/", f.handleTxStatus)
	indexerMux.HandleFunc("/v1/contracts/", f.handleContractState)
	indexerMux.HandleFunc("/v1/wallets/", f.handleWalletState)
	f.indexer = httptest.NewServer(indexerMux)

	proverMux := http.NewServeMux()
	proverMux.HandleFunc("/v1/prove", f.handleProve)
	f.prover = httptest.NewServer(proverMux)

	t.Cleanup(func() {
		f.node.Close()
		f.indexer.Close()
		f.prover.Close()
	})
	return f
}

func (f *fakeChain) addContract(addr string, value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contracts[addr] = value
}

func (f *fakeChain) rejectNextSubmission(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectCode = code
}

func (f *fakeChain) submitted() []fakeSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeSubmission{}, f.submissions...)
}

func (f *fakeChain) handleInfo(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"network":             "regtest",
		"height":              f.height,
		"minFee":              1,
		"dustChangeThreshold": 2,
	})
}

func (f *fakeChain) handleEstimateFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Circuit string `json:"circuit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Dust registration is fee exempt, it is how empty wallets bootstrap.
	fee := f.fee
	if req.Circuit == contract.CircuitRegister {
		fee = 0
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fee": fee})
}

func (f *fakeChain) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req fakeSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"code": "malformed", "message": err.Error(),
		})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejectCode != "" {
		code := f.rejectCode
		f.rejectCode = ""
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"code": code, "message": "refused by consensus rules",
		})
		return
	}

	f.submissions = append(f.submissions, req)
	f.height++
	f.txStatuses[req.TxID] = fakeTxStatus{
		Found: true, Status: "confirmed", Height: f.height,
	}

	switch req.Kind {
	case "deploy":
		f.contracts[req.ContractAddress] = 0
	case "invoke":
		f.contracts[req.ContractAddress]++
	case "register_fees":
		var args struct {
			Units uint64 `json:"units"`
		}
		//nolint:all
		json.Unmarshal(req.Args, &args)
		f.dustBalance += args.Units
		if args.Units >= f.unregistered {
			f.unregistered = 0
		} else {
			f.unregistered -= args.Units
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"txid": req.TxID})
}

func (f *fakeChain) handleTip(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"height": f.height,
		"hash":   fmt.Sprintf("%064x", f.height),
	})
}

func (f *fakeChain) handleTxStatus(w http.ResponseWriter, r *http.Request) {
	txid := strings.TrimPrefix(r.URL.Path, "/v1/transactions/")

	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.txStatuses[txid]
	if !ok {
		status = fakeTxStatus{Found: false, Status: "pending"}
	}
	writeJSON(w, http.StatusOK, status)
}

func (f *fakeChain) handleContractState(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimPrefix(r.URL.Path, "/v1/contracts/")

	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.contracts[addr]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "contract not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr,
		"value":   value,
		"height":  f.height,
	})
}

func (f *fakeChain) handleWalletState(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"height":            f.height,
		"coins":             f.coins,
		"dustBalance":       f.dustBalance,
		"unregisteredEmber": f.unregistered,
	})
}

func (f *fakeChain) handleProve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Circuit string `json:"circuit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proof": []byte("proof:" + req.Circuit),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:all
	json.NewEncoder(w).Encode(v)
}

func newTestStore(t *testing.T) types.Store {
	storeSvc, err := store.NewStore(store.Config{
		ConfigStoreType:  gloam.FileStore,
		AppDataStoreType: gloam.KVStore,
		BaseDir:          t.TempDir(),
	})
	require.NoError(t, err)
	return storeSvc
}

func initTestClient(
	t *testing.T, fake *fakeChain, storeSvc types.Store,
) gloam.Client {
	client, err := gloam.New(storeSvc)
	require.NoError(t, err)

	err = client.Init(context.Background(), gloam.InitArgs{
		ClientType:   gloam.RestClient,
		WalletType:   gloam.SeedKeyWallet,
		NodeUrl:      fake.node.URL,
		IndexerUrl:   fake.indexer.URL,
		ProverUrl:    fake.prover.URL,
		Password:     testPassword,
		PollInterval: time.Second,
	})
	require.NoError(t, err)
	return client
}

func waitSynced(t *testing.T, client gloam.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.WaitSynced(ctx))
}

func TestInitValidation(t *testing.T) {
	fake := newFakeChain(t)
	ctx := context.Background()

	storeSvc := newTestStore(t)
	client, err := gloam.New(storeSvc)
	require.NoError(t, err)

	err = client.Init(ctx, gloam.InitArgs{})
	require.ErrorContains(t, err, "missing wallet type")

	err = client.Init(ctx, gloam.InitArgs{
		WalletType: gloam.SeedKeyWallet,
		ClientType: gloam.RestClient,
	})
	require.ErrorContains(t, err, "missing node url")

	err = client.Init(ctx, gloam.InitArgs{
		WalletType: "hardware",
		ClientType: gloam.RestClient,
		NodeUrl:    fake.node.URL,
		IndexerUrl: fake.indexer.URL,
		ProverUrl:  fake.prover.URL,
		Password:   testPassword,
	})
	require.ErrorContains(t, err, "not supported")

	_, err = client.Execute(ctx, types.Operation{Kind: "bogus"})
	require.ErrorIs(t, err, gloam.ErrNotInitialized)
}

func TestNewAndLoadLifecycle(t *testing.T) {
	fake := newFakeChain(t)
	storeSvc := newTestStore(t)

	_, err := gloam.Load(storeSvc)
	require.ErrorIs(t, err, gloam.ErrNotInitialized)

	client := initTestClient(t, fake, storeSvc)
	client.Stop()

	// The same datadir now holds an initialized wallet: a fresh New must
	// refuse it, a Load must restore it locked.
	reopened := newTestStoreAt(t, storeSvc)
	_, err = gloam.New(reopened)
	require.ErrorIs(t, err, gloam.ErrAlreadyInitialized)

	loaded, err := gloam.Load(reopened)
	require.NoError(t, err)
	defer loaded.Stop()

	require.True(t, loaded.IsLocked(context.Background()))
	require.NoError(t, loaded.Unlock(context.Background(), testPassword))
	require.False(t, loaded.IsLocked(context.Background()))

	addr, err := loaded.GetAddress(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(addr, "rglm1"))
}

func TestFullCounterLifecycle(t *testing.T) {
	fake := newFakeChain(t)
	storeSvc := newTestStore(t)
	client := initTestClient(t, fake, storeSvc)
	defer client.Stop()

	ctx := context.Background()
	waitSynced(t, client)

	balance, err := client.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(16), balance.Ember)
	require.Equal(t, uint64(40), balance.Dust)
	require.Equal(t, uint64(25), balance.UnregisteredEmber)
	require.Equal(t, 2, balance.SpendableCoins)
	require.Equal(t, uint64(120), balance.Height)

	status, err := client.DustStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.HasSufficientFee)
	require.Equal(t, uint64(40), status.FeeBalance)
	require.Equal(t, uint64(25), status.UnregisteredFundingUnits)

	events := client.GetOperationEventChannel()
	require.NotNil(t, events)

	contractAddr, outcome, err := client.Deploy(ctx)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeConfirmed, outcome.Status)
	require.NotEmpty(t, outcome.TxID)
	require.Equal(t, uint64(121), outcome.BlockHeight)
	require.NoError(t, contract.ValidateAddress(common.RegTest, contractAddr))

	requireStageSeen(t, events, coordinator.StageConfirmed)

	cfgData, err := client.GetConfigData(ctx)
	require.NoError(t, err)
	require.Equal(t, contractAddr, cfgData.ContractAddress)

	// An empty address falls back to the deployed counter.
	state, err := client.QueryCounter(ctx, "")
	require.NoError(t, err)
	require.Equal(t, contractAddr, state.ContractAddress)
	require.Equal(t, uint64(0), state.Value)

	incOutcome, err := client.Increment(ctx, "")
	require.NoError(t, err)
	require.Equal(t, types.OutcomeConfirmed, incOutcome.Status)

	state, err = client.QueryCounter(ctx, "")
	require.NoError(t, err)
	require.Equal(t, uint64(1), state.Value)

	regOutcome, err := client.RegisterFees(ctx, 25)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeConfirmed, regOutcome.Status)

	submissions := fake.submitted()
	require.Len(t, submissions, 3)
	require.Equal(t, "deploy", submissions[0].Kind)
	require.Equal(t, contract.CircuitDeploy, submissions[0].Circuit)
	require.Len(t, submissions[0].Signatures, 1)
	require.NotEmpty(t, submissions[0].Proof)
	require.Empty(t, submissions[0].Nullifiers)
	require.Equal(t, uint64(2), submissions[0].Fee)

	require.Equal(t, "invoke", submissions[1].Kind)
	require.Equal(t, contractAddr, submissions[1].ContractAddress)

	require.Equal(t, "register_fees", submissions[2].Kind)
	var regArgs struct {
		Units   uint64 `json:"units"`
		DustTag string `json:"dustTag"`
	}
	require.NoError(t, json.Unmarshal(submissions[2].Args, &regArgs))
	require.Equal(t, uint64(25), regArgs.Units)
	require.NotEmpty(t, regArgs.DustTag)

	history, err := client.GetTransactionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, types.OperationRegisterFees, history[0].Kind)
	require.Equal(t, types.OperationInvoke, history[1].Kind)
	require.Equal(t, types.OperationDeploy, history[2].Kind)
	for _, tx := range history {
		require.True(t, tx.Settled)
		require.NotZero(t, tx.Height)
	}
}

func TestJoinExistingCounter(t *testing.T) {
	fake := newFakeChain(t)
	existing, err := common.EncodeContractAddress(
		common.RegTest.ContractAddr, bytesOf(0x42),
	)
	require.NoError(t, err)
	fake.addContract(existing, 7)

	storeSvc := newTestStore(t)
	client := initTestClient(t, fake, storeSvc)
	defer client.Stop()

	ctx := context.Background()
	waitSynced(t, client)

	_, err = client.Join(ctx, "not-an-address")
	require.ErrorIs(t, err, contract.ErrInvalidAddress)

	unknown, err := common.EncodeContractAddress(
		common.RegTest.ContractAddr, bytesOf(0x43),
	)
	require.NoError(t, err)
	_, err = client.Join(ctx, unknown)
	require.ErrorContains(t, err, "no counter found")

	state, err := client.Join(ctx, existing)
	require.NoError(t, err)
	require.Equal(t, uint64(7), state.Value)

	cfgData, err := client.GetConfigData(ctx)
	require.NoError(t, err)
	require.Equal(t, existing, cfgData.ContractAddress)

	outcome, err := client.Increment(ctx, "")
	require.NoError(t, err)
	require.Equal(t, types.OutcomeConfirmed, outcome.Status)

	state, err = client.QueryCounter(ctx, existing)
	require.NoError(t, err)
	require.Equal(t, uint64(8), state.Value)
}

func TestDeployWithoutDust(t *testing.T) {
	fake := newFakeChain(t)
	fake.mu.Lock()
	fake.dustBalance = 0
	fake.mu.Unlock()

	storeSvc := newTestStore(t)
	client := initTestClient(t, fake, storeSvc)
	defer client.Stop()

	ctx := context.Background()
	waitSynced(t, client)

	_, _, err := client.Deploy(ctx)
	require.ErrorIs(t, err, coordinator.ErrInsufficientFee)
	require.Empty(t, fake.submitted())

	// Registering dust is still allowed, that is how the wallet bootstraps.
	outcome, err := client.RegisterFees(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeConfirmed, outcome.Status)
}

func TestRejectedSubmission(t *testing.T) {
	fake := newFakeChain(t)
	storeSvc := newTestStore(t)
	client := initTestClient(t, fake, storeSvc)
	defer client.Stop()

	ctx := context.Background()
	waitSynced(t, client)

	contractAddr, _, err := client.Deploy(ctx)
	require.NoError(t, err)

	fake.rejectNextSubmission("invalid_proof")
	_, err = client.Increment(ctx, contractAddr)
	require.ErrorIs(t, err, coordinator.ErrRejected)
	require.ErrorContains(t, err, "invalid_proof")

	// The rejection consumed the failure, the next attempt goes through.
	outcome, err := client.Increment(ctx, contractAddr)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeConfirmed, outcome.Status)
}

func TestLockedWalletGuards(t *testing.T) {
	fake := newFakeChain(t)
	storeSvc := newTestStore(t)
	client := initTestClient(t, fake, storeSvc)
	defer client.Stop()

	ctx := context.Background()
	waitSynced(t, client)

	require.NoError(t, client.Lock(ctx, testPassword))

	_, _, err := client.Deploy(ctx)
	require.ErrorContains(t, err, "wallet is locked")

	// Reads stay available while locked.
	_, err = client.Balance(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Unlock(ctx, testPassword))
	_, _, err = client.Deploy(ctx)
	require.NoError(t, err)
}

func TestApproveHandlerDenies(t *testing.T) {
	fake := newFakeChain(t)
	storeSvc := newTestStore(t)
	client := initTestClient(t, fake, storeSvc)
	defer client.Stop()

	ctx := context.Background()
	waitSynced(t, client)

	denied := 0
	client.SetApproveHandler(func(_ types.Draft, input *types.FundedInput) bool {
		// Counter operations carry no shielded inputs, the single approval
		// covers the transaction-level signature.
		require.Nil(t, input)
		denied++
		return false
	})

	_, _, err := client.Deploy(ctx)
	require.ErrorIs(t, err, coordinator.ErrSigningDenied)
	require.Equal(t, 1, denied)
	require.Empty(t, fake.submitted())

	client.SetApproveHandler(nil)
	_, _, err = client.Deploy(ctx)
	require.NoError(t, err)
}

// newTestStoreAt reopens the store service over an existing datadir.
func newTestStoreAt(t *testing.T, existing types.Store) types.Store {
	datadir := existing.ConfigStore().GetDatadir()
	reopened, err := store.NewStore(store.Config{
		ConfigStoreType:  gloam.FileStore,
		AppDataStoreType: gloam.KVStore,
		BaseDir:          datadir,
	})
	require.NoError(t, err)
	return reopened
}

func bytesOf(b byte) []byte {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func requireStageSeen(
	t *testing.T, events chan coordinator.OperationEvent, want coordinator.Stage,
) {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed before stage %s", want)
			}
			if event.Stage == want {
				return
			}
		case <-timeout:
			t.Fatalf("stage %s never observed", want)
		}
	}
}
