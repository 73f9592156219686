package gloam

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gloam-network/gloam/chainsync"
	"github.com/gloam-network/gloam/client"
	"github.com/gloam-network/gloam/contract"
	"github.com/gloam-network/gloam/coordinator"
	"github.com/gloam-network/gloam/indexer"
	restindexer "github.com/gloam-network/gloam/indexer/rest"
	"github.com/gloam-network/gloam/internal/utils"
	"github.com/gloam-network/gloam/prover"
	restprover "github.com/gloam-network/gloam/prover/rest"
	"github.com/gloam-network/gloam/types"
	"github.com/gloam-network/gloam/wallet"
	seedkeywallet "github.com/gloam-network/gloam/wallet/seedkey"
	walletstore "github.com/gloam-network/gloam/wallet/seedkey/store"
	filestore "github.com/gloam-network/gloam/wallet/seedkey/store/file"
	inmemorystore "github.com/gloam-network/gloam/wallet/seedkey/store/inmemory"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const (
	// transport
	RestClient = client.RestClient
	// wallet
	SeedKeyWallet = wallet.SeedKeyWallet
	// store
	FileStore     = types.FileStore
	InMemoryStore = types.InMemoryStore
	KVStore       = types.KVStore
	SQLStore      = types.SQLStore
)

const (
	defaultTTL            = 30 * time.Minute
	defaultPollInterval   = 5 * time.Second
	defaultSubmitMaxPolls = 10
)

var (
	ErrAlreadyInitialized = fmt.Errorf("client already initialized")
	ErrNotInitialized     = fmt.Errorf("client not initialized")
)

type gloamClient struct {
	*types.Config
	wallet      wallet.WalletService
	store       types.Store
	node        client.NodeClient
	indexer     indexer.Indexer
	prover      prover.ProvingService
	engine      *chainsync.Engine
	coordinator *coordinator.Coordinator
	metrics     prometheus.Registerer

	approveLock sync.RWMutex
	approve     coordinator.ApproveFunc
}

// New returns an uninitialized client bound to the given store. Call Init
// to create the wallet and connect the services.
func New(sdkStore types.Store) (Client, error) {
	if sdkStore == nil {
		return nil, fmt.Errorf("missing sdk store")
	}

	cfgData, err := sdkStore.ConfigStore().GetData(context.Background())
	if err != nil {
		return nil, err
	}
	if cfgData != nil {
		return nil, ErrAlreadyInitialized
	}

	return &gloamClient{store: sdkStore}, nil
}

// Load restores a previously initialized client from the given store.
func Load(sdkStore types.Store) (Client, error) {
	return load(sdkStore, nil)
}

// LoadWithMetrics behaves like Load and additionally registers the
// pipeline collectors on reg.
func LoadWithMetrics(
	sdkStore types.Store, reg prometheus.Registerer,
) (Client, error) {
	return load(sdkStore, reg)
}

func load(sdkStore types.Store, reg prometheus.Registerer) (Client, error) {
	if sdkStore == nil {
		return nil, fmt.Errorf("missing sdk store")
	}

	cfgData, err := sdkStore.ConfigStore().GetData(context.Background())
	if err != nil {
		return nil, err
	}
	if cfgData == nil {
		return nil, ErrNotInitialized
	}

	nodeSvc, err := getClient(supportedClients, cfgData.ClientType, cfgData.NodeUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to setup node client: %s", err)
	}

	indexerSvc, err := getIndexer(cfgData.ClientType, cfgData.IndexerUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to setup indexer: %s", err)
	}

	proverSvc, err := getProver(cfgData.ClientType, cfgData.ProverUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to setup prover: %s", err)
	}

	walletSvc, err := getWallet(sdkStore.ConfigStore(), cfgData, supportedWallets)
	if err != nil {
		return nil, fmt.Errorf("failed to setup wallet: %s", err)
	}

	gloamClient := &gloamClient{
		Config:  cfgData,
		wallet:  walletSvc,
		store:   sdkStore,
		node:    nodeSvc,
		indexer: indexerSvc,
		prover:  proverSvc,
		metrics: reg,
	}
	if err := gloamClient.startPipeline(); err != nil {
		return nil, err
	}

	return gloamClient, nil
}

func (a *gloamClient) Init(ctx context.Context, args InitArgs) error {
	if a.Config != nil {
		return ErrAlreadyInitialized
	}
	if err := args.validate(); err != nil {
		return fmt.Errorf("invalid args: %s", err)
	}

	nodeSvc, err := getClient(supportedClients, args.ClientType, args.NodeUrl)
	if err != nil {
		return fmt.Errorf("failed to setup node client: %s", err)
	}

	info, err := nodeSvc.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to node: %s", err)
	}

	indexerSvc, err := getIndexer(args.ClientType, args.IndexerUrl)
	if err != nil {
		return fmt.Errorf("failed to setup indexer: %s", err)
	}

	proverSvc, err := getProver(args.ClientType, args.ProverUrl)
	if err != nil {
		return fmt.Errorf("failed to setup prover: %s", err)
	}

	network := utils.NetworkFromString(info.Network)

	pollInterval := args.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	submitMaxPolls := args.SubmitMaxPolls
	if submitMaxPolls <= 0 {
		submitMaxPolls = defaultSubmitMaxPolls
	}

	cfgData := types.Config{
		NodeUrl:             args.NodeUrl,
		IndexerUrl:          args.IndexerUrl,
		ProverUrl:           args.ProverUrl,
		WalletType:          args.WalletType,
		ClientType:          args.ClientType,
		Network:             network,
		DustChangeThreshold: info.DustChangeThreshold,
		DefaultTTL:          defaultTTL,
		PollInterval:        pollInterval,
		SubmitMaxPolls:      submitMaxPolls,
		WithTransactionFeed: args.WithTransactionFeed,
	}
	walletSvc, err := getWallet(a.store.ConfigStore(), &cfgData, supportedWallets)
	if err != nil {
		return err
	}

	if err := a.store.ConfigStore().AddData(ctx, cfgData); err != nil {
		return err
	}

	if _, err := walletSvc.Create(ctx, args.Password, args.Mnemonic); err != nil {
		//nolint:all
		a.store.ConfigStore().CleanData(ctx)
		return err
	}

	a.Config = &cfgData
	a.wallet = walletSvc
	a.node = nodeSvc
	a.indexer = indexerSvc
	a.prover = proverSvc

	return a.startPipeline()
}

func (a *gloamClient) startPipeline() error {
	engine, err := chainsync.NewEngine(chainsync.Config{
		Indexer:      a.indexer,
		Wallet:       a.wallet,
		TxStore:      a.store.TransactionStore(),
		CoinStore:    a.store.CoinStore(),
		PollInterval: a.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to setup chain sync: %s", err)
	}

	coord, err := coordinator.NewCoordinator(coordinator.Config{
		Node:                a.node,
		Indexer:             a.indexer,
		Prover:              a.prover,
		Snapshots:           engine,
		Approve:             a.approveDraft,
		TxStore:             a.store.TransactionStore(),
		CoinStore:           a.store.CoinStore(),
		DustChangeThreshold: a.DustChangeThreshold,
		DefaultTTL:          a.DefaultTTL,
		PollInterval:        a.PollInterval,
		MaxPolls:            a.SubmitMaxPolls,
		Metrics:             a.metrics,
	})
	if err != nil {
		engine.Stop()
		return fmt.Errorf("failed to setup coordinator: %s", err)
	}

	if err := engine.Start(); err != nil {
		coord.Stop()
		engine.Stop()
		return fmt.Errorf("failed to start chain sync: %s", err)
	}

	a.engine = engine
	a.coordinator = coord
	return nil
}

func (a *gloamClient) GetConfigData(_ context.Context) (*types.Config, error) {
	if a.Config == nil {
		return nil, ErrNotInitialized
	}
	return a.Config, nil
}

func (a *gloamClient) Unlock(ctx context.Context, password string) error {
	if a.wallet == nil {
		return fmt.Errorf("wallet not initialized")
	}
	_, err := a.wallet.Unlock(ctx, password)
	return err
}

func (a *gloamClient) Lock(ctx context.Context, password string) error {
	if a.wallet == nil {
		return fmt.Errorf("wallet not initialized")
	}
	return a.wallet.Lock(ctx, password)
}

func (a *gloamClient) IsLocked(_ context.Context) bool {
	if a.wallet == nil {
		return true
	}
	return a.wallet.IsLocked()
}

func (a *gloamClient) GetAddress(ctx context.Context) (string, error) {
	if a.wallet == nil {
		return "", fmt.Errorf("wallet not initialized")
	}
	return a.wallet.GetAddress(ctx)
}

func (a *gloamClient) Dump(ctx context.Context, password string) (string, error) {
	if a.wallet == nil {
		return "", fmt.Errorf("wallet not initialized")
	}
	return a.wallet.Dump(ctx, password)
}

// SetApproveHandler installs the callback consulted once per required
// signature. A nil handler approves everything.
func (a *gloamClient) SetApproveHandler(fn coordinator.ApproveFunc) {
	a.approveLock.Lock()
	defer a.approveLock.Unlock()

	a.approve = fn
}

func (a *gloamClient) approveDraft(draft types.Draft, input *types.FundedInput) bool {
	a.approveLock.RLock()
	fn := a.approve
	a.approveLock.RUnlock()

	if fn == nil {
		return true
	}
	return fn(draft, input)
}

func (a *gloamClient) WaitSynced(ctx context.Context) error {
	if a.engine == nil {
		return ErrNotInitialized
	}
	return a.engine.WaitSynced(ctx)
}

func (a *gloamClient) Balance(ctx context.Context) (*Balance, error) {
	if a.engine == nil {
		return nil, ErrNotInitialized
	}

	snapshot, ok := a.engine.Snapshot()
	if !ok {
		if err := a.engine.WaitSynced(ctx); err != nil {
			return nil, err
		}
		snapshot, _ = a.engine.Snapshot()
	}

	return &Balance{
		Ember:             snapshot.EmberBalance,
		Dust:              snapshot.DustBalance,
		UnregisteredEmber: snapshot.UnregisteredEmber,
		SpendableCoins:    len(snapshot.SpendableCoins),
		Height:            snapshot.Height,
	}, nil
}

func (a *gloamClient) DustStatus(ctx context.Context) (types.DustStatus, error) {
	if a.coordinator == nil {
		return types.DustStatus{}, ErrNotInitialized
	}
	return a.coordinator.DustStatus(ctx)
}

func (a *gloamClient) RegisterFees(
	ctx context.Context, units uint64,
) (types.Outcome, error) {
	args, err := json.Marshal(registerFeesArgs{Units: units})
	if err != nil {
		return types.Outcome{}, err
	}

	res, err := a.Execute(ctx, types.Operation{
		Kind: types.OperationRegisterFees,
		Args: args,
	})
	if err != nil {
		return types.Outcome{}, err
	}
	return *res.Outcome, nil
}

func (a *gloamClient) Deploy(
	ctx context.Context,
) (string, types.Outcome, error) {
	res, err := a.Execute(ctx, types.Operation{Kind: types.OperationDeploy})
	if err != nil {
		return "", types.Outcome{}, err
	}
	return res.ContractAddress, *res.Outcome, nil
}

func (a *gloamClient) Join(
	ctx context.Context, contractAddr string,
) (*CounterState, error) {
	res, err := a.Execute(ctx, types.Operation{
		Kind:            types.OperationJoin,
		ContractAddress: contractAddr,
	})
	if err != nil {
		return nil, err
	}
	return res.Counter, nil
}

func (a *gloamClient) Increment(
	ctx context.Context, contractAddr string,
) (types.Outcome, error) {
	res, err := a.Execute(ctx, types.Operation{
		Kind:            types.OperationInvoke,
		ContractAddress: contractAddr,
	})
	if err != nil {
		return types.Outcome{}, err
	}
	return *res.Outcome, nil
}

func (a *gloamClient) QueryCounter(
	ctx context.Context, contractAddr string,
) (*CounterState, error) {
	res, err := a.Execute(ctx, types.Operation{
		Kind:            types.OperationQuery,
		ContractAddress: contractAddr,
	})
	if err != nil {
		return nil, err
	}
	return res.Counter, nil
}

// Execute dispatches one operation. Deploy, Invoke and RegisterFees run
// the full lifecycle pipeline; Join and Query only hit the indexer.
func (a *gloamClient) Execute(
	ctx context.Context, op types.Operation,
) (*Result, error) {
	if a.Config == nil {
		return nil, ErrNotInitialized
	}

	switch op.Kind {
	case types.OperationDeploy:
		return a.deploy(ctx)
	case types.OperationJoin:
		return a.join(ctx, op.ContractAddress)
	case types.OperationInvoke:
		return a.invoke(ctx, op.ContractAddress)
	case types.OperationQuery:
		return a.query(ctx, op.ContractAddress)
	case types.OperationRegisterFees:
		return a.registerFees(ctx, op.Args)
	default:
		return nil, fmt.Errorf("unknown operation kind '%s'", op.Kind)
	}
}

func (a *gloamClient) deploy(ctx context.Context) (*Result, error) {
	if err := a.safeCheck(); err != nil {
		return nil, err
	}

	deployerKey, err := a.wallet.OwnerKey(ctx)
	if err != nil {
		return nil, err
	}

	draft, contractAddr, err := contract.NewDeployDraft(a.Network, deployerKey)
	if err != nil {
		return nil, err
	}

	outcome, err := a.coordinator.Run(ctx, a.wallet, draft, 0)
	if err != nil {
		return nil, err
	}

	if outcome.Status == types.OutcomeConfirmed {
		if err := a.setContractAddress(ctx, contractAddr); err != nil {
			log.WithError(err).Warn("failed to record deployed contract address")
		}
	}

	return &Result{Outcome: &outcome, ContractAddress: contractAddr}, nil
}

func (a *gloamClient) join(ctx context.Context, contractAddr string) (*Result, error) {
	if err := contract.ValidateAddress(a.Network, contractAddr); err != nil {
		return nil, err
	}

	state, err := a.indexer.GetContractState(ctx, contractAddr)
	if err != nil {
		return nil, fmt.Errorf("no counter found at %s: %s", contractAddr, err)
	}
	if state == nil {
		return nil, fmt.Errorf("no counter found at %s", contractAddr)
	}

	if err := a.setContractAddress(ctx, contractAddr); err != nil {
		return nil, err
	}

	return &Result{
		ContractAddress: contractAddr,
		Counter: &CounterState{
			ContractAddress: contractAddr,
			Value:           state.Value,
			Height:          state.Height,
		},
	}, nil
}

func (a *gloamClient) invoke(ctx context.Context, contractAddr string) (*Result, error) {
	if err := a.safeCheck(); err != nil {
		return nil, err
	}

	contractAddr, err := a.resolveContractAddress(contractAddr)
	if err != nil {
		return nil, err
	}

	draft, err := contract.NewIncrementDraft(a.Network, contractAddr)
	if err != nil {
		return nil, err
	}

	outcome, err := a.coordinator.Run(ctx, a.wallet, draft, 0)
	if err != nil {
		return nil, err
	}

	return &Result{Outcome: &outcome, ContractAddress: contractAddr}, nil
}

func (a *gloamClient) query(ctx context.Context, contractAddr string) (*Result, error) {
	contractAddr, err := a.resolveContractAddress(contractAddr)
	if err != nil {
		return nil, err
	}

	state, err := a.indexer.GetContractState(ctx, contractAddr)
	if err != nil {
		return nil, fmt.Errorf("no counter found at %s: %s", contractAddr, err)
	}
	if state == nil {
		return nil, fmt.Errorf("no counter found at %s", contractAddr)
	}

	return &Result{
		ContractAddress: contractAddr,
		Counter: &CounterState{
			ContractAddress: contractAddr,
			Value:           state.Value,
			Height:          state.Height,
		},
	}, nil
}

func (a *gloamClient) registerFees(
	ctx context.Context, rawArgs json.RawMessage,
) (*Result, error) {
	if err := a.safeCheck(); err != nil {
		return nil, err
	}

	args := registerFeesArgs{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, fmt.Errorf("invalid register args: %s", err)
		}
	}

	dustTag, err := a.wallet.DustTag(ctx)
	if err != nil {
		return nil, err
	}

	draft, err := contract.NewRegisterFeesDraft(args.Units, dustTag)
	if err != nil {
		return nil, err
	}

	outcome, err := a.coordinator.Run(ctx, a.wallet, draft, 0)
	if err != nil {
		return nil, err
	}

	return &Result{Outcome: &outcome}, nil
}

func (a *gloamClient) GetTransactionHistory(
	ctx context.Context,
) ([]types.Transaction, error) {
	if a.store == nil || a.store.TransactionStore() == nil {
		return nil, ErrNotInitialized
	}

	txs, err := a.store.TransactionStore().GetAllTransactions(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
	return txs, nil
}

func (a *gloamClient) GetTransactionEventChannel() chan types.TransactionEvent {
	if a.Config == nil || !a.WithTransactionFeed {
		return nil
	}
	if a.store != nil && a.store.TransactionStore() != nil {
		return a.store.TransactionStore().GetEventChannel()
	}
	return nil
}

func (a *gloamClient) GetOperationEventChannel() chan coordinator.OperationEvent {
	if a.coordinator == nil {
		return nil
	}
	return a.coordinator.Events()
}

func (a *gloamClient) GetSnapshotChannel() chan types.WalletSnapshot {
	if a.engine == nil {
		return nil
	}
	return a.engine.Snapshots()
}

func (a *gloamClient) Stop() {
	if a.coordinator != nil {
		a.coordinator.Stop()
	}
	if a.engine != nil {
		a.engine.Stop()
	}
	if a.node != nil {
		a.node.Close()
	}
	if a.indexer != nil {
		a.indexer.Close()
	}
	if a.prover != nil {
		a.prover.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *gloamClient) safeCheck() error {
	if a.wallet == nil || a.coordinator == nil {
		return fmt.Errorf("wallet not initialized")
	}
	if a.wallet.IsLocked() {
		return fmt.Errorf("wallet is locked")
	}
	return nil
}

func (a *gloamClient) resolveContractAddress(contractAddr string) (string, error) {
	if len(contractAddr) > 0 {
		return contractAddr, nil
	}
	if len(a.ContractAddress) > 0 {
		return a.ContractAddress, nil
	}
	return "", fmt.Errorf("no counter contract configured, deploy or join one first")
}

func (a *gloamClient) setContractAddress(ctx context.Context, contractAddr string) error {
	cfgData := *a.Config
	cfgData.ContractAddress = contractAddr
	if err := a.store.ConfigStore().AddData(ctx, cfgData); err != nil {
		return fmt.Errorf("failed to update config store: %s", err)
	}

	a.ContractAddress = contractAddr
	return nil
}

func getClient(
	supportedClients utils.SupportedType[utils.ClientFactory], clientType, nodeUrl string,
) (client.NodeClient, error) {
	factory := supportedClients[clientType]
	return factory(nodeUrl)
}

func getIndexer(clientType, indexerUrl string) (indexer.Indexer, error) {
	if clientType != RestClient {
		return nil, fmt.Errorf("invalid client type")
	}
	return restindexer.NewIndexer(indexerUrl)
}

func getProver(clientType, proverUrl string) (prover.ProvingService, error) {
	if clientType != RestClient {
		return nil, fmt.Errorf("invalid client type")
	}
	return restprover.NewProver(proverUrl)
}

func getWallet(
	configStore types.ConfigStore, data *types.Config,
	supportedWallets utils.SupportedType[struct{}],
) (wallet.WalletService, error) {
	switch data.WalletType {
	case wallet.SeedKeyWallet:
		return getSeedKeyWallet(configStore)
	default:
		return nil, fmt.Errorf(
			"unsupported wallet type '%s', please select one of: %s",
			data.WalletType, supportedWallets,
		)
	}
}

func getSeedKeyWallet(configStore types.ConfigStore) (wallet.WalletService, error) {
	walletStore, err := getWalletStore(configStore.GetType(), configStore.GetDatadir())
	if err != nil {
		return nil, err
	}

	return seedkeywallet.NewWalletService(configStore, walletStore)
}

func getWalletStore(storeType, datadir string) (walletstore.WalletStore, error) {
	switch storeType {
	case types.InMemoryStore:
		return inmemorystore.NewWalletStore()
	case types.FileStore:
		return filestore.NewWalletStore(datadir)
	default:
		return nil, fmt.Errorf("unknown wallet store type")
	}
}
