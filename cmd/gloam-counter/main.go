package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	gloam "github.com/gloam-network/gloam"
	"github.com/gloam-network/gloam/store"
	"github.com/gloam-network/gloam/types"
)

const datadirEnvVar = "GLOAM_WALLET_DATADIR"

var (
	version = "alpha"

	cntx = context.Background()
)

var (
	initCommand = cli.Command{
		Name:  "init",
		Usage: "Create a fresh wallet, encrypt it with a password and connect it to a node",
		Action: func(ctx *cli.Context) error {
			return initWallet(ctx, "")
		},
		Flags: []cli.Flag{
			&nodeUrlFlag, &indexerUrlFlag, &proverUrlFlag, &passwordFlag,
			&txFeedFlag,
		},
	}

	restoreCommand = cli.Command{
		Name:  "restore",
		Usage: "Restore a wallet from its recovery phrase",
		Action: func(ctx *cli.Context) error {
			return initWallet(ctx, ctx.String(mnemonicFlag.Name))
		},
		Flags: []cli.Flag{
			&mnemonicFlag, &nodeUrlFlag, &indexerUrlFlag, &proverUrlFlag,
			&passwordFlag, &txFeedFlag,
		},
	}

	addressCommand = cli.Command{
		Name:  "address",
		Usage: "Show the wallet's shielded address",
		Action: func(ctx *cli.Context) error {
			return address(ctx)
		},
	}

	balanceCommand = cli.Command{
		Name:  "balance",
		Usage: "Show the ember and dust balances of the wallet",
		Action: func(ctx *cli.Context) error {
			return balance(ctx)
		},
	}

	statusCommand = cli.Command{
		Name:  "status",
		Usage: "Show the fee posture of the wallet: dust balance and registrable ember",
		Action: func(ctx *cli.Context) error {
			return status(ctx)
		},
	}

	registerDustCommand = cli.Command{
		Name:  "register-dust",
		Usage: "Register ember units so they start generating dust for fees",
		Action: func(ctx *cli.Context) error {
			return registerDust(ctx)
		},
		Flags: []cli.Flag{&unitsFlag, &passwordFlag, &approveEachFlag},
	}

	deployCommand = cli.Command{
		Name:  "deploy",
		Usage: "Deploy a fresh counter contract and make it the wallet's current one",
		Action: func(ctx *cli.Context) error {
			return deploy(ctx)
		},
		Flags: []cli.Flag{&passwordFlag, &approveEachFlag},
	}

	joinCommand = cli.Command{
		Name:  "join",
		Usage: "Join an existing counter contract by address",
		Action: func(ctx *cli.Context) error {
			return join(ctx)
		},
		Flags: []cli.Flag{&contractAddressFlag},
	}

	incrementCommand = cli.Command{
		Name:  "increment",
		Usage: "Invoke the increment transition of the counter",
		Action: func(ctx *cli.Context) error {
			return increment(ctx)
		},
		Flags: []cli.Flag{&contractAddressFlag, &passwordFlag, &approveEachFlag},
	}

	queryCommand = cli.Command{
		Name:  "query",
		Usage: "Read the current value of the counter",
		Action: func(ctx *cli.Context) error {
			return query(ctx)
		},
		Flags: []cli.Flag{&contractAddressFlag},
	}

	historyCommand = cli.Command{
		Name:  "history",
		Usage: "List the wallet's transactions, newest first",
		Action: func(ctx *cli.Context) error {
			return history(ctx)
		},
	}

	configCommand = cli.Command{
		Name:  "config",
		Usage: "Show the wallet configuration",
		Action: func(ctx *cli.Context) error {
			return config(ctx)
		},
	}

	dumpCommand = cli.Command{
		Name:  "dump",
		Usage: "Dump the wallet's recovery phrase",
		Action: func(ctx *cli.Context) error {
			return dump(ctx)
		},
		Flags: []cli.Flag{&passwordFlag},
	}

	watchCommand = cli.Command{
		Name:  "watch",
		Usage: "Keep the wallet synchronized and serve Prometheus metrics until interrupted",
		Action: func(ctx *cli.Context) error {
			return watch(ctx)
		},
	}
)

var (
	datadirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "wallet data directory",
		Value:   btcutil.AppDataDir("gloam", false),
		EnvVars: []string{datadirEnvVar},
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "enable debug logs",
	}
	passwordFlag = cli.StringFlag{
		Name:   "password",
		Usage:  "password to unlock the wallet",
		Hidden: true,
	}
	nodeUrlFlag = cli.StringFlag{
		Name:     "node-url",
		Usage:    "url of the gloam node to connect to",
		Required: true,
	}
	indexerUrlFlag = cli.StringFlag{
		Name:     "indexer-url",
		Usage:    "url of the chain indexer",
		Required: true,
	}
	proverUrlFlag = cli.StringFlag{
		Name:     "prover-url",
		Usage:    "url of the proving service",
		Required: true,
	}
	mnemonicFlag = cli.StringFlag{
		Name:     "mnemonic",
		Usage:    "space separated recovery phrase",
		Required: true,
	}
	txFeedFlag = cli.BoolFlag{
		Name:  "with-transaction-feed",
		Usage: "expose the transaction event feed consumed by watch",
	}
	unitsFlag = cli.Uint64Flag{
		Name:     "units",
		Usage:    "amount of ember units to register",
		Required: true,
	}
	contractAddressFlag = cli.StringFlag{
		Name:  "address",
		Usage: "counter contract address, defaults to the wallet's current one",
	}
	approveEachFlag = cli.BoolFlag{
		Name:  "approve-each",
		Usage: "prompt for confirmation before every signature",
	}
)

func main() {
	app := cli.NewApp()

	app.Version = version
	app.Name = "gloam-counter"
	app.Usage = "privacy-preserving counter wallet"
	app.Commands = append(
		app.Commands,
		&initCommand,
		&restoreCommand,
		&addressCommand,
		&balanceCommand,
		&statusCommand,
		&registerDustCommand,
		&deployCommand,
		&joinCommand,
		&incrementCommand,
		&queryCommand,
		&historyCommand,
		&configCommand,
		&dumpCommand,
		&watchCommand,
	)
	app.Flags = []cli.Flag{
		datadirFlag,
		verboseFlag,
	}

	app.Before = func(ctx *cli.Context) error {
		if ctx.Bool(verboseFlag.Name) {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

func getSdkStore(datadir string) (types.Store, error) {
	return store.NewStore(store.Config{
		ConfigStoreType:  gloam.FileStore,
		AppDataStoreType: gloam.KVStore,
		BaseDir:          datadir,
	})
}

func getNewClient(ctx *cli.Context) (gloam.Client, error) {
	sdkStore, err := getSdkStore(ctx.String(datadirFlag.Name))
	if err != nil {
		return nil, err
	}
	return gloam.New(sdkStore)
}

func getClient(ctx *cli.Context) (gloam.Client, error) {
	sdkStore, err := getSdkStore(ctx.String(datadirFlag.Name))
	if err != nil {
		return nil, err
	}
	return gloam.Load(sdkStore)
}

func initWallet(ctx *cli.Context, mnemonic string) error {
	client, err := getNewClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	password, err := readPassword(ctx)
	if err != nil {
		return err
	}

	if err := client.Init(cntx, gloam.InitArgs{
		ClientType:          gloam.RestClient,
		WalletType:          gloam.SeedKeyWallet,
		NodeUrl:             ctx.String(nodeUrlFlag.Name),
		IndexerUrl:          ctx.String(indexerUrlFlag.Name),
		ProverUrl:           ctx.String(proverUrlFlag.Name),
		Mnemonic:            mnemonic,
		Password:            string(password),
		WithTransactionFeed: ctx.Bool(txFeedFlag.Name),
	}); err != nil {
		return err
	}

	if len(mnemonic) > 0 {
		return printJSON(map[string]interface{}{"restored": true})
	}

	phrase, err := client.Dump(cntx, string(password))
	if err != nil {
		return err
	}
	fmt.Println("write down the recovery phrase below, it is shown only once")
	return printJSON(map[string]interface{}{"mnemonic": phrase})
}

func address(ctx *cli.Context) error {
	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	addr, err := client.GetAddress(cntx)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"address": addr})
}

func balance(ctx *cli.Context) error {
	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	bal, err := client.Balance(cntx)
	if err != nil {
		return err
	}
	return printJSON(bal)
}

func status(ctx *cli.Context) error {
	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	if err := client.WaitSynced(cntx); err != nil {
		return err
	}
	dustStatus, err := client.DustStatus(cntx)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"fee_balance":                dustStatus.FeeBalance,
		"unregistered_funding_units": dustStatus.UnregisteredFundingUnits,
		"has_sufficient_fee":         dustStatus.HasSufficientFee,
	})
}

func registerDust(ctx *cli.Context) error {
	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	if err := unlockWallet(ctx, client); err != nil {
		return err
	}
	installApprover(ctx, client)

	if err := client.WaitSynced(cntx); err != nil {
		return err
	}
	outcome, err := client.RegisterFees(cntx, ctx.Uint64(unitsFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(outcome)
}

func deploy(ctx *cli.Context) error {
	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	if err := unlockWallet(ctx, client); err != nil {
		return err
	}
	installApprover(ctx, client)

	if err := client.WaitSynced(cntx); err != nil {
		return err
	}
	contractAddr, outcome, err := client.Deploy(cntx)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"contract_address": contractAddr,
		"outcome":          outcome,
	})
}

func join(ctx *cli.Context) error {
	contractAddr := ctx.String(contractAddressFlag.Name)
	if len(contractAddr) == 0 {
		return fmt.Errorf("missing contract address, use --address")
	}

	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	state, err := client.Join(cntx, contractAddr)
	if err != nil {
		return err
	}
	return printJSON(state)
}

func increment(ctx *cli.Context) error {
	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	if err := unlockWallet(ctx, client); err != nil {
		return err
	}
	installApprover(ctx, client)

	if err := client.WaitSynced(cntx); err != nil {
		return err
	}
	outcome, err := client.Increment(cntx, ctx.String(contractAddressFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(outcome)
}

func query(ctx *cli.Context) error {
	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	state, err := client.QueryCounter(cntx, ctx.String(contractAddressFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(state)
}

func history(ctx *cli.Context) error {
	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	txs, err := client.GetTransactionHistory(cntx)
	if err != nil {
		return err
	}
	return printJSON(txs)
}

func config(ctx *cli.Context) error {
	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	cfgData, err := client.GetConfigData(cntx)
	if err != nil {
		return err
	}
	return printJSON(cfgData)
}

func dump(ctx *cli.Context) error {
	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	password, err := readPassword(ctx)
	if err != nil {
		return err
	}
	phrase, err := client.Dump(cntx, string(password))
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"mnemonic": phrase})
}

// Environment keys read by the watch daemon, prefixed with GLOAM_.
var (
	envDatadir      = "DATADIR"
	envMetricsAddr  = "METRICS_ADDR"
	envPollInterval = "POLL_INTERVAL"
)

func watch(ctx *cli.Context) error {
	viper.SetEnvPrefix("GLOAM")
	viper.AutomaticEnv()
	viper.SetDefault(envDatadir, ctx.String(datadirFlag.Name))
	viper.SetDefault(envMetricsAddr, ":9090")

	sdkStore, err := getSdkStore(viper.GetString(envDatadir))
	if err != nil {
		return err
	}

	if pollInterval := viper.GetDuration(envPollInterval); pollInterval > 0 {
		configStore := sdkStore.ConfigStore()
		cfgData, err := configStore.GetData(cntx)
		if err != nil {
			return err
		}
		if cfgData == nil {
			return gloam.ErrNotInitialized
		}
		cfgData.PollInterval = pollInterval
		if err := configStore.AddData(cntx, *cfgData); err != nil {
			return err
		}
		log.Infof("poll interval set to %s", pollInterval)
	}

	registry := prometheus.NewRegistry()
	client, err := gloam.LoadWithMetrics(sdkStore, registry)
	if err != nil {
		return err
	}
	log.RegisterExitHandler(client.Stop)

	metricsAddr := viper.GetString(envMetricsAddr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.WithError(err).Fatal("metrics server exited")
		}
	}()
	log.Infof("serving metrics on %s/metrics", metricsAddr)

	go func() {
		for event := range client.GetOperationEventChannel() {
			log.Infof(
				"operation %s entered stage %s", event.OperationID, event.Stage,
			)
		}
	}()
	go func() {
		for snapshot := range client.GetSnapshotChannel() {
			log.Debugf(
				"wallet snapshot: height %d, %d ember, %d dust",
				snapshot.Height, snapshot.EmberBalance, snapshot.DustBalance,
			)
		}
	}()
	if txFeed := client.GetTransactionEventChannel(); txFeed != nil {
		go func() {
			for event := range txFeed {
				log.Infof("%s: %d transaction(s)", event.Type, len(event.Txs))
			}
		}()
	}

	log.Info("watching wallet, press ctrl-c to stop...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down...")
	log.Exit(0)
	return nil
}

func unlockWallet(ctx *cli.Context, client gloam.Client) error {
	password, err := readPassword(ctx)
	if err != nil {
		return err
	}
	return client.Unlock(cntx, string(password))
}

func installApprover(ctx *cli.Context, client gloam.Client) {
	if !ctx.Bool(approveEachFlag.Name) {
		return
	}
	client.SetApproveHandler(promptApprove)
}

func promptApprove(draft types.Draft, input *types.FundedInput) bool {
	if input != nil {
		fmt.Printf(
			"sign spend of coin %s (%d ember) for the %s transaction? [y/N] ",
			input.Coin.Commitment, input.Coin.Value, draft.Kind,
		)
	} else {
		fmt.Printf("sign the %s transaction? [y/N] ", draft.Kind)
	}

	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func readPassword(ctx *cli.Context) ([]byte, error) {
	password := []byte(ctx.String(passwordFlag.Name))

	if len(password) == 0 {
		fmt.Print("unlock your wallet with password: ")
		var err error
		password, err = term.ReadPassword(syscall.Stdin)
		fmt.Println() // new line
		if err != nil {
			return nil, err
		}
	}

	return password, nil
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}

	fmt.Println(string(jsonBytes))
	return nil
}
