package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/btcsuite/btcd/btcutil"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	gloam "github.com/gloam-network/gloam"
	"github.com/gloam-network/gloam/store"
	"github.com/gloam-network/gloam/types"
	"github.com/gloam-network/gloam/vote"
)

const datadirEnvVar = "GLOAM_VOTE_DATADIR"

var (
	version = "alpha"

	cntx = context.Background()
)

var (
	initCommand = cli.Command{
		Name:  "init",
		Usage: "Create or restore the voting wallet and connect it to a node",
		Action: func(ctx *cli.Context) error {
			return initWallet(ctx)
		},
		Flags: []cli.Flag{
			&nodeUrlFlag, &indexerUrlFlag, &proverUrlFlag, &mnemonicFlag,
			&passwordFlag,
		},
	}

	newElectionCommand = cli.Command{
		Name:  "new-election",
		Usage: "Deploy the three counters of a fresh election and print its share code",
		Action: func(ctx *cli.Context) error {
			return newElection(ctx)
		},
		Flags: []cli.Flag{&titleFlag, &passwordFlag},
	}

	joinElectionCommand = cli.Command{
		Name:  "join-election",
		Usage: "Join an election from a share code",
		Action: func(ctx *cli.Context) error {
			return joinElection(ctx)
		},
		Flags: []cli.Flag{&codeFlag},
	}

	voteCommand = cli.Command{
		Name:  "vote",
		Usage: "Cast one anonymous ballot in an election",
		Action: func(ctx *cli.Context) error {
			return castVote(ctx)
		},
		Flags: []cli.Flag{&electionFlag, &choiceFlag, &passwordFlag},
	}

	tallyCommand = cli.Command{
		Name:  "tally",
		Usage: "Read the current result of an election",
		Action: func(ctx *cli.Context) error {
			return tally(ctx)
		},
		Flags: []cli.Flag{&electionFlag},
	}

	electionsCommand = cli.Command{
		Name:  "elections",
		Usage: "List the locally known elections, newest first",
		Action: func(ctx *cli.Context) error {
			return elections(ctx)
		},
	}
)

var (
	datadirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "voting wallet data directory",
		Value:   btcutil.AppDataDir("gloam-vote", false),
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
		Name:  "mnemonic",
		Usage: "optional recovery phrase to restore an existing wallet",
	}
	titleFlag = cli.StringFlag{
		Name:     "title",
		Usage:    "title of the election",
		Required: true,
	}
	codeFlag = cli.StringFlag{
		Name:     "code",
		Usage:    "share code of the election to join",
		Required: true,
	}
	electionFlag = cli.StringFlag{
		Name:     "election",
		Usage:    "id of the election",
		Required: true,
	}
	choiceFlag = cli.StringFlag{
		Name:     "choice",
		Usage:    "ballot choice: yes, no or abstain",
		Required: true,
	}
)

func main() {
	app := cli.NewApp()

	app.Version = version
	app.Name = "gloam-vote"
	app.Usage = "anonymous voting over counter contracts"
	app.Commands = append(
		app.Commands,
		&initCommand,
		&newElectionCommand,
		&joinElectionCommand,
		&voteCommand,
		&tallyCommand,
		&electionsCommand,
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

func getVoteService(ctx *cli.Context) (gloam.Client, *vote.Service, error) {
	sdkStore, err := getSdkStore(ctx.String(datadirFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	client, err := gloam.Load(sdkStore)
	if err != nil {
		return nil, nil, err
	}
	svc, err := vote.NewService(client, ctx.String(datadirFlag.Name))
	if err != nil {
		client.Stop()
		return nil, nil, err
	}
	return client, svc, nil
}

func initWallet(ctx *cli.Context) error {
	sdkStore, err := getSdkStore(ctx.String(datadirFlag.Name))
	if err != nil {
		return err
	}
	client, err := gloam.New(sdkStore)
	if err != nil {
		return err
	}
	defer client.Stop()

	password, err := readPassword(ctx)
	if err != nil {
		return err
	}

	mnemonic := ctx.String(mnemonicFlag.Name)
	if err := client.Init(cntx, gloam.InitArgs{
		ClientType: gloam.RestClient,
		WalletType: gloam.SeedKeyWallet,
		NodeUrl:    ctx.String(nodeUrlFlag.Name),
		IndexerUrl: ctx.String(indexerUrlFlag.Name),
		ProverUrl:  ctx.String(proverUrlFlag.Name),
		Mnemonic:   mnemonic,
		Password:   string(password),
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

func newElection(ctx *cli.Context) error {
	client, svc, err := getVoteService(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	if err := unlockWallet(ctx, client); err != nil {
		return err
	}
	if err := client.WaitSynced(cntx); err != nil {
		return err
	}

	election, err := svc.NewElection(cntx, ctx.String(titleFlag.Name))
	if err != nil {
		return err
	}
	code, err := election.ShareCode()
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"election":   election,
		"share_code": code,
	})
}

func joinElection(ctx *cli.Context) error {
	client, svc, err := getVoteService(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	election, err := svc.JoinElection(cntx, ctx.String(codeFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(election)
}

func castVote(ctx *cli.Context) error {
	client, svc, err := getVoteService(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	if err := unlockWallet(ctx, client); err != nil {
		return err
	}
	if err := client.WaitSynced(cntx); err != nil {
		return err
	}

	outcome, err := svc.Vote(
		cntx, ctx.String(electionFlag.Name), ctx.String(choiceFlag.Name),
	)
	if err != nil {
		return err
	}
	return printJSON(outcome)
}

func tally(ctx *cli.Context) error {
	client, svc, err := getVoteService(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	result, err := svc.Tally(cntx, ctx.String(electionFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(result)
}

func elections(ctx *cli.Context) error {
	client, svc, err := getVoteService(ctx)
	if err != nil {
		return err
	}
	defer client.Stop()

	stored, err := svc.Elections()
	if err != nil {
		return err
	}

	type listedElection struct {
		vote.Election
		ShareCode string `json:"shareCode"`
	}
	listed := make([]listedElection, 0, len(stored))
	for _, election := range stored {
		code, err := election.ShareCode()
		if err != nil {
			return err
		}
		listed = append(listed, listedElection{Election: election, ShareCode: code})
	}
	return printJSON(listed)
}

func unlockWallet(ctx *cli.Context, client gloam.Client) error {
	password, err := readPassword(ctx)
	if err != nil {
		return err
	}
	return client.Unlock(cntx, string(password))
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
