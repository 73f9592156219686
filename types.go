package gloam

import (
	"fmt"
	"time"

	restclient "github.com/gloam-network/gloam/client/rest"
	"github.com/gloam-network/gloam/internal/utils"
	"github.com/gloam-network/gloam/types"
)

var (
	supportedWallets = utils.SupportedType[struct{}]{
		SeedKeyWallet: struct{}{},
	}
	supportedClients = utils.SupportedType[utils.ClientFactory]{
		RestClient: restclient.NewClient,
	}
)

type InitArgs struct {
	ClientType          string
	WalletType          string
	NodeUrl             string
	IndexerUrl          string
	ProverUrl           string
	Mnemonic            string
	Password            string
	WithTransactionFeed bool
	// PollInterval and SubmitMaxPolls tune sync and confirmation polling.
	// Zero values fall back to the defaults.
	PollInterval   time.Duration
	SubmitMaxPolls int
}

func (a InitArgs) validate() error {
	if len(a.WalletType) <= 0 {
		return fmt.Errorf("missing wallet type")
	}
	if !supportedWallets.Supports(a.WalletType) {
		return fmt.Errorf(
			"wallet type '%s' not supported, please select one of: %s",
			a.WalletType, supportedWallets,
		)
	}

	if len(a.ClientType) <= 0 {
		return fmt.Errorf("missing client type")
	}
	if !supportedClients.Supports(a.ClientType) {
		return fmt.Errorf(
			"client type '%s' not supported, please select one of: %s",
			a.ClientType, supportedClients,
		)
	}

	if len(a.NodeUrl) <= 0 {
		return fmt.Errorf("missing node url")
	}
	if len(a.IndexerUrl) <= 0 {
		return fmt.Errorf("missing indexer url")
	}
	if len(a.ProverUrl) <= 0 {
		return fmt.Errorf("missing prover url")
	}
	if len(a.Password) <= 0 {
		return fmt.Errorf("missing password")
	}
	return nil
}

type Balance struct {
	Ember             uint64 `json:"ember"`
	Dust              uint64 `json:"dust"`
	UnregisteredEmber uint64 `json:"unregistered_ember"`
	SpendableCoins    int    `json:"spendable_coins"`
	Height            uint64 `json:"height"`
}

type CounterState struct {
	ContractAddress string `json:"contract_address"`
	Value           uint64 `json:"value"`
	Height          uint64 `json:"height"`
}

// Result is the output of a dispatched operation. Outcome is set for
// pipeline operations, Counter for read-only ones.
type Result struct {
	Outcome         *types.Outcome `json:"outcome,omitempty"`
	ContractAddress string         `json:"contract_address,omitempty"`
	Counter         *CounterState  `json:"counter,omitempty"`
}

type registerFeesArgs struct {
	Units uint64 `json:"units"`
}
