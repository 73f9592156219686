package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gloam-network/gloam/common"
)

const (
	InMemoryStore = "inmemory"
	FileStore     = "file"
	KVStore       = "kv"
	SQLStore      = "sql"
)

type Config struct {
	NodeUrl             string
	IndexerUrl          string
	ProverUrl           string
	WalletType          string
	ClientType          string
	Network             common.Network
	DustChangeThreshold uint64
	DefaultTTL          time.Duration
	PollInterval        time.Duration
	SubmitMaxPolls      int
	WithTransactionFeed bool
	// ContractAddress is the counter the wallet currently operates on,
	// recorded by a deploy or an explicit join.
	ContractAddress string
}

type OperationKind string

const (
	OperationDeploy       OperationKind = "deploy"
	OperationJoin         OperationKind = "join"
	OperationInvoke       OperationKind = "invoke"
	OperationQuery        OperationKind = "query"
	OperationRegisterFees OperationKind = "register_fees"
)

// Operation is a logical user request. Deploy, Invoke and RegisterFees
// produce a draft transaction; Join and Query are read-only.
type Operation struct {
	Kind            OperationKind
	ContractAddress string
	Circuit         string
	Args            json.RawMessage
	Outputs         []Output
}

func (o Operation) IsReadOnly() bool {
	return o.Kind == OperationJoin || o.Kind == OperationQuery
}

type Output struct {
	Address string
	Amount  uint64
}

// Draft is an unsigned transaction intent. It is immutable once built:
// accessors return copies so a draft handed to the pipeline cannot be
// changed underneath it.
type Draft struct {
	Kind            OperationKind
	ContractAddress string
	Circuit         string
	Args            json.RawMessage
	Outputs         []Output
	Nonce           string
	CreatedAt       time.Time
}

func (d Draft) RequiredValue() uint64 {
	var total uint64
	for _, out := range d.Outputs {
		total += out.Amount
	}
	return total
}

func (d Draft) Copy() Draft {
	cp := d
	cp.Args = append(json.RawMessage{}, d.Args...)
	cp.Outputs = append([]Output{}, d.Outputs...)
	return cp
}

type CoinKey struct {
	Commitment string
}

func (k CoinKey) String() string {
	return k.Commitment
}

// Coin is a shielded note owned by the wallet. The commitment identifies
// it on the ledger; rho and r are the randomness needed to spend it.
type Coin struct {
	CoinKey
	Value     uint64
	Rho       string
	R         string
	OwnerKey  string
	Height    uint64
	CreatedAt time.Time
	SpentBy   string
	Spent     bool
}

type FundedInput struct {
	Coin
	Nullifier string
}

// FundedTx is a draft with inputs selected, fee allocated and the proof
// artifact attached. Valid until ExpiresAt; after that it must be rebuilt,
// never resubmitted.
type FundedTx struct {
	Draft     Draft
	Inputs    []FundedInput
	Change    *Output
	Fee       uint64
	Proof     []byte
	ExpiresAt time.Time
}

func (t FundedTx) InputValue() uint64 {
	var total uint64
	for _, in := range t.Inputs {
		total += in.Value
	}
	return total
}

func (t FundedTx) OutputValue() uint64 {
	total := t.Draft.RequiredValue()
	if t.Change != nil {
		total += t.Change.Amount
	}
	return total
}

func (t FundedTx) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

type Signature struct {
	PublicKey string
	Value     string
}

// FinalizedTx carries the complete signature set over the funded
// transaction body. TxID is stable for identical bodies.
type FinalizedTx struct {
	FundedTx
	TxID       string
	Signatures []Signature
}

type OutcomeStatus string

const (
	OutcomeConfirmed OutcomeStatus = "confirmed"
	OutcomeRejected  OutcomeStatus = "rejected"
	OutcomeTimedOut  OutcomeStatus = "timed_out"
)

// Outcome is the terminal result of one submission attempt. TimedOut means
// the transaction fate is unknown: re-check wallet state before retrying.
type Outcome struct {
	Status      OutcomeStatus
	TxID        string
	BlockHeight uint64
	Reason      string
}

func (o Outcome) String() string {
	buf, _ := json.MarshalIndent(o, "", "  ")
	return string(buf)
}

type DustStatus struct {
	FeeBalance               uint64
	UnregisteredFundingUnits uint64
	HasSufficientFee         bool
}

// WalletSnapshot is one synchronized view of the wallet emitted by the
// state stream. Consumers must always take the latest snapshot.
type WalletSnapshot struct {
	Synced            bool
	Height            uint64
	EmberBalance      uint64
	DustBalance       uint64
	UnregisteredEmber uint64
	SpendableCoins    []Coin
	UpdatedAt         time.Time
}

type TransactionKey struct {
	TxID string
}

func (t TransactionKey) String() string {
	return t.TxID
}

type Transaction struct {
	TransactionKey
	Kind            OperationKind
	ContractAddress string
	Amount          uint64
	Fee             uint64
	Settled         bool
	Height          uint64
	CreatedAt       time.Time
}

func (t Transaction) String() string {
	buf, _ := json.MarshalIndent(t, "", "  ")
	return string(buf)
}

type TxEventType int

const (
	TxsAdded TxEventType = iota
	TxsSettled
	TxsUpdated
)

func (e TxEventType) String() string {
	return map[TxEventType]string{
		TxsAdded:   "TXS_ADDED",
		TxsSettled: "TXS_SETTLED",
		TxsUpdated: "TXS_UPDATED",
	}[e]
}

type TransactionEvent struct {
	Type TxEventType
	Txs  []Transaction
}

type CoinEventType int

const (
	CoinsAdded CoinEventType = iota
	CoinsSpent
	CoinsUpdated
)

func (e CoinEventType) String() string {
	return map[CoinEventType]string{
		CoinsAdded:   "COINS_ADDED",
		CoinsSpent:   "COINS_SPENT",
		CoinsUpdated: "COINS_UPDATED",
	}[e]
}

type CoinEvent struct {
	Type  CoinEventType
	Coins []Coin
}

func (c Config) Validate() error {
	if c.NodeUrl == "" {
		return fmt.Errorf("missing node url")
	}
	if c.IndexerUrl == "" {
		return fmt.Errorf("missing indexer url")
	}
	if c.Network.Name == "" {
		return fmt.Errorf("missing network")
	}
	return nil
}
