package filestore

import (
	"strconv"
	"time"

	"github.com/gloam-network/gloam/internal/utils"
	"github.com/gloam-network/gloam/types"
)

type storeData struct {
	NodeUrl             string `json:"node_url"`
	IndexerUrl          string `json:"indexer_url"`
	ProverUrl           string `json:"prover_url"`
	WalletType          string `json:"wallet_type"`
	ClientType          string `json:"client_type"`
	Network             string `json:"network"`
	DustChangeThreshold string `json:"dust_change_threshold"`
	DefaultTTL          string `json:"default_ttl"`
	PollInterval        string `json:"poll_interval"`
	SubmitMaxPolls      string `json:"submit_max_polls"`
	WithTransactionFeed string `json:"with_transaction_feed"`
	ContractAddress     string `json:"contract_address"`
}

func (d storeData) isEmpty() bool {
	return d.NodeUrl == "" && d.IndexerUrl == ""
}

func (d storeData) decode() types.Config {
	network := utils.NetworkFromString(d.Network)
	dustChangeThreshold, _ := strconv.Atoi(d.DustChangeThreshold)
	defaultTTL, _ := strconv.Atoi(d.DefaultTTL)
	pollInterval, _ := strconv.Atoi(d.PollInterval)
	submitMaxPolls, _ := strconv.Atoi(d.SubmitMaxPolls)
	withTransactionFeed, _ := strconv.ParseBool(d.WithTransactionFeed)

	return types.Config{
		NodeUrl:             d.NodeUrl,
		IndexerUrl:          d.IndexerUrl,
		ProverUrl:           d.ProverUrl,
		WalletType:          d.WalletType,
		ClientType:          d.ClientType,
		Network:             network,
		DustChangeThreshold: uint64(dustChangeThreshold),
		DefaultTTL:          time.Duration(defaultTTL) * time.Second,
		PollInterval:        time.Duration(pollInterval) * time.Second,
		SubmitMaxPolls:      submitMaxPolls,
		WithTransactionFeed: withTransactionFeed,
		ContractAddress:     d.ContractAddress,
	}
}

func (d storeData) asMap() map[string]string {
	return map[string]string{
		"node_url":              d.NodeUrl,
		"indexer_url":           d.IndexerUrl,
		"prover_url":            d.ProverUrl,
		"wallet_type":           d.WalletType,
		"client_type":           d.ClientType,
		"network":               d.Network,
		"dust_change_threshold": d.DustChangeThreshold,
		"default_ttl":           d.DefaultTTL,
		"poll_interval":         d.PollInterval,
		"submit_max_polls":      d.SubmitMaxPolls,
		"with_transaction_feed": d.WithTransactionFeed,
		"contract_address":      d.ContractAddress,
	}
}
