// Package vote layers an anonymous yes/no/abstain ballot on top of the
// counter contract. One election is three independent counters, one per
// choice; one ballot is one increment on the chosen counter. Nothing on
// chain ties a ballot to a voter or to the other counters.
package vote

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	gloam "github.com/gloam-network/gloam"
	"github.com/gloam-network/gloam/contract"
	"github.com/gloam-network/gloam/types"
)

// WalletClient is the slice of the SDK client the voting flows drive.
type WalletClient interface {
	GetConfigData(ctx context.Context) (*types.Config, error)
	Deploy(ctx context.Context) (string, types.Outcome, error)
	Increment(ctx context.Context, contractAddr string) (types.Outcome, error)
	QueryCounter(ctx context.Context, contractAddr string) (*gloam.CounterState, error)
}

// Tally aggregates the three counter readings of one election. Height is
// the highest indexer height observed across the three queries.
type Tally struct {
	ElectionID string `json:"electionId"`
	Title      string `json:"title"`
	Yes        uint64 `json:"yes"`
	No         uint64 `json:"no"`
	Abstain    uint64 `json:"abstain"`
	Total      uint64 `json:"total"`
	Height     uint64 `json:"height"`
}

// Service runs elections over a wallet client and keeps their manifests
// on disk.
type Service struct {
	client    WalletClient
	manifests *manifestStore
}

// NewService returns a voting service storing election manifests under
// datadir.
func NewService(client WalletClient, datadir string) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("missing wallet client")
	}
	manifests, err := newManifestStore(filepath.Join(datadir, "elections"))
	if err != nil {
		return nil, err
	}
	return &Service{client: client, manifests: manifests}, nil
}

// NewElection deploys one counter per choice and stores the resulting
// manifest. The deployments run sequentially through the full transaction
// pipeline; a failure aborts the election and leaves any already deployed
// counters unused.
func (s *Service) NewElection(
	ctx context.Context, title string,
) (*Election, error) {
	if len(strings.TrimSpace(title)) == 0 {
		return nil, fmt.Errorf("missing election title")
	}

	cfgData, err := s.client.GetConfigData(ctx)
	if err != nil {
		return nil, err
	}

	counters := Counters{}
	for _, choice := range Choices {
		addr, outcome, err := s.client.Deploy(ctx)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to deploy '%s' counter: %s", choice, err,
			)
		}
		log.Debugf(
			"deployed '%s' counter at %s in tx %s", choice, addr, outcome.TxID,
		)
		switch choice {
		case ChoiceYes:
			counters.Yes = addr
		case ChoiceNo:
			counters.No = addr
		case ChoiceAbstain:
			counters.Abstain = addr
		}
	}

	election := &Election{
		ID:        uuid.New().String(),
		Title:     strings.TrimSpace(title),
		Network:   cfgData.Network.Name,
		Counters:  counters,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.manifests.save(*election); err != nil {
		return nil, err
	}

	log.Infof("created election '%s' (%s)", election.Title, election.ID)
	return election, nil
}

// JoinElection decodes a share code, checks that every counter exists on
// the wallet's network and stores the manifest locally.
func (s *Service) JoinElection(
	ctx context.Context, shareCode string,
) (*Election, error) {
	election, err := ElectionFromShareCode(shareCode)
	if err != nil {
		return nil, err
	}

	cfgData, err := s.client.GetConfigData(ctx)
	if err != nil {
		return nil, err
	}
	if election.Network != cfgData.Network.Name {
		return nil, fmt.Errorf(
			"election '%s' lives on network '%s', wallet is on '%s'",
			election.Title, election.Network, cfgData.Network.Name,
		)
	}

	for _, choice := range Choices {
		addr := election.Counters.ForChoice(choice)
		if err := contract.ValidateAddress(cfgData.Network, addr); err != nil {
			return nil, fmt.Errorf("'%s' counter: %s", choice, err)
		}
		if _, err := s.client.QueryCounter(ctx, addr); err != nil {
			return nil, fmt.Errorf(
				"cannot verify '%s' counter: %s", choice, err,
			)
		}
	}

	if err := s.manifests.save(*election); err != nil {
		return nil, err
	}

	log.Infof("joined election '%s' (%s)", election.Title, election.ID)
	return election, nil
}

// Vote casts one ballot: a single increment on the counter collecting the
// given choice.
func (s *Service) Vote(
	ctx context.Context, electionID, choice string,
) (types.Outcome, error) {
	if !slices.Contains(Choices, choice) {
		return types.Outcome{}, fmt.Errorf(
			"invalid choice '%s', pick one of: %s",
			choice, strings.Join(Choices, ", "),
		)
	}

	election, err := s.manifests.get(electionID)
	if err != nil {
		return types.Outcome{}, err
	}

	return s.client.Increment(ctx, election.Counters.ForChoice(choice))
}

// Tally reads all three counters of an election and aggregates them.
func (s *Service) Tally(ctx context.Context, electionID string) (*Tally, error) {
	election, err := s.manifests.get(electionID)
	if err != nil {
		return nil, err
	}

	tally := &Tally{ElectionID: election.ID, Title: election.Title}
	for _, choice := range Choices {
		state, err := s.client.QueryCounter(
			ctx, election.Counters.ForChoice(choice),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to read '%s' counter: %s", choice, err)
		}
		switch choice {
		case ChoiceYes:
			tally.Yes = state.Value
		case ChoiceNo:
			tally.No = state.Value
		case ChoiceAbstain:
			tally.Abstain = state.Value
		}
		tally.Total += state.Value
		if state.Height > tally.Height {
			tally.Height = state.Height
		}
	}
	return tally, nil
}

// Elections returns the locally stored election manifests, newest first.
func (s *Service) Elections() ([]Election, error) {
	return s.manifests.list()
}
