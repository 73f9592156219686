package vote

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"
)

const (
	shareCodeHRP = "gvote"
	checksumSize = 4
)

const (
	ChoiceYes     = "yes"
	ChoiceNo      = "no"
	ChoiceAbstain = "abstain"
)

// Choices lists the valid ballot choices, in manifest order.
var Choices = []string{ChoiceYes, ChoiceNo, ChoiceAbstain}

// Counters holds the counter contract collecting ballots for each choice.
type Counters struct {
	Yes     string `yaml:"yes" json:"yes"`
	No      string `yaml:"no" json:"no"`
	Abstain string `yaml:"abstain" json:"abstain"`
}

// ForChoice returns the counter address collecting ballots for choice, or
// an empty string for an unknown choice.
func (c Counters) ForChoice(choice string) string {
	switch choice {
	case ChoiceYes:
		return c.Yes
	case ChoiceNo:
		return c.No
	case ChoiceAbstain:
		return c.Abstain
	}
	return ""
}

// Election is the shareable manifest of one ballot: three independent
// counter contracts, one per choice, on a single network.
type Election struct {
	ID        string    `yaml:"id" json:"id"`
	Title     string    `yaml:"title" json:"title"`
	Network   string    `yaml:"network" json:"network"`
	Counters  Counters  `yaml:"counters" json:"counters"`
	CreatedAt time.Time `yaml:"created-at" json:"createdAt"`
}

func (e Election) Validate() error {
	if len(e.ID) == 0 {
		return fmt.Errorf("missing election id")
	}
	if len(e.Title) == 0 {
		return fmt.Errorf("missing election title")
	}
	if len(e.Network) == 0 {
		return fmt.Errorf("missing election network")
	}
	for _, choice := range Choices {
		if len(e.Counters.ForChoice(choice)) == 0 {
			return fmt.Errorf("missing '%s' counter address", choice)
		}
	}
	return nil
}

// ShareCode encodes the manifest for out-of-band distribution: the YAML
// payload followed by a 4 byte double-SHA256 checksum, base58 wrapped
// under a human-readable prefix.
func (e Election) ShareCode() (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	payload, err := yaml.Marshal(e)
	if err != nil {
		return "", err
	}
	checksum := chainhash.DoubleHashB(payload)[:checksumSize]
	return shareCodeHRP + base58.Encode(append(payload, checksum...)), nil
}

// ElectionFromShareCode decodes and verifies a share code produced by
// ShareCode.
func ElectionFromShareCode(code string) (*Election, error) {
	if !strings.HasPrefix(code, shareCodeHRP) {
		return nil, fmt.Errorf(
			"invalid share code: expected '%s' prefix", shareCodeHRP,
		)
	}

	decoded, err := base58.Decode(strings.TrimPrefix(code, shareCodeHRP))
	if err != nil {
		return nil, fmt.Errorf("invalid share code: %s", err)
	}
	if len(decoded) <= checksumSize {
		return nil, fmt.Errorf("invalid share code: too short")
	}

	payload := decoded[:len(decoded)-checksumSize]
	checksum := decoded[len(decoded)-checksumSize:]
	expected := chainhash.DoubleHashB(payload)[:checksumSize]
	if !bytes.Equal(checksum, expected) {
		return nil, fmt.Errorf("invalid share code: checksum mismatch")
	}

	election := &Election{}
	if err := yaml.Unmarshal(payload, election); err != nil {
		return nil, fmt.Errorf("invalid share code: %s", err)
	}
	if err := election.Validate(); err != nil {
		return nil, fmt.Errorf("invalid share code: %s", err)
	}
	return election, nil
}
