package contract

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gloam-network/gloam/common"
	"github.com/gloam-network/gloam/types"
)

const (
	CircuitDeploy    = "counter_deploy"
	CircuitIncrement = "counter_increment"
	CircuitRegister  = "dust_register"
)

var ErrInvalidAddress = fmt.Errorf("invalid contract address")

type deployArgs struct {
	InitialValue uint64 `json:"initialValue"`
	Nonce        string `json:"nonce"`
}

// NewDeployDraft builds the draft deploying a fresh counter with value 0.
// The returned address is derived from the deployer key and a one-time
// nonce, so deploying twice never collides.
func NewDeployDraft(
	net common.Network, deployerKey []byte,
) (types.Draft, string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return types.Draft{}, "", err
	}

	id := ContractID(deployerKey, nonce)
	addr, err := common.EncodeContractAddress(net.ContractAddr, id)
	if err != nil {
		return types.Draft{}, "", err
	}

	args, err := json.Marshal(deployArgs{
		InitialValue: 0,
		Nonce:        hex.EncodeToString(nonce),
	})
	if err != nil {
		return types.Draft{}, "", err
	}

	draft := types.Draft{
		Kind:            types.OperationDeploy,
		ContractAddress: addr,
		Circuit:         CircuitDeploy,
		Args:            args,
		Nonce:           hex.EncodeToString(nonce),
		CreatedAt:       time.Now(),
	}
	return draft, addr, nil
}

// NewIncrementDraft builds the draft invoking the increment transition on
// an existing counter.
func NewIncrementDraft(net common.Network, address string) (types.Draft, error) {
	if err := ValidateAddress(net, address); err != nil {
		return types.Draft{}, err
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return types.Draft{}, err
	}

	return types.Draft{
		Kind:            types.OperationInvoke,
		ContractAddress: address,
		Circuit:         CircuitIncrement,
		Nonce:           hex.EncodeToString(nonce),
		CreatedAt:       time.Now(),
	}, nil
}

type registerArgs struct {
	Units   uint64 `json:"units"`
	DustTag string `json:"dustTag"`
}

// NewRegisterFeesDraft builds the draft registering unregistered ember for
// dust generation. dustTag is the wallet's dust account tag: the chain
// accrues the generated dust under it.
func NewRegisterFeesDraft(units uint64, dustTag string) (types.Draft, error) {
	if units == 0 {
		return types.Draft{}, fmt.Errorf("nothing to register")
	}
	if len(dustTag) == 0 {
		return types.Draft{}, fmt.Errorf("missing dust account tag")
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return types.Draft{}, err
	}

	args, err := json.Marshal(registerArgs{Units: units, DustTag: dustTag})
	if err != nil {
		return types.Draft{}, err
	}

	return types.Draft{
		Kind:      types.OperationRegisterFees,
		Circuit:   CircuitRegister,
		Args:      args,
		Nonce:     hex.EncodeToString(nonce),
		CreatedAt: time.Now(),
	}, nil
}

// ValidateAddress checks that an address is a well-formed contract address
// for the given network.
func ValidateAddress(net common.Network, address string) error {
	hrp, _, err := common.DecodeContractAddress(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, err)
	}
	if hrp != net.ContractAddr {
		return fmt.Errorf("%w: wrong network prefix %s", ErrInvalidAddress, hrp)
	}
	return nil
}
