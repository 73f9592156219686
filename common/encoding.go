package common

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const shieldedKeyLen = 32

func EncodeAddress(
	hrp string, shieldedKey []byte, signKey *secp256k1.PublicKey,
) (addr string, err error) {
	if len(shieldedKey) != shieldedKeyLen {
		err = fmt.Errorf("invalid shielded key length")
		return
	}
	if signKey == nil {
		err = fmt.Errorf("missing signing public key")
		return
	}
	if hrp != MainNet.Addr && hrp != TestNet.Addr && hrp != RegTest.Addr {
		err = fmt.Errorf("invalid prefix")
		return
	}
	combinedKey := append(
		append([]byte{}, shieldedKey...), signKey.SerializeCompressed()...,
	)
	grp, err := bech32.ConvertBits(combinedKey, 8, 5, true)
	if err != nil {
		return
	}
	addr, err = bech32.EncodeM(hrp, grp)
	return
}

func DecodeAddress(
	addr string,
) (hrp string, shieldedKey []byte, signKey *secp256k1.PublicKey, err error) {
	prefix, buf, err := bech32.DecodeNoLimit(addr)
	if err != nil {
		return
	}
	if prefix != MainNet.Addr && prefix != TestNet.Addr && prefix != RegTest.Addr {
		err = fmt.Errorf("invalid prefix")
		return
	}
	grp, err := bech32.ConvertBits(buf, 5, 8, false)
	if err != nil {
		return
	}
	if len(grp) <= shieldedKeyLen {
		err = fmt.Errorf("invalid address payload")
		return
	}
	sKey, err := secp256k1.ParsePubKey(grp[shieldedKeyLen:])
	if err != nil {
		err = fmt.Errorf("failed to parse signing public key: %s", err)
		return
	}
	hrp = prefix
	shieldedKey = grp[:shieldedKeyLen]
	signKey = sKey
	return
}

func EncodeContractAddress(hrp string, id []byte) (addr string, err error) {
	if len(id) != shieldedKeyLen {
		err = fmt.Errorf("invalid contract id length")
		return
	}
	if hrp != MainNet.ContractAddr && hrp != TestNet.ContractAddr &&
		hrp != RegTest.ContractAddr {
		err = fmt.Errorf("invalid prefix")
		return
	}
	grp, err := bech32.ConvertBits(id, 8, 5, true)
	if err != nil {
		return
	}
	addr, err = bech32.EncodeM(hrp, grp)
	return
}

func DecodeContractAddress(addr string) (hrp string, id []byte, err error) {
	prefix, buf, err := bech32.DecodeNoLimit(addr)
	if err != nil {
		return
	}
	if prefix != MainNet.ContractAddr && prefix != TestNet.ContractAddr &&
		prefix != RegTest.ContractAddr {
		err = fmt.Errorf("invalid prefix")
		return
	}
	grp, err := bech32.ConvertBits(buf, 5, 8, false)
	if err != nil {
		return
	}
	if len(grp) != shieldedKeyLen {
		err = fmt.Errorf("invalid contract id length")
		return
	}
	hrp = prefix
	id = grp
	return
}
