package seedkeywallet

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gloam-network/gloam/common"
	"github.com/gloam-network/gloam/contract"
	"github.com/gloam-network/gloam/internal/utils"
	"github.com/gloam-network/gloam/prover"
	"github.com/gloam-network/gloam/types"
	"github.com/gloam-network/gloam/wallet"
	walletstore "github.com/gloam-network/gloam/wallet/seedkey/store"
	"github.com/tyler-smith/go-bip39"
	"github.com/vulpemventures/go-bip32"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoSpend   = "gloam/shielded/spend/v1"
	hkdfInfoViewing = "gloam/shielded/viewing/v1"
	hkdfInfoDust    = "gloam/dust/v1"
)

var (
	ErrNotInitialized = fmt.Errorf("wallet not initialized")
	ErrLocked         = fmt.Errorf("wallet is locked")
)

type keyring struct {
	spendKey   []byte
	viewingKey []byte
	dustKey    []byte
	signKey    *secp256k1.PrivateKey
}

type seedkeyWallet struct {
	configStore types.ConfigStore
	walletStore walletstore.WalletStore
	walletData  *walletstore.WalletData
	keys        *keyring
}

func NewWalletService(
	configStore types.ConfigStore, walletStore walletstore.WalletStore,
) (wallet.WalletService, error) {
	walletData, err := walletStore.GetWallet()
	if err != nil {
		return nil, err
	}
	return &seedkeyWallet{
		configStore: configStore,
		walletStore: walletStore,
		walletData:  walletData,
	}, nil
}

func (w *seedkeyWallet) GetType() string {
	return wallet.SeedKeyWallet
}

func (w *seedkeyWallet) Create(
	_ context.Context, password, mnemonic string,
) (string, error) {
	if len(mnemonic) <= 0 {
		entropy, err := bip39.NewEntropy(256)
		if err != nil {
			return "", err
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return "", err
		}
	} else if !bip39.IsMnemonicValid(mnemonic) {
		return "", fmt.Errorf("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")
	keys, err := deriveKeyring(seed)
	if err != nil {
		return "", err
	}

	pwd := []byte(password)
	passwordHash := utils.HashPassword(pwd)
	encryptedSeed, err := utils.EncryptAES256([]byte(mnemonic), pwd)
	if err != nil {
		return "", err
	}

	walletData := walletstore.WalletData{
		EncryptedSeed: encryptedSeed,
		PasswordHash:  passwordHash,
		SignPubKey:    keys.signKey.PubKey(),
		OwnerKey:      contract.OwnerKey(keys.spendKey),
		ViewingKey:    hex.EncodeToString(keys.viewingKey),
		DustTag:       hex.EncodeToString(contract.OwnerKey(keys.dustKey)),
	}
	if err := w.walletStore.AddWallet(walletData); err != nil {
		return "", err
	}

	w.walletData = &walletData
	w.keys = keys

	return mnemonic, nil
}

func (w *seedkeyWallet) Lock(_ context.Context, password string) error {
	if w.walletData == nil {
		return ErrNotInitialized
	}

	if w.keys == nil {
		return nil
	}

	pwd := []byte(password)
	currentPassHash := utils.HashPassword(pwd)

	if !bytes.Equal(w.walletData.PasswordHash, currentPassHash) {
		return fmt.Errorf("invalid password")
	}

	w.keys.wipe()
	w.keys = nil
	return nil
}

func (w *seedkeyWallet) Unlock(
	_ context.Context, password string,
) (bool, error) {
	if w.walletData == nil {
		return false, ErrNotInitialized
	}

	if w.keys != nil {
		return true, nil
	}

	pwd := []byte(password)
	currentPassHash := utils.HashPassword(pwd)

	if !bytes.Equal(w.walletData.PasswordHash, currentPassHash) {
		return false, fmt.Errorf("invalid password")
	}

	mnemonic, err := utils.DecryptAES256(w.walletData.EncryptedSeed, pwd)
	if err != nil {
		return false, err
	}

	seed := bip39.NewSeed(string(mnemonic), "")
	keys, err := deriveKeyring(seed)
	if err != nil {
		return false, err
	}

	w.keys = keys
	return false, nil
}

func (w *seedkeyWallet) IsLocked() bool {
	return w.keys == nil
}

func (w *seedkeyWallet) ID() string {
	if w.walletData == nil {
		return ""
	}
	return hex.EncodeToString(w.walletData.OwnerKey)
}

func (w *seedkeyWallet) GetAddress(ctx context.Context) (string, error) {
	if w.walletData == nil {
		return "", ErrNotInitialized
	}

	data, err := w.configStore.GetData(ctx)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", fmt.Errorf("missing config")
	}

	return common.EncodeAddress(
		data.Network.Addr, w.walletData.OwnerKey, w.walletData.SignPubKey,
	)
}

func (w *seedkeyWallet) ViewingKey(_ context.Context) (string, error) {
	if w.walletData == nil {
		return "", ErrNotInitialized
	}
	return w.walletData.ViewingKey, nil
}

func (w *seedkeyWallet) DustTag(_ context.Context) (string, error) {
	if w.walletData == nil {
		return "", ErrNotInitialized
	}
	return w.walletData.DustTag, nil
}

func (w *seedkeyWallet) OwnerKey(_ context.Context) ([]byte, error) {
	if w.walletData == nil {
		return nil, ErrNotInitialized
	}
	ownerKey := make([]byte, len(w.walletData.OwnerKey))
	copy(ownerKey, w.walletData.OwnerKey)
	return ownerKey, nil
}

func (w *seedkeyWallet) Nullifier(
	_ context.Context, rho []byte,
) ([]byte, error) {
	if w.walletData == nil {
		return nil, ErrNotInitialized
	}
	if w.keys == nil {
		return nil, ErrLocked
	}
	return contract.Nullifier(w.keys.spendKey, rho), nil
}

func (w *seedkeyWallet) ProofWitness(
	_ context.Context, coins []types.Coin,
) (prover.Witness, error) {
	if w.walletData == nil {
		return prover.Witness{}, ErrNotInitialized
	}
	if w.keys == nil {
		return prover.Witness{}, ErrLocked
	}

	witness := prover.Witness{
		SpendKey: hex.EncodeToString(w.keys.spendKey),
		Values:   make([]uint64, 0, len(coins)),
		Rhos:     make([]string, 0, len(coins)),
		Rands:    make([]string, 0, len(coins)),
	}
	for _, coin := range coins {
		witness.Values = append(witness.Values, coin.Value)
		witness.Rhos = append(witness.Rhos, coin.Rho)
		witness.Rands = append(witness.Rands, coin.R)
	}
	return witness, nil
}

func (w *seedkeyWallet) SignDigest(
	_ context.Context, digest []byte,
) (types.Signature, error) {
	if w.walletData == nil {
		return types.Signature{}, ErrNotInitialized
	}
	if w.keys == nil {
		return types.Signature{}, ErrLocked
	}
	if len(digest) != 32 {
		return types.Signature{}, fmt.Errorf("invalid digest length")
	}

	sig, err := schnorr.Sign(w.keys.signKey, digest)
	if err != nil {
		return types.Signature{}, err
	}

	return types.Signature{
		PublicKey: hex.EncodeToString(
			schnorr.SerializePubKey(w.keys.signKey.PubKey()),
		),
		Value: hex.EncodeToString(sig.Serialize()),
	}, nil
}

func (w *seedkeyWallet) Dump(
	_ context.Context, password string,
) (string, error) {
	if w.walletData == nil {
		return "", ErrNotInitialized
	}

	pwd := []byte(password)
	currentPassHash := utils.HashPassword(pwd)

	if !bytes.Equal(w.walletData.PasswordHash, currentPassHash) {
		return "", fmt.Errorf("invalid password")
	}

	mnemonic, err := utils.DecryptAES256(w.walletData.EncryptedSeed, pwd)
	if err != nil {
		return "", err
	}
	return string(mnemonic), nil
}

func (w *seedkeyWallet) Clear(_ context.Context) error {
	if w.keys != nil {
		w.keys.wipe()
		w.keys = nil
	}
	return nil
}

func (k *keyring) wipe() {
	utils.Zero(k.spendKey)
	utils.Zero(k.viewingKey)
	utils.Zero(k.dustKey)
	if k.signKey != nil {
		k.signKey.Zero()
		k.signKey = nil
	}
}

func deriveKeyring(seed []byte) (*keyring, error) {
	spendKey, err := hkdfExpand(seed, hkdfInfoSpend, 32)
	if err != nil {
		return nil, err
	}
	viewingKey, err := hkdfExpand(seed, hkdfInfoViewing, 32)
	if err != nil {
		return nil, err
	}
	dustKey, err := hkdfExpand(seed, hkdfInfoDust, 32)
	if err != nil {
		return nil, err
	}

	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	childKey, err := masterKey.NewChildKey(bip32.FirstHardenedChild)
	if err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}
	signKey := secp256k1.PrivKeyFromBytes(childKey.Key)

	return &keyring{
		spendKey:   spendKey,
		viewingKey: viewingKey,
		dustKey:    dustKey,
		signKey:    signKey,
	}, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
