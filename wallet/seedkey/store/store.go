package store

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

type WalletData struct {
	EncryptedSeed []byte
	PasswordHash  []byte
	SignPubKey    *secp256k1.PublicKey
	OwnerKey      []byte
	ViewingKey    string
	DustTag       string
}

type WalletStore interface {
	AddWallet(data WalletData) error
	GetWallet() (*WalletData, error)
}
