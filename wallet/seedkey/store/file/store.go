package filestore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	walletstore "github.com/gloam-network/gloam/wallet/seedkey/store"
)

const (
	filename = "wallet.json"
)

type walletData struct {
	EncryptedSeed string `json:"encrypted_seed"`
	PasswordHash  string `json:"password_hash"`
	SignPubKey    string `json:"sign_pubkey"`
	OwnerKey      string `json:"owner_key"`
	ViewingKey    string `json:"viewing_key"`
	DustTag       string `json:"dust_tag"`
}

func (d walletData) isEmpty() bool {
	return d == walletData{}
}

func (d walletData) decode() walletstore.WalletData {
	encryptedSeed, _ := hex.DecodeString(d.EncryptedSeed)
	passwordHash, _ := hex.DecodeString(d.PasswordHash)
	ownerKey, _ := hex.DecodeString(d.OwnerKey)
	buf, _ := hex.DecodeString(d.SignPubKey)
	pubkey, _ := secp256k1.ParsePubKey(buf)
	return walletstore.WalletData{
		EncryptedSeed: encryptedSeed,
		PasswordHash:  passwordHash,
		SignPubKey:    pubkey,
		OwnerKey:      ownerKey,
		ViewingKey:    d.ViewingKey,
		DustTag:       d.DustTag,
	}
}

type fileStore struct {
	filePath string
}

func NewWalletStore(baseDir string) (walletstore.WalletStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to initialize datadir: %s", err)
	}
	filePath := filepath.Join(baseDir, filename)

	fileStore := &fileStore{filePath}

	if _, err := fileStore.open(); err != nil {
		return nil, fmt.Errorf("failed to open file store: %s", err)
	}

	return fileStore, nil
}

func (s *fileStore) AddWallet(data walletstore.WalletData) error {
	wd := &walletData{
		EncryptedSeed: hex.EncodeToString(data.EncryptedSeed),
		PasswordHash:  hex.EncodeToString(data.PasswordHash),
		SignPubKey:    hex.EncodeToString(data.SignPubKey.SerializeCompressed()),
		OwnerKey:      hex.EncodeToString(data.OwnerKey),
		ViewingKey:    data.ViewingKey,
		DustTag:       data.DustTag,
	}
	if err := s.write(wd); err != nil {
		return fmt.Errorf("failed to write to file store: %s", err)
	}
	return nil
}

func (s *fileStore) GetWallet() (*walletstore.WalletData, error) {
	wd, err := s.open()
	if err != nil {
		return nil, err
	}
	if wd == nil || wd.isEmpty() {
		return nil, nil
	}

	data := wd.decode()
	return &data, nil
}

func (s *fileStore) open() (*walletData, error) {
	file, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to open file store: %s", err)
		}
		if err := s.write(&walletData{}); err != nil {
			return nil, fmt.Errorf("failed to initialize file store: %s", err)
		}
		return nil, nil
	}

	data := &walletData{}
	if err := json.Unmarshal(file, data); err != nil {
		return nil, fmt.Errorf("failed to read file store: %s", err)
	}
	return data, nil
}

func (s *fileStore) write(data *walletData) error {
	jsonString, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.filePath, jsonString, 0600); err != nil {
		return err
	}

	return nil
}
