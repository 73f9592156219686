package inmemorystore

import (
	"sync"

	walletstore "github.com/gloam-network/gloam/wallet/seedkey/store"
)

type walletStore struct {
	mtx  sync.RWMutex
	data *walletstore.WalletData
}

func NewWalletStore() (walletstore.WalletStore, error) {
	return &walletStore{}, nil
}

func (s *walletStore) AddWallet(data walletstore.WalletData) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.data = &data
	return nil
}

// GetWallet returns a copy of the stored record, nil if none was added.
func (s *walletStore) GetWallet() (*walletstore.WalletData, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.data == nil {
		return nil, nil
	}
	data := *s.data
	return &data, nil
}
