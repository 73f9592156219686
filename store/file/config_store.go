package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gloam-network/gloam/types"
)

const (
	configStoreFilename = "state.json"
)

type configStore struct {
	filePath string
}

func NewConfigStore(baseDir string) (types.ConfigStore, error) {
	if len(baseDir) <= 0 {
		return nil, fmt.Errorf("missing base directory")
	}

	datadir := expandDir(baseDir)
	if err := os.MkdirAll(datadir, 0755); err != nil {
		return nil, fmt.Errorf("failed to initialize datadir: %s", err)
	}
	filePath := filepath.Join(datadir, configStoreFilename)

	store := &configStore{filePath}

	if _, err := store.open(); err != nil {
		return nil, fmt.Errorf("failed to open store: %s", err)
	}

	return store, nil
}

func (s *configStore) Close() {}

func (s *configStore) GetType() string {
	return types.FileStore
}

func (s *configStore) GetDatadir() string {
	return filepath.Dir(s.filePath)
}

func (s *configStore) AddData(ctx context.Context, data types.Config) error {
	sd := &storeData{
		NodeUrl:             data.NodeUrl,
		IndexerUrl:          data.IndexerUrl,
		ProverUrl:           data.ProverUrl,
		WalletType:          data.WalletType,
		ClientType:          data.ClientType,
		Network:             data.Network.Name,
		DustChangeThreshold: fmt.Sprintf("%d", data.DustChangeThreshold),
		DefaultTTL:          fmt.Sprintf("%d", int(data.DefaultTTL.Seconds())),
		PollInterval:        fmt.Sprintf("%d", int(data.PollInterval.Seconds())),
		SubmitMaxPolls:      fmt.Sprintf("%d", data.SubmitMaxPolls),
		WithTransactionFeed: strconv.FormatBool(data.WithTransactionFeed),
		ContractAddress:     data.ContractAddress,
	}

	if err := s.write(sd); err != nil {
		return fmt.Errorf("failed to write to store: %s", err)
	}
	return nil
}

func (s *configStore) GetData(_ context.Context) (*types.Config, error) {
	sd, err := s.open()
	if err != nil {
		return nil, err
	}
	if sd.isEmpty() {
		return nil, nil
	}

	data := sd.decode()
	return &data, nil
}

func (s *configStore) CleanData(ctx context.Context) error {
	if err := s.write(&storeData{}); err != nil {
		return fmt.Errorf("failed to write to store: %s", err)
	}
	return nil
}

func (s *configStore) open() (*storeData, error) {
	file, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to open store: %s", err)
		}
		if err := s.write(&storeData{}); err != nil {
			return nil, fmt.Errorf("failed to initialize store: %s", err)
		}
		return &storeData{}, nil
	}

	data := &storeData{}
	if err := json.Unmarshal(file, data); err != nil {
		return nil, fmt.Errorf("failed to read file store: %s", err)
	}
	return data, nil
}

func (s *configStore) write(data *storeData) error {
	file, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
	}
	merged := map[string]string{}
	if len(file) > 0 {
		if err := json.Unmarshal(file, &merged); err != nil {
			return fmt.Errorf("failed to read file store: %s", err)
		}
	}
	for k, v := range data.asMap() {
		merged[k] = v
	}

	jsonString, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, jsonString, 0755)
}

// expandDir resolves a leading ~ and any environment variables in path.
func expandDir(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
