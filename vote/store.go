package vote

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// manifestStore keeps one YAML manifest per election under a dedicated
// directory, named by election id.
type manifestStore struct {
	dir string
}

func newManifestStore(dir string) (*manifestStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create elections dir: %s", err)
	}
	return &manifestStore{dir: dir}, nil
}

func (s *manifestStore) path(id string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.yaml", id))
}

func (s *manifestStore) save(election Election) error {
	data, err := yaml.Marshal(election)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(election.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write election manifest: %s", err)
	}
	return nil
}

func (s *manifestStore) get(id string) (*Election, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf(
				"no election '%s', create or join one first", id,
			)
		}
		return nil, err
	}

	election := &Election{}
	if err := yaml.Unmarshal(data, election); err != nil {
		return nil, fmt.Errorf("election manifest %s is corrupt: %s", id, err)
	}
	if err := election.Validate(); err != nil {
		return nil, fmt.Errorf("election manifest %s is corrupt: %s", id, err)
	}
	return election, nil
}

func (s *manifestStore) list() ([]Election, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.yaml"))
	if err != nil {
		return nil, err
	}

	elections := make([]Election, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).Warnf("skipping unreadable election manifest %s", path)
			continue
		}
		election := Election{}
		if err := yaml.Unmarshal(data, &election); err != nil {
			log.WithError(err).Warnf("skipping corrupt election manifest %s", path)
			continue
		}
		if err := election.Validate(); err != nil {
			log.WithError(err).Warnf("skipping corrupt election manifest %s", path)
			continue
		}
		elections = append(elections, election)
	}

	sort.SliceStable(elections, func(i, j int) bool {
		return elections[i].CreatedAt.After(elections[j].CreatedAt)
	})
	return elections, nil
}
