package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/otcswap/broker/internal/deal"
	"github.com/otcswap/broker/internal/store/file"
)

// FileDealStore persists each deal as its own JSON file under dir, written
// atomically via file.AtomicWriteFile, with an in-memory index kept in sync
// for fast reads. Restarting the process reloads every *.json file in dir.
type FileDealStore struct {
	dir string
	mem *MemoryDealStore
}

func NewFileDealStore(dir string) (*FileDealStore, error) {
	s := &FileDealStore{dir: dir, mem: NewMemoryDealStore()}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileDealStore) load() error {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read deal store directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read deal file %s: %w", entry.Name(), err)
		}
		var d deal.Deal
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("failed to parse deal file %s: %w", entry.Name(), err)
		}
		if err := s.mem.Create(&d); err != nil {
			return fmt.Errorf("failed to index loaded deal %s: %w", d.ID, err)
		}
	}
	return nil
}

func (s *FileDealStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileDealStore) persist(d *deal.Deal) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal deal %s: %w", d.ID, err)
	}
	return file.AtomicWriteFile(s.path(d.ID), data, 0600)
}

func (s *FileDealStore) Create(d *deal.Deal) error {
	if err := s.mem.Create(d); err != nil {
		return err
	}
	return s.persist(d)
}

func (s *FileDealStore) Get(id string) (*deal.Deal, error) {
	return s.mem.Get(id)
}

func (s *FileDealStore) Save(d *deal.Deal) error {
	if err := s.mem.Save(d); err != nil {
		return err
	}
	return s.persist(d)
}

func (s *FileDealStore) Active(now time.Time) ([]*deal.Deal, error) {
	return s.mem.Active(now)
}
