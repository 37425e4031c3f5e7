package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cryptex/models"
)

// RecordStore keeps the last accepted order record per symbol. Each process
// runs one cycle, so the cooldown only holds across runs when the store
// outlives the process.
type RecordStore interface {
	Last(ctx context.Context, symbol string) (models.OrderRecord, bool, error)
	Save(ctx context.Context, rec models.OrderRecord) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	last map[string]models.OrderRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{last: make(map[string]models.OrderRecord)}
}

func (m *MemoryStore) Last(ctx context.Context, symbol string) (models.OrderRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.last[symbol]
	return rec, ok, nil
}

func (m *MemoryStore) Save(ctx context.Context, rec models.OrderRecord) error {
	m.mu.Lock()
	m.last[rec.Symbol] = rec
	m.mu.Unlock()
	return nil
}

// FileStore persists the last record per symbol as one JSON document. Writes
// go to a temp file that is renamed over the old one.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Last(ctx context.Context, symbol string) (models.OrderRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, err := f.load()
	if err != nil {
		return models.OrderRecord{}, false, err
	}
	rec, ok := state[symbol]
	return rec, ok, nil
}

func (f *FileStore) Save(ctx context.Context, rec models.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, err := f.load()
	if err != nil {
		return err
	}
	state[rec.Symbol] = rec

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("file store: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("file store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file store: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file store: rename: %w", err)
	}
	return nil
}

func (f *FileStore) load() (map[string]models.OrderRecord, error) {
	state := make(map[string]models.OrderRecord)
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("file store: decode %s: %w", f.path, err)
	}
	return state, nil
}
