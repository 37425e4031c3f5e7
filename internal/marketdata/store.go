package marketdata

import (
	"sync"
	"time"

	"cryptex/models"
)

// Key identifies one cached series.
type Key struct {
	Symbol    string
	Timeframe string
}

func (k Key) String() string { return k.Symbol + "|" + k.Timeframe }

type entry struct {
	snapshot  models.MarketSnapshot
	expiresAt time.Time
}

// Store holds cache entries. It is created by the caller and handed to a
// Cache so that its lifetime is explicit; entries are replaced wholesale and
// expire lazily on access.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]entry
}

func NewStore() *Store {
	return &Store{entries: make(map[Key]entry)}
}

func (s *Store) get(k Key) (entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[k]
	return e, ok
}

func (s *Store) put(k Key, e entry) {
	s.mu.Lock()
	s.entries[k] = e
	s.mu.Unlock()
}

// Len reports the number of entries, fresh or stale.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
