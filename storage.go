package curvecare

import (
	"strings"
	"sync"
)

// Storage is the durable key-value substrate backing the message cache.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns the value for key. The second return value is false when
	// the key is absent.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	// Keys returns all stored keys with the given prefix.
	Keys(prefix string) ([]string, error)
}

// MemoryStorage is a goroutine-safe in-memory Storage, useful for tests and
// ephemeral sessions.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

func (s *MemoryStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStorage) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.entries {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
