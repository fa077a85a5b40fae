package curvecare

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStorage implements Storage on top of an embedded pebble database.
// Suited to sessions with large message histories where rewriting a single
// JSON file per cache write would be wasteful.
type PebbleStorage struct {
	db *pebble.DB
}

// OpenPebbleStorage opens (or creates) a pebble database at the given path.
func OpenPebbleStorage(path string) (*PebbleStorage, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStorage{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleStorage) Close() error {
	return s.db.Close()
}

func (s *PebbleStorage) Get(key string) (string, bool, error) {
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	value := string(v)
	if err := closer.Close(); err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *PebbleStorage) Set(key, value string) error {
	return s.db.Set([]byte(key), []byte(value), pebble.Sync)
}

func (s *PebbleStorage) Remove(key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

func (s *PebbleStorage) Keys(prefix string) ([]string, error) {
	opts := &pebble.IterOptions{}
	if prefix != "" {
		opts.LowerBound = []byte(prefix)
		opts.UpperBound = keyUpperBound([]byte(prefix))
	}
	iter, err := s.db.NewIter(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return keys, nil
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff; no upper bound
}
