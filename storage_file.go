package curvecare

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// storageFile is the root JSON structure stored on disk.
type storageFile struct {
	Entries map[string]string `json:"entries"`
}

// FileStorage implements Storage using a single JSON file. Writes go through
// a temp file and an atomic rename so a crash never leaves a half-written
// cache behind. Access from multiple processes is not supported.
type FileStorage struct {
	path string
	mu   sync.RWMutex
}

// NewFileStorage creates a file-backed storage at the given path. The file
// is created on first write.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (s *FileStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := file.Entries[key]
	return v, ok, nil
}

func (s *FileStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}
	file.Entries[key] = value
	return s.save(file)
}

func (s *FileStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := file.Entries[key]; !ok {
		return nil
	}
	delete(file.Entries, key)
	return s.save(file)
}

func (s *FileStorage) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	var keys []string
	for k := range file.Entries {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// load reads the storage file from disk. Returns an empty file if it does
// not exist yet.
func (s *FileStorage) load() (storageFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return storageFile{Entries: make(map[string]string)}, nil
		}
		return storageFile{}, err
	}
	if len(data) == 0 {
		return storageFile{Entries: make(map[string]string)}, nil
	}

	var file storageFile
	if err := json.Unmarshal(data, &file); err != nil {
		return storageFile{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if file.Entries == nil {
		file.Entries = make(map[string]string)
	}
	return file, nil
}

// save writes the storage file to disk atomically.
func (s *FileStorage) save(file storageFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp) // best effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
