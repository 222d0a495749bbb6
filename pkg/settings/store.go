// Package settings persists the application's key-value settings document
// (store.json) that the desktop client and the router share.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileName is the settings document name under the data directory.
const FileName = "store.json"

const lockTimeout = 5 * time.Second

// ErrLockTimeout is returned when another process holds the store lock for
// longer than the save timeout.
var ErrLockTimeout = errors.New("settings: timed out waiting for store lock")

// Store is a key-value settings store.
type Store interface {
	Get(key string) (json.RawMessage, bool)
	Set(key string, value any) error
	Save() error
}

// FileStore is a Store backed by a JSON object on disk. Changes are held in
// memory until Save, which writes the whole document under a file lock.
type FileStore struct {
	path string

	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: make(map[string]json.RawMessage)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenDir loads store.json under dataDir.
func OpenDir(dataDir string) (*FileStore, error) {
	return Open(filepath.Join(dataDir, FileName))
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Reload replaces the in-memory state with the file's contents.
func (s *FileStore) Reload() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.data = make(map[string]json.RawMessage)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("settings: read %s: %w", s.path, err)
	}
	data := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("settings: parse %s: %w", s.path, err)
		}
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// Get returns the raw JSON value stored under key.
func (s *FileStore) Get(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), v...), true
}

// Set stores the JSON encoding of value under key.
func (s *FileStore) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("settings: encode %q: %w", key, err)
	}
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	return nil
}

// Delete removes key.
func (s *FileStore) Delete(key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// Keys returns the stored keys in sorted order.
func (s *FileStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the document atomically while holding <path>.lock.
func (s *FileStore) Save() error {
	s.mu.RLock()
	encoded, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("settings: encode store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: create dir: %w", err)
	}

	fl := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return ErrLockTimeout
	}
	defer fl.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("settings: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("settings: replace %s: %w", s.path, err)
	}
	return nil
}
