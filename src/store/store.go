package store

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Store is a thread-safe key-value map with a JSON snapshot on disk.
// Many readers or one writer at a time; mutations are atomic under the lock.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
	path string
}

type snapshot struct {
	Data map[string]string `json:"data"`
}

func New(path string) *Store {
	return &Store{
		data: make(map[string]string),
		path: path,
	}
}

// Open loads the snapshot at path. A missing file yields an empty store;
// a corrupt one is an error the caller should treat as fatal at startup.
func Open(path string) (*Store, error) {
	s := New(path)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	return value, ok
}

func (s *Store) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// Keys returns a snapshot of the key set at call time, in no particular order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	return keys
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}

// Save writes the full mapping to the snapshot file. The map is copied under
// the read lock; file I/O happens after the lock is released.
func (s *Store) Save() error {
	s.mu.RLock()
	copied := make(map[string]string, len(s.data))
	for key, value := range s.data {
		copied[key] = value
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(&snapshot{Data: copied}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return errors.Wrapf(err, "write snapshot %s", s.path)
	}
	return nil
}

// Load replaces the in-memory mapping with the snapshot file's contents.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read snapshot %s", s.path)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrapf(err, "decode snapshot %s", s.path)
	}
	if snap.Data == nil {
		snap.Data = make(map[string]string)
	}

	s.mu.Lock()
	s.data = snap.Data
	s.mu.Unlock()
	return nil
}
