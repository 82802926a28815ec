package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by Store.Read for absent keys.
	ErrNotFound = errors.New("cache: key not found")
	// ErrCapacity is returned by Store.Write when the store is full.
	ErrCapacity = errors.New("cache: store capacity exhausted")
)

// IsCapacityError reports whether a write failed because the store ran out
// of space, either our own quota or the filesystem's.
func IsCapacityError(err error) bool {
	if errors.Is(err, ErrCapacity) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "no space left")
}

// Store is the persistence backend for the cache. Implementations hold raw
// serialized entries under string keys.
type Store interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Delete(key string) error
	Keys() ([]string, error)
	// Stat returns the last modification time of a key, used to detect
	// mutations made by another process sharing the store.
	Stat(key string) (time.Time, error)
}

// FileStore persists entries as one file per key under a directory. An
// optional byte quota stands in for the finite capacity of the storage.
type FileStore struct {
	dir      string
	maxBytes int64
}

// NewFileStore creates the directory if needed. maxBytes <= 0 disables the
// quota.
func NewFileStore(dir string, maxBytes int64) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &FileStore{dir: dir, maxBytes: maxBytes}, nil
}

func (s *FileStore) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileStore) Read(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *FileStore) Write(key string, data []byte) error {
	if s.maxBytes > 0 {
		used, err := s.usedBytes(key)
		if err == nil && used+int64(len(data)) > s.maxBytes {
			return ErrCapacity
		}
	}

	// Write-then-rename so a concurrent reader never sees a torn entry.
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return os.Rename(tmp, s.path(key))
}

// usedBytes sums entry sizes excluding the key about to be overwritten.
func (s *FileStore) usedBytes(excludeKey string) (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	exclude := filepath.Base(s.path(excludeKey))
	var total int64
	for _, e := range entries {
		if e.IsDir() || e.Name() == exclude {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

func (s *FileStore) Delete(key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

func (s *FileStore) Stat(key string) (time.Time, error) {
	info, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// MemoryStore is an in-memory Store used in tests and as a quota-bounded
// scratch store.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	maxBytes int64
}

type memoryEntry struct {
	data []byte
	mod  time.Time
}

// NewMemoryStore creates a memory store. maxBytes <= 0 disables the quota.
func NewMemoryStore(maxBytes int64) *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), maxBytes: maxBytes}
}

func (s *MemoryStore) Read(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (s *MemoryStore) Write(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxBytes > 0 {
		var total int64
		for k, e := range s.entries {
			if k == key {
				continue
			}
			total += int64(len(e.data))
		}
		if total+int64(len(data)) > s.maxBytes {
			return ErrCapacity
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.entries[key] = memoryEntry{data: cp, mod: time.Now()}
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemoryStore) Stat(key string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return e.mod, nil
}
