package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// InvalidStore is the durable, append-only set of credentials the upstream
// rejected as permanently invalid. It is persisted as a JSON array of strings.
type InvalidStore struct {
	path   string
	logger *zap.Logger

	mu  sync.Mutex
	set map[string]struct{}
}

// LoadInvalidStore opens the record at path. A missing or unreadable record
// is treated as empty.
func LoadInvalidStore(path string, logger *zap.Logger) *InvalidStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &InvalidStore{
		path:   path,
		logger: logger,
		set:    make(map[string]struct{}),
	}
	keys, err := readRecord(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("invalid credential record unreadable, starting empty", zap.String("path", path), zap.Error(err))
		}
		return s
	}
	for _, k := range keys {
		s.set[k] = struct{}{}
	}
	logger.Info("invalid credential record loaded", zap.String("path", path), zap.Int("count", len(s.set)))
	return s
}

// Path returns the location of the durable record.
func (s *InvalidStore) Path() string {
	return s.path
}

// Has reports whether key is known to be invalid.
func (s *InvalidStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[key]
	return ok
}

// Len returns the number of known-invalid credentials.
func (s *InvalidStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}

// Add records key and rewrites the full record before returning. Adding a
// known key is a no-op. If the write fails the key stays in memory and the
// error is returned so the caller can log it.
func (s *InvalidStore) Add(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.set[key]; ok {
		return false, nil
	}
	s.set[key] = struct{}{}
	if err := s.persistLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// All returns a sorted copy of the set.
func (s *InvalidStore) All() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Reload merges entries found in the durable record that are not yet known
// and returns them. Entries missing from the record are kept.
func (s *InvalidStore) Reload() ([]string, error) {
	keys, err := readRecord(s.path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, k := range keys {
		if _, ok := s.set[k]; ok {
			continue
		}
		s.set[k] = struct{}{}
		added = append(added, k)
	}
	return added, nil
}

func (s *InvalidStore) sortedLocked() []string {
	out := make([]string, 0, len(s.set))
	for k := range s.set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *InvalidStore) persistLocked() error {
	payload, err := json.MarshalIndent(s.sortedLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal invalid credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmpFile, err := os.CreateTemp(dir, "invalid-keys-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmpFile.Write(payload); err != nil {
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp record: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace invalid credential record: %w", err)
	}
	return nil
}

func readRecord(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal(b, &keys); err != nil {
		return nil, fmt.Errorf("parse invalid credential record: %w", err)
	}
	out := keys[:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out, nil
}
