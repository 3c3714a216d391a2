// Package cache stores JSON documents on disk and serves them back while
// they are young enough.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Manager handles file-based caching keyed by name
type Manager struct {
	cacheDir string
	now      func() time.Time
}

// Entry represents a cached item
type Entry struct {
	Data     json.RawMessage `json:"data"`
	CachedAt time.Time       `json:"cached_at"`
}

// NewManager creates a cache manager rooted at dir. An empty dir means
// $XDG_CACHE_HOME/codexbar.
func NewManager(dir string) *Manager {
	if dir == "" {
		dir = filepath.Join(xdg.CacheHome, "codexbar")
	}
	return &Manager{cacheDir: dir, now: time.Now}
}

// Get loads the value stored under key into target when it is younger than
// maxAge. Missing, stale and corrupt entries are misses, not errors.
func (m *Manager) Get(key string, maxAge time.Duration, target any) (time.Time, bool, error) {
	data, err := os.ReadFile(m.keyPath(key)) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read cache file: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return time.Time{}, false, nil //nolint:nilerr // corrupt cache is a miss
	}
	if m.now().Sub(entry.CachedAt) > maxAge {
		return entry.CachedAt, false, nil
	}

	if err := json.Unmarshal(entry.Data, target); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return entry.CachedAt, true, nil
}

// Set stores data under key, replacing any previous value atomically
func (m *Manager) Set(key string, data any) error {
	if err := m.ensureCacheDir(); err != nil {
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	entryData, err := json.MarshalIndent(Entry{Data: jsonData, CachedAt: m.now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(m.cacheDir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(entryData); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.keyPath(key)); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

// HashKey creates a file-safe cache key from an arbitrary string
func HashKey(prefix, value string) string {
	hash := sha256.Sum256([]byte(value))
	return prefix + "_" + hex.EncodeToString(hash[:8])
}

func (m *Manager) keyPath(key string) string {
	return filepath.Join(m.cacheDir, key+".json")
}

func (m *Manager) ensureCacheDir() error {
	return os.MkdirAll(m.cacheDir, 0o700)
}

// CacheDir returns the cache directory path
func (m *Manager) CacheDir() string {
	return m.cacheDir
}
