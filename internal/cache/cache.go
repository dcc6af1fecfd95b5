package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrCorrupt is returned when a cache file exists but cannot be
	// parsed. This is a fatal startup condition; the cache is never
	// silently reset.
	ErrCorrupt = errors.New("cache file is corrupt")
)

// Entry holds the fetched values for one cell: variable name to value,
// where nil means the backend was queried and reported nothing.
type Entry = map[string]*float64

// Cache is a durable key-value memo of backend responses, persisted as
// a single flat JSON object. Key presence alone marks a cell as
// fetched: a nil value is a final "fetched and absent" and is never
// refetched. Entries are only ever added or overwritten with the same
// value, never evicted.
type Cache struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
}

// Load reads the cache file at path, creating an empty persisted file
// when it does not exist. A file that exists but fails to parse yields
// ErrCorrupt.
func Load(path string) (*Cache, error) {
	c := &Cache{
		path:    path,
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		if err := c.Flush(); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if c.entries == nil {
		c.entries = make(map[string]Entry)
	}
	return c, nil
}

// Get returns the entry for key, if present.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return e, ok
}

// Put records the entry for key. Re-putting the same key overwrites;
// there is no remove operation.
func (c *Cache) Put(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = e
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Flush persists the full mapping, writing to a temp file in the same
// directory and renaming it over the target so an interrupted flush
// never truncates the previous cache.
func (c *Cache) Flush() error {
	c.mu.RLock()
	data, err := json.Marshal(c.entries)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".cache-*")
	if err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("flush cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("flush cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("flush cache: %w", err)
	}
	return nil
}
