// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultCacheCapacity bounds the compiled-workflow cache.
const DefaultCacheCapacity = 100

type cacheEntry struct {
	workflow   *Workflow
	accessTime time.Time
}

// CacheStats is a snapshot of cache activity.
type CacheStats struct {
	Hits     int64
	Misses   int64
	Size     int
	Capacity int
	HitRate  float64
}

// Cache is a keyed LRU of compiled workflows. Eviction removes the entry
// with the oldest access time. All operations are O(1) map lookups except
// the eviction scan, which is O(capacity).
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	capacity int
	hits     int64
	misses   int64
	nowFn    func() time.Time
}

// NewCache creates a cache; capacity <= 0 selects the default.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		entries:  make(map[string]*cacheEntry, capacity),
		capacity: capacity,
		nowFn:    time.Now,
	}
}

// Key derives the cache key for (provider, mode, config): the hex SHA-256
// of a canonical JSON rendering with recursively sorted keys, so
// permuted-but-equal configs hash identically.
func Key(provider string, mode Mode, config map[string]interface{}) string {
	payload := map[string]interface{}{
		"provider": provider,
		"mode":     string(mode),
		"config":   config,
	}
	sum := sha256.Sum256([]byte(canonicalJSON(payload)))
	return hex.EncodeToString(sum[:])
}

// KeyFor is Key over a parsed Config.
func KeyFor(provider string, mode Mode, cfg Config) string {
	return Key(provider, mode, cfg.canonicalMap())
}

// Get returns the workflow for key, updating its access time.
func (c *Cache) Get(key string) (*Workflow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry.accessTime = c.nowFn()
	c.hits++
	return entry.workflow, true
}

// Put stores wf under key, evicting the least recently used entry when
// the cache is full and the key is new.
func (c *Cache) Put(key string, wf *Workflow) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.workflow = wf
		entry.accessTime = c.nowFn()
		return
	}
	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = &cacheEntry{workflow: wf, accessTime: c.nowFn()}
}

// Invalidate removes key, reporting whether it was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Clear drops every entry; counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry, c.capacity)
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     len(c.entries),
		Capacity: c.capacity,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// evictOldest removes the min-accessTime entry. Caller holds the lock.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.accessTime.Before(oldest) {
			oldestKey = key
			oldest = entry.accessTime
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// canonicalJSON renders v with map keys sorted at every level.
func canonicalJSON(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%q:%s", k, canonicalJSON(val[k])))
		}
		out := "{"
		for i, p := range parts {
			if i > 0 {
				out += ","
			}
			out += p
		}
		return out + "}"
	case []interface{}:
		out := "["
		for i, item := range val {
			if i > 0 {
				out += ","
			}
			out += canonicalJSON(item)
		}
		return out + "]"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%q", fmt.Sprintf("%v", val))
		}
		return string(b)
	}
}
