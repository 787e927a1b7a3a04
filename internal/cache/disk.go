// Package cache keeps recently fetched snapshot objects on local disk so
// repeated inspections and restores do not go back to remote storage.
package cache

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaolacci/murmur3"
)

const entrySuffix = ".obj"

// Metrics holds cache statistics.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Entries   atomic.Int64
	SizeBytes atomic.Int64
}

// DiskCache is a size-bounded object cache in a local directory. Entries
// are evicted least-frequently then least-recently used, by a background
// worker, once the cache grows past its capacity.
type DiskCache struct {
	dir       string
	maxBytes  int64
	metrics   Metrics
	mu        sync.Mutex // serializes writes and removals
	index     sync.Map   // file name → *entry
	evictChan chan struct{}
	wg        sync.WaitGroup
	stopChan  chan struct{}
	closeOnce sync.Once
}

type entry struct {
	path        string
	size        int64
	lastAccess  atomic.Int64 // Unix nanos
	accessCount atomic.Int64
	pinned      atomic.Bool
}

// NewDiskCache opens a cache in dir, indexing any entries already there.
func NewDiskCache(dir string, maxBytes int64) (*DiskCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("maxBytes must be positive, got %d", maxBytes)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	c := &DiskCache{
		dir:       dir,
		maxBytes:  maxBytes,
		evictChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
	if err := c.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}

	c.wg.Add(1)
	go c.evictionWorker()
	c.signalEviction()
	return c, nil
}

// Close stops the eviction worker after a final pass.
func (c *DiskCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
}

// Metrics returns current cache metrics.
func (c *DiskCache) Metrics() (hits, misses, evictions, entries, size int64) {
	return c.metrics.Hits.Load(), c.metrics.Misses.Load(), c.metrics.Evictions.Load(),
		c.metrics.Entries.Load(), c.metrics.SizeBytes.Load()
}

// HitRate returns the cache hit rate as a percentage.
func (c *DiskCache) HitRate() float64 {
	hits := c.metrics.Hits.Load()
	total := hits + c.metrics.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

func (c *DiskCache) scanExistingFiles() error {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), entrySuffix) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		e := &entry{path: filepath.Join(c.dir, f.Name()), size: info.Size()}
		e.lastAccess.Store(now)
		c.index.Store(f.Name(), e)
		c.metrics.SizeBytes.Add(e.size)
		c.metrics.Entries.Add(1)
	}
	return nil
}

// fileName maps a storage key to a flat file name.
func fileName(key string) string {
	h1, h2 := murmur3.Sum128([]byte(key))
	return fmt.Sprintf("%016x%016x%s", h1, h2, entrySuffix)
}

// Get returns the cached bytes for key.
func (c *DiskCache) Get(key string) ([]byte, bool) {
	name := fileName(key)
	v, ok := c.index.Load(name)
	if !ok {
		c.metrics.Misses.Add(1)
		return nil, false
	}
	e := v.(*entry)
	data, err := os.ReadFile(e.path)
	if err != nil {
		log.Printf("cache: dropping unreadable entry %s: %v", key, err)
		c.remove(name)
		c.metrics.Misses.Add(1)
		return nil, false
	}
	c.metrics.Hits.Add(1)
	e.lastAccess.Store(time.Now().UnixNano())
	e.accessCount.Add(1)
	return data, true
}

// Put stores data under key, replacing any earlier entry.
func (c *DiskCache) Put(key string, data []byte) error {
	name := fileName(key)
	dest := filepath.Join(c.dir, name)

	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move cache file: %w", err)
	}

	e := &entry{path: dest, size: int64(len(data))}
	e.lastAccess.Store(time.Now().UnixNano())
	e.accessCount.Store(1)
	if old, loaded := c.index.Swap(name, e); loaded {
		c.metrics.SizeBytes.Add(-old.(*entry).size)
	} else {
		c.metrics.Entries.Add(1)
	}
	c.metrics.SizeBytes.Add(e.size)

	if c.metrics.SizeBytes.Load() > c.maxBytes {
		c.signalEviction()
	}
	return nil
}

func (c *DiskCache) signalEviction() {
	select {
	case c.evictChan <- struct{}{}:
	default:
		// A pass is already pending.
	}
}

func (c *DiskCache) evictionWorker() {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			c.performEviction()
			return
		case <-c.evictChan:
			c.performEviction()
		case <-ticker.C:
			c.performEviction()
		}
	}
}

// performEviction evicts unpinned entries until the cache is at 90% of
// capacity.
func (c *DiskCache) performEviction() {
	target := c.maxBytes * 9 / 10
	if c.metrics.SizeBytes.Load() <= target {
		return
	}

	type candidate struct {
		name   string
		access int64
		count  int64
	}
	var candidates []candidate
	c.index.Range(func(k, v any) bool {
		e := v.(*entry)
		if !e.pinned.Load() {
			candidates = append(candidates, candidate{k.(string), e.lastAccess.Load(), e.accessCount.Load()})
		}
		return true
	})

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].access < candidates[j].access
	})

	for _, cand := range candidates {
		if c.metrics.SizeBytes.Load() <= target {
			break
		}
		if size, ok := c.remove(cand.name); ok {
			c.metrics.Evictions.Add(1)
			log.Printf("cache: evicted %s (freed %d bytes)", cand.name, size)
		}
	}
}

func (c *DiskCache) remove(name string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.index.LoadAndDelete(name)
	if !ok {
		return 0, false
	}
	e := v.(*entry)
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		log.Printf("cache: failed to remove %s: %v", e.path, err)
	}
	c.metrics.SizeBytes.Add(-e.size)
	c.metrics.Entries.Add(-1)
	return e.size, true
}

// Pin keeps key from being evicted.
func (c *DiskCache) Pin(key string) {
	if v, ok := c.index.Load(fileName(key)); ok {
		v.(*entry).pinned.Store(true)
	}
}

// Unpin makes key evictable again.
func (c *DiskCache) Unpin(key string) {
	if v, ok := c.index.Load(fileName(key)); ok {
		v.(*entry).pinned.Store(false)
	}
}

// Remove deletes key from the cache.
func (c *DiskCache) Remove(key string) bool {
	_, ok := c.remove(fileName(key))
	return ok
}

// Size returns the current cache size in bytes.
func (c *DiskCache) Size() int64 {
	return c.metrics.SizeBytes.Load()
}

// Count returns the number of cached entries.
func (c *DiskCache) Count() int64 {
	return c.metrics.Entries.Load()
}

// Capacity returns the maximum cache size in bytes.
func (c *DiskCache) Capacity() int64 {
	return c.maxBytes
}
