package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/arkilian/surrogate/internal/errors"
	"github.com/arkilian/surrogate/internal/storage"
)

func newCache(t *testing.T, maxBytes int64) *DiskCache {
	t.Helper()
	c, err := NewDiskCache(t.TempDir(), maxBytes)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestDiskCache_PutGet(t *testing.T) {
	c := newCache(t, 1<<20)

	require.NoError(t, c.Put("snapshots/a.dsur", []byte("test content")))
	data, ok := c.Get("snapshots/a.dsur")
	require.True(t, ok)
	assert.Equal(t, "test content", string(data))

	_, ok = c.Get("snapshots/b.dsur")
	assert.False(t, ok)

	hits, misses, _, entries, size := c.Metrics()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(1), entries)
	assert.Equal(t, int64(12), size)
	assert.InDelta(t, 50.0, c.HitRate(), 0.001)
}

func TestDiskCache_ReplaceKeepsSizeExact(t *testing.T) {
	c := newCache(t, 1<<20)

	require.NoError(t, c.Put("k", make([]byte, 40)))
	require.NoError(t, c.Put("k", make([]byte, 10)))
	assert.Equal(t, int64(10), c.Size())
	assert.Equal(t, int64(1), c.Count())
}

func TestDiskCache_Eviction(t *testing.T) {
	c := newCache(t, 100)

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, c.Put(key, make([]byte, 30)))
	}

	assert.Eventually(t, func() bool { return c.Size() <= 90 }, time.Second, 10*time.Millisecond)
	_, _, evictions, _, _ := c.Metrics()
	assert.Positive(t, evictions)
}

func TestDiskCache_Pinned(t *testing.T) {
	c := newCache(t, 100)

	require.NoError(t, c.Put("pinned", []byte("pinned content")))
	c.Pin("pinned")
	for _, key := range []string{"a", "b", "c", "d"} {
		require.NoError(t, c.Put(key, make([]byte, 25)))
	}

	assert.Eventually(t, func() bool { return c.Size() <= 90 }, time.Second, 10*time.Millisecond)
	_, ok := c.Get("pinned")
	assert.True(t, ok, "pinned entry was evicted")
}

func TestDiskCache_RebuildIndex(t *testing.T) {
	dir := t.TempDir()
	c, err := NewDiskCache(dir, 1<<20)
	require.NoError(t, err)
	require.NoError(t, c.Put("snapshots/a.dsur", []byte("content1")))
	c.Close()

	// Stray files that are not cache entries are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	reopened, err := NewDiskCache(dir, 1<<20)
	require.NoError(t, err)
	defer reopened.Close()

	data, ok := reopened.Get("snapshots/a.dsur")
	require.True(t, ok)
	assert.Equal(t, "content1", string(data))
	assert.Equal(t, int64(1), reopened.Count())
}

func TestDiskCache_Concurrent(t *testing.T) {
	c := newCache(t, 1<<20)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if id%2 == 0 {
				c.Get("shared")
			} else {
				_ = c.Put("shared", []byte("test content"))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), c.Count())
	assert.Equal(t, int64(12), c.Size())
}

// countingStorage counts backend reads.
type countingStorage struct {
	storage.BlobStorage
	mu   sync.Mutex
	gets int
}

func (s *countingStorage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.BlobStorage.Get(ctx, key)
}

func TestCachedStorage(t *testing.T) {
	ctx := context.Background()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	backend := &countingStorage{BlobStorage: local}

	// Seed the backend directly so the first read misses.
	_, err = local.Put(ctx, "snapshots/a.dsur", []byte("payload"))
	require.NoError(t, err)

	s := NewCachedStorage(backend, newCache(t, 1<<20))
	for i := 0; i < 3; i++ {
		data, err := s.Get(ctx, "snapshots/a.dsur")
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	}
	assert.Equal(t, 1, backend.gets)

	_, err = s.Put(ctx, "snapshots/b.dsur", []byte("fresh"))
	require.NoError(t, err)
	data, err := s.Get(ctx, "snapshots/b.dsur")
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
	assert.Equal(t, 1, backend.gets)

	keys, err := s.List(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/a.dsur", "snapshots/b.dsur"}, keys)

	require.NoError(t, s.Delete(ctx, "snapshots/a.dsur"))
	_, err = s.Get(ctx, "snapshots/a.dsur")
	assert.Equal(t, serrors.CodeObjectNotFound, serrors.GetCode(err))
}
