package cache

import (
	"context"
	"log"

	"github.com/arkilian/surrogate/internal/storage"
)

// CachedStorage is a read-through cache in front of another BlobStorage.
// Snapshot keys are never rewritten with different contents, so cached
// objects are not revalidated against the backend.
type CachedStorage struct {
	storage.BlobStorage
	cache *DiskCache
}

// NewCachedStorage wraps backend with cache.
func NewCachedStorage(backend storage.BlobStorage, cache *DiskCache) *CachedStorage {
	return &CachedStorage{BlobStorage: backend, cache: cache}
}

// Put writes through to the backend and caches the object.
func (s *CachedStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	etag, err := s.BlobStorage.Put(ctx, key, data)
	if err != nil {
		return "", err
	}
	if err := s.cache.Put(key, data); err != nil {
		log.Printf("cache: failed to cache %s: %v", key, err)
	}
	return etag, nil
}

// Get serves key from the cache, fetching and caching it on a miss.
func (s *CachedStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}
	data, err := s.BlobStorage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(key, data); err != nil {
		log.Printf("cache: failed to cache %s: %v", key, err)
	}
	return data, nil
}

// Delete removes key from the backend and the cache.
func (s *CachedStorage) Delete(ctx context.Context, key string) error {
	s.cache.Remove(key)
	return s.BlobStorage.Delete(ctx, key)
}
