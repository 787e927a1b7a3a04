package storage

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchGetter fetches many objects in parallel with bounded concurrency.
type BatchGetter struct {
	storage     BlobStorage
	concurrency int
}

// BatchResult contains the outcome of a batch fetch. Every requested key
// ends up in exactly one of the two maps.
type BatchResult struct {
	Objects map[string][]byte
	Errors  map[string]error
}

// NewBatchGetter creates a batch getter. A concurrency below one means one.
func NewBatchGetter(storage BlobStorage, concurrency int) *BatchGetter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchGetter{storage: storage, concurrency: concurrency}
}

// GetMany fetches keys in parallel. Per-key failures are reported in the
// result; the returned error is only set when ctx ends before every fetch
// was started.
func (b *BatchGetter) GetMany(ctx context.Context, keys []string) (*BatchResult, error) {
	result := &BatchResult{
		Objects: make(map[string][]byte, len(keys)),
		Errors:  make(map[string]error),
	}
	if len(keys) == 0 {
		return result, nil
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var acquireErr error

	for i, key := range keys {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			for _, k := range keys[i:] {
				result.Errors[k] = err
			}
			mu.Unlock()
			acquireErr = err
			break
		}

		wg.Add(1)
		go func(key string) {
			defer sem.Release(1)
			defer wg.Done()

			data, err := b.storage.Get(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[key] = err
				return
			}
			result.Objects[key] = data
		}(key)
	}

	wg.Wait()
	return result, acquireErr
}
