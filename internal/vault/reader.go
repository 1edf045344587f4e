package vault

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/starford/sketchmark/internal/storage"
)

// CachedReader reads vault documents and keeps their text in memory until
// invalidated. Concurrent misses for the same path share one read.
type CachedReader struct {
	store storage.Provider
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]string
	// gens counts invalidations per path. A read only fills the cache when
	// no invalidation happened since it started.
	gens map[string]uint64
}

// NewCachedReader creates a reader over store.
func NewCachedReader(store storage.Provider) *CachedReader {
	return &CachedReader{
		store: store,
		cache: make(map[string]string),
		gens:  make(map[string]uint64),
	}
}

// Read implements transclude.ContentReader.
func (r *CachedReader) Read(ctx context.Context, path string) (string, error) {
	r.mu.RLock()
	text, ok := r.cache[path]
	r.mu.RUnlock()
	if ok {
		return text, nil
	}

	ch := r.group.DoChan(path, func() (any, error) {
		r.mu.RLock()
		gen := r.gens[path]
		r.mu.RUnlock()

		data, err := r.store.Read(path)
		if err != nil {
			return "", err
		}
		text := string(data)
		r.mu.Lock()
		if r.gens[path] == gen {
			r.cache[path] = text
		}
		r.mu.Unlock()
		return text, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached text of path. Reads already running keep
// their result to themselves.
func (r *CachedReader) Invalidate(path string) {
	r.group.Forget(path)
	r.mu.Lock()
	delete(r.cache, path)
	r.gens[path]++
	r.mu.Unlock()
}

// Len returns the number of cached documents.
func (r *CachedReader) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
