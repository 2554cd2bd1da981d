package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Cached wraps an Embedder with an in-memory memoization cache keyed by the
// SHA-256 of the input text. Concept labels repeat heavily across
// observation batches, so even a small cache removes most provider traffic.
//
// Eviction is oldest-first by insertion time once maxSize is exceeded.
// Thread-safe.
type Cached struct {
	base    Embedder
	maxSize int

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	hits   int64
	misses int64
}

type cacheEntry struct {
	embedding []float32
	addedAt   time.Time
}

// NewCached wraps base with a cache holding up to maxSize entries.
// maxSize <= 0 defaults to 4096.
func NewCached(base Embedder, maxSize int) *Cached {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &Cached{
		base:    base,
		maxSize: maxSize,
		entries: make(map[string]*cacheEntry),
	}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached embedding for text, calling the base provider on
// a miss.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashText(text)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return entry.embedding, nil
	}

	embedding, err := c.base.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.misses++
	c.store(key, embedding)
	c.mu.Unlock()

	return embedding, nil
}

// EmbedBatch resolves each text from the cache and sends only the misses to
// the base provider in a single batch call.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	c.mu.Lock()
	for i, text := range texts {
		if entry, ok := c.entries[hashText(text)]; ok {
			results[i] = entry.embedding
			c.hits++
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
			c.misses++
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return results, nil
	}

	fetched, err := c.base.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(fetched) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(fetched), len(missing))
	}

	c.mu.Lock()
	for j, embedding := range fetched {
		results[missingIdx[j]] = embedding
		c.store(hashText(missing[j]), embedding)
	}
	c.mu.Unlock()

	return results, nil
}

// store inserts an entry, evicting the oldest when full. Caller holds mu.
func (c *Cached) store(key string, embedding []float32) {
	if len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.addedAt.Before(oldest) {
				oldestKey = k
				oldest = e.addedAt
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[key] = &cacheEntry{embedding: embedding, addedAt: time.Now()}
}

// Dimensions returns the base provider's dimensions.
func (c *Cached) Dimensions() int { return c.base.Dimensions() }

// Model returns the base provider's model name.
func (c *Cached) Model() string { return c.base.Model() }

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Size   int
	Hits   int64
	Misses int64
}

// Stats returns a snapshot of cache counters.
func (c *Cached) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Size: len(c.entries), Hits: c.hits, Misses: c.misses}
}
