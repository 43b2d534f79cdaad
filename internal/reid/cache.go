// Package reid resolves track identities: a per-track cache of the last
// resolved identity and a cosine-similarity index over enrolled reference
// embeddings.
package reid

import "sync"

// CacheEntry is the most recent identity resolution for a track: who the
// similarity search said it was, the similarity score, and the frame index
// of the refresh. The raw embedding vector is not retained.
type CacheEntry struct {
	PersonID string
	Score    float64
	Frame    int64
}

// EmbeddingCache remembers the last resolved identity per track so the
// expensive embed-then-search path runs on a small fraction of frames.
//
// Liveness is tied to tracking state, not access recency: entries are
// evicted when their track is removed, so the cache is bounded by the
// number of live tracks rather than a fixed capacity.
type EmbeddingCache struct {
	mu      sync.Mutex
	entries map[int64]CacheEntry
}

// NewEmbeddingCache creates an empty cache.
func NewEmbeddingCache() *EmbeddingCache {
	return &EmbeddingCache{entries: make(map[int64]CacheEntry)}
}

// Get returns the cached identity for a track and its age in frames
// relative to currentFrame. ok is false when no entry exists.
func (c *EmbeddingCache) Get(trackID, currentFrame int64) (entry CacheEntry, age int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok = c.entries[trackID]
	if !ok {
		return CacheEntry{}, 0, false
	}
	return entry, currentFrame - entry.Frame, true
}

// Put stores (or overwrites) the resolved identity for a track.
func (c *EmbeddingCache) Put(trackID int64, personID string, score float64, frameIndex int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[trackID] = CacheEntry{PersonID: personID, Score: score, Frame: frameIndex}
}

// Invalidate drops a track's entry. Called when the track is removed.
func (c *EmbeddingCache) Invalidate(trackID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, trackID)
}

// Len returns the number of cached entries.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// NeedsRefresh implements the orchestrator's resolution policy: resolve a
// track's identity only when no entry exists, the entry is older than
// refreshInterval frames, or the track was just promoted to confirmed
// (first-contact resolution).
func (c *EmbeddingCache) NeedsRefresh(trackID, currentFrame int64, refreshInterval int64, justPromoted bool) bool {
	if justPromoted {
		return true
	}
	_, age, ok := c.Get(trackID, currentFrame)
	if !ok {
		return true
	}
	return age >= refreshInterval
}
