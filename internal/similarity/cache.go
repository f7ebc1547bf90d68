package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/deputybot/deputy/internal/types"
)

// cacheTTL is how long a computed candidate list stays valid.
const cacheTTL = 10 * time.Minute

// cacheKey hashes the analysis content the pipeline depends on.
func cacheKey(title, description string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(description))
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	candidates []types.SimilarityCandidate
	storedAt   time.Time
}

// resultCache memoizes pipeline results. Stale entries are treated as
// misses and overwritten in place.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newResultCache(now func() time.Time) *resultCache {
	return &resultCache{
		entries: make(map[string]cacheEntry),
		now:     now,
	}
}

func (c *resultCache) get(key string) ([]types.SimilarityCandidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) > cacheTTL {
		delete(c.entries, key)
		return nil, false
	}
	return e.candidates, true
}

func (c *resultCache) set(key string, candidates []types.SimilarityCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{candidates: candidates, storedAt: c.now()}
}
