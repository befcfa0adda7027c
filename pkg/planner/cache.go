package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sentinelai/engine/pkg/scheduler"
)

// planCache caches generated plans keyed by sha256(query) xor'd with
// sha256(context), with a fixed TTL — grounded on
// pkg/scheduler/cache.go's toolCallCache, a second named instance of the
// same golang-lru/v2 + sha256-key idiom rather than a second hand-rolled
// cache implementation.
type planCache struct {
	entries *lru.Cache[string, planCacheEntry]
	ttl     time.Duration
}

type planCacheEntry struct {
	plan    *scheduler.Plan
	expires time.Time
}

func newPlanCache(size int, ttl time.Duration) (*planCache, error) {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c, err := lru.New[string, planCacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &planCache{entries: c, ttl: ttl}, nil
}

// planCacheKey computes sha256(query) XOR sha256(context), per spec.md
// §4.7's "(sha256(query) ⨁ sha256(context))" cache key.
func planCacheKey(query, context string) string {
	qh := sha256.Sum256([]byte(query))
	ch := sha256.Sum256([]byte(context))
	var xored [sha256.Size]byte
	for i := range xored {
		xored[i] = qh[i] ^ ch[i]
	}
	return hex.EncodeToString(xored[:])
}

func (c *planCache) get(query, context string) (*scheduler.Plan, bool) {
	if c == nil {
		return nil, false
	}
	key := planCacheKey(query, context)
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		c.entries.Remove(key)
		return nil, false
	}
	return entry.plan, true
}

func (c *planCache) put(query, context string, plan *scheduler.Plan) {
	if c == nil {
		return
	}
	key := planCacheKey(query, context)
	c.entries.Add(key, planCacheEntry{plan: plan, expires: time.Now().Add(c.ttl)})
}
