package server

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MeKo-Tech/qrlens/internal/pipeline"
)

// resultCache remembers scan results for recently uploaded images, keyed by
// the SHA-256 of the upload. Clients that poll the same snapshot repeatedly
// are served without decoding again.
type resultCache struct {
	entries *lru.Cache[string, pipeline.ImageResult]
}

// newResultCache returns nil when size is not positive; a nil cache misses
// every lookup.
func newResultCache(size int) (*resultCache, error) {
	if size <= 0 {
		return nil, nil
	}
	entries, err := lru.New[string, pipeline.ImageResult](size)
	if err != nil {
		return nil, err
	}
	return &resultCache{entries: entries}, nil
}

func cacheKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *resultCache) get(key string) (*pipeline.ImageResult, bool) {
	if c == nil {
		return nil, false
	}
	res, ok := c.entries.Get(key)
	if ok {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return &res, true
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
	return nil, false
}

func (c *resultCache) add(key string, res *pipeline.ImageResult) {
	if c == nil || res == nil {
		return
	}
	c.entries.Add(key, *res)
}

func (c *resultCache) len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
