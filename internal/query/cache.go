package query

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// resultCache is a small LRU over query results. Keys embed the project's
// commit epoch, so entries from before a commit simply stop being hit.
type resultCache struct {
	cache *lru.Cache[string, *Result]
}

func newResultCache(size int) *resultCache {
	if size <= 0 {
		return &resultCache{}
	}
	cache, err := lru.New[string, *Result](size)
	if err != nil {
		return &resultCache{}
	}
	return &resultCache{cache: cache}
}

func (c *resultCache) get(key string) (*Result, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

func (c *resultCache) put(key string, result *Result) {
	if c.cache == nil {
		return
	}
	c.cache.Add(key, result)
}
