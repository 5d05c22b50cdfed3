package vdc

import (
	"fmt"

	"github.com/dolthub/swiss"
)

// setCache holds carved descriptor sets by content. Each entry holds one reference on its pool.
type setCache struct {
	buckets *swiss.Map[uint64, []*descriptorSet]
	count   int

	hits   int
	misses int
}

func newSetCache() *setCache {
	return &setCache{
		buckets: swiss.NewMap[uint64, []*descriptorSet](64),
	}
}

// Lookup returns the cached set with the same contents as template, or nil
func (c *setCache) Lookup(template *descriptorSet) *descriptorSet {
	bucket, _ := c.buckets.Get(template.hash)
	for _, set := range bucket {
		if set.equal(template) {
			c.hits++
			return set
		}
	}

	c.misses++
	return nil
}

// Insert adds a newly carved set. The set must not already be cached: a content match here means
// the lookup that preceded the carve was wrong.
func (c *setCache) Insert(set *descriptorSet) {
	if set.handle == nil || set.pool == nil {
		panic("attempted to cache a descriptor set that has not been carved")
	}

	bucket, _ := c.buckets.Get(set.hash)
	for _, cached := range bucket {
		if cached.equal(set) {
			panic(fmt.Sprintf("descriptor set for set id %d was carved while an identical set was cached", set.setID))
		}
	}

	c.buckets.Put(set.hash, append(bucket, set))
	c.count++
}

func (c *setCache) Count() int {
	return c.count
}

// Cleanup empties the cache and drops each entry's pool reference
func (c *setCache) Cleanup() {
	c.buckets.Iter(func(hash uint64, bucket []*descriptorSet) (stop bool) {
		for _, set := range bucket {
			set.pool.release()
		}
		return false
	})

	c.buckets = swiss.NewMap[uint64, []*descriptorSet](64)
	c.count = 0
}
