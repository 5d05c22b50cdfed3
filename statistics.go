package vdc

import (
	"fmt"
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Statistics is a snapshot of a Cache's contents and of how its caches have performed
type Statistics struct {
	// LayoutCount is the number of native layouts currently cached
	LayoutCount  int
	LayoutHits   int
	LayoutMisses int

	// SetCount is the number of native descriptor sets currently cached
	SetCount  int
	SetHits   int
	SetMisses int

	// PoolCount is the number of descriptor pools currently tracked, including pools that are no
	// longer referenced and have not been pruned yet
	PoolCount      int
	PoolsCreated   int
	PoolsDestroyed int

	// AllocatedSets is the number of sets carved across every tracked pool
	AllocatedSets int
	// AvailableSets is the number of sets every tracked pool can still provide
	AvailableSets int

	ResolveCalls int
	// AllocationRetries counts carving attempts that ran out of pool memory
	AllocationRetries int
	// AllocationFailures counts batches that could not be carved from any pool
	AllocationFailures int
}

// PoolStatistics is a copy of one descriptor pool's accounting, taken under the cache's lock
type PoolStatistics struct {
	ID         int
	Owner      OwnerID
	Name       string
	References int

	InitialSets   int
	RemainingSets int

	InitialCapacities   []core1_0.DescriptorPoolSize
	RemainingCapacities []core1_0.DescriptorPoolSize
}

func (p *Pool) statistics() PoolStatistics {
	return PoolStatistics{
		ID:                  p.id,
		Owner:               p.owner,
		Name:                p.name,
		References:          p.References(),
		InitialSets:         p.initialSets,
		RemainingSets:       p.remainingSets,
		InitialCapacities:   append([]core1_0.DescriptorPoolSize(nil), p.initialCapacities...),
		RemainingCapacities: append([]core1_0.DescriptorPoolSize(nil), p.remainingCapacities...),
	}
}

// PoolStatistics returns a snapshot of every live descriptor pool belonging to owner under
// poolName. It is safe to call while other goroutines resolve bindings.
func (c *Cache) PoolStatistics(owner OwnerID, poolName string) []PoolStatistics {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	pools := c.pools.Bucket(owner, poolName)
	stats := make([]PoolStatistics, 0, len(pools))
	for _, pool := range pools {
		stats = append(stats, pool.statistics())
	}
	return stats
}

// CalculateStatistics populates stats with the current state of the cache
func (c *Cache) CalculateStatistics(stats *Statistics) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.calculateStatistics(stats)
}

func (c *Cache) calculateStatistics(stats *Statistics) {
	*stats = Statistics{
		LayoutCount:        c.layouts.Count(),
		LayoutHits:         c.layouts.hits,
		LayoutMisses:       c.layouts.misses,
		SetCount:           c.sets.Count(),
		SetHits:            c.sets.hits,
		SetMisses:          c.sets.misses,
		PoolsCreated:       c.pools.created,
		PoolsDestroyed:     c.pools.destroyed,
		ResolveCalls:       c.resolveCalls,
		AllocationRetries:  c.allocationRetries,
		AllocationFailures: c.allocationFailures,
	}

	for _, pool := range c.pools.Pools() {
		stats.PoolCount++
		stats.AllocatedSets += pool.initialSets - pool.remainingSets
		stats.AvailableSets += pool.remainingSets
	}
}

// BuildStatsString returns a JSON document describing the cache. When detailedMap is set, every
// tracked pool is listed along with its capacities.
func (c *Cache) BuildStatsString(detailedMap bool) string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var stats Statistics
	c.calculateStatistics(&stats)

	writer := jwriter.NewWriter()
	root := writer.Object()

	totalObj := root.Name("Total").Object()
	printStatistics(&totalObj, &stats)
	totalObj.End()

	if detailedMap {
		poolsObj := root.Name("Pools").Object()
		for _, pool := range c.pools.Pools() {
			poolObj := poolsObj.Name(strconv.Itoa(pool.id)).Object()
			pool.printParameters(&poolObj)
			poolObj.End()
		}
		poolsObj.End()
	}

	root.End()
	return string(writer.Bytes())
}

func printStatistics(json *jwriter.ObjectState, stats *Statistics) {
	json.Name("Layouts").Int(stats.LayoutCount)
	json.Name("LayoutHits").Int(stats.LayoutHits)
	json.Name("LayoutMisses").Int(stats.LayoutMisses)
	json.Name("Sets").Int(stats.SetCount)
	json.Name("SetHits").Int(stats.SetHits)
	json.Name("SetMisses").Int(stats.SetMisses)
	json.Name("Pools").Int(stats.PoolCount)
	json.Name("PoolsCreated").Int(stats.PoolsCreated)
	json.Name("PoolsDestroyed").Int(stats.PoolsDestroyed)
	json.Name("AllocatedSets").Int(stats.AllocatedSets)
	json.Name("AvailableSets").Int(stats.AvailableSets)
	json.Name("ResolveCalls").Int(stats.ResolveCalls)
	json.Name("AllocationRetries").Int(stats.AllocationRetries)
	json.Name("AllocationFailures").Int(stats.AllocationFailures)
}

func (p *Pool) printParameters(json *jwriter.ObjectState) {
	json.Name("Owner").Int(int(p.owner))
	json.Name("Name").String(p.name)
	json.Name("References").Int(p.References())
	json.Name("Destroyed").Bool(p.destroyed)
	json.Name("InitialSets").Int(p.initialSets)
	json.Name("RemainingSets").Int(p.remainingSets)

	printPoolSizes(json, "InitialCapacities", p.initialCapacities)
	printPoolSizes(json, "RemainingCapacities", p.remainingCapacities)
}

func printPoolSizes(json *jwriter.ObjectState, name string, sizes []core1_0.DescriptorPoolSize) {
	sizesObj := json.Name(name).Object()
	defer sizesObj.End()

	for _, size := range sizes {
		sizesObj.Name(fmt.Sprintf("%v", size.Type)).Int(size.DescriptorCount)
	}
}
