package vdc

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/vdc/internal/utils"
	"github.com/vkngwrapper/vdc/internal/vulkan"
)

// Cache turns batches of Bindings into descriptor sets. Layouts and descriptor sets are cached by
// content, so resolving the same bindings twice returns the same native set without carving a
// new one. Descriptor pools are created on demand and bucketed by owner and pool name.
type Cache struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex

	createFlags                CreateFlags
	defaultPoolName            string
	accelerationStructureWrite AccelerationStructureWriteFunc

	device  *vulkan.DescriptorDevice
	hasher  *contentHasher
	layouts *layoutCache
	sets    *setCache
	pools   *poolDirectory

	resolveCalls       int
	allocationRetries  int
	allocationFailures int
	destroyed          bool
}

type bindingGroup struct {
	setID    int
	bindings []Binding
}

func (g bindingGroup) schema() LayoutSchema {
	entries := make([]LayoutEntry, 0, len(g.bindings))
	for _, binding := range g.bindings {
		entries = append(entries, binding.layoutEntry())
	}
	return NewLayoutSchema(entries...)
}

// groupBindings splits bindings into one group per set id, in ascending set id order, with each
// group sorted by slot. Two bindings for the same set and slot panic.
func groupBindings(bindings []Binding) []bindingGroup {
	sorted := append([]Binding(nil), bindings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].setID != sorted[j].setID {
			return sorted[i].setID < sorted[j].setID
		}
		return sorted[i].slot < sorted[j].slot
	})

	var groups []bindingGroup
	for i, binding := range sorted {
		if len(groups) == 0 || groups[len(groups)-1].setID != binding.setID {
			groups = append(groups, bindingGroup{setID: binding.setID})
		} else if sorted[i-1].slot == binding.slot {
			panic(fmt.Sprintf("set %d has more than one binding for slot %d", binding.setID, binding.slot))
		}

		group := &groups[len(groups)-1]
		group.bindings = append(group.bindings, binding)
	}

	return groups
}

// Resolve returns one BindingTable per set id present in bindings, in ascending set id order,
// carving from the default owner's default pool when something is not cached. Either every table
// is returned or none are.
//
// Every returned BindingTable must be released once it is no longer in use.
func (c *Cache) Resolve(bindings ...Binding) ([]*BindingTable, error) {
	return c.ResolveFor(DefaultOwner, c.defaultPoolName, bindings...)
}

// ResolveFor is Resolve carving from the pools that belong to owner under poolName
func (c *Cache) ResolveFor(owner OwnerID, poolName string, bindings ...Binding) ([]*BindingTable, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.logger.Debug("Cache::Resolve",
		slog.Int("Bindings", len(bindings)),
		slog.Any("Owner", owner),
		slog.String("PoolName", poolName),
	)

	if c.destroyed {
		return nil, errors.New("attempted to resolve bindings with a destroyed cache")
	}

	for i := range bindings {
		err := bindings[i].validate()
		if err != nil {
			return nil, err
		}

		if bindings[i].descriptorType == DescriptorTypeAccelerationStructure && c.accelerationStructureWrite == nil {
			return nil, errors.Wrapf(ErrUnsupportedBinding, "set %d slot %d: acceleration structures require CreateOptions.AccelerationStructureWrite", bindings[i].setID, bindings[i].slot)
		}
	}
	c.resolveCalls++

	groups := groupBindings(bindings)
	if len(groups) == 0 {
		return nil, nil
	}

	sets := make([]*descriptorSet, len(groups))
	var pending []*descriptorSet

	for i, group := range groups {
		layout, err := c.layouts.GetOrAlloc(group.schema())
		if err != nil {
			return nil, err
		}

		template := prepareDescriptorSet(group.setID, layout, group.bindings, c.hasher)
		if cached := c.sets.Lookup(template); cached != nil {
			sets[i] = cached
			continue
		}

		// Two set ids in one batch may want identical contents, they share a single carve
		if match := findPending(pending, template); match != nil {
			sets[i] = match
			continue
		}

		sets[i] = template
		pending = append(pending, template)
	}

	if len(pending) > 0 {
		err := c.carve(owner, poolName, pending)
		if err != nil {
			return nil, err
		}
	}

	tables := make([]*BindingTable, 0, len(sets))
	for i, set := range sets {
		tables = append(tables, newBindingTable(groups[i].setID, set))
	}

	return tables, nil
}

func findPending(pending []*descriptorSet, template *descriptorSet) *descriptorSet {
	for _, set := range pending {
		if set.hash == template.hash && set.equal(template) {
			return set
		}
	}
	return nil
}

// carve allocates native sets for every pending template, writes their contents, and caches them.
// Nothing is cached unless every step succeeds.
func (c *Cache) carve(owner OwnerID, poolName string, pending []*descriptorSet) error {
	layouts := make([]*Layout, 0, len(pending))
	schemas := make([]LayoutSchema, 0, len(pending))
	for _, set := range pending {
		layouts = append(layouts, set.layout)
		schemas = append(schemas, set.layout.schema)
	}

	handles, pool, err := c.allocateSets(owner, poolName, NewAllocationRequest(schemas...), layouts)
	if err != nil {
		return err
	}
	// allocateSets hands back a reference on the pool, held until the sets hold their own
	defer pool.release()

	var writes []core1_0.WriteDescriptorSet
	for i, set := range pending {
		set.link(handles[i], pool)

		setWrites, err := set.nativeWrites(c.accelerationStructureWrite)
		if err != nil {
			unlinkAll(pending)
			return err
		}
		writes = append(writes, setWrites...)
	}

	err = c.device.WriteSets(writes)
	if err != nil {
		unlinkAll(pending)
		return err
	}

	for _, set := range pending {
		c.sets.Insert(set)
	}

	return nil
}

func unlinkAll(sets []*descriptorSet) {
	for _, set := range sets {
		set.unlink()
	}
}

// allocateSets carves one set per layout, escalating through allocationState whenever the selected
// pool runs out of memory. On success the returned pool carries a reference the caller must release.
func (c *Cache) allocateSets(owner OwnerID, poolName string, request AllocationRequest, layouts []*Layout) ([]core1_0.DescriptorSet, *Pool, error) {
	var candidate *Pool
	var lastErr error

	for state := allocationTryExisting; state != allocationFailed; {
		pool, err := c.pools.GetPoolFor(owner, request.Multiply(state.requestScale()), poolName, state.forceNewPool())
		if err != nil {
			if candidate != nil {
				candidate.release()
			}
			return nil, nil, err
		}

		// The previous candidate stays referenced until now so re-selection cannot prune it
		pool.acquire()
		if candidate != nil {
			candidate.release()
		}
		candidate = pool

		handles, err := pool.allocate(layouts)
		if err == nil {
			return handles, pool, nil
		}

		if !errors.Is(err, ErrOutOfPoolMemory) {
			candidate.release()
			c.logger.Error("failed to carve descriptor sets",
				slog.Int("Pool", pool.ID()),
				slog.Int("Sets", len(layouts)),
				slog.Any("Error", err),
			)
			return nil, nil, err
		}

		next := state.next()
		c.logger.Info("descriptor pool out of memory",
			slog.Int("Pool", pool.ID()),
			slog.String("State", state.String()),
			slog.String("Next", next.String()),
		)

		lastErr = err
		c.allocationRetries++
		state = next
	}

	candidate.release()
	c.allocationFailures++
	c.logger.Error("exhausted descriptor pool selection",
		slog.Any("Owner", owner),
		slog.String("PoolName", poolName),
		slog.Int("Sets", len(layouts)),
	)

	return nil, nil, errors.Mark(errors.Wrapf(lastErr, "failed to carve %d descriptor sets", len(layouts)), ErrRetryBudgetExhausted)
}

// DefaultPoolName is the pool name Resolve carves from
func (c *Cache) DefaultPoolName() string {
	return c.defaultPoolName
}

// Pools returns the live descriptor pools belonging to owner under poolName. The accounting of the
// returned pools keeps changing as the cache carves, use PoolStatistics to read it concurrently.
func (c *Cache) Pools(owner OwnerID, poolName string) []*Pool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.pools.Bucket(owner, poolName)
}

// Cleanup empties the layout cache and the descriptor set cache. Native layouts and pools are
// destroyed once no BindingTable references them, so tables that have not been released keep
// their layout and pool alive.
func (c *Cache) Cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.logger.Debug("Cache::Cleanup",
		slog.Int("Layouts", c.layouts.Count()),
		slog.Int("Sets", c.sets.Count()),
	)

	c.cleanup()
}

func (c *Cache) cleanup() {
	c.sets.Cleanup()
	c.layouts.Cleanup()
}

// Destroy cleans up the cache and destroys every descriptor pool. It fails if any BindingTable
// has not been released, in which case pools that are no longer referenced are still destroyed.
func (c *Cache) Destroy() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.destroyed {
		return nil
	}

	c.logger.Debug("Cache::Destroy")

	c.cleanup()
	outstanding := c.pools.DestroyUnreferenced()
	if outstanding > 0 {
		return errors.Newf("%d descriptor pools are still referenced by binding tables that have not been released", outstanding)
	}

	c.destroyed = true
	return nil
}
