package vdc

import (
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/vdc/internal/utils"
	"github.com/vkngwrapper/vdc/internal/vulkan"
	"golang.org/x/exp/slices"
)

// OwnerID partitions descriptor pools between independent users of a Cache, such as worker
// goroutines, so they do not carve from each other's pools
type OwnerID uint64

// DefaultOwner is the owner used by Cache.Resolve
const DefaultOwner OwnerID = 0

// Pool is a descriptor pool along with the cache's accounting of its remaining capacity. A pool is
// kept alive by the descriptor sets carved from it: once every BindingTable and cache entry that
// references it has been released it is destroyed the next time its bucket is searched.
type Pool struct {
	logger *slog.Logger
	device *vulkan.DescriptorDevice
	handle core1_0.DescriptorPool

	id    int
	name  string
	owner OwnerID

	initialCapacities   []core1_0.DescriptorPoolSize
	remainingCapacities []core1_0.DescriptorPoolSize
	initialSets         int
	remainingSets       int

	references atomic.Int32
	destroyed  bool
}

// RemainingSets, RemainingCapacity, RemainingCapacities and Destroyed change whenever the cache
// carves from or prunes the pool. Only read them while no other goroutine is using the cache, or
// take a snapshot with Cache.PoolStatistics instead.

func (p *Pool) ID() int                        { return p.id }
func (p *Pool) Name() string                   { return p.name }
func (p *Pool) Owner() OwnerID                 { return p.owner }
func (p *Pool) Handle() core1_0.DescriptorPool { return p.handle }
func (p *Pool) InitialSets() int               { return p.initialSets }
func (p *Pool) RemainingSets() int             { return p.remainingSets }
func (p *Pool) References() int                { return int(p.references.Load()) }
func (p *Pool) Destroyed() bool                { return p.destroyed }

func (p *Pool) InitialCapacities() []core1_0.DescriptorPoolSize {
	return append([]core1_0.DescriptorPoolSize(nil), p.initialCapacities...)
}

func (p *Pool) RemainingCapacities() []core1_0.DescriptorPoolSize {
	return append([]core1_0.DescriptorPoolSize(nil), p.remainingCapacities...)
}

// RemainingCapacity returns how many descriptors of the given type the pool can still provide
func (p *Pool) RemainingCapacity(descriptorType core1_0.DescriptorType) int {
	index, found := slices.BinarySearchFunc(p.remainingCapacities, descriptorType, comparePoolSizeType)
	if !found {
		return 0
	}
	return p.remainingCapacities[index].DescriptorCount
}

// HasCapacityFor reports whether the pool's remaining capacity covers every descriptor type in the
// request as well as its set count
func (p *Pool) HasCapacityFor(request AllocationRequest) bool {
	if p.remainingSets < request.setCount {
		return false
	}

	have := p.remainingCapacities
	h := 0
	for _, need := range request.poolSizes {
		if need.DescriptorCount == 0 {
			continue
		}

		for h < len(have) && have[h].Type < need.Type {
			h++
		}

		if h == len(have) || have[h].Type != need.Type || have[h].DescriptorCount < need.DescriptorCount {
			return false
		}
		h++
	}

	return true
}

// allocate carves one descriptor set per layout and charges them against the pool's remaining
// capacity. Failures caused by the pool running out of room are marked with ErrOutOfPoolMemory.
func (p *Pool) allocate(layouts []*Layout) ([]core1_0.DescriptorSet, error) {
	if p.destroyed {
		panic("attempted to allocate from a destroyed descriptor pool")
	}

	handles := make([]core1_0.DescriptorSetLayout, 0, len(layouts))
	for _, layout := range layouts {
		handles = append(handles, layout.handle)
	}

	sets, err := p.device.AllocateSets(p.handle, handles)
	if err != nil {
		return nil, err
	}

	for _, layout := range layouts {
		for _, size := range layout.schema.poolSizes {
			index, found := slices.BinarySearchFunc(p.remainingCapacities, size.Type, comparePoolSizeType)
			if !found {
				p.logger.Warn("allocated descriptors of a type the pool does not track",
					slog.Int("Pool", p.id),
					slog.Any("DescriptorType", size.Type),
				)
				continue
			}

			remaining := &p.remainingCapacities[index]
			remaining.DescriptorCount -= min(size.DescriptorCount, remaining.DescriptorCount)
		}
	}

	p.remainingSets -= min(len(layouts), p.remainingSets)

	utils.DebugValidate(p)
	return sets, nil
}

func (p *Pool) Validate() error {
	if p.remainingSets < 0 || p.remainingSets > p.initialSets {
		return errors.Newf("pool %d has %d remaining sets out of %d", p.id, p.remainingSets, p.initialSets)
	}
	if len(p.remainingCapacities) != len(p.initialCapacities) {
		return errors.Newf("pool %d tracks %d remaining capacities but was created with %d", p.id, len(p.remainingCapacities), len(p.initialCapacities))
	}

	for i, remaining := range p.remainingCapacities {
		initial := p.initialCapacities[i]
		if remaining.Type != initial.Type {
			return errors.Newf("pool %d capacity %d is for %v but was created for %v", p.id, i, remaining.Type, initial.Type)
		}
		if remaining.DescriptorCount < 0 || remaining.DescriptorCount > initial.DescriptorCount {
			return errors.Newf("pool %d has %d remaining descriptors of type %v out of %d", p.id, remaining.DescriptorCount, remaining.Type, initial.DescriptorCount)
		}
	}

	if p.references.Load() < 0 {
		return errors.Newf("pool %d has a negative reference count", p.id)
	}

	return nil
}

func (p *Pool) acquire() {
	p.references.Add(1)
}

func (p *Pool) release() {
	if p.references.Add(-1) < 0 {
		panic("descriptor pool reference count went negative")
	}
}

func (p *Pool) destroy() {
	if p.destroyed {
		return
	}

	p.device.DestroyPool(p.handle)
	p.destroyed = true
}
