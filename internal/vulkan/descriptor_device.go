package vulkan

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_descriptor_indexing"
	"github.com/vkngwrapper/extensions/v2/khr_maintenance1"
)

// Device is the subset of core1_0.Device used to create layouts and pools and to carve and write
// descriptor sets
type Device interface {
	CreateDescriptorSetLayout(allocationCallbacks *driver.AllocationCallbacks, o core1_0.DescriptorSetLayoutCreateInfo) (core1_0.DescriptorSetLayout, common.VkResult, error)
	CreateDescriptorPool(allocationCallbacks *driver.AllocationCallbacks, o core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, common.VkResult, error)
	AllocateDescriptorSets(o core1_0.DescriptorSetAllocateInfo) ([]core1_0.DescriptorSet, common.VkResult, error)
	UpdateDescriptorSets(writes []core1_0.WriteDescriptorSet, copies []core1_0.CopyDescriptorSet) error
}

// ErrOutOfPoolMemory marks carving failures caused by a descriptor pool running out of capacity.
// These are recoverable by retrying against a different or larger pool.
var ErrOutOfPoolMemory = errors.New("descriptor pool is out of memory")

// IsOutOfPoolResult reports whether a result code means the pool could not satisfy an allocation.
// Vulkan 1.0 devices report out of pool memory through VK_KHR_maintenance1, and pools created for
// descriptor indexing can fail with VK_ERROR_FRAGMENTATION.
func IsOutOfPoolResult(res common.VkResult) bool {
	return res == core1_1.VkErrorOutOfPoolMemory ||
		res == khr_maintenance1.VkErrorOutOfPoolMemory ||
		res == core1_0.VKErrorFragmentedPool ||
		res == ext_descriptor_indexing.VkErrorFragmentation
}

// DescriptorDevice wraps a Device with the allocation callbacks to use for every object it creates
// and keeps count of the live native objects it is responsible for
type DescriptorDevice struct {
	device              Device
	allocationCallbacks *driver.AllocationCallbacks

	livePools   int32
	liveLayouts int32
}

func NewDescriptorDevice(device Device, allocationCallbacks *driver.AllocationCallbacks) *DescriptorDevice {
	return &DescriptorDevice{
		device:              device,
		allocationCallbacks: allocationCallbacks,
	}
}

func (d *DescriptorDevice) CreateLayout(bindings []core1_0.DescriptorSetLayoutBinding) (core1_0.DescriptorSetLayout, error) {
	layout, res, err := d.device.CreateDescriptorSetLayout(d.allocationCallbacks, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create descriptor set layout with %d bindings (%v)", len(bindings), res)
	}
	if layout == nil {
		return nil, errors.New("device returned a nil descriptor set layout")
	}

	atomic.AddInt32(&d.liveLayouts, 1)
	return layout, nil
}

func (d *DescriptorDevice) DestroyLayout(layout core1_0.DescriptorSetLayout) {
	layout.Destroy(d.allocationCallbacks)

	if atomic.AddInt32(&d.liveLayouts, -1) < 0 {
		panic("more descriptor set layouts were destroyed than were created")
	}
}

func (d *DescriptorDevice) CreatePool(poolSizes []core1_0.DescriptorPoolSize, maxSets int) (core1_0.DescriptorPool, error) {
	pool, res, err := d.device.CreateDescriptorPool(d.allocationCallbacks, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   maxSets,
		PoolSizes: poolSizes,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create descriptor pool for %d sets (%v)", maxSets, res)
	}
	if pool == nil {
		return nil, errors.New("device returned a nil descriptor pool")
	}

	atomic.AddInt32(&d.livePools, 1)
	return pool, nil
}

func (d *DescriptorDevice) DestroyPool(pool core1_0.DescriptorPool) {
	pool.Destroy(d.allocationCallbacks)

	if atomic.AddInt32(&d.livePools, -1) < 0 {
		panic("more descriptor pools were destroyed than were created")
	}
}

// AllocateSets carves one descriptor set per layout from the pool. Capacity failures are marked
// with ErrOutOfPoolMemory, anything else is returned unmarked.
func (d *DescriptorDevice) AllocateSets(pool core1_0.DescriptorPool, layouts []core1_0.DescriptorSetLayout) ([]core1_0.DescriptorSet, error) {
	sets, res, err := d.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     layouts,
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to allocate %d descriptor sets (%v)", len(layouts), res)
		if IsOutOfPoolResult(res) {
			return nil, errors.Mark(err, ErrOutOfPoolMemory)
		}
		return nil, err
	}
	if IsOutOfPoolResult(res) {
		return nil, errors.Mark(errors.Newf("failed to allocate %d descriptor sets (%v)", len(layouts), res), ErrOutOfPoolMemory)
	}

	if len(sets) != len(layouts) {
		return nil, errors.Newf("requested %d descriptor sets but the device returned %d", len(layouts), len(sets))
	}

	return sets, nil
}

func (d *DescriptorDevice) WriteSets(writes []core1_0.WriteDescriptorSet) error {
	if len(writes) == 0 {
		return nil
	}

	err := d.device.UpdateDescriptorSets(writes, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to write %d descriptor bindings", len(writes))
	}
	return nil
}

func (d *DescriptorDevice) LivePools() int {
	return int(atomic.LoadInt32(&d.livePools))
}

func (d *DescriptorDevice) LiveLayouts() int {
	return int(atomic.LoadInt32(&d.liveLayouts))
}
