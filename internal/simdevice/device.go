// Package simdevice is an in-memory stand-in for a Vulkan device that only understands
// descriptor objects. Pools enforce their declared capacities the way a strict driver would,
// and allocations can be forced to fail in order to exercise out-of-pool recovery.
//
// Only the methods the descriptor cache calls are implemented on the returned objects, calling
// any other core1_0 method on them panics.
package simdevice

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/driver"
)

type Layout struct {
	core1_0.DescriptorSetLayout

	device    *Device
	ID        int
	Bindings  []core1_0.DescriptorSetLayoutBinding
	Destroyed bool
}

func (l *Layout) Destroy(callbacks *driver.AllocationCallbacks) {
	l.device.mutex.Lock()
	defer l.device.mutex.Unlock()

	if l.Destroyed {
		panic("descriptor set layout destroyed twice")
	}
	l.Destroyed = true
}

type Pool struct {
	core1_0.DescriptorPool

	device        *Device
	ID            int
	MaxSets       int
	PoolSizes     []core1_0.DescriptorPoolSize
	remaining     map[core1_0.DescriptorType]int
	remainingSets int
	Destroyed     bool
}

func (p *Pool) Destroy(callbacks *driver.AllocationCallbacks) {
	p.device.mutex.Lock()
	defer p.device.mutex.Unlock()

	if p.Destroyed {
		panic("descriptor pool destroyed twice")
	}
	p.Destroyed = true
}

// Remaining returns the number of descriptors of the given type the pool can still hand out
func (p *Pool) Remaining(descriptorType core1_0.DescriptorType) int {
	p.device.mutex.Lock()
	defer p.device.mutex.Unlock()

	return p.remaining[descriptorType]
}

func (p *Pool) RemainingSets() int {
	p.device.mutex.Lock()
	defer p.device.mutex.Unlock()

	return p.remainingSets
}

type DescriptorSet struct {
	core1_0.DescriptorSet

	ID     int
	Pool   *Pool
	Layout *Layout
	// Writes holds the most recent write for each binding
	Writes map[int]core1_0.WriteDescriptorSet
}

// Buffer, ImageView, Sampler and BufferView are stand-in resources to write into descriptor sets
type Buffer struct {
	core1_0.Buffer
	ID int
}

type ImageView struct {
	core1_0.ImageView
	ID int
}

type Sampler struct {
	core1_0.Sampler
	ID int
}

type BufferView struct {
	core1_0.BufferView
	ID int
}

// Device implements the descriptor subset of core1_0.Device
type Device struct {
	mutex sync.Mutex

	nextID       int
	layouts      []*Layout
	pools        []*Pool
	failuresLeft int
	failWith     common.VkResult

	AllocateCalls int
	WriteCalls    int
}

func New() *Device {
	return &Device{}
}

// FailAllocations makes the next count calls to AllocateDescriptorSets fail with result, whether
// or not the pool has room
func (d *Device) FailAllocations(count int, result common.VkResult) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.failuresLeft = count
	d.failWith = result
}

func (d *Device) Layouts() []*Layout {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]*Layout(nil), d.layouts...)
}

func (d *Device) Pools() []*Pool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]*Pool(nil), d.pools...)
}

// LivePools returns the pools that have been created and not yet destroyed
func (d *Device) LivePools() []*Pool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var live []*Pool
	for _, pool := range d.pools {
		if !pool.Destroyed {
			live = append(live, pool)
		}
	}
	return live
}

func (d *Device) CreateDescriptorSetLayout(allocationCallbacks *driver.AllocationCallbacks, o core1_0.DescriptorSetLayoutCreateInfo) (core1_0.DescriptorSetLayout, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	seen := make(map[int]struct{}, len(o.Bindings))
	for _, binding := range o.Bindings {
		if _, duplicate := seen[binding.Binding]; duplicate {
			return nil, core1_0.VKErrorUnknown, errors.Newf("binding %d appears more than once in the layout", binding.Binding)
		}
		if binding.DescriptorCount <= 0 {
			return nil, core1_0.VKErrorUnknown, errors.Newf("binding %d has a descriptor count of %d", binding.Binding, binding.DescriptorCount)
		}
		seen[binding.Binding] = struct{}{}
	}

	d.nextID++
	layout := &Layout{
		device:   d,
		ID:       d.nextID,
		Bindings: append([]core1_0.DescriptorSetLayoutBinding(nil), o.Bindings...),
	}
	d.layouts = append(d.layouts, layout)

	return layout, core1_0.VKSuccess, nil
}

func (d *Device) CreateDescriptorPool(allocationCallbacks *driver.AllocationCallbacks, o core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if o.MaxSets <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("pool MaxSets must be positive but was %d", o.MaxSets)
	}

	d.nextID++
	pool := &Pool{
		device:        d,
		ID:            d.nextID,
		MaxSets:       o.MaxSets,
		PoolSizes:     append([]core1_0.DescriptorPoolSize(nil), o.PoolSizes...),
		remaining:     make(map[core1_0.DescriptorType]int),
		remainingSets: o.MaxSets,
	}
	for _, size := range o.PoolSizes {
		if size.DescriptorCount <= 0 {
			return nil, core1_0.VKErrorUnknown, errors.Newf("pool size for %v has a descriptor count of %d", size.Type, size.DescriptorCount)
		}
		pool.remaining[size.Type] += size.DescriptorCount
	}
	d.pools = append(d.pools, pool)

	return pool, core1_0.VKSuccess, nil
}

func (d *Device) AllocateDescriptorSets(o core1_0.DescriptorSetAllocateInfo) ([]core1_0.DescriptorSet, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.AllocateCalls++

	pool, ok := o.DescriptorPool.(*Pool)
	if !ok || pool.device != d {
		return nil, core1_0.VKErrorUnknown, errors.New("descriptor pool was not created by this device")
	}
	if pool.Destroyed {
		return nil, core1_0.VKErrorUnknown, errors.Newf("descriptor pool %d has been destroyed", pool.ID)
	}

	if d.failuresLeft > 0 {
		d.failuresLeft--
		return nil, d.failWith, d.failWith.ToError()
	}

	needed := make(map[core1_0.DescriptorType]int)
	layouts := make([]*Layout, 0, len(o.SetLayouts))
	for _, setLayout := range o.SetLayouts {
		layout, ok := setLayout.(*Layout)
		if !ok || layout.device != d {
			return nil, core1_0.VKErrorUnknown, errors.New("descriptor set layout was not created by this device")
		}
		for _, binding := range layout.Bindings {
			needed[binding.DescriptorType] += binding.DescriptorCount
		}
		layouts = append(layouts, layout)
	}

	if len(layouts) > pool.remainingSets {
		return nil, core1_1.VkErrorOutOfPoolMemory, core1_1.VkErrorOutOfPoolMemory.ToError()
	}
	for descriptorType, count := range needed {
		if pool.remaining[descriptorType] < count {
			return nil, core1_1.VkErrorOutOfPoolMemory, core1_1.VkErrorOutOfPoolMemory.ToError()
		}
	}

	for descriptorType, count := range needed {
		pool.remaining[descriptorType] -= count
	}
	pool.remainingSets -= len(layouts)

	sets := make([]core1_0.DescriptorSet, 0, len(layouts))
	for _, layout := range layouts {
		d.nextID++
		sets = append(sets, &DescriptorSet{
			ID:     d.nextID,
			Pool:   pool,
			Layout: layout,
			Writes: make(map[int]core1_0.WriteDescriptorSet),
		})
	}

	return sets, core1_0.VKSuccess, nil
}

func (d *Device) UpdateDescriptorSets(writes []core1_0.WriteDescriptorSet, copies []core1_0.CopyDescriptorSet) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.WriteCalls++

	if len(copies) > 0 {
		return errors.New("descriptor copies are not supported")
	}

	for _, write := range writes {
		set, ok := write.DstSet.(*DescriptorSet)
		if !ok {
			return errors.New("descriptor set was not allocated by this device")
		}
		if set.Pool.Destroyed {
			return errors.Newf("descriptor set %d belongs to destroyed pool %d", set.ID, set.Pool.ID)
		}

		var layoutBinding *core1_0.DescriptorSetLayoutBinding
		for i := range set.Layout.Bindings {
			if set.Layout.Bindings[i].Binding == write.DstBinding {
				layoutBinding = &set.Layout.Bindings[i]
				break
			}
		}
		if layoutBinding == nil {
			return errors.Newf("descriptor set %d has no binding %d", set.ID, write.DstBinding)
		}
		if layoutBinding.DescriptorType != write.DescriptorType {
			return errors.Newf("binding %d is declared as %v but was written as %v", write.DstBinding, layoutBinding.DescriptorType, write.DescriptorType)
		}

		written := len(write.ImageInfo) + len(write.BufferInfo) + len(write.TexelBufferView)
		if write.Next == nil && write.DstArrayElement+written > layoutBinding.DescriptorCount {
			return errors.Newf("binding %d holds %d descriptors but %d were written", write.DstBinding, layoutBinding.DescriptorCount, write.DstArrayElement+written)
		}

		set.Writes[write.DstBinding] = write
	}

	return nil
}
