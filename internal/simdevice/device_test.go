package simdevice

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
)

func readyPool(t *testing.T, device *Device, maxSets int, sizes ...core1_0.DescriptorPoolSize) *Pool {
	pool, res, err := device.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   maxSets,
		PoolSizes: sizes,
	})
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	return pool.(*Pool)
}

func readyLayout(t *testing.T, device *Device, bindings ...core1_0.DescriptorSetLayoutBinding) *Layout {
	layout, res, err := device.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	return layout.(*Layout)
}

func TestPoolEnforcesCapacity(t *testing.T) {
	device := New()
	pool := readyPool(t, device, 2, core1_0.DescriptorPoolSize{Type: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: 3})
	layout := readyLayout(t, device, core1_0.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
		DescriptorCount: 2,
	})

	sets, res, err := device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	})
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	require.Len(t, sets, 1)
	require.Equal(t, 1, pool.Remaining(core1_0.DescriptorTypeUniformBuffer))
	require.Equal(t, 1, pool.RemainingSets())

	_, res, err = device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	})
	require.Error(t, err)
	require.Equal(t, core1_1.VkErrorOutOfPoolMemory, res)
	require.Equal(t, 1, pool.Remaining(core1_0.DescriptorTypeUniformBuffer))
	require.Equal(t, 2, device.AllocateCalls)
}

func TestPoolEnforcesSetCount(t *testing.T) {
	device := New()
	pool := readyPool(t, device, 1, core1_0.DescriptorPoolSize{Type: core1_0.DescriptorTypeSampler, DescriptorCount: 10})
	layout := readyLayout(t, device, core1_0.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  core1_0.DescriptorTypeSampler,
		DescriptorCount: 1,
	})

	_, res, err := device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout, layout},
	})
	require.Error(t, err)
	require.Equal(t, core1_1.VkErrorOutOfPoolMemory, res)
	require.Equal(t, 10, pool.Remaining(core1_0.DescriptorTypeSampler))
}

func TestFailAllocations(t *testing.T) {
	device := New()
	pool := readyPool(t, device, 4, core1_0.DescriptorPoolSize{Type: core1_0.DescriptorTypeSampler, DescriptorCount: 4})
	layout := readyLayout(t, device, core1_0.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  core1_0.DescriptorTypeSampler,
		DescriptorCount: 1,
	})
	info := core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	}

	device.FailAllocations(2, core1_0.VKErrorDeviceLost)

	for i := 0; i < 2; i++ {
		_, res, err := device.AllocateDescriptorSets(info)
		require.Error(t, err)
		require.Equal(t, core1_0.VKErrorDeviceLost, res)
	}

	_, res, err := device.AllocateDescriptorSets(info)
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	require.Equal(t, 3, pool.Remaining(core1_0.DescriptorTypeSampler))
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	device := New()

	_, _, err := device.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{MaxSets: 0})
	require.Error(t, err)

	_, _, err = device.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{Binding: 1, DescriptorType: core1_0.DescriptorTypeSampler, DescriptorCount: 1},
			{Binding: 1, DescriptorType: core1_0.DescriptorTypeSampler, DescriptorCount: 1},
		},
	})
	require.Error(t, err)

	require.Empty(t, device.Pools())
	require.Empty(t, device.Layouts())
}

func TestUpdateDescriptorSets(t *testing.T) {
	device := New()
	pool := readyPool(t, device, 1, core1_0.DescriptorPoolSize{Type: core1_0.DescriptorTypeStorageBuffer, DescriptorCount: 2})
	layout := readyLayout(t, device, core1_0.DescriptorSetLayoutBinding{
		Binding:         3,
		DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
		DescriptorCount: 2,
	})

	sets, _, err := device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	})
	require.NoError(t, err)
	set := sets[0].(*DescriptorSet)

	buffer := &Buffer{ID: 1}
	write := core1_0.WriteDescriptorSet{
		DstSet:         set,
		DstBinding:     3,
		DescriptorType: core1_0.DescriptorTypeStorageBuffer,
		BufferInfo: []core1_0.DescriptorBufferInfo{
			{Buffer: buffer, Range: 4},
			{Buffer: buffer, Offset: 4, Range: 4},
		},
	}
	require.NoError(t, device.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{write}, nil))
	require.Equal(t, write, set.Writes[3])

	wrongType := write
	wrongType.DescriptorType = core1_0.DescriptorTypeUniformBuffer
	require.Error(t, device.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{wrongType}, nil))

	wrongBinding := write
	wrongBinding.DstBinding = 0
	require.Error(t, device.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{wrongBinding}, nil))

	overflow := write
	overflow.DstArrayElement = 1
	require.Error(t, device.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{overflow}, nil))

	require.Equal(t, 4, device.WriteCalls)
}

func TestLivePools(t *testing.T) {
	device := New()
	first := readyPool(t, device, 1, core1_0.DescriptorPoolSize{Type: core1_0.DescriptorTypeSampler, DescriptorCount: 1})
	second := readyPool(t, device, 1, core1_0.DescriptorPoolSize{Type: core1_0.DescriptorTypeSampler, DescriptorCount: 1})

	first.Destroy(nil)
	require.Equal(t, []*Pool{second}, device.LivePools())
	require.Panics(t, func() {
		first.Destroy(nil)
	})
}
