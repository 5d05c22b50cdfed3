package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_descriptor_indexing"
	"github.com/vkngwrapper/extensions/v2/khr_maintenance1"
	"github.com/vkngwrapper/vdc/internal/mocks"
	"go.uber.org/mock/gomock"
)

type fakeLayout struct {
	core1_0.DescriptorSetLayout
	destroyed int
}

func (l *fakeLayout) Destroy(callbacks *driver.AllocationCallbacks) { l.destroyed++ }

type fakePool struct {
	core1_0.DescriptorPool
	destroyed int
}

func (p *fakePool) Destroy(callbacks *driver.AllocationCallbacks) { p.destroyed++ }

type fakeSet struct {
	core1_0.DescriptorSet
	id int
}

func TestDescriptorDeviceLayoutLifetime(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDevice := mocks.NewMockDevice(ctrl)
	device := NewDescriptorDevice(mockDevice, nil)

	bindings := []core1_0.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: 1},
	}
	layout := &fakeLayout{}
	mockDevice.EXPECT().CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	}).Return(layout, core1_0.VKSuccess, nil)

	created, err := device.CreateLayout(bindings)
	require.NoError(t, err)
	require.Same(t, layout, created)
	require.Equal(t, 1, device.LiveLayouts())

	device.DestroyLayout(created)
	require.Equal(t, 1, layout.destroyed)
	require.Equal(t, 0, device.LiveLayouts())
}

func TestDescriptorDeviceCreatePoolFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDevice := mocks.NewMockDevice(ctrl)
	device := NewDescriptorDevice(mockDevice, nil)

	mockDevice.EXPECT().CreateDescriptorPool(nil, gomock.Any()).
		Return(nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())

	_, err := device.CreatePool([]core1_0.DescriptorPoolSize{
		{Type: core1_0.DescriptorTypeSampler, DescriptorCount: 4},
	}, 4)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrOutOfPoolMemory))
	require.Equal(t, 0, device.LivePools())
}

func TestDescriptorDeviceAllocateOutOfPool(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDevice := mocks.NewMockDevice(ctrl)
	device := NewDescriptorDevice(mockDevice, nil)

	pool := &fakePool{}
	layout := &fakeLayout{}
	mockDevice.EXPECT().AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	}).Return(nil, core1_1.VkErrorOutOfPoolMemory, core1_1.VkErrorOutOfPoolMemory.ToError())

	_, err := device.AllocateSets(pool, []core1_0.DescriptorSetLayout{layout})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOutOfPoolMemory))
}

func TestDescriptorDeviceAllocateFragmentedPool(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDevice := mocks.NewMockDevice(ctrl)
	device := NewDescriptorDevice(mockDevice, nil)

	mockDevice.EXPECT().AllocateDescriptorSets(gomock.Any()).
		Return(nil, core1_0.VKErrorFragmentedPool, core1_0.VKErrorFragmentedPool.ToError())

	_, err := device.AllocateSets(&fakePool{}, []core1_0.DescriptorSetLayout{&fakeLayout{}})
	require.True(t, errors.Is(err, ErrOutOfPoolMemory))
}

func TestIsOutOfPoolResult(t *testing.T) {
	require.True(t, IsOutOfPoolResult(core1_1.VkErrorOutOfPoolMemory))
	require.True(t, IsOutOfPoolResult(khr_maintenance1.VkErrorOutOfPoolMemory))
	require.True(t, IsOutOfPoolResult(core1_0.VKErrorFragmentedPool))
	require.True(t, IsOutOfPoolResult(ext_descriptor_indexing.VkErrorFragmentation))

	require.False(t, IsOutOfPoolResult(core1_0.VKSuccess))
	require.False(t, IsOutOfPoolResult(core1_0.VKErrorOutOfHostMemory))
	require.False(t, IsOutOfPoolResult(core1_0.VKErrorDeviceLost))
}

func TestDescriptorDeviceAllocateFragmentation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDevice := mocks.NewMockDevice(ctrl)
	device := NewDescriptorDevice(mockDevice, nil)

	mockDevice.EXPECT().AllocateDescriptorSets(gomock.Any()).
		Return(nil, ext_descriptor_indexing.VkErrorFragmentation, ext_descriptor_indexing.VkErrorFragmentation.ToError())

	_, err := device.AllocateSets(&fakePool{}, []core1_0.DescriptorSetLayout{&fakeLayout{}})
	require.True(t, errors.Is(err, ErrOutOfPoolMemory))
}

func TestDescriptorDeviceAllocateOtherFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDevice := mocks.NewMockDevice(ctrl)
	device := NewDescriptorDevice(mockDevice, nil)

	mockDevice.EXPECT().AllocateDescriptorSets(gomock.Any()).
		Return(nil, core1_0.VKErrorDeviceLost, core1_0.VKErrorDeviceLost.ToError())

	_, err := device.AllocateSets(&fakePool{}, []core1_0.DescriptorSetLayout{&fakeLayout{}})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrOutOfPoolMemory))
}

func TestDescriptorDeviceAllocateCountMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDevice := mocks.NewMockDevice(ctrl)
	device := NewDescriptorDevice(mockDevice, nil)

	mockDevice.EXPECT().AllocateDescriptorSets(gomock.Any()).
		Return([]core1_0.DescriptorSet{&fakeSet{id: 1}}, core1_0.VKSuccess, nil)

	_, err := device.AllocateSets(&fakePool{}, []core1_0.DescriptorSetLayout{&fakeLayout{}, &fakeLayout{}})
	require.EqualError(t, err, "requested 2 descriptor sets but the device returned 1")
}

func TestDescriptorDeviceWriteSetsSkipsEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDevice := mocks.NewMockDevice(ctrl)
	device := NewDescriptorDevice(mockDevice, nil)

	require.NoError(t, device.WriteSets(nil))

	set := &fakeSet{id: 3}
	writes := []core1_0.WriteDescriptorSet{
		{DstSet: set, DstBinding: 2, DescriptorType: core1_0.DescriptorTypeStorageTexelBuffer},
	}
	mockDevice.EXPECT().UpdateDescriptorSets(writes, nil).Return(nil)
	require.NoError(t, device.WriteSets(writes))
}
