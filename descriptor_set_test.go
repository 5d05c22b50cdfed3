package vdc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type fakeDescriptorSet struct {
	core1_0.DescriptorSet
	id int
}

func bufferInfos(buffers ...*fakeBuffer) []core1_0.DescriptorBufferInfo {
	var infos []core1_0.DescriptorBufferInfo
	for _, buffer := range buffers {
		infos = append(infos, core1_0.DescriptorBufferInfo{Buffer: buffer, Range: 16})
	}
	return infos
}

func TestDescriptorSetHashIgnoresTrailingElements(t *testing.T) {
	hasher := newContentHasher()
	layout := &Layout{}

	a, b, c := &fakeBuffer{id: 1}, &fakeBuffer{id: 2}, &fakeBuffer{id: 3}
	first := prepareDescriptorSet(0, layout, []Binding{
		BufferBinding(0, 0, core1_0.DescriptorTypeStorageBuffer, 0, bufferInfos(a, b)...),
	}, hasher)
	second := prepareDescriptorSet(0, layout, []Binding{
		BufferBinding(0, 0, core1_0.DescriptorTypeStorageBuffer, 0, bufferInfos(a, c)...),
	}, hasher)

	// Only the first element feeds the hash, full equality tells them apart
	require.Equal(t, first.hash, second.hash)
	require.False(t, first.equal(second))

	repeat := prepareDescriptorSet(0, layout, []Binding{
		BufferBinding(0, 0, core1_0.DescriptorTypeStorageBuffer, 0, bufferInfos(a, b)...),
	}, hasher)
	require.Equal(t, first.hash, repeat.hash)
	require.True(t, first.equal(repeat))
}

func TestDescriptorSetEqualityIncludesLayout(t *testing.T) {
	hasher := newContentHasher()
	buffer := &fakeBuffer{id: 1}
	bindings := []Binding{uniformBuffer(0, 0, buffer)}

	first := prepareDescriptorSet(0, &Layout{}, bindings, hasher)
	second := prepareDescriptorSet(0, &Layout{}, bindings, hasher)
	require.Equal(t, first.hash, second.hash)
	require.False(t, first.equal(second))
}

func TestDescriptorSetEqualityIgnoresSetID(t *testing.T) {
	hasher := newContentHasher()
	layout := &Layout{}
	buffer := &fakeBuffer{id: 1}

	first := prepareDescriptorSet(0, layout, []Binding{uniformBuffer(0, 0, buffer)}, hasher)
	second := prepareDescriptorSet(2, layout, []Binding{uniformBuffer(2, 0, buffer)}, hasher)
	require.True(t, first.equal(second))
}

func TestDescriptorSetCopiesResources(t *testing.T) {
	hasher := newContentHasher()
	buffer := &fakeBuffer{id: 1}

	infos := bufferInfos(buffer)
	binding := BufferBinding(0, 0, core1_0.DescriptorTypeStorageBuffer, 0, infos...)
	infos[0].Range = 99

	set := prepareDescriptorSet(0, &Layout{}, []Binding{binding}, hasher)
	require.Equal(t, 16, set.writes[0].bufferInfo[0].Range)
}

func TestDescriptorSetNativeWrites(t *testing.T) {
	hasher := newContentHasher()
	view := &fakeImageView{id: 1}
	buffer := &fakeBuffer{id: 2}

	set := prepareDescriptorSet(1, &Layout{}, []Binding{
		sampledImage(1, 0, view),
		storageBuffer(1, 3, buffer),
	}, hasher)

	require.Panics(t, func() {
		_, _ = set.nativeWrites(nil)
	})

	handle := &fakeDescriptorSet{id: 9}
	set.handle = handle
	writes, err := set.nativeWrites(nil)
	require.NoError(t, err)
	require.Len(t, writes, 2)

	require.Same(t, handle, writes[0].DstSet)
	require.Equal(t, 0, writes[0].DstBinding)
	require.Equal(t, core1_0.DescriptorTypeSampledImage, writes[0].DescriptorType)
	require.Same(t, view, writes[0].ImageInfo[0].ImageView)
	require.Empty(t, writes[0].BufferInfo)

	require.Equal(t, 3, writes[1].DstBinding)
	require.Equal(t, core1_0.DescriptorTypeStorageBuffer, writes[1].DescriptorType)
	require.Same(t, buffer, writes[1].BufferInfo[0].Buffer)
	require.Nil(t, writes[1].Next)
}

func TestSetCache(t *testing.T) {
	hasher := newContentHasher()
	cache := newSetCache()
	layout := &Layout{}
	buffer := &fakeBuffer{id: 1}
	pool := &Pool{}

	template := prepareDescriptorSet(0, layout, []Binding{uniformBuffer(0, 0, buffer)}, hasher)
	require.Nil(t, cache.Lookup(template))
	require.Equal(t, 1, cache.misses)

	require.Panics(t, func() {
		cache.Insert(template)
	})

	template.link(&fakeDescriptorSet{id: 1}, pool)
	cache.Insert(template)
	require.Equal(t, 1, cache.Count())
	require.Equal(t, 1, pool.References())

	lookup := prepareDescriptorSet(0, layout, []Binding{uniformBuffer(0, 0, buffer)}, hasher)
	require.Same(t, template, cache.Lookup(lookup))
	require.Equal(t, 1, cache.hits)

	duplicate := prepareDescriptorSet(0, layout, []Binding{uniformBuffer(0, 0, buffer)}, hasher)
	duplicate.link(&fakeDescriptorSet{id: 2}, pool)
	require.Panics(t, func() {
		cache.Insert(duplicate)
	})
	duplicate.unlink()

	cache.Cleanup()
	require.Equal(t, 0, cache.Count())
	require.Equal(t, 0, pool.References())
	require.Nil(t, cache.Lookup(lookup))
}

func TestBindingTableRelease(t *testing.T) {
	hasher := newContentHasher()
	pool := &Pool{}

	layout := &Layout{}
	layout.acquire()

	set := prepareDescriptorSet(4, layout, []Binding{uniformBuffer(4, 0, &fakeBuffer{id: 1})}, hasher)
	set.link(&fakeDescriptorSet{id: 1}, pool)

	table := newBindingTable(4, set)
	require.Equal(t, 4, table.SetID())
	require.Same(t, pool, table.Pool())
	require.Same(t, layout, table.Layout())
	require.Equal(t, 2, pool.References())
	require.Equal(t, 2, layout.References())

	table.Release()
	table.Release()
	require.Equal(t, 1, pool.References())
	require.Equal(t, 1, layout.References())
	require.False(t, layout.Destroyed())
}
