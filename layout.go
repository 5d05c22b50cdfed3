package vdc

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/vdc/internal/vulkan"
	"golang.org/x/exp/slices"
)

// shaderStageAll is VK_SHADER_STAGE_ALL, used for entries that do not name their stages
const shaderStageAll core1_0.ShaderStageFlags = 0x7FFFFFFF

// LayoutEntry is one slot of a LayoutSchema
type LayoutEntry struct {
	Slot           int
	DescriptorType core1_0.DescriptorType
	Count          int
	// Stages may be 0, which makes the slot visible to all shader stages
	Stages core1_0.ShaderStageFlags
}

// LayoutSchema is the type and count schema of one descriptor set, independent of the resources that
// fill it. Entries are ordered by strictly increasing slot.
type LayoutSchema struct {
	entries   []LayoutEntry
	poolSizes []core1_0.DescriptorPoolSize
}

// NewLayoutSchema builds a schema from entries that are already sorted by slot. An entry whose slot
// is not greater than the previous entry's slot is a programming error and panics.
func NewLayoutSchema(entries ...LayoutEntry) LayoutSchema {
	schema := LayoutSchema{
		entries: append([]LayoutEntry(nil), entries...),
	}

	for i, entry := range schema.entries {
		if i > 0 && entry.Slot <= schema.entries[i-1].Slot {
			panic(fmt.Sprintf("layout slots must be strictly increasing: slot %d follows slot %d", entry.Slot, schema.entries[i-1].Slot))
		}
		schema.poolSizes = addPoolSize(schema.poolSizes, core1_0.DescriptorPoolSize{
			Type:            entry.DescriptorType,
			DescriptorCount: entry.Count,
		})
	}

	return schema
}

func (s LayoutSchema) Entries() []LayoutEntry {
	return append([]LayoutEntry(nil), s.entries...)
}

func (s LayoutSchema) EntryCount() int {
	return len(s.entries)
}

// RequiredPoolSizes is the number of descriptors of each type a set with this layout consumes
// from its pool, sorted by descriptor type
func (s LayoutSchema) RequiredPoolSizes() []core1_0.DescriptorPoolSize {
	return append([]core1_0.DescriptorPoolSize(nil), s.poolSizes...)
}

func (s LayoutSchema) Equal(other LayoutSchema) bool {
	return slices.Equal(s.entries, other.entries)
}

func (s LayoutSchema) nativeBindings() []core1_0.DescriptorSetLayoutBinding {
	bindings := make([]core1_0.DescriptorSetLayoutBinding, 0, len(s.entries))
	for _, entry := range s.entries {
		stages := entry.Stages
		if stages == 0 {
			stages = shaderStageAll
		}

		bindings = append(bindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         entry.Slot,
			DescriptorType:  entry.DescriptorType,
			DescriptorCount: entry.Count,
			StageFlags:      stages,
		})
	}
	return bindings
}

// Layout is a LayoutSchema paired with the native layout created for it. The native layout is
// destroyed once the Cache has been cleaned up and every BindingTable using it has been released.
type Layout struct {
	schema LayoutSchema
	handle core1_0.DescriptorSetLayout
	device *vulkan.DescriptorDevice

	references atomic.Int32
	destroyed  atomic.Bool
}

func (l *Layout) Schema() LayoutSchema                { return l.schema }
func (l *Layout) Handle() core1_0.DescriptorSetLayout { return l.handle }
func (l *Layout) References() int                     { return int(l.references.Load()) }
func (l *Layout) Destroyed() bool                     { return l.destroyed.Load() }

func (l *Layout) acquire() {
	l.references.Add(1)
}

func (l *Layout) release() {
	references := l.references.Add(-1)
	if references < 0 {
		panic("descriptor set layout released more times than it was acquired")
	}
	if references == 0 {
		l.destroyed.Store(true)
		l.device.DestroyLayout(l.handle)
	}
}

type layoutCache struct {
	logger *slog.Logger
	device *vulkan.DescriptorDevice
	hasher *contentHasher

	buckets *swiss.Map[uint64, []*Layout]
	count   int

	hits   int
	misses int
}

func newLayoutCache(logger *slog.Logger, device *vulkan.DescriptorDevice, hasher *contentHasher) *layoutCache {
	return &layoutCache{
		logger:  logger,
		device:  device,
		hasher:  hasher,
		buckets: swiss.NewMap[uint64, []*Layout](16),
	}
}

func (c *layoutCache) GetOrAlloc(schema LayoutSchema) (*Layout, error) {
	hash := c.hasher.hashSchema(schema)

	bucket, _ := c.buckets.Get(hash)
	for _, layout := range bucket {
		if layout.schema.Equal(schema) {
			c.hits++
			return layout, nil
		}
	}

	handle, err := c.device.CreateLayout(schema.nativeBindings())
	if err != nil {
		return nil, err
	}

	c.misses++
	c.count++
	layout := &Layout{schema: schema, handle: handle, device: c.device}
	// held by the cache until Cleanup
	layout.acquire()
	c.buckets.Put(hash, append(bucket, layout))

	c.logger.Debug("created descriptor set layout", slog.Int("Bindings", schema.EntryCount()))
	return layout, nil
}

func (c *layoutCache) Count() int {
	return c.count
}

// Cleanup empties the cache and drops its reference on every layout. Layouts no BindingTable
// still uses are destroyed immediately.
func (c *layoutCache) Cleanup() {
	c.buckets.Iter(func(hash uint64, bucket []*Layout) (stop bool) {
		for _, layout := range bucket {
			layout.release()
		}
		return false
	})

	c.buckets = swiss.NewMap[uint64, []*Layout](16)
	c.count = 0
}
