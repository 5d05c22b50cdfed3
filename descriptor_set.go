package vdc

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slices"
)

// writeHeader is the part of a write that locates it within its set
type writeHeader struct {
	slot           int
	arrayElement   int
	count          int
	descriptorType core1_0.DescriptorType
}

// setWrite is one slot of a descriptor set, along with the set's own copy of the resources
// written to it
type setWrite struct {
	header writeHeader

	imageInfo              []core1_0.DescriptorImageInfo
	bufferInfo             []core1_0.DescriptorBufferInfo
	texelBufferViews       []core1_0.BufferView
	accelerationStructures []AccelerationStructure
}

func (w *setWrite) equal(other *setWrite) bool {
	return w.header == other.header &&
		slices.Equal(w.imageInfo, other.imageInfo) &&
		slices.Equal(w.bufferInfo, other.bufferInfo) &&
		slices.Equal(w.texelBufferViews, other.texelBufferViews) &&
		slices.Equal(w.accelerationStructures, other.accelerationStructures)
}

// descriptorSet starts out as a template describing the contents of one set. Once carved it also
// holds the native set, its layout, and a reference on the pool it came from.
type descriptorSet struct {
	setID  int
	hash   uint64
	writes []setWrite

	layout *Layout
	handle core1_0.DescriptorSet
	pool   *Pool
}

// prepareDescriptorSet builds a template from bindings that all share a set id and are sorted by
// strictly increasing slot
func prepareDescriptorSet(setID int, layout *Layout, bindings []Binding, hasher *contentHasher) *descriptorSet {
	set := &descriptorSet{
		setID:  setID,
		layout: layout,
		writes: make([]setWrite, 0, len(bindings)),
	}

	for _, binding := range bindings {
		set.writes = append(set.writes, setWrite{
			header: writeHeader{
				slot:           binding.slot,
				arrayElement:   0,
				count:          binding.Count(),
				descriptorType: binding.descriptorType,
			},
			imageInfo:              append([]core1_0.DescriptorImageInfo(nil), binding.imageInfo...),
			bufferInfo:             append([]core1_0.DescriptorBufferInfo(nil), binding.bufferInfo...),
			texelBufferViews:       append([]core1_0.BufferView(nil), binding.texelBufferViews...),
			accelerationStructures: append([]AccelerationStructure(nil), binding.accelerationStructures...),
		})
	}

	set.hash = hasher.hashDescriptorSet(set)
	return set
}

// equal compares contents along with the layout, since identical resources bound under
// different shader stages need different sets
func (s *descriptorSet) equal(other *descriptorSet) bool {
	if s.layout != other.layout || len(s.writes) != len(other.writes) {
		return false
	}

	for i := range s.writes {
		if !s.writes[i].equal(&other.writes[i]) {
			return false
		}
	}

	return true
}

func (s *descriptorSet) link(handle core1_0.DescriptorSet, pool *Pool) {
	s.handle = handle
	s.pool = pool
	pool.acquire()
}

// unlink reverses link for a set that never made it into the cache
func (s *descriptorSet) unlink() {
	if s.pool != nil {
		s.pool.release()
	}
	s.handle = nil
	s.pool = nil
}

// AccelerationStructureWriteFunc builds the structure chained onto a descriptor write for an
// acceleration structure binding (VkWriteDescriptorSetAccelerationStructureKHR)
type AccelerationStructureWriteFunc func(structures []AccelerationStructure) (common.Options, error)

// nativeWrites converts the set's contents into native writes targeting its carved handle
func (s *descriptorSet) nativeWrites(accelerationStructureWrite AccelerationStructureWriteFunc) ([]core1_0.WriteDescriptorSet, error) {
	if s.handle == nil {
		panic("attempted to write a descriptor set that has not been carved")
	}

	writes := make([]core1_0.WriteDescriptorSet, 0, len(s.writes))
	for i := range s.writes {
		w := &s.writes[i]

		write := core1_0.WriteDescriptorSet{
			DstSet:          s.handle,
			DstBinding:      w.header.slot,
			DstArrayElement: w.header.arrayElement,
			DescriptorType:  w.header.descriptorType,
			ImageInfo:       w.imageInfo,
			BufferInfo:      w.bufferInfo,
			TexelBufferView: w.texelBufferViews,
		}

		if len(w.accelerationStructures) > 0 {
			if accelerationStructureWrite == nil {
				return nil, errors.Wrapf(ErrUnsupportedBinding, "set %d slot %d: acceleration structures require CreateOptions.AccelerationStructureWrite", s.setID, w.header.slot)
			}

			next, err := accelerationStructureWrite(w.accelerationStructures)
			if err != nil {
				return nil, errors.Wrapf(err, "set %d slot %d", s.setID, w.header.slot)
			}
			write.Next = next
		}

		writes = append(writes, write)
	}

	return writes, nil
}

// BindingTable is a resolved descriptor set. Several BindingTables may share one native set when
// they were resolved from identical bindings. Each BindingTable holds a reference on the pool the
// set was carved from until Release is called.
type BindingTable struct {
	setID    int
	set      *descriptorSet
	released atomic.Bool
}

func newBindingTable(setID int, set *descriptorSet) *BindingTable {
	set.pool.acquire()
	set.layout.acquire()
	return &BindingTable{setID: setID, set: set}
}

// SetID is the set index the table was resolved for, which may differ from the set index of
// another table sharing the same native set
func (t *BindingTable) SetID() int                    { return t.setID }
func (t *BindingTable) Handle() core1_0.DescriptorSet { return t.set.handle }
func (t *BindingTable) Layout() *Layout               { return t.set.layout }
func (t *BindingTable) Pool() *Pool                   { return t.set.pool }

// Release drops the table's references on its pool and its layout. Calling Release more than once
// has no effect. The native set and layout must not be used after every table sharing them has
// been released and the cache has been cleaned up.
func (t *BindingTable) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.set.pool.release()
		t.set.layout.release()
	}
}
