package vdc

import (
	"github.com/dolthub/maphash"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func hashCombine(seed, value uint64) uint64 {
	return seed ^ (value + 0x9e3779b97f4a7c15 + (seed << 6) + (seed >> 2))
}

// contentHasher hashes layouts and descriptor set contents. Hashers are seeded randomly on creation,
// so every hash a cache compares must come from the same contentHasher.
type contentHasher struct {
	entries    maphash.Hasher[LayoutEntry]
	writes     maphash.Hasher[writeHeader]
	images     maphash.Hasher[core1_0.DescriptorImageInfo]
	buffers    maphash.Hasher[core1_0.DescriptorBufferInfo]
	views      maphash.Hasher[core1_0.BufferView]
	structures maphash.Hasher[AccelerationStructure]
}

func newContentHasher() *contentHasher {
	return &contentHasher{
		entries:    maphash.NewHasher[LayoutEntry](),
		writes:     maphash.NewHasher[writeHeader](),
		images:     maphash.NewHasher[core1_0.DescriptorImageInfo](),
		buffers:    maphash.NewHasher[core1_0.DescriptorBufferInfo](),
		views:      maphash.NewHasher[core1_0.BufferView](),
		structures: maphash.NewHasher[AccelerationStructure](),
	}
}

func (h *contentHasher) hashSchema(schema LayoutSchema) uint64 {
	var hash uint64
	for _, entry := range schema.entries {
		hash = hashCombine(hash, h.entries.Hash(entry))
	}
	return hash
}

// hashDescriptorSet only folds in the first resource of each write. Equal sets always hash equally,
// and full equality is checked on every lookup.
func (h *contentHasher) hashDescriptorSet(set *descriptorSet) uint64 {
	var hash uint64
	for i := range set.writes {
		write := &set.writes[i]
		hash = hashCombine(hash, h.writes.Hash(write.header))

		if len(write.imageInfo) > 0 {
			hash = hashCombine(hash, h.images.Hash(write.imageInfo[0]))
		}
		if len(write.bufferInfo) > 0 {
			hash = hashCombine(hash, h.buffers.Hash(write.bufferInfo[0]))
		}
		if len(write.texelBufferViews) > 0 {
			hash = hashCombine(hash, h.views.Hash(write.texelBufferViews[0]))
		}
		if len(write.accelerationStructures) > 0 {
			hash = hashCombine(hash, h.structures.Hash(write.accelerationStructures[0]))
		}
	}
	return hash
}
