package vdc

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slices"
)

func comparePoolSizeType(size core1_0.DescriptorPoolSize, descriptorType core1_0.DescriptorType) int {
	switch {
	case size.Type < descriptorType:
		return -1
	case size.Type > descriptorType:
		return 1
	}
	return 0
}

// addPoolSize merges size into sizes, which must be sorted by descriptor type, and returns the
// updated slice
func addPoolSize(sizes []core1_0.DescriptorPoolSize, size core1_0.DescriptorPoolSize) []core1_0.DescriptorPoolSize {
	index, found := slices.BinarySearchFunc(sizes, size.Type, comparePoolSizeType)
	if found {
		sizes[index].DescriptorCount += size.DescriptorCount
		return sizes
	}

	return slices.Insert(sizes, index, size)
}

// AllocationRequest is the number of descriptors of each type, plus the number of sets, needed to
// carve a group of descriptor sets
type AllocationRequest struct {
	poolSizes []core1_0.DescriptorPoolSize
	setCount  int
}

// NewAllocationRequest sums the pool size requirements of one set per schema
func NewAllocationRequest(schemas ...LayoutSchema) AllocationRequest {
	request := AllocationRequest{
		setCount: len(schemas),
	}

	for _, schema := range schemas {
		for _, size := range schema.poolSizes {
			request.AddSizeRequirement(size)
		}
	}

	return request
}

// AddSizeRequirement adds count descriptors of a type to the request
func (r *AllocationRequest) AddSizeRequirement(size core1_0.DescriptorPoolSize) {
	r.poolSizes = addPoolSize(r.poolSizes, size)
}

// Multiply returns a copy of the request with every descriptor count scaled by factor. The set
// count is not scaled: pool sizing amplifies set counts separately.
func (r AllocationRequest) Multiply(factor int) AllocationRequest {
	scaled := AllocationRequest{
		poolSizes: make([]core1_0.DescriptorPoolSize, len(r.poolSizes)),
		setCount:  r.setCount,
	}

	for i, size := range r.poolSizes {
		scaled.poolSizes[i] = core1_0.DescriptorPoolSize{
			Type:            size.Type,
			DescriptorCount: size.DescriptorCount * factor,
		}
	}

	return scaled
}

// PoolSizes returns the accumulated requirements sorted by descriptor type
func (r AllocationRequest) PoolSizes() []core1_0.DescriptorPoolSize {
	return append([]core1_0.DescriptorPoolSize(nil), r.poolSizes...)
}

func (r AllocationRequest) SetCount() int {
	return r.setCount
}
