package vdc

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// DescriptorTypeAccelerationStructure is VK_DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE_KHR
const DescriptorTypeAccelerationStructure core1_0.DescriptorType = 1000150000

// AccelerationStructure is an opaque acceleration structure object. Two bindings reference the same
// acceleration structure when the values compare equal with ==, so implementations must be comparable
// (typically a pointer).
type AccelerationStructure interface{}

type resourceCategory int

const (
	resourceCategoryUnknown resourceCategory = iota
	resourceCategoryImage
	resourceCategoryBuffer
	resourceCategoryTexelBuffer
	resourceCategoryAccelerationStructure
)

func categoryOf(descriptorType core1_0.DescriptorType) resourceCategory {
	switch descriptorType {
	case core1_0.DescriptorTypeSampler,
		core1_0.DescriptorTypeCombinedImageSampler,
		core1_0.DescriptorTypeSampledImage,
		core1_0.DescriptorTypeStorageImage,
		core1_0.DescriptorTypeInputAttachment:
		return resourceCategoryImage
	case core1_0.DescriptorTypeUniformBuffer,
		core1_0.DescriptorTypeStorageBuffer,
		core1_0.DescriptorTypeUniformBufferDynamic,
		core1_0.DescriptorTypeStorageBufferDynamic:
		return resourceCategoryBuffer
	case core1_0.DescriptorTypeUniformTexelBuffer,
		core1_0.DescriptorTypeStorageTexelBuffer:
		return resourceCategoryTexelBuffer
	case DescriptorTypeAccelerationStructure:
		return resourceCategoryAccelerationStructure
	}

	return resourceCategoryUnknown
}

// Binding describes the resources bound to a single slot of a descriptor set. Bindings are
// immutable: the constructors copy the resources they are given. The referenced resources
// remain owned by the caller and must outlive every use of the descriptor sets built from them.
type Binding struct {
	setID          int
	slot           int
	descriptorType core1_0.DescriptorType
	stages         core1_0.ShaderStageFlags

	imageInfo              []core1_0.DescriptorImageInfo
	bufferInfo             []core1_0.DescriptorBufferInfo
	texelBufferViews       []core1_0.BufferView
	accelerationStructures []AccelerationStructure
}

// ImageBinding binds an array of image descriptors: samplers, sampled/storage images, combined image
// samplers or input attachments. stages may be 0 to make the binding visible to all shader stages.
func ImageBinding(setID, slot int, descriptorType core1_0.DescriptorType, stages core1_0.ShaderStageFlags, images ...core1_0.DescriptorImageInfo) Binding {
	return Binding{
		setID:          setID,
		slot:           slot,
		descriptorType: descriptorType,
		stages:         stages,
		imageInfo:      append([]core1_0.DescriptorImageInfo(nil), images...),
	}
}

// BufferBinding binds an array of uniform or storage buffer ranges
func BufferBinding(setID, slot int, descriptorType core1_0.DescriptorType, stages core1_0.ShaderStageFlags, buffers ...core1_0.DescriptorBufferInfo) Binding {
	return Binding{
		setID:          setID,
		slot:           slot,
		descriptorType: descriptorType,
		stages:         stages,
		bufferInfo:     append([]core1_0.DescriptorBufferInfo(nil), buffers...),
	}
}

// TexelBufferBinding binds an array of uniform or storage texel buffer views
func TexelBufferBinding(setID, slot int, descriptorType core1_0.DescriptorType, stages core1_0.ShaderStageFlags, views ...core1_0.BufferView) Binding {
	return Binding{
		setID:            setID,
		slot:             slot,
		descriptorType:   descriptorType,
		stages:           stages,
		texelBufferViews: append([]core1_0.BufferView(nil), views...),
	}
}

// AccelerationStructureBinding binds an array of acceleration structures. Writing these requires
// CreateOptions.AccelerationStructureWrite.
func AccelerationStructureBinding(setID, slot int, stages core1_0.ShaderStageFlags, structures ...AccelerationStructure) Binding {
	return Binding{
		setID:                  setID,
		slot:                   slot,
		descriptorType:         DescriptorTypeAccelerationStructure,
		stages:                 stages,
		accelerationStructures: append([]AccelerationStructure(nil), structures...),
	}
}

func (b Binding) SetID() int                             { return b.setID }
func (b Binding) Slot() int                              { return b.slot }
func (b Binding) DescriptorType() core1_0.DescriptorType { return b.descriptorType }
func (b Binding) Stages() core1_0.ShaderStageFlags       { return b.stages }

// Count is the number of descriptors in the binding's array
func (b Binding) Count() int {
	return len(b.imageInfo) + len(b.bufferInfo) + len(b.texelBufferViews) + len(b.accelerationStructures)
}

func (b Binding) layoutEntry() LayoutEntry {
	return LayoutEntry{
		Slot:           b.slot,
		DescriptorType: b.descriptorType,
		Count:          b.Count(),
		Stages:         b.stages,
	}
}

func (b Binding) validate() error {
	if b.setID < 0 || b.slot < 0 {
		return errors.Wrapf(ErrInvalidBinding, "set %d slot %d: set and slot ids must not be negative", b.setID, b.slot)
	}
	if b.Count() == 0 {
		return errors.Wrapf(ErrInvalidBinding, "set %d slot %d: binding has no descriptors", b.setID, b.slot)
	}

	var matching int
	switch categoryOf(b.descriptorType) {
	case resourceCategoryImage:
		matching = len(b.imageInfo)
	case resourceCategoryBuffer:
		matching = len(b.bufferInfo)
	case resourceCategoryTexelBuffer:
		matching = len(b.texelBufferViews)
	case resourceCategoryAccelerationStructure:
		matching = len(b.accelerationStructures)
	default:
		return errors.Wrapf(ErrUnsupportedBinding, "set %d slot %d: descriptor type %v", b.setID, b.slot, b.descriptorType)
	}

	if matching != b.Count() {
		return errors.Wrapf(ErrInvalidBinding, "set %d slot %d: resources do not match descriptor type %v", b.setID, b.slot, b.descriptorType)
	}
	return nil
}
