package vdc

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/vdc/internal/vulkan"
)

// Device is the subset of core1_0.Device the cache uses. Any core1_0.Device satisfies it.
type Device = vulkan.Device

// CreateFlags indicate specific cache behaviors to activate or deactivate
type CreateFlags int32

var cacheCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	cacheCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return cacheCreateFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that the cache will not be synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time or is synchronized by
	// some other mechanism.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}

// PoolSizing decides which parts of an allocation request are scaled by the preallocation factor
// when a new descriptor pool is created
type PoolSizing int32

const (
	// PoolSizingScaleAll scales both the set count and every descriptor count
	PoolSizingScaleAll PoolSizing = iota
	// PoolSizingScaleSetsOnly scales the set count but keeps descriptor counts as requested. Some
	// drivers provision descriptor memory per set regardless of the pool sizes requested.
	PoolSizingScaleSetsOnly
)

var poolSizingNames = map[PoolSizing]string{
	PoolSizingScaleAll:      "PoolSizingScaleAll",
	PoolSizingScaleSetsOnly: "PoolSizingScaleSetsOnly",
}

func (s PoolSizing) String() string {
	name, ok := poolSizingNames[s]
	if !ok {
		return "PoolSizingUnknown"
	}
	return name
}

const (
	vendorNVIDIA          uint32 = 0x10DE
	vendorNVIDIAAlternate uint32 = 0x12D2
)

// PoolSizingForVendor returns the pool sizing that suits a physical device's vendor id
func PoolSizingForVendor(vendorID uint32) PoolSizing {
	switch vendorID {
	case vendorNVIDIA, vendorNVIDIAAlternate:
		return PoolSizingScaleSetsOnly
	}
	return PoolSizingScaleAll
}

const (
	// defaultPreallocationFactor is used when CreateOptions.PreallocationFactor is 0
	defaultPreallocationFactor int = 4
	// defaultPoolName is used when CreateOptions.DefaultPoolName is empty
	defaultPoolName = "default"
)

// CreateOptions contains optional settings when creating a cache
type CreateOptions struct {
	// Flags indicates specific cache behaviors to activate or deactivate
	Flags CreateFlags
	// PreallocationFactor is how many times larger than the request that triggered it a new
	// descriptor pool is made
	PreallocationFactor int
	// PoolSizing chooses whether the preallocation factor also applies to descriptor counts
	PoolSizing PoolSizing
	// DefaultPoolName is the pool name used by Resolve
	DefaultPoolName string

	// VulkanCallbacks is an optional set of callbacks that will be executed from Vulkan when
	// layouts and pools are created or destroyed by this cache
	VulkanCallbacks *driver.AllocationCallbacks

	// PoolCallbackOptions is an optional set of callbacks that will be executed when the cache
	// creates or destroys a descriptor pool
	PoolCallbackOptions *PoolCallbackOptions

	// AccelerationStructureWrite builds the extension structure that writes acceleration structure
	// descriptors. Resolving acceleration structure bindings fails with ErrUnsupportedBinding
	// when it is nil.
	AccelerationStructureWrite AccelerationStructureWriteFunc
}

// New creates a new Cache
//
// device - The Device that layouts, pools and descriptor sets will be created from
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, device Device, options CreateOptions) (*Cache, error) {
	if device == nil {
		return nil, errors.New("vdc.New requires a device")
	}
	if options.PreallocationFactor < 0 {
		return nil, errors.Newf("preallocation factor must not be negative, was %d", options.PreallocationFactor)
	}
	if _, ok := poolSizingNames[options.PoolSizing]; !ok {
		return nil, errors.Newf("unknown pool sizing %d", options.PoolSizing)
	}

	preallocationFactor := options.PreallocationFactor
	if preallocationFactor == 0 {
		preallocationFactor = defaultPreallocationFactor
	}

	poolName := options.DefaultPoolName
	if poolName == "" {
		poolName = defaultPoolName
	}

	cache := &Cache{
		logger:                     logger,
		createFlags:                options.Flags,
		defaultPoolName:            poolName,
		accelerationStructureWrite: options.AccelerationStructureWrite,
	}
	cache.mutex.UseMutex = options.Flags&CreateExternallySynchronized == 0

	cache.device = vulkan.NewDescriptorDevice(device, options.VulkanCallbacks)
	cache.hasher = newContentHasher()
	cache.layouts = newLayoutCache(logger, cache.device, cache.hasher)
	cache.sets = newSetCache()
	cache.pools = newPoolDirectory(
		logger,
		cache.device,
		&poolCallbacks{
			Callbacks: options.PoolCallbackOptions,
			Cache:     cache,
		},
		preallocationFactor,
		options.PoolSizing,
	)

	logger.Debug("vdc.New",
		slog.String("Flags", options.Flags.String()),
		slog.Int("PreallocationFactor", preallocationFactor),
		slog.String("PoolSizing", options.PoolSizing.String()),
	)

	return cache, nil
}
