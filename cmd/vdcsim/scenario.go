package main

import (
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/vdc"
	"github.com/vkngwrapper/vdc/internal/simdevice"
)

// Scenario is a sequence of binding batches replayed against a simulated device
type Scenario struct {
	Cache   CacheConfig `toml:"cache"`
	Batches []Batch     `toml:"batch"`
}

type CacheConfig struct {
	PreallocationFactor int    `toml:"preallocation_factor"`
	VendorID            uint32 `toml:"vendor_id"`
	DefaultPoolName     string `toml:"default_pool_name"`
}

type Batch struct {
	Owner uint64 `toml:"owner"`
	Pool  string `toml:"pool"`
	// Repeat resolves the batch this many times, 1 if unset
	Repeat int `toml:"repeat"`
	// Vary gives each repetition its own resources, so repetitions miss the cache
	Vary bool `toml:"vary"`
	// FailAllocations makes this many carves fail with VK_ERROR_OUT_OF_POOL_MEMORY before the
	// batch is first resolved
	FailAllocations int  `toml:"fail_allocations"`
	Release         bool `toml:"release"`
	Cleanup         bool `toml:"cleanup"`

	Bindings []BindingConfig `toml:"binding"`
}

type BindingConfig struct {
	Set   int    `toml:"set"`
	Slot  int    `toml:"slot"`
	Type  string `toml:"type"`
	Count int    `toml:"count"`
	// Resource names the resource bound, bindings with the same resource id share it
	Resource int `toml:"resource"`
}

var descriptorTypes = map[string]core1_0.DescriptorType{
	"sampler":                core1_0.DescriptorTypeSampler,
	"combined_image_sampler": core1_0.DescriptorTypeCombinedImageSampler,
	"sampled_image":          core1_0.DescriptorTypeSampledImage,
	"storage_image":          core1_0.DescriptorTypeStorageImage,
	"uniform_texel_buffer":   core1_0.DescriptorTypeUniformTexelBuffer,
	"storage_texel_buffer":   core1_0.DescriptorTypeStorageTexelBuffer,
	"uniform_buffer":         core1_0.DescriptorTypeUniformBuffer,
	"storage_buffer":         core1_0.DescriptorTypeStorageBuffer,
	"uniform_buffer_dynamic": core1_0.DescriptorTypeUniformBufferDynamic,
	"storage_buffer_dynamic": core1_0.DescriptorTypeStorageBufferDynamic,
	"input_attachment":       core1_0.DescriptorTypeInputAttachment,
}

func descriptorTypeNames() string {
	names := make([]string, 0, len(descriptorTypes))
	for name := range descriptorTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// LoadScenario decodes a TOML scenario, rejecting unknown keys
func LoadScenario(r io.Reader) (*Scenario, error) {
	var scenario Scenario
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()

	err := decoder.Decode(&scenario)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode scenario")
	}

	for i, batch := range scenario.Batches {
		if len(batch.Bindings) == 0 {
			return nil, errors.Newf("batch %d has no bindings", i)
		}
		if batch.Repeat < 0 {
			return nil, errors.Newf("batch %d has a negative repeat count", i)
		}
		for j, binding := range batch.Bindings {
			if _, ok := descriptorTypes[binding.Type]; !ok {
				return nil, errors.Newf("batch %d binding %d has unknown type %q, expected one of %s", i, j, binding.Type, descriptorTypeNames())
			}
		}
	}

	return &scenario, nil
}

type resourceKey struct {
	id        int
	iteration int
}

// resources hands out one stand-in resource per id, so repeated ids bind the same resource
type resources struct {
	nextID      int
	buffers     map[resourceKey]*simdevice.Buffer
	views       map[resourceKey]*simdevice.ImageView
	samplers    map[resourceKey]*simdevice.Sampler
	bufferViews map[resourceKey]*simdevice.BufferView
}

func newResources() *resources {
	return &resources{
		buffers:     make(map[resourceKey]*simdevice.Buffer),
		views:       make(map[resourceKey]*simdevice.ImageView),
		samplers:    make(map[resourceKey]*simdevice.Sampler),
		bufferViews: make(map[resourceKey]*simdevice.BufferView),
	}
}

func (r *resources) id() int {
	r.nextID++
	return r.nextID
}

func (r *resources) buffer(key resourceKey) *simdevice.Buffer {
	buffer, ok := r.buffers[key]
	if !ok {
		buffer = &simdevice.Buffer{ID: r.id()}
		r.buffers[key] = buffer
	}
	return buffer
}

func (r *resources) view(key resourceKey) *simdevice.ImageView {
	view, ok := r.views[key]
	if !ok {
		view = &simdevice.ImageView{ID: r.id()}
		r.views[key] = view
	}
	return view
}

func (r *resources) sampler(key resourceKey) *simdevice.Sampler {
	sampler, ok := r.samplers[key]
	if !ok {
		sampler = &simdevice.Sampler{ID: r.id()}
		r.samplers[key] = sampler
	}
	return sampler
}

func (r *resources) bufferView(key resourceKey) *simdevice.BufferView {
	view, ok := r.bufferViews[key]
	if !ok {
		view = &simdevice.BufferView{ID: r.id()}
		r.bufferViews[key] = view
	}
	return view
}

func (r *resources) binding(config BindingConfig, iteration int) vdc.Binding {
	descriptorType := descriptorTypes[config.Type]
	key := resourceKey{id: config.Resource, iteration: iteration}

	count := config.Count
	if count <= 0 {
		count = 1
	}

	switch descriptorType {
	case core1_0.DescriptorTypeSampler:
		images := make([]core1_0.DescriptorImageInfo, count)
		for i := range images {
			images[i].Sampler = r.sampler(key)
		}
		return vdc.ImageBinding(config.Set, config.Slot, descriptorType, 0, images...)
	case core1_0.DescriptorTypeCombinedImageSampler,
		core1_0.DescriptorTypeSampledImage,
		core1_0.DescriptorTypeStorageImage,
		core1_0.DescriptorTypeInputAttachment:
		images := make([]core1_0.DescriptorImageInfo, count)
		for i := range images {
			images[i].ImageView = r.view(key)
			if descriptorType == core1_0.DescriptorTypeCombinedImageSampler {
				images[i].Sampler = r.sampler(key)
			}
		}
		return vdc.ImageBinding(config.Set, config.Slot, descriptorType, 0, images...)
	case core1_0.DescriptorTypeUniformTexelBuffer,
		core1_0.DescriptorTypeStorageTexelBuffer:
		views := make([]core1_0.BufferView, count)
		for i := range views {
			views[i] = r.bufferView(key)
		}
		return vdc.TexelBufferBinding(config.Set, config.Slot, descriptorType, 0, views...)
	}

	buffers := make([]core1_0.DescriptorBufferInfo, count)
	for i := range buffers {
		buffers[i] = core1_0.DescriptorBufferInfo{
			Buffer: r.buffer(key),
			Offset: i * 256,
			Range:  256,
		}
	}
	return vdc.BufferBinding(config.Set, config.Slot, descriptorType, 0, buffers...)
}

// Report is the outcome of a replayed scenario
type Report struct {
	Statistics    vdc.Statistics
	AllocateCalls int
	WriteCalls    int
	PoolsCreated  int
	LayoutsMade   int
	// Stats is the cache's JSON dump taken after the last batch
	Stats string
}

// Run replays the scenario against a fresh simulated device and cache
func Run(logger *slog.Logger, scenario *Scenario, detailed bool) (*Report, error) {
	device := simdevice.New()

	cache, err := vdc.New(logger, device, vdc.CreateOptions{
		PreallocationFactor: scenario.Cache.PreallocationFactor,
		PoolSizing:          vdc.PoolSizingForVendor(scenario.Cache.VendorID),
		DefaultPoolName:     scenario.Cache.DefaultPoolName,
		PoolCallbackOptions: &vdc.PoolCallbackOptions{
			Destroy: func(cache *vdc.Cache, pool *vdc.Pool, userData interface{}) {
				logger.Debug("pool destroyed", slog.Int("Pool", pool.ID()), slog.Int("RemainingSets", pool.RemainingSets()))
			},
		},
	})
	if err != nil {
		return nil, err
	}

	res := newResources()
	var held []*vdc.BindingTable

	for i, batch := range scenario.Batches {
		repeat := batch.Repeat
		if repeat == 0 {
			repeat = 1
		}
		if batch.FailAllocations > 0 {
			device.FailAllocations(batch.FailAllocations, core1_1.VkErrorOutOfPoolMemory)
		}

		for iteration := 0; iteration < repeat; iteration++ {
			resourceIteration := 0
			if batch.Vary {
				resourceIteration = iteration
			}

			bindings := make([]vdc.Binding, 0, len(batch.Bindings))
			for _, config := range batch.Bindings {
				bindings = append(bindings, res.binding(config, resourceIteration))
			}

			poolName := batch.Pool
			if poolName == "" {
				poolName = cache.DefaultPoolName()
			}

			tables, err := cache.ResolveFor(vdc.OwnerID(batch.Owner), poolName, bindings...)
			if err != nil {
				return nil, errors.Wrapf(err, "batch %d iteration %d", i, iteration)
			}

			if batch.Release {
				for _, table := range tables {
					table.Release()
				}
			} else {
				held = append(held, tables...)
			}
		}

		if batch.Cleanup {
			cache.Cleanup()
		}
	}

	report := &Report{}
	cache.CalculateStatistics(&report.Statistics)
	report.Stats = cache.BuildStatsString(detailed)
	report.AllocateCalls = device.AllocateCalls
	report.WriteCalls = device.WriteCalls
	report.PoolsCreated = len(device.Pools())
	report.LayoutsMade = len(device.Layouts())

	for _, table := range held {
		table.Release()
	}
	err = cache.Destroy()
	if err != nil {
		return nil, err
	}

	return report, nil
}
