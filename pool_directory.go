package vdc

import (
	"log/slog"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/vdc/internal/vulkan"
)

type poolKey struct {
	owner OwnerID
	name  string
}

// poolDirectory buckets pools by owner and name. A bucket is only searched linearly, the
// directory makes no attempt at best fit.
type poolDirectory struct {
	logger    *slog.Logger
	device    *vulkan.DescriptorDevice
	callbacks *poolCallbacks

	preallocationFactor int
	sizing              PoolSizing

	buckets    *swiss.Map[poolKey, []*Pool]
	nextPoolID int

	created   int
	destroyed int
}

func newPoolDirectory(logger *slog.Logger, device *vulkan.DescriptorDevice, callbacks *poolCallbacks, preallocationFactor int, sizing PoolSizing) *poolDirectory {
	return &poolDirectory{
		logger:              logger,
		device:              device,
		callbacks:           callbacks,
		preallocationFactor: preallocationFactor,
		sizing:              sizing,
		buckets:             swiss.NewMap[poolKey, []*Pool](8),
		nextPoolID:          1,
	}
}

// GetPoolFor returns a pool from the (owner, name) bucket with room for request, creating one if
// none qualifies or forceNew is set. Pools nothing references any longer are destroyed first.
func (d *poolDirectory) GetPoolFor(owner OwnerID, request AllocationRequest, name string, forceNew bool) (*Pool, error) {
	key := poolKey{owner: owner, name: name}
	pools := d.prunedBucket(key)

	if !forceNew {
		for _, pool := range pools {
			if pool.HasCapacityFor(request) {
				return pool, nil
			}
		}
	}

	pool, err := d.createPool(key, request)
	if err != nil {
		return nil, err
	}

	d.buckets.Put(key, append(pools, pool))
	return pool, nil
}

// Bucket returns the live pools in the (owner, name) bucket
func (d *poolDirectory) Bucket(owner OwnerID, name string) []*Pool {
	return append([]*Pool(nil), d.prunedBucket(poolKey{owner: owner, name: name})...)
}

func (d *poolDirectory) prunedBucket(key poolKey) []*Pool {
	pools, ok := d.buckets.Get(key)
	if !ok {
		return nil
	}

	live := pools[:0]
	for _, pool := range pools {
		if pool.References() > 0 {
			live = append(live, pool)
			continue
		}

		d.destroyPool(pool)
	}
	for i := len(live); i < len(pools); i++ {
		pools[i] = nil
	}

	if len(live) == 0 {
		d.buckets.Delete(key)
		return nil
	}

	d.buckets.Put(key, live)
	return live
}

func (d *poolDirectory) createPool(key poolKey, request AllocationRequest) (*Pool, error) {
	setCount := request.setCount * d.preallocationFactor
	capacities := request.Multiply(d.preallocationFactor).poolSizes
	if d.sizing == PoolSizingScaleSetsOnly {
		capacities = request.PoolSizes()
	}

	handle, err := d.device.CreatePool(capacities, setCount)
	if err != nil {
		return nil, err
	}

	pool := &Pool{
		logger:              d.logger,
		device:              d.device,
		handle:              handle,
		id:                  d.nextPoolID,
		name:                key.name,
		owner:               key.owner,
		initialCapacities:   capacities,
		remainingCapacities: append(capacities[:0:0], capacities...),
		initialSets:         setCount,
		remainingSets:       setCount,
	}
	d.nextPoolID++
	d.created++

	d.logger.Info("created descriptor pool",
		slog.Int("Pool", pool.id),
		slog.Any("Owner", key.owner),
		slog.String("Name", key.name),
		slog.Int("MaxSets", setCount),
		slog.Int("SizeEntries", len(capacities)),
		slog.String("Sizing", d.sizing.String()),
	)

	d.callbacks.Create(pool)
	return pool, nil
}

func (d *poolDirectory) destroyPool(pool *Pool) {
	if pool.destroyed {
		return
	}

	d.logger.Debug("destroying descriptor pool",
		slog.Int("Pool", pool.id),
		slog.Int("RemainingSets", pool.remainingSets),
	)

	d.callbacks.Destroy(pool)
	pool.destroy()
	d.destroyed++
}

// Pools returns every pool the directory is tracking, pruned or not
func (d *poolDirectory) Pools() []*Pool {
	var pools []*Pool
	d.buckets.Iter(func(key poolKey, bucket []*Pool) (stop bool) {
		pools = append(pools, bucket...)
		return false
	})
	return pools
}

// DestroyUnreferenced destroys every pool nothing references and returns the number of pools that
// are still referenced
func (d *poolDirectory) DestroyUnreferenced() int {
	var keys []poolKey
	d.buckets.Iter(func(key poolKey, bucket []*Pool) (stop bool) {
		keys = append(keys, key)
		return false
	})

	outstanding := 0
	for _, key := range keys {
		outstanding += len(d.prunedBucket(key))
	}
	return outstanding
}
