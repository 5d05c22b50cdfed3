package vdc

type PoolCreateCallback func(
	cache *Cache,
	pool *Pool,
	userData interface{},
)

type PoolDestroyCallback func(
	cache *Cache,
	pool *Pool,
	userData interface{},
)

// PoolCallbackOptions is an optional set of callbacks executed when the cache creates or destroys
// a descriptor pool
type PoolCallbackOptions struct {
	Create   PoolCreateCallback
	Destroy  PoolDestroyCallback
	UserData interface{}
}

type poolCallbacks struct {
	Callbacks *PoolCallbackOptions
	Cache     *Cache
}

func (c *poolCallbacks) Create(pool *Pool) {
	if c.Callbacks != nil && c.Callbacks.Create != nil {
		c.Callbacks.Create(c.Cache, pool, c.Callbacks.UserData)
	}
}

func (c *poolCallbacks) Destroy(pool *Pool) {
	if c.Callbacks != nil && c.Callbacks.Destroy != nil {
		c.Callbacks.Destroy(c.Cache, pool, c.Callbacks.UserData)
	}
}
