package stream

import "sync"

// Decoder turns a raw record payload into the application value handlers
// operate on. Implementations must be safe to reuse across Reset calls.
type Decoder interface {
	Decode(payload []byte) (any, error)
	Reset()
}

// DecoderFactory constructs a new Decoder for a given value type. It is
// called at most once per pool-miss; RecordValueCache owns pooling after
// that.
type DecoderFactory func() Decoder

// RecordValueCache pools decoders per value type so the processing hot
// path does not allocate one per record. Get/Put must be paired; callers
// that error out before Put simply drop the decoder back to the garbage
// collector instead of the pool.
type RecordValueCache struct {
	mu       sync.Mutex
	pools    map[string]*sync.Pool
	factories map[string]DecoderFactory
}

// NewRecordValueCache builds an empty cache. Register value types with
// RegisterType before first use.
func NewRecordValueCache() *RecordValueCache {
	return &RecordValueCache{
		pools:     make(map[string]*sync.Pool),
		factories: make(map[string]DecoderFactory),
	}
}

// RegisterType binds a value type name to the factory used to build its
// decoders. Safe to call only during supervisor setup, before the
// processing loop starts.
func (c *RecordValueCache) RegisterType(valueType string, factory DecoderFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[valueType] = factory
	c.pools[valueType] = &sync.Pool{
		New: func() any { return factory() },
	}
}

// Get returns a pooled Decoder for valueType, constructing one via its
// registered factory on a pool miss. Returns false if valueType was never
// registered.
func (c *RecordValueCache) Get(valueType string) (Decoder, bool) {
	c.mu.Lock()
	pool, ok := c.pools[valueType]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return pool.Get().(Decoder), true
}

// Put resets and returns a Decoder to its pool for reuse.
func (c *RecordValueCache) Put(valueType string, d Decoder) {
	c.mu.Lock()
	pool, ok := c.pools[valueType]
	c.mu.Unlock()
	if !ok {
		return
	}
	d.Reset()
	pool.Put(d)
}
