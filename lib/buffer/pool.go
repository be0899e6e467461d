package buffer

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gammazero/deque"
	"golang.org/x/time/rate"
)

// --------------------------------------------------------------------------
// Pool configuration
// --------------------------------------------------------------------------

const (
	DefaultBufferCapacity = 4096
	DefaultPoolSize       = 32
	DefaultLeakTimeout    = 500 * time.Millisecond

	// maxRetainedFactor bounds the storage a returned buffer may keep, relative
	// to BufferCapacity. Larger storage is replaced on Return.
	maxRetainedFactor = 4
)

// PoolConfig holds the parameters of a buffer pool
type PoolConfig struct {
	// Name is used in log messages and metric labels
	Name string
	// BufferCapacity is the initial capacity of every buffer
	BufferCapacity int
	// PoolSize is the number of buffers created up front
	PoolSize int
	// LeakDetection arms a timer on every rent and reports buffers that are
	// not returned in time. Meant for development builds only.
	LeakDetection bool
	// LeakTimeout is the time a buffer may stay rented before it is reported
	LeakTimeout time.Duration
}

// DefaultPoolConfig returns the configuration used by the CLI
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Name:           "default",
		BufferCapacity: DefaultBufferCapacity,
		PoolSize:       DefaultPoolSize,
		LeakTimeout:    DefaultLeakTimeout,
	}
}

// String returns a formatted string representation of the configuration
func (c PoolConfig) String() string {
	var sb strings.Builder
	sb.WriteString("\nBUFFER POOL\n")
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Name", c.Name))
	sb.WriteString(fmt.Sprintf("  %-22s: %d bytes\n", "Buffer Capacity", c.BufferCapacity))
	sb.WriteString(fmt.Sprintf("  %-22s: %d\n", "Pool Size", c.PoolSize))
	sb.WriteString(fmt.Sprintf("  %-22s: %t\n", "Leak Detection", c.LeakDetection))
	if c.LeakDetection {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Leak Timeout", c.LeakTimeout))
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

// Pool hands out reusable buffers. The free-list is a FIFO queue: the buffer
// returned first is rented again first. Rent never blocks; when the free-list
// is empty an overflow buffer is allocated and the pool grows by one.
//
// Thread-safety: Rent and Return may be called from any goroutine.
type Pool struct {
	config PoolConfig

	mu   sync.Mutex
	free *deque.Deque[*Buffer]

	created     atomic.Int64
	overflowLog rate.Sometimes

	metrics         *metrics.Set
	rentCounter     *metrics.Counter
	returnCounter   *metrics.Counter
	overflowCounter *metrics.Counter
	leakCounter     *metrics.Counter
	shrinkCounter   *metrics.Counter
}

// NewPool creates a pool and fills it with config.PoolSize buffers
func NewPool(config PoolConfig) *Pool {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.BufferCapacity <= 0 {
		config.BufferCapacity = DefaultBufferCapacity
	}
	if config.PoolSize < 0 {
		config.PoolSize = 0
	}
	if config.LeakTimeout <= 0 {
		config.LeakTimeout = DefaultLeakTimeout
	}

	p := &Pool{
		config:      config,
		free:        deque.New[*Buffer](config.PoolSize),
		overflowLog: rate.Sometimes{First: 1, Interval: time.Second},
		metrics:     metrics.NewSet(),
	}

	label := fmt.Sprintf(`{pool=%q}`, config.Name)
	p.rentCounter = p.metrics.NewCounter("dnet_pool_rent_total" + label)
	p.returnCounter = p.metrics.NewCounter("dnet_pool_return_total" + label)
	p.overflowCounter = p.metrics.NewCounter("dnet_pool_overflow_total" + label)
	p.leakCounter = p.metrics.NewCounter("dnet_pool_leak_total" + label)
	p.shrinkCounter = p.metrics.NewCounter("dnet_pool_shrink_total" + label)
	p.metrics.NewGauge("dnet_pool_free"+label, func() float64 {
		return float64(p.Count())
	})

	for i := 0; i < config.PoolSize; i++ {
		p.free.PushBack(p.newBuffer())
	}

	return p
}

// Rent takes a buffer from the free-list, or allocates an overflow buffer if
// the free-list is empty. The buffer is live with zeroed cursors.
func (p *Pool) Rent() *Buffer {
	var b *Buffer

	p.mu.Lock()
	if p.free.Len() > 0 {
		b = p.free.PopFront()
	}
	p.mu.Unlock()

	if b == nil {
		b = p.newBuffer()
		p.overflowCounter.Inc()
		p.overflowLog.Do(func() {
			Logger.Warningf("pool %q exhausted, allocated overflow buffer (%d buffers created)",
				p.config.Name, p.created.Load())
		})
	}

	b.state.Store(stateLive)
	gen := b.generation.Add(1)
	p.rentCounter.Inc()

	if p.config.LeakDetection {
		p.track(b, gen)
	}
	return b
}

// Return resets the buffer and appends it to the free-list.
//
// The caller must not use b afterwards. Returning a buffer that is not live
// (returned twice) or that belongs to another pool panics, since a duplicate
// free-list entry would hand the same memory to two borrowers.
func (p *Pool) Return(b *Buffer) {
	if b == nil {
		return
	}
	if b.owner != p {
		panic(ErrForeignBuffer)
	}
	if !b.state.CompareAndSwap(stateLive, statePooled) {
		panic(ErrDoubleReturn)
	}

	b.stopTracking()
	b.reset()
	if len(b.data) > maxRetainedFactor*p.config.BufferCapacity {
		// one huge message must not pin its storage in the free-list
		b.data = make([]byte, p.config.BufferCapacity)
		p.shrinkCounter.Inc()
	}

	p.mu.Lock()
	p.free.PushBack(b)
	p.mu.Unlock()

	p.returnCounter.Inc()
}

// Count returns the number of buffers currently in the free-list
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Len()
}

// Created returns the number of buffers allocated by this pool, overflow included
func (p *Pool) Created() int {
	return int(p.created.Load())
}

// Overflows returns how often Rent had to allocate because the pool was empty
func (p *Pool) Overflows() uint64 {
	return p.overflowCounter.Get()
}

// Leaks returns how many rentals the leak detector reported
func (p *Pool) Leaks() uint64 {
	return p.leakCounter.Get()
}

// Config returns the effective configuration
func (p *Pool) Config() PoolConfig {
	return p.config
}

// Metrics returns the metric set of the pool, to be written with WritePrometheus
func (p *Pool) Metrics() *metrics.Set {
	return p.metrics
}

// newBuffer allocates a buffer owned by this pool in pooled state
func (p *Pool) newBuffer() *Buffer {
	b := New(p.config.BufferCapacity)
	b.owner = p
	b.state.Store(statePooled)
	p.created.Add(1)
	return b
}
