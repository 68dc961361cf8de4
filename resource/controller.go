package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxInFlightWrites caps concurrent store writes.
	// If 0, defaults to 16.
	MaxInFlightWrites int64

	// VectorsPerSec caps ingest throughput.
	// If 0, unlimited.
	VectorsPerSec float64

	// Burst is the token bucket size for VectorsPerSec.
	// If 0, defaults to one second of throughput.
	Burst int

	// MemoryLimitBytes is the hard limit for cache memory. Entries that
	// would exceed it are not cached. If 0, usage is only tracked.
	MemoryLimitBytes int64
}

// Controller manages write concurrency, ingest throughput and cache memory.
type Controller struct {
	// Writes
	writeSem *semaphore.Weighted
	inFlight atomic.Int64

	// Throughput
	limiter *rate.Limiter

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxInFlightWrites <= 0 {
		cfg.MaxInFlightWrites = 16
	}

	c := &Controller{
		writeSem: semaphore.NewWeighted(cfg.MaxInFlightWrites),
	}

	if cfg.VectorsPerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.VectorsPerSec))
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.VectorsPerSec), burst)
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	return c
}

// AcquireWrite reserves an in-flight write slot.
// Blocks until a slot is free or ctx is canceled.
func (c *Controller) AcquireWrite(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.writeSem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.inFlight.Add(1)
	return nil
}

// ReleaseWrite releases a write slot.
func (c *Controller) ReleaseWrite() {
	if c == nil {
		return
	}
	c.inFlight.Add(-1)
	c.writeSem.Release(1)
}

// InFlightWrites returns the number of writes currently holding a slot.
func (c *Controller) InFlightWrites() int64 {
	if c == nil {
		return 0
	}
	return c.inFlight.Load()
}

// AcquireVectors waits until the throughput limit allows n more vectors.
// Requests larger than the burst are split into burst-sized waits.
func (c *Controller) AcquireVectors(ctx context.Context, n int) error {
	if c == nil || c.limiter == nil || n <= 0 {
		return nil
	}
	burst := c.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := c.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// TryAcquireMemory attempts to reserve memory without blocking.
// Returns true if acquired, false if limit would be exceeded.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return false
		}
	}

	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}
