// Package cpu provides the reference compute backend. Kernels run on a
// goroutine worker pool; gradient accumulation uses per-worker shards merged
// after the pass, the documented serialization path for targets without
// atomic float addition.
package cpu

import (
	"log/slog"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/backend"
)

func init() {
	backend.Register(backend.NameCPU, func() backend.Backend {
		return New(0)
	})
}

// Backend executes kernels on the host.
type Backend struct {
	pool        *pool
	initialized bool
}

// New creates a CPU backend with the given worker count.
// If workers is 0 or negative, GOMAXPROCS is used.
func New(workers int) *Backend {
	return &Backend{pool: newPool(workers)}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return backend.NameCPU }

// Init initializes the backend.
func (b *Backend) Init() error {
	if !b.initialized {
		splat.Logger().Debug("cpu backend initialized",
			slog.Int("workers", b.pool.workers))
		b.initialized = true
	}
	return nil
}

// Close stops the worker pool. The backend cannot be used afterwards.
func (b *Backend) Close() {
	if b.pool != nil {
		b.pool.close()
		b.pool = nil
	}
	b.initialized = false
}

// Capabilities reports host capabilities: no atomic float hardware (kernels
// shard instead), and readback is free since everything is host memory.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		AtomicFloatAdd: false,
		SyncReadback:   true,
	}
}

// Workers returns the worker pool size.
func (b *Backend) Workers() int { return b.pool.workers }

// Run executes fn over [0, n), one contiguous chunk per worker.
func (b *Backend) Run(n int, fn func(worker, start, end int)) {
	b.pool.run(n, fn)
}
