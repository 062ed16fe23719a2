// Package backend abstracts the compute device running the splat kernels.
// It provides a registry of backends (CPU reference, wgpu) selected at
// startup, mirroring a single logical device/queue: successive Run calls
// observe each other's writes, and no other cross-kernel ordering is assumed.
package backend

import "errors"

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")
)

// Capabilities describes what the device can do. The renderer adapts its
// pipeline to these instead of duplicating per-target rasterizers.
type Capabilities struct {
	// AtomicFloatAdd reports native atomic float addition for gradient
	// accumulation. Backends without it use a documented serialization
	// path (per-worker shards on CPU, fixed-point atomics on GPU).
	AtomicFloatAdd bool

	// SyncReadback reports whether a value may cross to host memory
	// mid-pipeline without an unacceptable stall. Targets without it size
	// intersection buffers with a conservative upper bound instead of the
	// exact prefix-sum total.
	SyncReadback bool
}

// Backend is a compute device executing data-parallel kernels.
type Backend interface {
	// Name returns the backend identifier (e.g. "cpu", "wgpu").
	Name() string

	// Init initializes the backend. It must be called before Run.
	Init() error

	// Close releases all backend resources.
	Close()

	// Capabilities reports device capabilities.
	Capabilities() Capabilities

	// Workers returns the number of parallel lanes Run partitions work
	// into. Kernels that shard accumulators allocate one shard per lane.
	Workers() int

	// Run executes fn over [0, n) split into contiguous ranges, one per
	// worker lane, and blocks until every range completes. fn must be safe
	// for concurrent invocation on disjoint ranges. Two Run calls that
	// write and read the same buffer execute in submission order.
	Run(n int, fn func(worker, start, end int))
}
