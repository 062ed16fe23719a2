// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu provides the GPU compute backend. Pipelines are compiled
// from the embedded WGSL kernels via naga and created on a HAL device;
// kernel dispatch currently executes on the host worker pool because HAL
// buffer binding for compute passes is not complete yet. The pipeline
// objects are created and validated so dispatch can move device-side
// without changing callers.
package wgpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/backend"
	"github.com/gogpu/splat/backend/cpu"
)

// ErrNoAdapter is returned when no usable GPU adapter is found.
var ErrNoAdapter = errors.New("wgpu: no GPU adapter available")

func init() {
	backend.Register(backend.NameWGPU, func() backend.Backend {
		return New()
	})
}

// Backend executes kernels against a wgpu HAL device.
type Backend struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	adapterName string

	shaders   *shaderSet
	pipelines *pipelineSet

	// Host pool the kernels run on until device dispatch lands.
	fallback *cpu.Backend

	initialized bool
}

// New creates an uninitialized wgpu backend.
func New() *Backend {
	return &Backend{fallback: cpu.New(0)}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return backend.NameWGPU }

// Init opens a HAL device on the first discrete or integrated adapter,
// compiles the WGSL kernels and creates the compute pipelines. It fails
// when no adapter is available; shader or pipeline failures fail Init too,
// since a backend that cannot even build its pipelines has nothing over
// the CPU backend.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	halBackend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("%w: vulkan backend not registered", ErrNoAdapter)
	}
	instance, err := halBackend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("%w: no adapters enumerated", ErrNoAdapter)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("wgpu: open device: %w", err)
	}

	b.instance = instance
	b.device = openDev.Device
	b.queue = openDev.Queue
	b.adapterName = selected.Info.Name

	shaders, err := compileShaders()
	if err != nil {
		b.closeLocked()
		return fmt.Errorf("wgpu: %w", err)
	}
	b.shaders = shaders

	pipelines, err := newPipelineSet(b.device, shaders)
	if err != nil {
		b.closeLocked()
		return fmt.Errorf("wgpu: %w", err)
	}
	b.pipelines = pipelines

	b.initialized = true
	splat.Logger().Info("wgpu backend initialized",
		"adapter", b.adapterName,
		"workers", b.fallback.Workers())
	return nil
}

// Close destroys pipelines and releases the device.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

func (b *Backend) closeLocked() {
	if b.pipelines != nil {
		b.pipelines.destroy(b.device)
		b.pipelines = nil
	}
	b.shaders = nil
	b.device = nil
	b.queue = nil
	b.instance = nil
	if b.fallback != nil {
		b.fallback.Close()
		b.fallback = nil
	}
	b.initialized = false
}

// Capabilities reports the conservative wgpu feature set: no float atomic
// adds (gradient kernels shard and merge), and no synchronous readback, so
// intersection sizing uses the bounded strategy instead of reading the
// prefix-sum total back mid-frame.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		AtomicFloatAdd: false,
		SyncReadback:   false,
	}
}

// Workers returns the host pool size kernels currently fan out over.
func (b *Backend) Workers() int { return b.fallback.Workers() }

// Run executes fn over [0, n). Dispatch runs on the host pool; the device
// pipelines are compiled and ready but buffer binding through HAL is not,
// so this mirrors the kernels' eventual device-side partitioning.
func (b *Backend) Run(n int, fn func(worker, start, end int)) {
	b.fallback.Run(n, fn)
}
