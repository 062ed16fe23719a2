// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// pipelineSet owns the compute pipelines and their layouts. One bind group
// layout covers the splat parameter buffers and uniforms (group 0), a
// second the per-frame intermediate buffers (group 1); both kernels share
// the pipeline layout.
type pipelineSet struct {
	projectModule   hal.ShaderModule
	rasterizeModule hal.ShaderModule

	paramsLayout hal.BindGroupLayout
	frameLayout  hal.BindGroupLayout
	layout       hal.PipelineLayout

	project         hal.ComputePipeline
	rasterize       hal.ComputePipeline
	rasterizePacked hal.ComputePipeline
}

func newPipelineSet(device hal.Device, shaders *shaderSet) (*pipelineSet, error) {
	ps := &pipelineSet{}
	if err := ps.build(device, shaders); err != nil {
		ps.destroy(device)
		return nil, err
	}
	return ps, nil
}

func (ps *pipelineSet) build(device hal.Device, shaders *shaderSet) error {
	var err error
	ps.projectModule, err = device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "splat_project",
		Source: hal.ShaderSource{SPIRV: shaders.project},
	})
	if err != nil {
		return fmt.Errorf("create project module: %w", err)
	}
	ps.rasterizeModule, err = device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "splat_rasterize",
		Source: hal.ShaderSource{SPIRV: shaders.rasterize},
	})
	if err != nil {
		return fmt.Errorf("create rasterize module: %w", err)
	}

	// Group 0: uniforms + splat parameters (read-only).
	ps.paramsLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "splat_params_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeUniform,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeReadOnlyStorage,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeReadOnlyStorage,
				},
			},
			{
				Binding:    3,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeReadOnlyStorage,
				},
			},
			{
				Binding:    4,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeReadOnlyStorage,
				},
			},
			{
				Binding:    5,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeReadOnlyStorage,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create params layout: %w", err)
	}

	// Group 1: projected splats, intersection tables, output image.
	ps.frameLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "splat_frame_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeStorage,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeStorage,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeStorage,
				},
			},
			{
				Binding:    3,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeStorage,
				},
			},
			{
				Binding:    4,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type: gputypes.BufferBindingTypeStorage,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create frame layout: %w", err)
	}

	ps.layout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "splat_pipeline_layout",
		BindGroupLayouts: []hal.BindGroupLayout{ps.paramsLayout, ps.frameLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}

	ps.project, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "splat_project_pipeline",
		Layout: ps.layout,
		Compute: hal.ComputeState{
			Module:     ps.projectModule,
			EntryPoint: "cs_project",
		},
	})
	if err != nil {
		return fmt.Errorf("create project pipeline: %w", err)
	}

	ps.rasterize, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "splat_rasterize_pipeline",
		Layout: ps.layout,
		Compute: hal.ComputeState{
			Module:     ps.rasterizeModule,
			EntryPoint: "cs_rasterize",
		},
	})
	if err != nil {
		return fmt.Errorf("create rasterize pipeline: %w", err)
	}

	ps.rasterizePacked, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "splat_rasterize_packed_pipeline",
		Layout: ps.layout,
		Compute: hal.ComputeState{
			Module:     ps.rasterizeModule,
			EntryPoint: "cs_rasterize_packed",
		},
	})
	if err != nil {
		return fmt.Errorf("create rasterize packed pipeline: %w", err)
	}

	return nil
}

func (ps *pipelineSet) destroy(device hal.Device) {
	if device == nil {
		return
	}
	if ps.rasterizePacked != nil {
		device.DestroyComputePipeline(ps.rasterizePacked)
	}
	if ps.rasterize != nil {
		device.DestroyComputePipeline(ps.rasterize)
	}
	if ps.project != nil {
		device.DestroyComputePipeline(ps.project)
	}
	if ps.layout != nil {
		device.DestroyPipelineLayout(ps.layout)
	}
	if ps.frameLayout != nil {
		device.DestroyBindGroupLayout(ps.frameLayout)
	}
	if ps.paramsLayout != nil {
		device.DestroyBindGroupLayout(ps.paramsLayout)
	}
	if ps.rasterizeModule != nil {
		device.DestroyShaderModule(ps.rasterizeModule)
	}
	if ps.projectModule != nil {
		device.DestroyShaderModule(ps.projectModule)
	}
}
