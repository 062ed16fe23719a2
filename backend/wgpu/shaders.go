// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/naga"
)

//go:embed shaders/project.wgsl
var projectShaderWGSL string

//go:embed shaders/rasterize.wgsl
var rasterizeShaderWGSL string

// shaderSet holds the SPIR-V for every compute kernel.
type shaderSet struct {
	project   []uint32
	rasterize []uint32
}

// compileShaders compiles the embedded WGSL kernels to SPIR-V.
func compileShaders() (*shaderSet, error) {
	project, err := compileWGSL("project", projectShaderWGSL)
	if err != nil {
		return nil, err
	}
	rasterize, err := compileWGSL("rasterize", rasterizeShaderWGSL)
	if err != nil {
		return nil, err
	}
	return &shaderSet{project: project, rasterize: rasterize}, nil
}

// compileWGSL compiles one WGSL source to SPIR-V words. SPIR-V is
// little-endian 32-bit words.
func compileWGSL(label, source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile %s shader: %w", label, err)
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}
