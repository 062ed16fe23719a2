// Package render rasterizes Gaussian splats into images and computes the
// gradient of a loss with respect to every splat parameter.
//
// The forward pipeline mirrors a tile-based GPU rasterizer stage for stage:
// project and cull, depth sort, bin (splat, tile) intersections through an
// exclusive prefix sum, sort by tile, then composite each tile's slice
// front to back. The backward pipeline walks the same sorted slices back to
// front, reconstructing the compositing state, and pulls screen-space
// gradients through the projection Jacobian and the spherical-harmonics
// basis.
//
// Rendering runs on a compute backend (see the backend package); the CPU
// reference backend carries the semantics, the wgpu backend mirrors the same
// pipeline on a GPU queue.
package render
