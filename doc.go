// Package splat implements a differentiable 3D Gaussian-splat scene
// representation: the splat parameter store, cameras, spherical-harmonics
// color, and the point-cloud exchange boundary.
//
// A scene is a set of anisotropic 3D Gaussians, each with a position,
// orientation, scale, opacity and view-dependent color. The render package
// rasterizes a store into images and computes per-parameter gradients; the
// train package fits a store to photographs.
//
// Parameters are held in flat float32 arrays, one row per splat, in the raw
// encodings the optimizer works on: opacity is logit-encoded, scale is
// log-encoded, rotations are quaternions renormalized before use. The
// exchange boundary (PointCloud) uses activated values instead.
package splat
