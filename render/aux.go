package render

import (
	"github.com/gogpu/splat"
)

// ProjectedSplat is the per-visible-splat record produced by the projection
// pass and consumed by binning, compositing and the backward pass. Layout
// matches the packed struct the WGSL kernels use.
type ProjectedSplat struct {
	X, Y                    float32 // screen-space mean, pixels
	ConicA, ConicB, ConicC  float32 // inverse 2D covariance, upper triangle
	R, G, B                 float32 // view-dependent color after SH eval
	Opacity                 float32 // activated opacity
	Radius                  float32 // 3-sigma extent, pixels
	Depth                   float32 // camera-space z, > nearPlane
	// ClampMask records which color channels were clamped to zero during
	// SH evaluation; the backward pass gates gradients through it.
	ClampMask uint8
}

// Aux holds every intermediate the forward pass produced that the backward
// pass re-reads. Rendering with gradients returns it alongside the image;
// display-only rendering keeps it internal.
type Aux struct {
	Width  uint32
	Height uint32

	TileBoundsX uint32
	TileBoundsY uint32

	// NumVisible is the count of splats that survived culling.
	NumVisible uint32

	// NumIntersections is the count of tile/splat records actually
	// written, after any capacity clamp.
	NumIntersections uint32

	// GlobalFromCompact maps depth-sorted compact index to the splat's
	// index in the store.
	GlobalFromCompact []uint32

	// CompactFromGlobal is the inverse map, -1 for culled splats.
	CompactFromGlobal []int32

	// Projected is indexed by compact index.
	Projected []ProjectedSplat

	// TileOffsets has numTiles+1 entries; tile t owns intersection range
	// [TileOffsets[t], TileOffsets[t+1]) of CompactFromIsect. Empty tiles
	// have an empty range.
	TileOffsets []uint32

	// CompactFromIsect maps an intersection slot to the compact index of
	// its splat, sorted by (tile, depth rank).
	CompactFromIsect []uint32

	// FinalIndex records, per pixel, the intersection range position at
	// which compositing terminated; the backward pass starts its
	// back-to-front walk there. Nil on display renders, as are
	// Transmittance and Visibility.
	FinalIndex []uint32

	// Transmittance is the per-pixel transmittance remaining after
	// compositing, the starting value of the backward unwind.
	Transmittance []float32

	// Visibility is per-splat (store indexed): nonzero when the splat
	// produced at least one intersection record this render. The
	// refinement tracker reads it.
	Visibility []float32

	uniforms Uniforms
	splats   *splat.Splats
}

func (a *Aux) numTiles() uint32 { return a.TileBoundsX * a.TileBoundsY }

// Image is a float32 render target, H*W*4 values in RGBA scanline order
// with premultiplied-over compositing already resolved against the
// background.
type Image struct {
	Width  uint32
	Height uint32
	Pix    []float32 // len = Width*Height*4
}

// At returns the RGBA value at (x, y).
func (im *Image) At(x, y uint32) (r, g, b, a float32) {
	i := (y*im.Width + x) * 4
	return im.Pix[i], im.Pix[i+1], im.Pix[i+2], im.Pix[i+3]
}

func newImage(width, height uint32) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float32, width*height*4)}
}

// PackedImage is a display render target with the four 8-bit channels of
// each pixel packed into one uint32, red in the low byte. The layout
// matches rgba8unorm texture uploads.
type PackedImage struct {
	Width  uint32
	Height uint32
	Pix    []uint32 // len = Width*Height
}

// At returns the unpacked 8-bit channels at (x, y).
func (im *PackedImage) At(x, y uint32) (r, g, b, a uint8) {
	v := im.Pix[y*im.Width+x]
	return uint8(v), uint8(v >> 8), uint8(v >> 16), uint8(v >> 24)
}

func newPackedImage(width, height uint32) *PackedImage {
	return &PackedImage{Width: width, Height: height, Pix: make([]uint32, width*height)}
}

// SplatGrads holds per-parameter gradients in the same flat layouts as the
// store itself, plus the screen-space refinement weights the densification
// heuristic consumes.
type SplatGrads struct {
	Means        []float32 // n*3
	Rotations    []float32 // n*4
	LogScales    []float32 // n*3
	RawOpacities []float32 // n
	SHCoeffs     []float32 // n*numCoeffs*3

	// RefineWeights is the per-splat norm of the accumulated screen-space
	// positional gradient, rescaled to half-image units.
	RefineWeights []float32
}

func newSplatGrads(n, numCoeffs int) *SplatGrads {
	return &SplatGrads{
		Means:         make([]float32, n*3),
		Rotations:     make([]float32, n*4),
		LogScales:     make([]float32, n*3),
		RawOpacities:  make([]float32, n),
		SHCoeffs:      make([]float32, n*numCoeffs*3),
		RefineWeights: make([]float32, n),
	}
}

func (g *SplatGrads) add(o *SplatGrads) {
	addInto(g.Means, o.Means)
	addInto(g.Rotations, o.Rotations)
	addInto(g.LogScales, o.LogScales)
	addInto(g.RawOpacities, o.RawOpacities)
	addInto(g.SHCoeffs, o.SHCoeffs)
	addInto(g.RefineWeights, o.RefineWeights)
}

func addInto(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}
