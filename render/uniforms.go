package render

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/splat"
)

// Tile and pipeline constants. TileWidth must match the WGSL kernels in
// backend/wgpu.
const (
	// TileWidth is the side length of a rasterization tile in pixels.
	TileWidth = 16

	// nearPlane is the minimum camera-space depth; splats at or behind it
	// are culled.
	nearPlane = 0.01

	// alphaThreshold is the minimum contribution compositing considers.
	// Gaussian weights below it are skipped in forward and backward alike.
	alphaThreshold = 1.0 / 255.0

	// alphaClamp caps per-splat alpha so transmittance never reaches zero
	// and the backward unwind stays finite.
	alphaClamp = 0.999

	// transmittanceEpsilon terminates per-pixel compositing once the
	// remaining transmittance drops below it.
	transmittanceEpsilon = 1e-4

	// covarianceBlur is added to the projected covariance diagonal,
	// a one-pixel-ish dilation that keeps tiny splats rasterizable.
	covarianceBlur = 0.3
)

// DefaultIntersectionCap bounds the intersection buffer regardless of sizing
// strategy. Raising it trades memory for fewer dropped records on dense
// scenes; records beyond the capacity are silently dropped.
const DefaultIntersectionCap = 1 << 24

// Uniforms carries the per-render constants every kernel reads. The field
// set matches the uniform block of the WGSL kernels.
type Uniforms struct {
	View        mgl32.Mat4 // world to camera
	CamPos      mgl32.Vec3
	FocalX      float32
	FocalY      float32
	CenterX     float32
	CenterY     float32
	Width       uint32
	Height      uint32
	TileBoundsX uint32
	TileBoundsY uint32
	SHDegree    uint32
	TotalSplats uint32
	Background  mgl32.Vec3
	// ScaleOffset is added to every log-scale, the render-time scale
	// override the viewer uses. Zero means stored scales.
	ScaleOffset float32
}

// NumTiles returns the tile count of the render target.
func (u *Uniforms) NumTiles() uint32 { return u.TileBoundsX * u.TileBoundsY }

func tileBounds(width, height uint32) (tx, ty uint32) {
	return (width + TileWidth - 1) / TileWidth, (height + TileWidth - 1) / TileWidth
}

func makeUniforms(s *splat.Splats, cam splat.Camera, width, height uint32, bg mgl32.Vec3, scaleOffset float32) Uniforms {
	fx, fy := cam.Focal(width, height)
	cx, cy := cam.PixelCenter(width, height)
	tbx, tby := tileBounds(width, height)
	return Uniforms{
		View:        cam.WorldToCamera(),
		CamPos:      cam.Position,
		FocalX:      fx,
		FocalY:      fy,
		CenterX:     cx,
		CenterY:     cy,
		Width:       width,
		Height:      height,
		TileBoundsX: tbx,
		TileBoundsY: tby,
		SHDegree:    s.SHDegree(),
		TotalSplats: uint32(s.NumSplats()),
		Background:  bg,
		ScaleOffset: scaleOffset,
	}
}

// IntersectionSizer decides how large the intersection tables are allocated.
// Targets that can read the exact prefix-sum total back to the host allocate
// exactly; targets where a synchronous readback would stall (or is
// impossible) use a conservative upper bound, trading memory for avoiding
// the roundtrip. One pipeline serves both; only the sizing differs.
type IntersectionSizer interface {
	// Budget returns the capacity for a render with the given tile and
	// splat counts, and whether the exact total may be read back to size
	// the final allocation.
	Budget(numTiles, numSplats uint32) (capacity uint32, exactReadback bool)

	// Name identifies the strategy in logs.
	Name() string
}

// ExactSizer reads the prefix-sum total back and allocates exactly,
// still capped by UpperBound.
type ExactSizer struct {
	// UpperBound caps the allocation. Zero means DefaultIntersectionCap.
	UpperBound uint32
}

// Budget implements IntersectionSizer.
func (s ExactSizer) Budget(numTiles, numSplats uint32) (uint32, bool) {
	return capIntersections(numTiles, numSplats, s.UpperBound), true
}

// Name implements IntersectionSizer.
func (s ExactSizer) Name() string { return "exact" }

// BoundedSizer never reads back: it allocates min(tiles × splats,
// UpperBound) up front. Intersections beyond the capacity are dropped, a
// documented capacity/quality trade-off for readback-free targets.
type BoundedSizer struct {
	// UpperBound caps the allocation. Zero means DefaultIntersectionCap.
	UpperBound uint32
}

// Budget implements IntersectionSizer.
func (s BoundedSizer) Budget(numTiles, numSplats uint32) (uint32, bool) {
	return capIntersections(numTiles, numSplats, s.UpperBound), false
}

// Name implements IntersectionSizer.
func (s BoundedSizer) Name() string { return "bounded" }

func capIntersections(numTiles, numSplats, upper uint32) uint32 {
	if upper == 0 {
		upper = DefaultIntersectionCap
	}
	// Saturating multiply.
	maxPossible := uint64(numTiles) * uint64(numSplats)
	if maxPossible > uint64(upper) {
		return upper
	}
	return uint32(maxPossible)
}
