package splat

import (
	"slices"

	"github.com/go-gl/mathgl/mgl32"
)

// BoundingBox is an axis-aligned box described by its center and half-extent.
type BoundingBox struct {
	Center mgl32.Vec3
	Extent mgl32.Vec3
}

// BoundsFromMinMax builds a bounding box from corner points.
func BoundsFromMinMax(min, max mgl32.Vec3) BoundingBox {
	return BoundingBox{
		Center: max.Add(min).Mul(0.5),
		Extent: max.Sub(min).Mul(0.5),
	}
}

// Min returns the minimum corner.
func (b BoundingBox) Min() mgl32.Vec3 { return b.Center.Sub(b.Extent) }

// Max returns the maximum corner.
func (b BoundingBox) Max() mgl32.Vec3 { return b.Center.Add(b.Extent) }

// MedianSize returns the middle of the three edge lengths.
func (b BoundingBox) MedianSize() float32 {
	extents := []float32{b.Extent.X(), b.Extent.Y(), b.Extent.Z()}
	slices.Sort(extents)
	return extents[1] * 2.0
}

// Scaled returns the box grown around its center by the given factor.
func (b BoundingBox) Scaled(factor float32) BoundingBox {
	return BoundingBox{Center: b.Center, Extent: b.Extent.Mul(factor)}
}

// BoundsFromPositions estimates a bounding box covering the given percentile
// of a flat xyz position array, ignoring non-finite values. Used to seed
// random splats from camera or point positions without letting outliers blow
// up the box.
func BoundsFromPositions(percentile float32, positions []float32) BoundingBox {
	n := len(positions) / 3
	xs := make([]float32, 0, n)
	ys := make([]float32, 0, n)
	zs := make([]float32, 0, n)
	for i := 0; i < n; i++ {
		x, y, z := positions[i*3], positions[i*3+1], positions[i*3+2]
		if isFinite(x) && isFinite(y) && isFinite(z) {
			xs = append(xs, x)
			ys = append(ys, y)
			zs = append(zs, z)
		}
	}
	if len(xs) == 0 {
		return BoundsFromMinMax(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	}
	slices.Sort(xs)
	slices.Sort(ys)
	slices.Sort(zs)

	lower := int((1.0 - percentile) / 2.0 * float32(len(xs)))
	upper := min(len(xs)-1, int((1.0+percentile)/2.0*float32(len(xs))))

	return BoundsFromMinMax(
		mgl32.Vec3{xs[lower], ys[lower], zs[lower]},
		mgl32.Vec3{xs[upper], ys[upper], zs[upper]},
	)
}
