package splat

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

// TestNewRandomSplatsShape verifies that random initialization produces
// consistently sized arrays with every position inside the bounds.
func TestNewRandomSplatsShape(t *testing.T) {
	bounds := BoundsFromMinMax(mgl32.Vec3{-1, -2, -3}, mgl32.Vec3{1, 2, 3})
	rng := rand.New(rand.NewSource(42))
	s := NewRandomSplats(bounds, 100, rng)

	if got, want := s.NumSplats(), 100; got != want {
		t.Fatalf("NumSplats() = %d, want %d", got, want)
	}
	if got, want := len(s.Rotations), 400; got != want {
		t.Fatalf("len(Rotations) = %d, want %d", got, want)
	}
	if got, want := s.SHDegree(), uint32(0); got != want {
		t.Fatalf("SHDegree() = %d, want %d", got, want)
	}
	bmin, bmax := bounds.Min(), bounds.Max()
	for i := range s.NumSplats() {
		m := s.Mean(i)
		for ax := range 3 {
			if m[ax] < bmin[ax] || m[ax] > bmax[ax] {
				t.Fatalf("splat %d position %v outside bounds [%v, %v]", i, m, bmin, bmax)
			}
		}
		op := s.Opacity(i)
		if op < 0.1-1e-4 || op > 0.25+1e-4 {
			t.Fatalf("splat %d opacity %f outside init range [0.1, 0.25]", i, op)
		}
	}
}

// TestRotationRenormalized verifies that stored quaternions are renormalized
// before use, and that a degenerate quaternion falls back to identity.
func TestRotationRenormalized(t *testing.T) {
	s := NewSplats(
		[]float32{0, 0, 0, 1, 1, 1},
		[]float32{2, 0, 0, 0, 0, 0, 0, 0},
		make([]float32, 6),
		make([]float32, 2),
		make([]float32, 6),
	)
	if got := s.Rotation(0); mgl32.Abs(got.Len()-1.0) > 1e-6 {
		t.Fatalf("Rotation(0).Len() = %f, want 1", got.Len())
	}
	if got := s.Rotation(1); got != mgl32.QuatIdent() {
		t.Fatalf("Rotation(1) = %v, want identity for degenerate input", got)
	}
}

// TestWithSHDegreeGrowTruncate verifies zero-padded growth and truncation of
// the coefficient rows while other attributes are untouched.
func TestWithSHDegreeGrowTruncate(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := NewRandomSplats(BoundsFromMinMax(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}), 5, rng)
	dc := append([]float32(nil), s.SHCoeffs...)
	meansBefore := append([]float32(nil), s.Means...)

	s.WithSHDegree(2)
	if got, want := s.NumCoeffs(), uint32(9); got != want {
		t.Fatalf("NumCoeffs() = %d, want %d", got, want)
	}
	if got, want := len(s.SHCoeffs), 5*9*3; got != want {
		t.Fatalf("len(SHCoeffs) = %d, want %d", got, want)
	}
	for i := range 5 {
		for ch := range 3 {
			if s.SHCoeffs[i*9*3+ch] != dc[i*3+ch] {
				t.Fatalf("splat %d dc channel %d changed after degree growth", i, ch)
			}
		}
		// Higher bands start zeroed.
		for c := 1; c < 9; c++ {
			for ch := range 3 {
				if s.SHCoeffs[(i*9+c)*3+ch] != 0 {
					t.Fatalf("splat %d coeff %d not zero after growth", i, c)
				}
			}
		}
	}

	s.WithSHDegree(0)
	if got, want := len(s.SHCoeffs), 5*3; got != want {
		t.Fatalf("len(SHCoeffs) after truncate = %d, want %d", got, want)
	}
	for i, v := range s.Means {
		if v != meansBefore[i] {
			t.Fatalf("means changed by sh degree changes")
		}
	}
}

// TestSelectKeepsRows verifies that Select picks exactly the requested rows
// with all attributes intact.
func TestSelectKeepsRows(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewRandomSplats(BoundsFromMinMax(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}), 10, rng)
	s.WithSHDegree(1)

	sel := s.Select([]int{7, 2, 9})
	if got, want := sel.NumSplats(), 3; got != want {
		t.Fatalf("NumSplats() = %d, want %d", got, want)
	}
	for k, src := range []int{7, 2, 9} {
		if sel.Mean(k) != s.Mean(src) {
			t.Fatalf("row %d mean = %v, want %v", k, sel.Mean(k), s.Mean(src))
		}
		if sel.RawOpacities[k] != s.RawOpacities[src] {
			t.Fatalf("row %d opacity mismatch", k)
		}
		nc := int(s.NumCoeffs()) * 3
		for j := range nc {
			if sel.SHCoeffs[k*nc+j] != s.SHCoeffs[src*nc+j] {
				t.Fatalf("row %d coeff %d mismatch", k, j)
			}
		}
	}
}

// TestEstimateLogScalesNeighborDistance verifies the estimate follows the
// two-nearest-neighbor distances: a tighter point set gets smaller scales
// than the same layout spread wider.
func TestEstimateLogScalesNeighborDistance(t *testing.T) {
	layout := func(spacing float32) []float32 {
		return []float32{
			0, 0, 0,
			spacing, 0, 0,
			2 * spacing, 0, 0,
			0, spacing, 0,
		}
	}
	tight := estimateLogScales(layout(0.1))
	loose := estimateLogScales(layout(0.4))
	for i := range tight {
		if math.IsNaN(float64(tight[i])) || math.IsInf(float64(tight[i]), 0) {
			t.Fatalf("scale %d = %f, want finite", i, tight[i])
		}
		if tight[i] >= loose[i] {
			t.Fatalf("scale %d: tight %f not below loose %f", i, tight[i], loose[i])
		}
	}
}

// TestEstimateLogScalesClamped verifies the nearest-neighbor scale estimate
// stays within its documented clamp range.
func TestEstimateLogScalesClamped(t *testing.T) {
	// Two clusters far apart: neighbor distances are large, so the clamp
	// against a tenth of the scene's median size must kick in.
	positions := []float32{
		0, 0, 0, 0.001, 0, 0,
		100, 100, 100, 100.001, 100, 100,
	}
	scales := estimateLogScales(positions)
	bounds := BoundsFromPositions(0.75, positions)
	maxScale := bounds.MedianSize() * 0.1
	for i := 0; i < len(scales); i += 3 {
		if got := math.Exp(float64(scales[i])); got > float64(maxScale)+1e-3 {
			t.Fatalf("scale %d = %f exceeds clamp %f", i/3, got, maxScale)
		}
	}
}
