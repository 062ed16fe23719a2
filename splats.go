package splat

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Splats owns the per-splat parameter arrays of a scene. All arrays have
// exactly NumSplats rows; the row count changes only between training steps,
// and only through refinement (see the train package).
//
// Values are stored in their raw optimizer encodings: LogScales are
// exponentiated and RawOpacities sigmoid-activated before use, Rotations are
// renormalized before use. Quaternions are stored (w, x, y, z).
type Splats struct {
	Means        []float32 // n×3 world positions
	Rotations    []float32 // n×4 quaternions
	LogScales    []float32 // n×3
	RawOpacities []float32 // n
	SHCoeffs     []float32 // n×c×3, c = (degree+1)²

	numCoeffs uint32
}

// Sigmoid is the opacity activation.
func Sigmoid(x float32) float32 {
	return 1.0 / (1.0 + math32.Exp(-x))
}

// InverseSigmoid is the logit encoding used for opacity at the exchange
// boundary.
func InverseSigmoid(x float32) float32 {
	return math32.Log(x / (1.0 - x))
}

// NewSplats wraps pre-filled parameter arrays. The slice lengths must agree
// on the row count and the coefficient count must be a full set of SH bands.
func NewSplats(means, rotations, logScales, rawOpacities, shCoeffs []float32) *Splats {
	n := len(means) / 3
	if len(rotations) != n*4 || len(logScales) != n*3 || len(rawOpacities) != n {
		panic("splat: inconsistent parameter array lengths")
	}
	numCoeffs := uint32(1)
	if n > 0 {
		numCoeffs = uint32(len(shCoeffs) / (n * 3))
		// Panics on partial band sets.
		SHDegreeFromCoeffs(numCoeffs)
	}
	return &Splats{
		Means:        means,
		Rotations:    rotations,
		LogScales:    logScales,
		RawOpacities: rawOpacities,
		SHCoeffs:     shCoeffs,
		numCoeffs:    numCoeffs,
	}
}

// NewRandomSplats samples count splats uniformly inside bounds, with random
// colors, random orientations and opacity drawn between 0.1 and 0.25.
// Scales are estimated from nearest-neighbor distances.
func NewRandomSplats(bounds BoundingBox, count int, rng *rand.Rand) *Splats {
	bmin, bmax := bounds.Min(), bounds.Max()

	positions := make([]float32, 0, count*3)
	colors := make([]float32, 0, count*3)
	for range count {
		positions = append(positions,
			bmin.X()+rng.Float32()*(bmax.X()-bmin.X()),
			bmin.Y()+rng.Float32()*(bmax.Y()-bmin.Y()),
			bmin.Z()+rng.Float32()*(bmax.Z()-bmin.Z()),
		)
		colors = append(colors, rng.Float32(), rng.Float32(), rng.Float32())
	}
	return FromRaw(positions, nil, nil, colors, nil, rng)
}

// FromRaw builds a store from a flat position array plus optional rotations,
// log-scales, colors (linear RGB, converted to DC coefficients) and raw
// opacities. Missing attributes are initialized the way random splats are;
// missing scales come from a nearest-neighbor distance estimate.
func FromRaw(positions, rotations, logScales, colors, rawOpacities []float32, rng *rand.Rand) *Splats {
	n := len(positions) / 3

	if logScales == nil {
		logScales = estimateLogScales(positions)
	}
	if rotations == nil {
		rotations = make([]float32, n*4)
		for i := range n {
			q := randomUnitQuat(rng)
			rotations[i*4+0] = q.W
			rotations[i*4+1] = q.X()
			rotations[i*4+2] = q.Y()
			rotations[i*4+3] = q.Z()
		}
	}
	var shCoeffs []float32
	if colors != nil {
		shCoeffs = make([]float32, n*3)
		for i, c := range colors {
			shCoeffs[i] = RGBToSH(c)
		}
	} else {
		shCoeffs = make([]float32, n*3)
		for i := range shCoeffs {
			shCoeffs[i] = RGBToSH(0.5)
		}
	}
	if rawOpacities == nil {
		rawOpacities = make([]float32, n)
		lo, hi := InverseSigmoid(0.1), InverseSigmoid(0.25)
		for i := range rawOpacities {
			rawOpacities[i] = lo + rng.Float32()*(hi-lo)
		}
	}
	return NewSplats(positions, rotations, logScales, rawOpacities, shCoeffs)
}

// estimateLogScales sets each splat's isotropic scale to half the mean
// distance of its two nearest neighbors, clamped against the scene size.
// Brute force; intended for initialization-sized point sets.
func estimateLogScales(positions []float32) []float32 {
	n := len(positions) / 3
	out := make([]float32, n*3)
	if n == 0 {
		return out
	}
	bounds := BoundsFromPositions(0.75, positions)
	maxScale := bounds.MedianSize() * 0.1

	for i := range n {
		px, py, pz := positions[i*3], positions[i*3+1], positions[i*3+2]
		// Two nearest squared distances.
		d1, d2 := float32(math32.MaxFloat32), float32(math32.MaxFloat32)
		for j := range n {
			if j == i {
				continue
			}
			dx := positions[j*3] - px
			dy := positions[j*3+1] - py
			dz := positions[j*3+2] - pz
			d := dx*dx + dy*dy + dz*dz
			if d < d1 {
				d1, d2 = d, d1
			} else if d < d2 {
				d2 = d
			}
		}
		dist := float32(0.5)
		if d2 < math32.MaxFloat32 {
			dist = 0.5 * (math32.Sqrt(d1) + math32.Sqrt(d2)) / 2.0
		} else if d1 < math32.MaxFloat32 {
			dist = 0.5 * math32.Sqrt(d1)
		}
		ls := math32.Log(clamp32(dist, 1e-3, max(maxScale, 1e-3)))
		out[i*3+0] = ls
		out[i*3+1] = ls
		out[i*3+2] = ls
	}
	return out
}

func randomUnitQuat(rng *rand.Rand) mgl32.Quat {
	q := mgl32.Quat{
		W: float32(rng.NormFloat64()),
		V: mgl32.Vec3{
			float32(rng.NormFloat64()),
			float32(rng.NormFloat64()),
			float32(rng.NormFloat64()),
		},
	}
	if q.Len() < 1e-12 {
		return mgl32.QuatIdent()
	}
	return q.Normalize()
}

// NumSplats returns the row count.
func (s *Splats) NumSplats() int { return len(s.Means) / 3 }

// NumCoeffs returns the SH basis-term count per channel.
func (s *Splats) NumCoeffs() uint32 { return s.numCoeffs }

// SHDegree returns the spherical-harmonics degree of the stored coefficients.
func (s *Splats) SHDegree() uint32 { return SHDegreeFromCoeffs(s.numCoeffs) }

// Opacity returns the activated opacity of row i.
func (s *Splats) Opacity(i int) float32 { return Sigmoid(s.RawOpacities[i]) }

// Scale returns the activated (exponentiated) scale of row i.
func (s *Splats) Scale(i int) mgl32.Vec3 {
	return mgl32.Vec3{
		math32.Exp(s.LogScales[i*3+0]),
		math32.Exp(s.LogScales[i*3+1]),
		math32.Exp(s.LogScales[i*3+2]),
	}
}

// Rotation returns the renormalized quaternion of row i.
func (s *Splats) Rotation(i int) mgl32.Quat {
	q := mgl32.Quat{
		W: s.Rotations[i*4+0],
		V: mgl32.Vec3{s.Rotations[i*4+1], s.Rotations[i*4+2], s.Rotations[i*4+3]},
	}
	if q.Len() < 1e-12 {
		return mgl32.QuatIdent()
	}
	return q.Normalize()
}

// Mean returns the position of row i.
func (s *Splats) Mean(i int) mgl32.Vec3 {
	return mgl32.Vec3{s.Means[i*3], s.Means[i*3+1], s.Means[i*3+2]}
}

// WithSHDegree grows (zero padding) or truncates the coefficient rows to the
// given degree, leaving every other attribute untouched.
func (s *Splats) WithSHDegree(degree uint32) *Splats {
	want := SHCoeffsForDegree(degree)
	if want == s.numCoeffs {
		return s
	}
	n := s.NumSplats()
	coeffs := make([]float32, n*int(want)*3)
	copyCoeffs := min(want, s.numCoeffs)
	for i := range n {
		src := s.SHCoeffs[i*int(s.numCoeffs)*3:]
		dst := coeffs[i*int(want)*3:]
		copy(dst[:copyCoeffs*3], src[:copyCoeffs*3])
	}
	s.SHCoeffs = coeffs
	s.numCoeffs = want
	return s
}

// Clone deep-copies the store.
func (s *Splats) Clone() *Splats {
	c := *s
	c.Means = append([]float32(nil), s.Means...)
	c.Rotations = append([]float32(nil), s.Rotations...)
	c.LogScales = append([]float32(nil), s.LogScales...)
	c.RawOpacities = append([]float32(nil), s.RawOpacities...)
	c.SHCoeffs = append([]float32(nil), s.SHCoeffs...)
	return &c
}

// Select returns a new store holding the given rows, in index order.
// Refinement uses it to apply one index set to store and trackers alike.
func (s *Splats) Select(indices []int) *Splats {
	nc := int(s.numCoeffs) * 3
	out := &Splats{
		Means:        make([]float32, 0, len(indices)*3),
		Rotations:    make([]float32, 0, len(indices)*4),
		LogScales:    make([]float32, 0, len(indices)*3),
		RawOpacities: make([]float32, 0, len(indices)),
		SHCoeffs:     make([]float32, 0, len(indices)*nc),
		numCoeffs:    s.numCoeffs,
	}
	for _, i := range indices {
		out.Means = append(out.Means, s.Means[i*3:i*3+3]...)
		out.Rotations = append(out.Rotations, s.Rotations[i*4:i*4+4]...)
		out.LogScales = append(out.LogScales, s.LogScales[i*3:i*3+3]...)
		out.RawOpacities = append(out.RawOpacities, s.RawOpacities[i])
		out.SHCoeffs = append(out.SHCoeffs, s.SHCoeffs[i*nc:(i+1)*nc]...)
	}
	return out
}

// Append moves the rows of other onto the end of s. The coefficient counts
// must match.
func (s *Splats) Append(other *Splats) {
	if other.numCoeffs != s.numCoeffs && other.NumSplats() > 0 {
		panic("splat: appending splats with mismatched sh degree")
	}
	s.Means = append(s.Means, other.Means...)
	s.Rotations = append(s.Rotations, other.Rotations...)
	s.LogScales = append(s.LogScales, other.LogScales...)
	s.RawOpacities = append(s.RawOpacities, other.RawOpacities...)
	s.SHCoeffs = append(s.SHCoeffs, other.SHCoeffs...)
}

// Bounds estimates the bounding box covering the given percentile of splat
// positions.
func (s *Splats) Bounds(percentile float32) BoundingBox {
	return BoundsFromPositions(percentile, s.Means)
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isFinite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}
