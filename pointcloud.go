package splat

import "github.com/chewxy/math32"

// PointCloud is the exchange form of a splat store, used at the boundary with
// dataset importers and checkpoint exporters. Unlike the internal store it
// carries activated values: opacity in (0,1), positive scales, and normalized
// quaternions. SH coefficients are exchanged as stored, DC first.
type PointCloud struct {
	Positions []float32 // n×3
	Scales    []float32 // n×3, activated (positive)
	Opacities []float32 // n, activated (0,1)
	Rotations []float32 // n×4 normalized quaternions (w,x,y,z)
	SHCoeffs  []float32 // n×c×3
	SHDegree  uint32
}

// NumPoints returns the record count.
func (p *PointCloud) NumPoints() int { return len(p.Positions) / 3 }

// ToPointCloud snapshots the store into its activated exchange form.
func (s *Splats) ToPointCloud() *PointCloud {
	n := s.NumSplats()
	pc := &PointCloud{
		Positions: append([]float32(nil), s.Means...),
		Scales:    make([]float32, n*3),
		Opacities: make([]float32, n),
		Rotations: make([]float32, n*4),
		SHCoeffs:  append([]float32(nil), s.SHCoeffs...),
		SHDegree:  s.SHDegree(),
	}
	for i, v := range s.LogScales {
		pc.Scales[i] = math32.Exp(v)
	}
	for i, v := range s.RawOpacities {
		pc.Opacities[i] = Sigmoid(v)
	}
	for i := range n {
		q := s.Rotation(i)
		pc.Rotations[i*4+0] = q.W
		pc.Rotations[i*4+1] = q.X()
		pc.Rotations[i*4+2] = q.Y()
		pc.Rotations[i*4+3] = q.Z()
	}
	return pc
}

// FromPointCloud converts a point cloud back into the internal encodings.
// Opacities are clamped away from 0 and 1 so the logit stays finite.
func FromPointCloud(pc *PointCloud) *Splats {
	n := pc.NumPoints()
	logScales := make([]float32, n*3)
	for i, v := range pc.Scales {
		logScales[i] = math32.Log(max(v, 1e-20))
	}
	rawOpacities := make([]float32, n)
	for i, v := range pc.Opacities {
		rawOpacities[i] = InverseSigmoid(clamp32(v, 1e-6, 1.0-1e-6))
	}
	return NewSplats(
		append([]float32(nil), pc.Positions...),
		append([]float32(nil), pc.Rotations...),
		logScales,
		rawOpacities,
		append([]float32(nil), pc.SHCoeffs...),
	)
}
