package splat

import "github.com/chewxy/math32"

// Validation is a debugging aid: it counts NaN/Inf and range violations in
// parameter or gradient arrays and reports them through the package logger
// without halting. It is meant to be switched off in performance-sensitive
// runs; callers gate it behind their own debug flag.

// ValidateArray scans values and logs diagnostics for non-finite entries and
// entries outside [minVal, maxVal]. Pass NaN for either bound to skip that
// check. It returns true when the array is clean.
func ValidateArray(name string, values []float32, minVal, maxVal float32) bool {
	var nanCount, infCount, belowMin, aboveMax int
	for _, v := range values {
		switch {
		case math32.IsNaN(v):
			nanCount++
		case math32.IsInf(v, 0):
			infCount++
		default:
			if !math32.IsNaN(minVal) && v < minVal {
				belowMin++
			}
			if !math32.IsNaN(maxVal) && v > maxVal {
				aboveMax++
			}
		}
	}
	clean := true
	log := Logger()
	if nanCount > 0 || infCount > 0 {
		clean = false
		sample := values[:min(len(values), 16)]
		log.Warn("array contains non-finite values",
			"name", name, "nan", nanCount, "inf", infCount,
			"total", len(values), "sample", sample)
	}
	if belowMin > 0 {
		clean = false
		log.Warn("array contains values below minimum",
			"name", name, "count", belowMin, "min", minVal, "total", len(values))
	}
	if aboveMax > 0 {
		clean = false
		log.Warn("array contains values above maximum",
			"name", name, "count", aboveMax, "max", maxVal, "total", len(values))
	}
	return clean
}

// Validate checks every parameter array of the store against loose sanity
// ranges, logging violations. Returns true when all arrays are clean.
func (s *Splats) Validate() bool {
	nan := math32.NaN()
	clean := ValidateArray("means", s.Means, nan, nan)
	clean = ValidateArray("rotations", s.Rotations, nan, nan) && clean
	clean = ValidateArray("log_scales", s.LogScales, -20.0, 20.0) && clean
	clean = ValidateArray("raw_opacities", s.RawOpacities, -30.0, 30.0) && clean
	clean = ValidateArray("sh_coeffs", s.SHCoeffs, -10.0, 10.0) && clean

	// Quaternions must have usable magnitude before renormalization.
	for i := range s.NumSplats() {
		w := s.Rotations[i*4]
		x := s.Rotations[i*4+1]
		y := s.Rotations[i*4+2]
		z := s.Rotations[i*4+3]
		if w*w+x*x+y*y+z*z < 1e-24 {
			Logger().Warn("degenerate rotation quaternion", "row", i)
			clean = false
		}
	}
	return clean
}
