package train

import (
	"github.com/chewxy/math32"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/render"
)

// adamGroup carries first and second moment estimates for one parameter
// array. Moments are rows in lock-step with the store: refinement compacts
// and grows them through the optimizer so surviving splats keep their
// optimizer history.
type adamGroup struct {
	m, v   []float32
	stride int
}

func newAdamGroup(n, stride int) *adamGroup {
	return &adamGroup{
		m:      make([]float32, n*stride),
		v:      make([]float32, n*stride),
		stride: stride,
	}
}

// update applies one Adam step to params. lrAt returns the learning rate
// for a flat element index, which lets the coefficient group train DC and
// higher bands at different rates.
func (g *adamGroup) update(params, grads []float32, beta1, beta2, eps float32, t int, lrAt func(i int) float32) {
	c1 := 1 - math32.Pow(beta1, float32(t))
	c2 := 1 - math32.Pow(beta2, float32(t))
	for i, gr := range grads {
		g.m[i] = beta1*g.m[i] + (1-beta1)*gr
		g.v[i] = beta2*g.v[i] + (1-beta2)*gr*gr
		mhat := g.m[i] / c1
		vhat := g.v[i] / c2
		params[i] -= lrAt(i) * mhat / (math32.Sqrt(vhat) + eps)
	}
}

func (g *adamGroup) compact(keep []int) {
	g.m = compactRows(g.m, keep, g.stride)
	g.v = compactRows(g.v, keep, g.stride)
}

func (g *adamGroup) grow(rows int) {
	g.m = append(g.m, make([]float32, rows*g.stride)...)
	g.v = append(g.v, make([]float32, rows*g.stride)...)
}

// compactRows keeps the given rows of a stride-wide flat array, in place.
// keep must be ascending so rows only ever move toward the front.
func compactRows(a []float32, keep []int, stride int) []float32 {
	out := a[:0]
	for _, row := range keep {
		out = append(out, a[row*stride:(row+1)*stride]...)
	}
	return out
}

// Optimizer is a per-group Adam optimizer over the five splat parameter
// arrays.
type Optimizer struct {
	cfg Config

	means     *adamGroup
	rotations *adamGroup
	logScales *adamGroup
	opacities *adamGroup
	coeffs    *adamGroup

	t int
}

// NewOptimizer creates moment buffers sized to the store.
func NewOptimizer(cfg Config, s *splat.Splats) *Optimizer {
	n := s.NumSplats()
	nc := int(s.NumCoeffs())
	return &Optimizer{
		cfg:       cfg,
		means:     newAdamGroup(n, 3),
		rotations: newAdamGroup(n, 4),
		logScales: newAdamGroup(n, 3),
		opacities: newAdamGroup(n, 1),
		coeffs:    newAdamGroup(n, nc*3),
	}
}

// MeansLR returns the exponentially decayed position learning rate for the
// given step.
func (o *Optimizer) MeansLR(step int) float32 {
	frac := float32(step) / float32(o.cfg.TotalSteps)
	if frac > 1 {
		frac = 1
	}
	return o.cfg.MeansLR * math32.Pow(o.cfg.MeansLRFinal/o.cfg.MeansLR, frac)
}

// Step applies one Adam update from the gradients. step is the zero-based
// iteration; bias correction uses its own internal count so compaction
// between steps does not disturb it.
func (o *Optimizer) Step(s *splat.Splats, grads *render.SplatGrads, step int) {
	o.t++
	cfg := &o.cfg

	meansLR := o.MeansLR(step)
	fixed := func(lr float32) func(int) float32 {
		return func(int) float32 { return lr }
	}

	o.means.update(s.Means, grads.Means, cfg.Beta1, cfg.Beta2, cfg.Epsilon, o.t, fixed(meansLR))
	o.rotations.update(s.Rotations, grads.Rotations, cfg.Beta1, cfg.Beta2, cfg.Epsilon, o.t, fixed(cfg.RotationsLR))
	o.logScales.update(s.LogScales, grads.LogScales, cfg.Beta1, cfg.Beta2, cfg.Epsilon, o.t, fixed(cfg.ScalesLR))
	o.opacities.update(s.RawOpacities, grads.RawOpacities, cfg.Beta1, cfg.Beta2, cfg.Epsilon, o.t, fixed(cfg.OpacityLR))

	// DC coefficients train at full rate, higher bands slower.
	rowStride := o.coeffs.stride
	higherLR := cfg.CoeffsLR
	if cfg.CoeffsHigherDiv > 0 {
		higherLR = cfg.CoeffsLR / cfg.CoeffsHigherDiv
	}
	o.coeffs.update(s.SHCoeffs, grads.SHCoeffs, cfg.Beta1, cfg.Beta2, cfg.Epsilon, o.t, func(i int) float32 {
		if i%rowStride < 3 {
			return cfg.CoeffsLR
		}
		return higherLR
	})
}

// Compact keeps the given store rows of every moment buffer, in order.
func (o *Optimizer) Compact(keep []int) {
	o.means.compact(keep)
	o.rotations.compact(keep)
	o.logScales.compact(keep)
	o.opacities.compact(keep)
	o.coeffs.compact(keep)
}

// Grow appends zeroed moments for rows new splats, which start their Adam
// history fresh.
func (o *Optimizer) Grow(rows int) {
	o.means.grow(rows)
	o.rotations.grow(rows)
	o.logScales.grow(rows)
	o.opacities.grow(rows)
	o.coeffs.grow(rows)
}
