package train

import (
	"log/slog"
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/render"
)

// growScaleDiv shrinks both parent and child when a splat splits; ln(1.6)
// halves-ish the footprint so the pair has to re-cover the region.
var growScaleDiv = math32.Log(1.6)

// Tracker accumulates the densification signal between refinement
// boundaries and applies grow/prune at each boundary. Its per-splat rows
// stay aligned with the store: every compaction or growth runs through the
// tracker together with the optimizer moments.
type Tracker struct {
	cfg Config
	rng *rand.Rand

	// weights is the running max of the screen-space gradient norm
	// (or the running sum when NormalizeSaliency divides by visibility).
	weights []float32
	// visCounts counts renders in which the splat produced at least one
	// intersection since the last boundary.
	visCounts []float32
}

// NewTracker creates a tracker for a store of n splats.
func NewTracker(cfg Config, n int, rng *rand.Rand) *Tracker {
	return &Tracker{
		cfg:       cfg,
		rng:       rng,
		weights:   make([]float32, n),
		visCounts: make([]float32, n),
	}
}

// Gather folds one step's refine weights and visibility into the record.
func (t *Tracker) Gather(grads *render.SplatGrads, visibility []float32) {
	for i, w := range grads.RefineWeights {
		if math32.IsNaN(w) || math32.IsInf(w, 0) {
			w = 0
		}
		if t.cfg.NormalizeSaliency {
			t.weights[i] += w
		} else if w > t.weights[i] {
			t.weights[i] = w
		}
		if visibility[i] != 0 {
			t.visCounts[i]++
		}
	}
}

// Boundary reports whether step is a refinement boundary.
func (t *Tracker) Boundary(step int) bool {
	return step >= t.cfg.RefineStart && step%t.cfg.RefineEvery == 0
}

// saliency returns the selection weight per splat.
func (t *Tracker) saliency(i int) float32 {
	w := t.weights[i]
	if t.cfg.NormalizeSaliency && t.visCounts[i] > 0 {
		w /= t.visCounts[i]
	}
	return w
}

// Refine applies one grow/prune boundary: clone the most salient visible
// splats with covariance-shaped jitter, drop low-opacity and never-visible
// splats, then compact the store, the optimizer moments and this record
// through one shared index set. Returns the grown and pruned counts.
func (t *Tracker) Refine(s *splat.Splats, opt *Optimizer, step int) (grown, pruned int) {
	n := s.NumSplats()

	prune := make([]bool, n)
	for i := 0; i < n; i++ {
		if s.Opacity(i) < t.cfg.CullOpacity || t.visCounts[i] == 0 {
			prune[i] = true
		}
	}

	var parents []int
	if step < t.cfg.GrowthStopIter {
		parents = t.selectGrowth(s, prune)
	}

	// Clone parents before any rows move. Shrinking the parent happens
	// in place; the child starts from the shrunk row.
	children := splat.NewSplats(nil, nil, nil, nil, nil)
	if len(parents) > 0 {
		children = children.WithSHDegree(s.SHDegree())
		for _, p := range parents {
			for j := 0; j < 3; j++ {
				s.LogScales[p*3+j] -= growScaleDiv
			}
			child := s.Select([]int{p})
			jitterMean(t.rng, child, 0)
			children.Append(child)
		}
	}

	keep := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !prune[i] {
			keep = append(keep, i)
		}
	}
	pruned = n - len(keep)
	grown = children.NumSplats()

	compacted := s.Select(keep)
	compacted.Append(children)
	*s = *compacted

	opt.Compact(keep)
	opt.Grow(grown)

	t.weights = make([]float32, s.NumSplats())
	t.visCounts = make([]float32, s.NumSplats())

	splat.Logger().Debug("refined store",
		slog.Int("step", step),
		slog.Int("grown", grown),
		slog.Int("pruned", pruned),
		slog.Int("total", s.NumSplats()))
	return grown, pruned
}

// selectGrowth picks the clone set: salient, seen at least once, not about
// to be pruned, bounded by the selection fraction and the splat cap.
func (t *Tracker) selectGrowth(s *splat.Splats, prune []bool) []int {
	n := s.NumSplats()
	budget := int(t.cfg.GrowthSelectFraction * float32(n))
	if t.cfg.MaxSplats > 0 && n+budget > t.cfg.MaxSplats {
		budget = t.cfg.MaxSplats - n
	}
	if budget <= 0 {
		return nil
	}

	weights := make([]float32, n)
	candidates := 0
	for i := 0; i < n; i++ {
		w := t.saliency(i)
		if prune[i] || t.visCounts[i] == 0 || w < t.cfg.GrowGradThreshold {
			continue
		}
		weights[i] = w
		candidates++
	}
	if candidates == 0 {
		return nil
	}
	if budget > candidates {
		budget = candidates
	}
	return multinomialSample(t.rng, weights, budget)
}

// jitterMean displaces splat i of the store by a sample from its own
// covariance, so the clone lands inside the parent's footprint.
func jitterMean(rng *rand.Rand, s *splat.Splats, i int) {
	q := s.Rotation(i)
	rot := q.Mat4().Mat3()
	sc := s.Scale(i)
	z := mgl32.Vec3{
		float32(rng.NormFloat64()) * sc[0],
		float32(rng.NormFloat64()) * sc[1],
		float32(rng.NormFloat64()) * sc[2],
	}
	d := rot.Mul3x1(z)
	s.Means[i*3] += d[0]
	s.Means[i*3+1] += d[1]
	s.Means[i*3+2] += d[2]
}
