package train

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/render"
)

// gatherOnce feeds the tracker one synthetic step of refine weights and
// visibility.
func gatherOnce(tr *Tracker, weights, visible []float32) {
	tr.Gather(&render.SplatGrads{RefineWeights: weights}, visible)
}

func refineConfig() Config {
	cfg := DefaultConfig()
	cfg.RefineStart = 0
	cfg.RefineEvery = 10
	cfg.CullOpacity = 0.15
	cfg.GrowGradThreshold = 0.5
	cfg.GrowthSelectFraction = 0.5
	return cfg
}

func TestTrackerBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefineStart = 500
	cfg.RefineEvery = 100
	tr := NewTracker(cfg, 0, rand.New(rand.NewSource(1)))

	assert.False(t, tr.Boundary(400))
	assert.False(t, tr.Boundary(550))
	assert.True(t, tr.Boundary(500))
	assert.True(t, tr.Boundary(600))
}

// Pruning removes low-opacity and never-visible splats and keeps every
// row of store, optimizer and tracker aligned afterwards.
func TestRefinePruneAlignment(t *testing.T) {
	cfg := refineConfig()
	cfg.GrowGradThreshold = 1e9 // no growth in this test

	s := testStore(5, 1)
	// Rows 1 and 3 fall below the opacity cull; row 4 is never visible.
	for i := range s.RawOpacities {
		s.RawOpacities[i] = splat.InverseSigmoid(0.9)
	}
	s.RawOpacities[1] = splat.InverseSigmoid(0.01)
	s.RawOpacities[3] = splat.InverseSigmoid(0.05)

	tr := NewTracker(cfg, 5, rand.New(rand.NewSource(2)))
	opt := NewOptimizer(cfg, s)
	gatherOnce(tr,
		[]float32{0.1, 0.1, 0.1, 0.1, 0.1},
		[]float32{1, 1, 1, 1, 0})

	keptMean := s.Mean(2)
	grown, pruned := tr.Refine(s, opt, 10)

	assert.Zero(t, grown)
	assert.Equal(t, 3, pruned)
	require.Equal(t, 2, s.NumSplats())
	assert.Equal(t, keptMean, s.Mean(1), "surviving row moved during compaction")

	// Optimizer moments and tracker record follow the store row count.
	assert.Len(t, opt.opacities.m, 2)
	assert.Len(t, opt.means.m, 6)
	assert.Len(t, tr.weights, 2)
	assert.Len(t, tr.visCounts, 2)
}

// Growth clones salient visible splats: the parent shrinks, the child
// lands near it, and new rows get fresh optimizer moments.
func TestRefineGrowth(t *testing.T) {
	cfg := refineConfig()
	s := testStore(4, 0)
	for i := range s.RawOpacities {
		s.RawOpacities[i] = splat.InverseSigmoid(0.9)
	}
	// Tight scales keep the clone jitter small.
	for i := range s.LogScales {
		s.LogScales[i] = -4
	}

	tr := NewTracker(cfg, 4, rand.New(rand.NewSource(3)))
	opt := NewOptimizer(cfg, s)
	// Only row 2 crosses the growth threshold.
	gatherOnce(tr,
		[]float32{0.01, 0.01, 0.9, 0.01},
		[]float32{1, 1, 1, 1})

	parentMean := s.Mean(2)
	scaleBefore := s.LogScales[2*3]
	grown, pruned := tr.Refine(s, opt, 10)

	assert.Equal(t, 1, grown)
	assert.Zero(t, pruned)
	require.Equal(t, 5, s.NumSplats())

	// Parent (still row 2) shrank by the split factor.
	assert.InDelta(t, float64(scaleBefore-growScaleDiv), float64(s.LogScales[2*3]), 1e-6)

	// Child appended last, close to the shrunk parent.
	childMean := s.Mean(4)
	assert.InDelta(t, float64(parentMean[0]), float64(childMean[0]), 0.2)
	assert.InDelta(t, float64(parentMean[1]), float64(childMean[1]), 0.2)
	assert.InDelta(t, float64(parentMean[2]), float64(childMean[2]), 0.2)
	assert.InDelta(t, float64(s.LogScales[2*3]), float64(s.LogScales[4*3]), 1e-6)

	assert.Len(t, opt.opacities.m, 5)
	assert.Len(t, tr.weights, 5)
}

func TestRefineRespectsMaxSplats(t *testing.T) {
	cfg := refineConfig()
	cfg.MaxSplats = 4
	s := testStore(4, 0)
	for i := range s.RawOpacities {
		s.RawOpacities[i] = splat.InverseSigmoid(0.9)
	}
	tr := NewTracker(cfg, 4, rand.New(rand.NewSource(4)))
	opt := NewOptimizer(cfg, s)
	gatherOnce(tr,
		[]float32{0.9, 0.9, 0.9, 0.9},
		[]float32{1, 1, 1, 1})

	grown, _ := tr.Refine(s, opt, 10)
	assert.Zero(t, grown)
	assert.Equal(t, 4, s.NumSplats())
}

func TestRefineGrowthStopsAtIterCap(t *testing.T) {
	cfg := refineConfig()
	cfg.GrowthStopIter = 100
	s := testStore(4, 0)
	for i := range s.RawOpacities {
		s.RawOpacities[i] = splat.InverseSigmoid(0.9)
	}
	tr := NewTracker(cfg, 4, rand.New(rand.NewSource(5)))
	opt := NewOptimizer(cfg, s)
	gatherOnce(tr,
		[]float32{0.9, 0.9, 0.9, 0.9},
		[]float32{1, 1, 1, 1})

	grown, _ := tr.Refine(s, opt, 100)
	assert.Zero(t, grown)
}
