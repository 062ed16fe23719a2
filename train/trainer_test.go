package train

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/backend/cpu"
	"github.com/gogpu/splat/render"
)

func trainRenderer(t *testing.T) *render.Renderer {
	t.Helper()
	b := cpu.New(2)
	require.NoError(t, b.Init())
	t.Cleanup(b.Close)
	r, err := render.NewRenderer(render.WithBackend(b))
	require.NoError(t, err)
	return r
}

func frontCamera() splat.Camera {
	return splat.NewCamera(mgl32.Vec3{}, mgl32.QuatIdent(), 0.8, 0.8)
}

// graySplat builds a one-splat degree-0 scene centered in front of the
// camera with the given DC coefficient on all channels.
func graySplat(dc float32) *splat.Splats {
	return splat.NewSplats(
		[]float32{0, 0, 3},
		[]float32{1, 0, 0, 0},
		[]float32{-0.3, -0.3, -0.3},
		[]float32{splat.InverseSigmoid(0.9)},
		[]float32{dc, dc, dc},
	)
}

func trainerConfig() Config {
	cfg := DefaultConfig()
	cfg.TotalSteps = 200
	cfg.SSIMWeight = 0.2
	cfg.MeanNoiseWeight = 0
	cfg.RefineStart = 1 << 30
	return cfg
}

func TestTrainerStepDecreasesLoss(t *testing.T) {
	const size = 32
	renderer := trainRenderer(t)
	cam := frontCamera()

	target, err := renderer.Render(graySplat(1.2), cam, size, size, mgl32.Vec3{})
	require.NoError(t, err)

	tr := NewTrainer(trainerConfig(), renderer, graySplat(0.2))
	sample := Sample{Camera: cam, Target: target}

	first, err := tr.Step(0, sample)
	require.NoError(t, err)
	require.Greater(t, first.Loss, float32(0))
	require.Equal(t, 1, first.NumSplats)

	var last StepResult
	for step := 1; step < 120; step++ {
		last, err = tr.Step(step, sample)
		require.NoError(t, err)
	}
	assert.Less(t, last.Loss, first.Loss)
}

// With a perfect reconstruction the image terms vanish, leaving the
// opacity regularizer to fade splats toward prunability.
func TestTrainerOpacityRegularizer(t *testing.T) {
	const size = 16
	renderer := trainRenderer(t)
	cam := frontCamera()

	s := graySplat(0.7)
	target, err := renderer.Render(s, cam, size, size, mgl32.Vec3{})
	require.NoError(t, err)

	cfg := trainerConfig()
	cfg.OpacityLossWeight = 0.05
	tr := NewTrainer(cfg, renderer, s)

	before := s.Opacity(0)
	for step := 0; step < 5; step++ {
		_, err := tr.Step(step, Sample{Camera: cam, Target: target})
		require.NoError(t, err)
	}
	assert.Less(t, s.Opacity(0), before)
}

// Positional noise keeps moving low-opacity splats even when the image
// gradient is silent.
func TestTrainerNoiseInjection(t *testing.T) {
	const size = 16
	renderer := trainRenderer(t)
	cam := frontCamera()

	s := graySplat(0.7)
	s.RawOpacities[0] = splat.InverseSigmoid(0.1)
	target, err := renderer.Render(s, cam, size, size, mgl32.Vec3{})
	require.NoError(t, err)

	cfg := trainerConfig()
	cfg.MeanNoiseWeight = 1e5
	tr := NewTrainer(cfg, renderer, s)

	before := s.Mean(0)
	_, err = tr.Step(0, Sample{Camera: cam, Target: target})
	require.NoError(t, err)
	assert.NotEqual(t, before, s.Mean(0))
}

// A refinement boundary inside Step keeps the store, optimizer and
// tracker row counts aligned.
func TestTrainerStepRefinementAlignment(t *testing.T) {
	const size = 16
	renderer := trainRenderer(t)
	cam := frontCamera()

	rng := rand.New(rand.NewSource(8))
	bounds := splat.BoundsFromMinMax(mgl32.Vec3{-1, -1, 2}, mgl32.Vec3{1, 1, 4})
	s := splat.NewRandomSplats(bounds, 12, rng).WithSHDegree(0)

	target, err := renderer.Render(graySplat(1), cam, size, size, mgl32.Vec3{})
	require.NoError(t, err)

	cfg := trainerConfig()
	cfg.RefineStart = 0
	cfg.RefineEvery = 2
	cfg.GrowGradThreshold = 0
	// Below the random-init opacity floor, so only invisible rows prune.
	cfg.CullOpacity = 0.05
	tr := NewTrainer(cfg, renderer, s)

	for step := 0; step < 4; step++ {
		res, err := tr.Step(step, Sample{Camera: cam, Target: target})
		require.NoError(t, err)
		require.Equal(t, tr.Splats().NumSplats(), res.NumSplats)
	}
	n := tr.Splats().NumSplats()
	assert.Len(t, tr.tracker.weights, n)
	assert.Len(t, tr.opt.opacities.m, n)
	assert.Len(t, tr.opt.coeffs.m, n*3)
}
