package train

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chewxy/math32"
)

func TestEvaluatePerfectReconstruction(t *testing.T) {
	const size = 24
	renderer := trainRenderer(t)
	cam := frontCamera()
	s := graySplat(0.9)

	target, err := renderer.Render(s, cam, size, size, mgl32.Vec3{})
	require.NoError(t, err)

	m, err := Evaluate(renderer, s, SliceDataset{{Camera: cam, Target: target}}, mgl32.Vec3{})
	require.NoError(t, err)
	assert.True(t, math32.IsInf(m.PSNR, 1), "identical images have infinite PSNR, got %g", m.PSNR)
	assert.InDelta(t, 1.0, float64(m.SSIM), 1e-4)
}

func TestEvaluateImperfectReconstruction(t *testing.T) {
	const size = 24
	renderer := trainRenderer(t)
	cam := frontCamera()

	target, err := renderer.Render(graySplat(1.2), cam, size, size, mgl32.Vec3{})
	require.NoError(t, err)

	m, err := Evaluate(renderer, graySplat(0.2), SliceDataset{{Camera: cam, Target: target}}, mgl32.Vec3{})
	require.NoError(t, err)
	assert.False(t, math32.IsInf(m.PSNR, 1))
	assert.Positive(t, m.PSNR)
	assert.Less(t, m.SSIM, float32(1))
}

func TestEvaluateEmptyDataset(t *testing.T) {
	_, err := Evaluate(trainRenderer(t), graySplat(0.5), SliceDataset{}, mgl32.Vec3{})
	assert.Error(t, err)
}

func TestQuantize8RoundTrip(t *testing.T) {
	assert.Equal(t, uint8(0), quantize8(-0.5))
	assert.Equal(t, uint8(0), quantize8(0))
	assert.Equal(t, uint8(255), quantize8(1))
	assert.Equal(t, uint8(255), quantize8(2))
	assert.Equal(t, uint8(128), quantize8(0.5))
}
