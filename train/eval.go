package train

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/render"
)

// Metrics summarizes reconstruction quality over a held-out set.
type Metrics struct {
	PSNR float32
	SSIM float32
}

// Evaluate renders every sample of the dataset and averages PSNR and SSIM
// against the targets. Pixels pass through 8-bit quantization before the
// PSNR comparison so the number matches what a viewer of the exported
// images would measure.
func Evaluate(renderer *render.Renderer, s *splat.Splats, ds Dataset, bg mgl32.Vec3) (Metrics, error) {
	n := ds.Len()
	if n == 0 {
		return Metrics{}, fmt.Errorf("train: empty evaluation set")
	}
	var m Metrics
	for i := 0; i < n; i++ {
		sample, err := ds.Sample(i)
		if err != nil {
			return Metrics{}, fmt.Errorf("train: eval sample %d: %w", i, err)
		}
		img, err := renderer.Render(s, sample.Camera, sample.Target.Width, sample.Target.Height, bg)
		if err != nil {
			return Metrics{}, fmt.Errorf("train: eval render %d: %w", i, err)
		}
		m.PSNR += psnr(img.Pix, sample.Target.Pix)
		ssim, _ := SSIM(img.Pix, sample.Target.Pix, int(img.Width), int(img.Height))
		m.SSIM += ssim
	}
	m.PSNR /= float32(n)
	m.SSIM /= float32(n)
	return m, nil
}

// psnr compares RGB channels after an 8-bit round trip.
func psnr(rendered, target []float32) float32 {
	var mse float64
	var count int
	for i := 0; i < len(rendered); i += 4 {
		for c := 0; c < 3; c++ {
			d := float64(quantize8(rendered[i+c])) - float64(quantize8(target[i+c]))
			d /= 255
			mse += d * d
			count++
		}
	}
	if count == 0 || mse == 0 {
		return math32.Inf(1)
	}
	mse /= float64(count)
	return -10 * math32.Log10(float32(mse))
}

func quantize8(v float32) uint8 {
	x := v*255 + 0.5
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return uint8(x)
}
