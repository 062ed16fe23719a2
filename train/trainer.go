package train

import (
	"fmt"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/render"
)

// Trainer owns one fitting run: the store, the optimizer, the refinement
// tracker and the rng. It is not safe for concurrent use; the Process
// serializes access.
type Trainer struct {
	cfg      Config
	renderer *render.Renderer
	rng      *rand.Rand

	splats  *splat.Splats
	opt     *Optimizer
	tracker *Tracker

	// Background composited behind training renders. Black matches
	// alpha-masked datasets.
	Background mgl32.Vec3
}

// NewTrainer starts a run over an existing store.
func NewTrainer(cfg Config, renderer *render.Renderer, s *splat.Splats) *Trainer {
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &Trainer{
		cfg:      cfg,
		renderer: renderer,
		rng:      rng,
		splats:   s,
		opt:      NewOptimizer(cfg, s),
		tracker:  NewTracker(cfg, s.NumSplats(), rng),
	}
}

// Splats returns the live store. The rows change at refinement boundaries.
func (t *Trainer) Splats() *splat.Splats { return t.splats }

// StepResult reports one optimizer step.
type StepResult struct {
	Loss      float32
	NumSplats int
	Grown     int
	Pruned    int
}

// Step runs one optimizer step against a sample: render, image loss,
// backward, Adam update, positional noise, and grow/prune when step lands
// on a refinement boundary.
func (t *Trainer) Step(step int, sample Sample) (StepResult, error) {
	target := sample.Target
	w, h := target.Width, target.Height

	img, aux, err := t.renderer.RenderWithGrads(t.splats, sample.Camera, w, h, t.Background)
	if err != nil {
		return StepResult{}, fmt.Errorf("train: forward: %w", err)
	}

	loss, vOut := t.imageLoss(img, sample)

	grads, err := t.renderer.Backward(aux, vOut)
	if err != nil {
		return StepResult{}, fmt.Errorf("train: backward: %w", err)
	}

	if t.cfg.OpacityLossWeight > 0 {
		loss += t.opacityLoss(grads)
	}

	t.opt.Step(t.splats, grads, step)
	t.tracker.Gather(grads, aux.Visibility)

	if t.cfg.MeanNoiseWeight > 0 {
		t.injectNoise(step)
	}

	res := StepResult{Loss: loss, NumSplats: t.splats.NumSplats()}
	if t.tracker.Boundary(step) {
		res.Grown, res.Pruned = t.tracker.Refine(t.splats, t.opt, step)
		res.NumSplats = t.splats.NumSplats()
	}
	return res, nil
}

// imageLoss computes (1-w)*L1 + w*(1-SSIM) and the gradient with respect
// to the rendered image. The alpha channel joins the L1 term only for
// alpha-masked targets.
func (t *Trainer) imageLoss(img *render.Image, sample Sample) (float32, []float32) {
	target := sample.Target
	n := len(img.Pix)
	vOut := make([]float32, n)

	channels := 3
	if sample.HasAlpha {
		channels = 4
	}
	count := float32(img.Width*img.Height) * float32(channels)

	var l1 float32
	for i := 0; i < n; i++ {
		if i%4 == 3 && !sample.HasAlpha {
			continue
		}
		d := img.Pix[i] - target.Pix[i]
		if d >= 0 {
			l1 += d
			vOut[i] = (1 - t.cfg.SSIMWeight) / count
		} else {
			l1 -= d
			vOut[i] = -(1 - t.cfg.SSIMWeight) / count
		}
	}
	l1 /= count

	loss := (1 - t.cfg.SSIMWeight) * l1
	if t.cfg.SSIMWeight > 0 {
		ssim, ssimGrad := SSIM(img.Pix, target.Pix, int(img.Width), int(img.Height))
		loss += t.cfg.SSIMWeight * (1 - ssim)
		for i := range vOut {
			vOut[i] -= t.cfg.SSIMWeight * ssimGrad[i]
		}
	}
	return loss, vOut
}

// opacityLoss adds the mean-opacity regularizer's gradient directly to the
// raw opacity gradients and returns its loss value.
func (t *Trainer) opacityLoss(grads *render.SplatGrads) float32 {
	n := t.splats.NumSplats()
	if n == 0 {
		return 0
	}
	wPer := t.cfg.OpacityLossWeight / float32(n)
	var total float32
	for i := 0; i < n; i++ {
		sig := t.splats.Opacity(i)
		total += sig
		grads.RawOpacities[i] += wPer * sig * (1 - sig)
	}
	return t.cfg.OpacityLossWeight * total / float32(n)
}

// injectNoise perturbs positions with covariance-shaped noise, strongest
// for transparent splats and fading with the decayed position learning
// rate. This keeps low-opacity splats exploring instead of dying in place.
func (t *Trainer) injectNoise(step int) {
	scale := t.cfg.MeanNoiseWeight * t.opt.MeansLR(step)
	s := t.splats
	for i := 0; i < s.NumSplats(); i++ {
		amp := scale * (1 - s.Opacity(i))
		if amp <= 0 {
			continue
		}
		q := s.Rotation(i)
		rot := q.Mat4().Mat3()
		sc := s.Scale(i)
		z := mgl32.Vec3{
			float32(t.rng.NormFloat64()) * sc[0],
			float32(t.rng.NormFloat64()) * sc[1],
			float32(t.rng.NormFloat64()) * sc[2],
		}
		d := rot.Mul3x1(z).Mul(amp)
		s.Means[i*3] += d[0]
		s.Means[i*3+1] += d[1]
		s.Means[i*3+2] += d[2]
	}
}
