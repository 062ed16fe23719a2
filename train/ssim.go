package train

import (
	"github.com/chewxy/math32"
)

// Structural similarity over RGB with an 11x11 Gaussian window, sigma 1.5,
// and its analytic gradient with respect to the rendered image. The window
// is separable, so every blur below is two 1D convolutions.

const (
	ssimWindow = 11
	ssimSigma  = 1.5
	ssimC1     = 0.01 * 0.01
	ssimC2     = 0.03 * 0.03
)

var ssimKernel = gaussianKernel1D(ssimWindow, ssimSigma)

func gaussianKernel1D(size int, sigma float32) []float32 {
	k := make([]float32, size)
	half := float32(size-1) / 2
	var sum float32
	for i := range k {
		d := (float32(i) - half) / sigma
		k[i] = math32.Exp(-0.5 * d * d)
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// plane is a single-channel float image used by the SSIM convolutions.
type plane struct {
	w, h int
	pix  []float32
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]float32, w*h)}
}

// blur applies the separable Gaussian window with zero padding at the
// borders, writing into dst.
func blur(src, dst, tmp *plane) {
	half := ssimWindow / 2
	w, h := src.w, src.h
	// Horizontal.
	for y := 0; y < h; y++ {
		row := src.pix[y*w:]
		out := tmp.pix[y*w:]
		for x := 0; x < w; x++ {
			var acc float32
			for k := 0; k < ssimWindow; k++ {
				sx := x + k - half
				if sx < 0 || sx >= w {
					continue
				}
				acc += ssimKernel[k] * row[sx]
			}
			out[x] = acc
		}
	}
	// Vertical.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float32
			for k := 0; k < ssimWindow; k++ {
				sy := y + k - half
				if sy < 0 || sy >= h {
					continue
				}
				acc += ssimKernel[k] * tmp.pix[sy*w+x]
			}
			dst.pix[y*w+x] = acc
		}
	}
}

// ssimChannel computes mean SSIM of one channel and accumulates
// d(meanSSIM)/dx into grad (same layout as x). x is the rendered channel,
// y the reference.
func ssimChannel(x, y *plane, grad *plane) float32 {
	w, h := x.w, x.h
	n := w * h
	tmp := newPlane(w, h)

	mux := newPlane(w, h)
	muy := newPlane(w, h)
	blur(x, mux, tmp)
	blur(y, muy, tmp)

	xx := newPlane(w, h)
	yy := newPlane(w, h)
	xy := newPlane(w, h)
	for i := 0; i < n; i++ {
		xx.pix[i] = x.pix[i] * x.pix[i]
		yy.pix[i] = y.pix[i] * y.pix[i]
		xy.pix[i] = x.pix[i] * y.pix[i]
	}
	sxx := newPlane(w, h)
	syy := newPlane(w, h)
	sxy := newPlane(w, h)
	blur(xx, sxx, tmp)
	blur(yy, syy, tmp)
	blur(xy, sxy, tmp)

	// Per-pixel SSIM map and the local derivative factors.
	// SSIM(p) = A1*A2 / (B1*B2) with
	//   A1 = 2 mux muy + C1, B1 = mux^2 + muy^2 + C1
	//   A2 = 2 sigxy + C2,   B2 = sigx^2 + sigy^2 + C2
	ssimSum := float32(0)
	dMu := newPlane(w, h)    // coefficient blurred against dSSIM/dmux path
	dSigXX := newPlane(w, h) // dSSIM/dsigma_x^2
	dSigXY := newPlane(w, h) // dSSIM/dsigma_xy
	for i := 0; i < n; i++ {
		mx, my := mux.pix[i], muy.pix[i]
		varX := sxx.pix[i] - mx*mx
		varY := syy.pix[i] - my*my
		covXY := sxy.pix[i] - mx*my

		a1 := 2*mx*my + ssimC1
		a2 := 2*covXY + ssimC2
		b1 := mx*mx + my*my + ssimC1
		b2 := varX + varY + ssimC2

		v := (a1 * a2) / (b1 * b2)
		ssimSum += v

		// Partials of v at this pixel.
		dA1 := a2 / (b1 * b2)
		dA2 := a1 / (b1 * b2)
		dB1 := -v / b1
		dB2 := -v / b2

		// Through mux: a1 path 2*muy, b1 path 2*mux; variances also
		// depend on mux (var = s - mu^2) and covariance on mux via
		// -mux*muy.
		dMu.pix[i] = dA1*2*my + dB1*2*mx + dB2*(-2*mx) + dA2*2*(-my)
		dSigXX.pix[i] = dB2
		dSigXY.pix[i] = dA2 * 2
	}

	// Chain to pixels: every blurred statistic spreads its gradient back
	// through the same window (the kernel is symmetric, so the adjoint of
	// blur is blur).
	//   via mux:      W (*) dMu
	//   via sxx:      2 x(p) [W (*) dSigXX]
	//   via sxy:      y(p) [W (*) dSigXY]
	gMu := newPlane(w, h)
	gXX := newPlane(w, h)
	gXY := newPlane(w, h)
	blur(dMu, gMu, tmp)
	blur(dSigXX, gXX, tmp)
	blur(dSigXY, gXY, tmp)

	inv := 1 / float32(n)
	for i := 0; i < n; i++ {
		g := gMu.pix[i] + 2*x.pix[i]*gXX.pix[i] + y.pix[i]*gXY.pix[i]
		grad.pix[i] += g * inv
	}
	return ssimSum * inv
}

// SSIM computes the mean RGB structural similarity between a rendered image
// and a reference, both H*W*4 RGBA float layouts, and the gradient of the
// mean SSIM with respect to the rendered RGB channels (alpha gets none).
// The returned gradient has the same H*W*4 layout.
func SSIM(rendered, reference []float32, width, height int) (float32, []float32) {
	grad := make([]float32, len(rendered))
	x := newPlane(width, height)
	y := newPlane(width, height)
	gc := newPlane(width, height)

	var total float32
	for ch := 0; ch < 3; ch++ {
		for i := 0; i < width*height; i++ {
			x.pix[i] = rendered[i*4+ch]
			y.pix[i] = reference[i*4+ch]
			gc.pix[i] = 0
		}
		total += ssimChannel(x, y, gc)
		// The value averages the three channels, so each channel's
		// gradient carries a third of the weight.
		for i := 0; i < width*height; i++ {
			grad[i*4+ch] = gc.pix[i] / 3
		}
	}
	return total / 3, grad
}
