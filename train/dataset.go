package train

import (
	"fmt"
	"image"
	"os"

	// Register the decoders dataset images commonly come in.
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/splat"
	"github.com/gogpu/splat/render"
)

// Sample is one posed training view.
type Sample struct {
	Camera splat.Camera

	// Target is the reference image in the renderer's float RGBA layout.
	Target *render.Image

	// HasAlpha marks targets whose alpha channel is a validity mask; the
	// loss is then computed against alpha-blended pixels.
	HasAlpha bool
}

// Dataset supplies posed views by index. Implementations may do IO in
// Sample; the Loader overlaps that IO with training.
type Dataset interface {
	Len() int
	Sample(i int) (Sample, error)
}

// SliceDataset serves preloaded samples, the common case for synthetic
// scenes and tests.
type SliceDataset []Sample

func (d SliceDataset) Len() int { return len(d) }

func (d SliceDataset) Sample(i int) (Sample, error) { return d[i], nil }

// FileDataset lazily decodes one image file per view, downscaling so the
// longest side is at most MaxDim (0 keeps full resolution).
type FileDataset struct {
	Cameras []splat.Camera
	Paths   []string
	MaxDim  int
}

// Len implements Dataset.
func (d *FileDataset) Len() int { return len(d.Paths) }

// Sample implements Dataset.
func (d *FileDataset) Sample(i int) (Sample, error) {
	f, err := os.Open(d.Paths[i])
	if err != nil {
		return Sample{}, fmt.Errorf("train: open view %d: %w", i, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Sample{}, fmt.Errorf("train: decode view %d: %w", i, err)
	}
	rgba := scaleToFit(img, d.MaxDim)
	_, hasAlpha := img.(*image.NRGBA)
	return Sample{
		Camera:   d.Cameras[i],
		Target:   render.FromImage(rgba),
		HasAlpha: hasAlpha,
	}, nil
}

// scaleToFit downscales img so its longest side is maxDim, bilinear.
func scaleToFit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	if maxDim <= 0 || longest <= maxDim {
		return img
	}
	scale := float64(maxDim) / float64(longest)
	w := int(float64(b.Dx())*scale + 0.5)
	h := int(float64(b.Dy())*scale + 0.5)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}
