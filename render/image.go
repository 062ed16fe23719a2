package render

import (
	"image"
	"image/color"

	"github.com/chewxy/math32"
)

// ToRGBA converts the float render target to an 8-bit image. Values are
// clamped to [0, 1]; no tone mapping is applied.
func (im *Image) ToRGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, int(im.Width), int(im.Height)))
	for y := uint32(0); y < im.Height; y++ {
		for x := uint32(0); x < im.Width; x++ {
			i := (y*im.Width + x) * 4
			o := out.PixOffset(int(x), int(y))
			out.Pix[o] = quantize(im.Pix[i])
			out.Pix[o+1] = quantize(im.Pix[i+1])
			out.Pix[o+2] = quantize(im.Pix[i+2])
			out.Pix[o+3] = quantize(im.Pix[i+3])
		}
	}
	return out
}

// FromImage converts an 8-bit image into the float layout renders use, for
// loss computation against rendered frames.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	w, h := uint32(b.Dx()), uint32(b.Dy())
	out := newImage(w, h)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			out.Pix[i] = float32(c.R) / 255
			out.Pix[i+1] = float32(c.G) / 255
			out.Pix[i+2] = float32(c.B) / 255
			out.Pix[i+3] = float32(c.A) / 255
			i += 4
		}
	}
	return out
}

func quantize(v float32) uint8 {
	v = math32.Round(v * 255)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
