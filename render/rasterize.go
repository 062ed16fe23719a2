// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"github.com/chewxy/math32"
)

// rasterizeForward composites every tile front to back into aux-attached
// output and records, per pixel, the range position at which the walk
// stopped. Tiles are independent so the pass parallelizes over them.
func rasterizeForward(b backendRunner, aux *Aux, out *Image) {
	numTiles := int(aux.numTiles())
	u := &aux.uniforms
	b.Run(numTiles, func(_, startTile, endTile int) {
		for t := startTile; t < endTile; t++ {
			rasterizeTile(aux, u, out, uint32(t))
		}
	})
}

func rasterizeTile(aux *Aux, u *Uniforms, out *Image, tile uint32) {
	tileX := tile % aux.TileBoundsX
	tileY := tile / aux.TileBoundsX
	px0 := tileX * TileWidth
	py0 := tileY * TileWidth
	px1 := minu32(px0+TileWidth, aux.Width)
	py1 := minu32(py0+TileWidth, aux.Height)

	rangeStart := aux.TileOffsets[tile]
	rangeEnd := aux.TileOffsets[tile+1]

	for py := py0; py < py1; py++ {
		for px := px0; px < px1; px++ {
			fx := float32(px) + 0.5
			fy := float32(py) + 0.5

			var cr, cg, cb float32
			transmit := float32(1)
			final := rangeStart

			for i := rangeStart; i < rangeEnd; i++ {
				p := &aux.Projected[aux.CompactFromIsect[i]]
				alpha, ok := splatAlpha(p, fx, fy)
				if !ok {
					final = i + 1
					continue
				}
				next := transmit * (1 - alpha)
				if next < transmittanceEpsilon {
					// The splat that would cross the threshold is
					// not composited; final points at it.
					final = i
					break
				}
				cr += p.R * alpha * transmit
				cg += p.G * alpha * transmit
				cb += p.B * alpha * transmit
				transmit = next
				final = i + 1
			}

			idx := py*aux.Width + px
			if aux.FinalIndex != nil {
				aux.FinalIndex[idx] = final
				aux.Transmittance[idx] = transmit
			}
			o := idx * 4
			out.Pix[o] = cr + transmit*u.Background[0]
			out.Pix[o+1] = cg + transmit*u.Background[1]
			out.Pix[o+2] = cb + transmit*u.Background[2]
			out.Pix[o+3] = 1 - transmit
		}
	}
}

// rasterizePacked composites directly to 8-bit packed pixels. It is the
// display-only variant of rasterizeForward and writes nothing besides the
// output image.
func rasterizePacked(b backendRunner, aux *Aux, out *PackedImage) {
	numTiles := int(aux.numTiles())
	u := &aux.uniforms
	b.Run(numTiles, func(_, startTile, endTile int) {
		for t := startTile; t < endTile; t++ {
			rasterizePackedTile(aux, u, out, uint32(t))
		}
	})
}

func rasterizePackedTile(aux *Aux, u *Uniforms, out *PackedImage, tile uint32) {
	tileX := tile % aux.TileBoundsX
	tileY := tile / aux.TileBoundsX
	px0 := tileX * TileWidth
	py0 := tileY * TileWidth
	px1 := minu32(px0+TileWidth, aux.Width)
	py1 := minu32(py0+TileWidth, aux.Height)

	rangeStart := aux.TileOffsets[tile]
	rangeEnd := aux.TileOffsets[tile+1]

	for py := py0; py < py1; py++ {
		for px := px0; px < px1; px++ {
			fx := float32(px) + 0.5
			fy := float32(py) + 0.5

			var cr, cg, cb float32
			transmit := float32(1)

			for i := rangeStart; i < rangeEnd; i++ {
				p := &aux.Projected[aux.CompactFromIsect[i]]
				alpha, ok := splatAlpha(p, fx, fy)
				if !ok {
					continue
				}
				next := transmit * (1 - alpha)
				if next < transmittanceEpsilon {
					break
				}
				cr += p.R * alpha * transmit
				cg += p.G * alpha * transmit
				cb += p.B * alpha * transmit
				transmit = next
			}

			out.Pix[py*aux.Width+px] = packRGBA8(
				cr+transmit*u.Background[0],
				cg+transmit*u.Background[1],
				cb+transmit*u.Background[2],
				1-transmit)
		}
	}
}

// packRGBA8 quantizes four channels into one uint32, red in the low byte.
func packRGBA8(r, g, b, a float32) uint32 {
	return uint32(quantize(r)) |
		uint32(quantize(g))<<8 |
		uint32(quantize(b))<<16 |
		uint32(quantize(a))<<24
}

// splatAlpha evaluates the Gaussian falloff of p at pixel center (fx, fy).
// ok is false when the contribution is below the composite threshold.
func splatAlpha(p *ProjectedSplat, fx, fy float32) (alpha float32, ok bool) {
	dx := fx - p.X
	dy := fy - p.Y
	power := -0.5*(p.ConicA*dx*dx+p.ConicC*dy*dy) - p.ConicB*dx*dy
	if power > 0 {
		return 0, false
	}
	alpha = p.Opacity * math32.Exp(power)
	if alpha < alphaThreshold {
		return 0, false
	}
	if alpha > alphaClamp {
		alpha = alphaClamp
	}
	return alpha, true
}

func minu32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
