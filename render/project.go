// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/splat"
)

// cullPass marks splats whose camera-space depth clears the near plane and
// records that depth. Chunked across workers; flags and depths are indexed
// by store index so workers never overlap.
func cullPass(b backendRunner, s *splat.Splats, u *Uniforms, visFlags []bool, depths []float32) {
	n := s.NumSplats()
	means := s.Means
	view := u.View
	b.Run(n, func(_, start, end int) {
		for i := start; i < end; i++ {
			x, y, z := means[i*3], means[i*3+1], means[i*3+2]
			d := view[2]*x + view[6]*y + view[10]*z + view[14]
			if d > nearPlane && isFinite3(x, y, z) {
				visFlags[i] = true
				depths[i] = d
			}
		}
	})
}

func isFinite3(x, y, z float32) bool {
	return !math32.IsNaN(x) && !math32.IsInf(x, 0) &&
		!math32.IsNaN(y) && !math32.IsInf(y, 0) &&
		!math32.IsNaN(z) && !math32.IsInf(z, 0)
}

// rotationMatrix expands a normalized quaternion (w, x, y, z) into a 3x3
// row-major rotation matrix.
func rotationMatrix(w, x, y, z float32) [9]float32 {
	return [9]float32{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// covariance3D builds the world-space covariance M*M^T with M = R*diag(s),
// returning the six unique entries (xx, xy, xz, yy, yz, zz).
func covariance3D(r [9]float32, sx, sy, sz float32) [6]float32 {
	// M = R * diag(s)
	m := [9]float32{
		r[0] * sx, r[1] * sy, r[2] * sz,
		r[3] * sx, r[4] * sy, r[5] * sz,
		r[6] * sx, r[7] * sy, r[8] * sz,
	}
	return [6]float32{
		m[0]*m[0] + m[1]*m[1] + m[2]*m[2],
		m[0]*m[3] + m[1]*m[4] + m[2]*m[5],
		m[0]*m[6] + m[1]*m[7] + m[2]*m[8],
		m[3]*m[3] + m[4]*m[4] + m[5]*m[5],
		m[3]*m[6] + m[4]*m[7] + m[5]*m[8],
		m[6]*m[6] + m[7]*m[7] + m[8]*m[8],
	}
}

// project2DCovariance applies the EWA splatting approximation: the
// perspective projection is linearized at the splat center (Jacobian J) and
// the world covariance pushed through T = J*W. The returned triple is the
// upper triangle of the 2D covariance before blur dilation. tx, ty, tz are
// the clamped camera-space position the Jacobian was evaluated at.
func project2DCovariance(cov3 [6]float32, view mgl32.Mat4, vx, vy, vz, fx, fy, tanFovX, tanFovY float32) (a, b, c, tx, ty float32) {
	limX := 1.3 * tanFovX
	limY := 1.3 * tanFovY
	tx = clampf(vx/vz, -limX, limX) * vz
	ty = clampf(vy/vz, -limY, limY) * vz

	// J rows are the derivatives of (fx*x/z, fy*y/z) wrt camera xyz.
	j00 := fx / vz
	j02 := -fx * tx / (vz * vz)
	j11 := fy / vz
	j12 := -fy * ty / (vz * vz)

	// W is the rotation part of the view matrix (row-major rows below).
	w00, w01, w02 := view[0], view[4], view[8]
	w10, w11, w12 := view[1], view[5], view[9]
	w20, w21, w22 := view[2], view[6], view[10]

	// T = J * W, two rows of three.
	t00 := j00*w00 + j02*w20
	t01 := j00*w01 + j02*w21
	t02 := j00*w02 + j02*w22
	t10 := j11*w10 + j12*w20
	t11 := j11*w11 + j12*w21
	t12 := j11*w12 + j12*w22

	// Sigma * T^T columns, then T * (Sigma * T^T).
	s0 := cov3[0]*t00 + cov3[1]*t01 + cov3[2]*t02
	s1 := cov3[1]*t00 + cov3[3]*t01 + cov3[4]*t02
	s2 := cov3[2]*t00 + cov3[4]*t01 + cov3[5]*t02
	a = t00*s0 + t01*s1 + t02*s2
	b = t10*s0 + t11*s1 + t12*s2

	s0 = cov3[0]*t10 + cov3[1]*t11 + cov3[2]*t12
	s1 = cov3[1]*t10 + cov3[3]*t11 + cov3[4]*t12
	s2 = cov3[2]*t10 + cov3[4]*t11 + cov3[5]*t12
	c = t10*s0 + t11*s1 + t12*s2
	return a, b, c, tx, ty
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// projectVisible fills Projected for every compact index: world mean to
// screen, 3D to 2D covariance with blur dilation, conic inversion, 3-sigma
// radius and SH color with per-channel clamp tracking. Splats whose
// projected covariance is degenerate get Radius 0 and never bin.
func projectVisible(b backendRunner, s *splat.Splats, u *Uniforms, aux *Aux) {
	nVis := int(aux.NumVisible)
	view := u.View
	tanFovX := float32(u.Width) / (2 * u.FocalX)
	tanFovY := float32(u.Height) / (2 * u.FocalY)
	degree := u.SHDegree

	b.Run(nVis, func(_, start, end int) {
		var basis [16]float32
		for ci := start; ci < end; ci++ {
			gid := int(aux.GlobalFromCompact[ci])
			p := &aux.Projected[ci]

			mx := s.Means[gid*3]
			my := s.Means[gid*3+1]
			mz := s.Means[gid*3+2]

			vx := view[0]*mx + view[4]*my + view[8]*mz + view[12]
			vy := view[1]*mx + view[5]*my + view[9]*mz + view[13]
			vz := view[2]*mx + view[6]*my + view[10]*mz + view[14]

			p.Depth = vz
			p.X = u.FocalX*vx/vz + u.CenterX
			p.Y = u.FocalY*vy/vz + u.CenterY

			q := s.Rotation(gid)
			r := rotationMatrix(q.W, q.V[0], q.V[1], q.V[2])
			sx := math32.Exp(s.LogScales[gid*3] + u.ScaleOffset)
			sy := math32.Exp(s.LogScales[gid*3+1] + u.ScaleOffset)
			sz := math32.Exp(s.LogScales[gid*3+2] + u.ScaleOffset)
			cov3 := covariance3D(r, sx, sy, sz)

			a, bb, c, _, _ := project2DCovariance(cov3, view, vx, vy, vz, u.FocalX, u.FocalY, tanFovX, tanFovY)
			a += covarianceBlur
			c += covarianceBlur

			det := a*c - bb*bb
			if det <= 0 {
				p.Radius = 0
				continue
			}
			inv := 1 / det
			p.ConicA = c * inv
			p.ConicB = -bb * inv
			p.ConicC = a * inv

			mid := 0.5 * (a + c)
			lambda := mid + math32.Sqrt(math32.Max(0.1, mid*mid-det))
			p.Radius = math32.Ceil(3 * math32.Sqrt(lambda))

			p.Opacity = splat.Sigmoid(s.RawOpacities[gid])

			// View direction from camera to splat, for SH evaluation.
			dx := mx - u.CamPos[0]
			dy := my - u.CamPos[1]
			dz := mz - u.CamPos[2]
			norm := math32.Sqrt(dx*dx + dy*dy + dz*dz)
			if norm > 0 {
				dx, dy, dz = dx/norm, dy/norm, dz/norm
			}
			splat.SHBasis(degree, dx, dy, dz, &basis)

			nc := int(s.NumCoeffs())
			base := gid * nc * 3
			var cr, cg, cb float32
			for k := 0; k < nc; k++ {
				w := basis[k]
				cr += w * s.SHCoeffs[base+k*3]
				cg += w * s.SHCoeffs[base+k*3+1]
				cb += w * s.SHCoeffs[base+k*3+2]
			}
			cr += 0.5
			cg += 0.5
			cb += 0.5

			p.ClampMask = 0
			if cr < 0 {
				cr = 0
				p.ClampMask |= 1
			}
			if cg < 0 {
				cg = 0
				p.ClampMask |= 2
			}
			if cb < 0 {
				cb = 0
				p.ClampMask |= 4
			}
			p.R, p.G, p.B = cr, cg, cb
		}
	})
}

// tileSpan returns the inclusive-exclusive tile rectangle the splat's
// 3-sigma disc touches, clamped to the tile grid. An empty span means the
// splat is off screen.
func tileSpan(p *ProjectedSplat, tbx, tby uint32) (x0, y0, x1, y1 uint32) {
	if p.Radius <= 0 {
		return 0, 0, 0, 0
	}
	minX := p.X - p.Radius
	maxX := p.X + p.Radius
	minY := p.Y - p.Radius
	maxY := p.Y + p.Radius

	x0 = clampTile(math32.Floor(minX/TileWidth), tbx)
	x1 = clampTile(math32.Ceil(maxX/TileWidth), tbx)
	y0 = clampTile(math32.Floor(minY/TileWidth), tby)
	y1 = clampTile(math32.Ceil(maxY/TileWidth), tby)
	return x0, y0, x1, y1
}

func clampTile(v float32, bound uint32) uint32 {
	if v <= 0 {
		return 0
	}
	if v >= float32(bound) {
		return bound
	}
	return uint32(v)
}
