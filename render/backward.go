// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/splat"
)

// splatGrads2D is the per-compact-splat screen-space gradient record the
// pixel walk accumulates before projection unwinds it to parameters.
const grads2DStride = 9 // vx, vy, vA, vB, vC, vR, vG, vB, vOpac

// Backward propagates a loss gradient over the rendered image back to every
// splat parameter. aux must come from RenderWithGrads on the same store,
// unmodified since; vOut is the RGBA image gradient, len Width*Height*4.
//
// The pixel walk shards its accumulation per worker and merges afterwards,
// the float-atomics fallback for targets without hardware float atomic add.
// The CPU backend never advertises AtomicFloatAdd, so the fallback is the
// only path exercised here; the capability check keeps the two paths honest
// when a target that does support it shows up.
func (r *Renderer) Backward(aux *Aux, vOut []float32) (*SplatGrads, error) {
	if aux == nil || aux.splats == nil {
		return nil, fmt.Errorf("render: backward without forward aux")
	}
	if want := int(aux.Width*aux.Height) * 4; len(vOut) != want {
		return nil, fmt.Errorf("render: image gradient length %d, want %d", len(vOut), want)
	}

	s := aux.splats
	grads := newSplatGrads(s.NumSplats(), int(s.NumCoeffs()))
	if aux.NumVisible == 0 {
		return grads, nil
	}

	nVis := int(aux.NumVisible)
	// A target with hardware float atomic add accumulates into a single
	// buffer; without it, each worker gets a shard and the shards are
	// merged after the pass.
	workers := 1
	if !r.backend.Capabilities().AtomicFloatAdd {
		workers = r.backend.Workers()
	}
	shards := make([][]float32, workers)
	for w := range shards {
		shards[w] = make([]float32, nVis*grads2DStride)
	}

	numTiles := int(aux.numTiles())
	r.backend.Run(numTiles, func(worker, startTile, endTile int) {
		g2d := shards[worker%workers]
		for t := startTile; t < endTile; t++ {
			backwardTile(aux, vOut, g2d, uint32(t))
		}
	})

	merged := shards[0]
	for w := 1; w < workers; w++ {
		addInto(merged, shards[w])
	}

	projectBackwards(r.backend, aux, merged, grads)
	return grads, nil
}

// backwardTile unwinds one tile's compositing back to front. The forward
// transmittance recurrence is inverted per splat: T_i = T_running/(1-a_i),
// with T_running seeded from the stored per-pixel final transmittance.
func backwardTile(aux *Aux, vOut, g2d []float32, tile uint32) {
	tileX := tile % aux.TileBoundsX
	tileY := tile / aux.TileBoundsX
	px0 := tileX * TileWidth
	py0 := tileY * TileWidth
	px1 := minu32(px0+TileWidth, aux.Width)
	py1 := minu32(py0+TileWidth, aux.Height)

	rangeStart := aux.TileOffsets[tile]
	bg := aux.uniforms.Background

	for py := py0; py < py1; py++ {
		for px := px0; px < px1; px++ {
			idx := py*aux.Width + px
			final := aux.FinalIndex[idx]
			if final == rangeStart {
				continue
			}

			fx := float32(px) + 0.5
			fy := float32(py) + 0.5
			o := idx * 4
			vr, vg, vb, va := vOut[o], vOut[o+1], vOut[o+2], vOut[o+3]

			tFinal := aux.Transmittance[idx]
			tRun := tFinal
			// Color accumulated behind the current splat.
			var sr, sg, sb float32

			for i := final; i > rangeStart; i-- {
				ci := aux.CompactFromIsect[i-1]
				p := &aux.Projected[ci]
				alpha, ok := splatAlpha(p, fx, fy)
				if !ok {
					continue
				}
				oneMinus := 1 - alpha
				ti := tRun / oneMinus
				tRun = ti

				vAlpha := (vr*p.R+vg*p.G+vb*p.B)*ti -
					(vr*sr+vg*sg+vb*sb)/oneMinus -
					(vr*bg[0]+vg*bg[1]+vb*bg[2])*tFinal/oneMinus +
					va*tFinal/oneMinus

				sr += p.R * alpha * ti
				sg += p.G * alpha * ti
				sb += p.B * alpha * ti

				dx := fx - p.X
				dy := fy - p.Y
				vPower := vAlpha * alpha

				g := g2d[int(ci)*grads2DStride:]
				g[0] += vPower * (p.ConicA*dx + p.ConicB*dy)
				g[1] += vPower * (p.ConicB*dx + p.ConicC*dy)
				g[2] += vPower * (-0.5 * dx * dx)
				g[3] += vPower * (-dx * dy)
				g[4] += vPower * (-0.5 * dy * dy)
				g[5] += vr * alpha * ti
				g[6] += vg * alpha * ti
				g[7] += vb * alpha * ti
				// d alpha / d opacity = alpha / opacity.
				g[8] += vAlpha * alpha / p.Opacity
			}
		}
	}
}

// projectBackwards chains the merged screen-space gradients through the
// projection: conic to 2D covariance, EWA Jacobian to camera space, view
// transform to world mean, covariance factorization to rotation and scale,
// and the SH evaluation to coefficients and (through the view direction)
// back to the mean. Each compact index maps to a distinct store index, so
// workers write disjoint ranges.
func projectBackwards(b backendRunner, aux *Aux, g2d []float32, grads *SplatGrads) {
	s := aux.splats
	u := &aux.uniforms
	view := u.View
	tanFovX := float32(u.Width) / (2 * u.FocalX)
	tanFovY := float32(u.Height) / (2 * u.FocalY)
	degree := u.SHDegree
	nc := int(s.NumCoeffs())
	halfW := 0.5 * float32(u.Width)
	halfH := 0.5 * float32(u.Height)

	b.Run(int(aux.NumVisible), func(_, start, end int) {
		var basis, basisDx, basisDy, basisDz [16]float32
		for ci := start; ci < end; ci++ {
			g := g2d[ci*grads2DStride:]
			vXY := [2]float32{g[0], g[1]}
			vConic := [3]float32{g[2], g[3], g[4]}
			vRGB := [3]float32{g[5], g[6], g[7]}
			vOpac := g[8]

			gid := int(aux.GlobalFromCompact[ci])
			p := &aux.Projected[ci]

			grads.RefineWeights[gid] = math32.Hypot(vXY[0]*halfW, vXY[1]*halfH)

			// Opacity: chain through the sigmoid.
			sig := p.Opacity
			grads.RawOpacities[gid] += vOpac * sig * (1 - sig)

			// Color: clamped channels pass no gradient.
			if p.ClampMask&1 != 0 {
				vRGB[0] = 0
			}
			if p.ClampMask&2 != 0 {
				vRGB[1] = 0
			}
			if p.ClampMask&4 != 0 {
				vRGB[2] = 0
			}

			mx := s.Means[gid*3]
			my := s.Means[gid*3+1]
			mz := s.Means[gid*3+2]

			var vMean [3]float32
			shBackward(s, u, gid, nc, degree, mx, my, mz, vRGB, &basis, &basisDx, &basisDy, &basisDz, grads, &vMean)

			// Conic to 2D covariance: K = C2^-1, so
			// dL/dC2 = -K * dL/dK * K with symmetric packing.
			ka, kb, kc := p.ConicA, p.ConicB, p.ConicC
			ga, gb, gc := vConic[0], vConic[1]/2, vConic[2]
			// m = K * G (G full symmetric from packed grads).
			m00 := ka*ga + kb*gb
			m01 := ka*gb + kb*gc
			m10 := kb*ga + kc*gb
			m11 := kb*gb + kc*gc
			// dC2 = -(m * K), full matrix.
			d00 := -(m00*ka + m01*kb)
			d01 := -(m00*kb + m01*kc)
			d10 := -(m10*ka + m11*kb)
			d11 := -(m10*kb + m11*kc)
			// Full symmetric 2x2 gradient of the blurred covariance;
			// the blur offset is additive so it passes through.
			vC2 := [4]float32{d00, (d01 + d10) / 2, (d01 + d10) / 2, d11}

			projectCovBackward(s, view, gid, mx, my, mz, u, tanFovX, tanFovY, vC2, vXY, grads, &vMean)

			// World mean: view = W*mean + t, so vMeanWorld = W^T vView
			// was folded in by projectCovBackward; what is left here is
			// the direct SH-direction contribution.
			grads.Means[gid*3] += vMean[0]
			grads.Means[gid*3+1] += vMean[1]
			grads.Means[gid*3+2] += vMean[2]
		}
	})
}

// shBackward pushes the color gradient into the SH coefficients and, via
// the basis derivative, into the view direction and so the world mean.
func shBackward(s *splat.Splats, u *Uniforms, gid, nc int, degree uint32, mx, my, mz float32, vRGB [3]float32, basis, basisDx, basisDy, basisDz *[16]float32, grads *SplatGrads, vMean *[3]float32) {
	ux := mx - u.CamPos[0]
	uy := my - u.CamPos[1]
	uz := mz - u.CamPos[2]
	norm := math32.Sqrt(ux*ux + uy*uy + uz*uz)
	dx, dy, dz := ux, uy, uz
	if norm > 0 {
		dx, dy, dz = ux/norm, uy/norm, uz/norm
	}

	splat.SHBasisGrad(degree, dx, dy, dz, basis, basisDx, basisDy, basisDz)

	base := gid * nc * 3
	var vDirX, vDirY, vDirZ float32
	for k := 0; k < nc; k++ {
		cr := s.SHCoeffs[base+k*3]
		cg := s.SHCoeffs[base+k*3+1]
		cb := s.SHCoeffs[base+k*3+2]

		grads.SHCoeffs[base+k*3] += basis[k] * vRGB[0]
		grads.SHCoeffs[base+k*3+1] += basis[k] * vRGB[1]
		grads.SHCoeffs[base+k*3+2] += basis[k] * vRGB[2]

		w := cr*vRGB[0] + cg*vRGB[1] + cb*vRGB[2]
		vDirX += basisDx[k] * w
		vDirY += basisDy[k] * w
		vDirZ += basisDz[k] * w
	}

	if norm > 0 {
		// d = u/|u|: v_u = (I - d d^T) v_dir / |u|.
		dot := dx*vDirX + dy*vDirY + dz*vDirZ
		vMean[0] += (vDirX - dx*dot) / norm
		vMean[1] += (vDirY - dy*dot) / norm
		vMean[2] += (vDirZ - dz*dot) / norm
	}
}

// projectCovBackward chains the full 2x2 covariance gradient and the screen
// position gradient through the EWA projection into the world mean,
// rotation and log-scale gradients.
func projectCovBackward(s *splat.Splats, view mgl32.Mat4, gid int, mx, my, mz float32, u *Uniforms, tanFovX, tanFovY float32, vC2 [4]float32, vXY [2]float32, grads *SplatGrads, vMean *[3]float32) {
	vx := view[0]*mx + view[4]*my + view[8]*mz + view[12]
	vy := view[1]*mx + view[5]*my + view[9]*mz + view[13]
	vz := view[2]*mx + view[6]*my + view[10]*mz + view[14]

	fx, fy := u.FocalX, u.FocalY

	limX := 1.3 * tanFovX
	limY := 1.3 * tanFovY
	ratioX := vx / vz
	ratioY := vy / vz
	clampedX := ratioX < -limX || ratioX > limX
	clampedY := ratioY < -limY || ratioY > limY
	tx := clampf(ratioX, -limX, limX) * vz
	ty := clampf(ratioY, -limY, limY) * vz

	// Recompute the forward intermediates.
	q := s.Rotation(gid)
	rot := rotationMatrix(q.W, q.V[0], q.V[1], q.V[2])
	sx := math32.Exp(s.LogScales[gid*3] + u.ScaleOffset)
	sy := math32.Exp(s.LogScales[gid*3+1] + u.ScaleOffset)
	sz := math32.Exp(s.LogScales[gid*3+2] + u.ScaleOffset)
	cov3 := covariance3D(rot, sx, sy, sz)

	j00 := fx / vz
	j02 := -fx * tx / (vz * vz)
	j11 := fy / vz
	j12 := -fy * ty / (vz * vz)

	w00, w01, w02 := view[0], view[4], view[8]
	w10, w11, w12 := view[1], view[5], view[9]
	w20, w21, w22 := view[2], view[6], view[10]

	// T = J*W, rows t0 and t1.
	t00 := j00*w00 + j02*w20
	t01 := j00*w01 + j02*w21
	t02 := j00*w02 + j02*w22
	t10 := j11*w10 + j12*w20
	t11 := j11*w11 + j12*w21
	t12 := j11*w12 + j12*w22

	// vSigma3 = T^T * vC2 * T (3x3 symmetric).
	a00, a01, a10, a11 := vC2[0], vC2[1], vC2[2], vC2[3]
	// u = vC2 * T (2x3).
	u00 := a00*t00 + a01*t10
	u01 := a00*t01 + a01*t11
	u02 := a00*t02 + a01*t12
	u10 := a10*t00 + a11*t10
	u11 := a10*t01 + a11*t11
	u12 := a10*t02 + a11*t12
	var vS3 [9]float32
	vS3[0] = t00*u00 + t10*u10
	vS3[1] = t00*u01 + t10*u11
	vS3[2] = t00*u02 + t10*u12
	vS3[3] = t01*u00 + t11*u10
	vS3[4] = t01*u01 + t11*u11
	vS3[5] = t01*u02 + t11*u12
	vS3[6] = t02*u00 + t12*u10
	vS3[7] = t02*u01 + t12*u11
	vS3[8] = t02*u02 + t12*u12

	covarianceBackward(s, gid, rot, sx, sy, sz, vS3, grads)

	// vT = 2 * vC2 * T * Sigma3 (2x3).
	c3 := [9]float32{
		cov3[0], cov3[1], cov3[2],
		cov3[1], cov3[3], cov3[4],
		cov3[2], cov3[4], cov3[5],
	}
	vt00 := 2 * (u00*c3[0] + u01*c3[3] + u02*c3[6])
	vt01 := 2 * (u00*c3[1] + u01*c3[4] + u02*c3[7])
	vt02 := 2 * (u00*c3[2] + u01*c3[5] + u02*c3[8])
	vt10 := 2 * (u10*c3[0] + u11*c3[3] + u12*c3[6])
	vt11 := 2 * (u10*c3[1] + u11*c3[4] + u12*c3[7])
	vt12 := 2 * (u10*c3[2] + u11*c3[5] + u12*c3[8])

	// vJ = vT * W^T; only the four live J entries matter.
	vj00 := vt00*w00 + vt01*w01 + vt02*w02
	vj02 := vt00*w20 + vt01*w21 + vt02*w22
	vj11 := vt10*w10 + vt11*w11 + vt12*w12
	vj12 := vt10*w20 + vt11*w21 + vt12*w22

	// View-space gradient from the Jacobian entries. The clamp on tx, ty
	// blocks the lateral paths when active.
	var vViewX, vViewY, vViewZ float32
	if !clampedX {
		vViewX += vj02 * (-fx / (vz * vz))
	}
	if !clampedY {
		vViewY += vj12 * (-fy / (vz * vz))
	}
	vViewZ += vj00*(-fx/(vz*vz)) + vj11*(-fy/(vz*vz)) +
		vj02*(2*fx*tx/(vz*vz*vz)) + vj12*(2*fy*ty/(vz*vz*vz))

	// Screen position path: sx = fx*vx/vz + cx.
	vViewX += vXY[0] * fx / vz
	vViewY += vXY[1] * fy / vz
	vViewZ += -vXY[0]*fx*vx/(vz*vz) - vXY[1]*fy*vy/(vz*vz)

	// World mean through the view rotation.
	vMean[0] += w00*vViewX + w10*vViewY + w20*vViewZ
	vMean[1] += w01*vViewX + w11*vViewY + w21*vViewZ
	vMean[2] += w02*vViewX + w12*vViewY + w22*vViewZ
}

// covarianceBackward unwinds Sigma3 = M*M^T with M = R*diag(s) into
// rotation quaternion and log-scale gradients, including the quaternion
// normalization.
func covarianceBackward(s *splat.Splats, gid int, rot [9]float32, sx, sy, sz float32, vS3 [9]float32, grads *SplatGrads) {
	m := [9]float32{
		rot[0] * sx, rot[1] * sy, rot[2] * sz,
		rot[3] * sx, rot[4] * sy, rot[5] * sz,
		rot[6] * sx, rot[7] * sy, rot[8] * sz,
	}
	// vM = 2 * vS3 * M.
	var vM [9]float32
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			vM[i*3+j] = 2 * (vS3[i*3]*m[j] + vS3[i*3+1]*m[3+j] + vS3[i*3+2]*m[6+j])
		}
	}

	scales := [3]float32{sx, sy, sz}
	for j := 0; j < 3; j++ {
		var vs float32
		for i := 0; i < 3; i++ {
			vs += rot[i*3+j] * vM[i*3+j]
		}
		grads.LogScales[gid*3+j] += vs * scales[j]
	}

	// vR_ij = vM_ij * s_j.
	var vR [9]float32
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			vR[i*3+j] = vM[i*3+j] * scales[j]
		}
	}

	q := s.Rotation(gid)
	qw, qx, qy, qz := q.W, q.V[0], q.V[1], q.V[2]
	vw := 2 * (qx*(vR[7]-vR[5]) + qy*(vR[2]-vR[6]) + qz*(vR[3]-vR[1]))
	vx := 2*(qy*(vR[1]+vR[3])+qz*(vR[2]+vR[6])+qw*(vR[7]-vR[5])) - 4*qx*(vR[4]+vR[8])
	vy := 2*(qx*(vR[1]+vR[3])+qz*(vR[5]+vR[7])+qw*(vR[2]-vR[6])) - 4*qy*(vR[0]+vR[8])
	vz := 2*(qx*(vR[2]+vR[6])+qy*(vR[5]+vR[7])+qw*(vR[3]-vR[1])) - 4*qz*(vR[0]+vR[4])

	// Stored quaternions are raw; the forward normalizes, so project the
	// gradient onto the tangent of the unit sphere and rescale.
	rw := s.Rotations[gid*4]
	rx := s.Rotations[gid*4+1]
	ry := s.Rotations[gid*4+2]
	rz := s.Rotations[gid*4+3]
	rawNorm := math32.Sqrt(rw*rw + rx*rx + ry*ry + rz*rz)
	if rawNorm == 0 {
		return
	}
	dot := qw*vw + qx*vx + qy*vy + qz*vz
	grads.Rotations[gid*4] += (vw - qw*dot) / rawNorm
	grads.Rotations[gid*4+1] += (vx - qx*dot) / rawNorm
	grads.Rotations[gid*4+2] += (vy - qy*dot) / rawNorm
	grads.Rotations[gid*4+3] += (vz - qz*dot) / rawNorm
}
