package splat

// Spherical-harmonics basis for view-dependent splat color, real basis up to
// degree 3 in the conventional Gaussian-splatting band ordering. The first
// coefficient per channel is the DC (diffuse) term.

// MaxSHDegree is the highest supported spherical-harmonics degree.
const MaxSHDegree = 3

// MaxSHCoeffs is the number of basis terms at MaxSHDegree.
const MaxSHCoeffs = (MaxSHDegree + 1) * (MaxSHDegree + 1)

const (
	shC0 = 0.28209479177387814
	shC1 = 0.4886025119029199
)

var shC2 = [5]float32{
	1.0925484305920792,
	-1.0925484305920792,
	0.31539156525252005,
	-1.0925484305920792,
	0.5462742152960396,
}

var shC3 = [7]float32{
	-0.5900435899266435,
	2.890611442640554,
	-0.4570457994644658,
	0.3731763325901154,
	-0.4570457994644658,
	1.445305721320277,
	-0.5900435899266435,
}

// SHCoeffsForDegree returns the number of basis terms for a degree.
func SHCoeffsForDegree(degree uint32) uint32 {
	return (degree + 1) * (degree + 1)
}

// SHDegreeFromCoeffs returns the degree for a basis-term count, or panics if
// the count does not correspond to a full set of bands.
func SHDegreeFromCoeffs(coeffs uint32) uint32 {
	switch coeffs {
	case 1:
		return 0
	case 4:
		return 1
	case 9:
		return 2
	case 16:
		return 3
	}
	panic("splat: invalid number of sh coefficients")
}

// RGBToSH converts a linear color value to a DC coefficient such that the
// evaluated color at any view direction (degree 0) equals the input.
func RGBToSH(v float32) float32 { return (v - 0.5) / shC0 }

// SHToRGB converts a DC coefficient back to a linear color value.
func SHToRGB(v float32) float32 { return v*shC0 + 0.5 }

// SHBasis evaluates the basis polynomials for a unit view direction into out.
// Only the first SHCoeffsForDegree(degree) entries are written.
func SHBasis(degree uint32, x, y, z float32, out *[MaxSHCoeffs]float32) {
	out[0] = shC0
	if degree < 1 {
		return
	}
	out[1] = -shC1 * y
	out[2] = shC1 * z
	out[3] = -shC1 * x
	if degree < 2 {
		return
	}
	xx, yy, zz := x*x, y*y, z*z
	xy, yz, xz := x*y, y*z, x*z
	out[4] = shC2[0] * xy
	out[5] = shC2[1] * yz
	out[6] = shC2[2] * (2*zz - xx - yy)
	out[7] = shC2[3] * xz
	out[8] = shC2[4] * (xx - yy)
	if degree < 3 {
		return
	}
	out[9] = shC3[0] * y * (3*xx - yy)
	out[10] = shC3[1] * xy * z
	out[11] = shC3[2] * y * (4*zz - xx - yy)
	out[12] = shC3[3] * z * (2*zz - 3*xx - 3*yy)
	out[13] = shC3[4] * x * (4*zz - xx - yy)
	out[14] = shC3[5] * z * (xx - yy)
	out[15] = shC3[6] * x * (xx - 3*yy)
}

// SHBasisGrad evaluates the basis and its partial derivatives with respect to
// the (normalized) view-direction components. The backward projection pass
// uses it to route color gradients into splat positions.
func SHBasisGrad(degree uint32, x, y, z float32, basis, dx, dy, dz *[MaxSHCoeffs]float32) {
	SHBasis(degree, x, y, z, basis)

	dx[0], dy[0], dz[0] = 0, 0, 0
	if degree < 1 {
		return
	}
	dx[1], dy[1], dz[1] = 0, -shC1, 0
	dx[2], dy[2], dz[2] = 0, 0, shC1
	dx[3], dy[3], dz[3] = -shC1, 0, 0
	if degree < 2 {
		return
	}
	xx, yy, zz := x*x, y*y, z*z
	dx[4], dy[4], dz[4] = shC2[0]*y, shC2[0]*x, 0
	dx[5], dy[5], dz[5] = 0, shC2[1]*z, shC2[1]*y
	dx[6], dy[6], dz[6] = -2*shC2[2]*x, -2*shC2[2]*y, 4*shC2[2]*z
	dx[7], dy[7], dz[7] = shC2[3]*z, 0, shC2[3]*x
	dx[8], dy[8], dz[8] = 2*shC2[4]*x, -2*shC2[4]*y, 0
	if degree < 3 {
		return
	}
	dx[9], dy[9], dz[9] = shC3[0]*6*x*y, shC3[0]*3*(xx-yy), 0
	dx[10], dy[10], dz[10] = shC3[1]*y*z, shC3[1]*x*z, shC3[1]*x*y
	dx[11], dy[11], dz[11] = -2*shC3[2]*x*y, shC3[2]*(4*zz-xx-3*yy), 8*shC3[2]*y*z
	dx[12], dy[12], dz[12] = -6*shC3[3]*x*z, -6*shC3[3]*y*z, shC3[3]*(6*zz-3*xx-3*yy)
	dx[13], dy[13], dz[13] = shC3[4]*(4*zz-3*xx-yy), -2*shC3[4]*x*y, 8*shC3[4]*x*z
	dx[14], dy[14], dz[14] = 2*shC3[5]*x*z, -2*shC3[5]*y*z, shC3[5]*(xx-yy)
	dx[15], dy[15], dz[15] = shC3[6]*3*(xx-yy), -6*shC3[6]*x*y, 0
}
