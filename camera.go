package splat

import (
	"errors"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrZeroSizedCamera is returned when a render target has a zero dimension.
var ErrZeroSizedCamera = errors.New("splat: zero-sized render target")

// Camera is an immutable per-render view description. The camera uses a
// COLMAP-style convention: +Z looks forward, +Y is down in image space.
//
// Cameras are supplied by the caller (dataset loaders, viewers) and are never
// owned or mutated by the engine.
type Camera struct {
	// Position is the camera center in world space.
	Position mgl32.Vec3

	// Rotation maps camera space to world space.
	Rotation mgl32.Quat

	// FovX and FovY are the horizontal and vertical fields of view in radians.
	FovX, FovY float32

	// Center is the principal point in normalized [0,1] image coordinates.
	// A centered camera uses (0.5, 0.5).
	Center mgl32.Vec2
}

// NewCamera creates a camera with a centered principal point.
func NewCamera(position mgl32.Vec3, rotation mgl32.Quat, fovX, fovY float32) Camera {
	return Camera{
		Position: position,
		Rotation: rotation.Normalize(),
		FovX:     fovX,
		FovY:     fovY,
		Center:   mgl32.Vec2{0.5, 0.5},
	}
}

// WorldToCamera returns the view matrix mapping world space to camera space.
func (c Camera) WorldToCamera() mgl32.Mat4 {
	rot := c.Rotation.Inverse().Mat4()
	trans := mgl32.Translate3D(-c.Position.X(), -c.Position.Y(), -c.Position.Z())
	return rot.Mul4(trans)
}

// CameraToWorld returns the inverse of the view matrix.
func (c Camera) CameraToWorld() mgl32.Mat4 {
	trans := mgl32.Translate3D(c.Position.X(), c.Position.Y(), c.Position.Z())
	return trans.Mul4(c.Rotation.Mat4())
}

// Focal returns the focal lengths in pixels for the given image size.
func (c Camera) Focal(width, height uint32) (fx, fy float32) {
	fx = focalFromFov(c.FovX, width)
	fy = focalFromFov(c.FovY, height)
	return fx, fy
}

// PixelCenter returns the principal point in pixel coordinates.
func (c Camera) PixelCenter(width, height uint32) (cx, cy float32) {
	return c.Center.X() * float32(width), c.Center.Y() * float32(height)
}

func focalFromFov(fov float32, pixels uint32) float32 {
	return float32(pixels) / (2.0 * math32.Tan(fov/2.0))
}

// FovFromFocal converts a focal length in pixels back to a field of view.
// Dataset loaders use this when intrinsics come as focal lengths.
func FovFromFocal(focal float32, pixels uint32) float32 {
	return 2.0 * math32.Atan(float32(pixels)/(2.0*focal))
}
