package sensor

// IntrinsicsHandle is the calibration object owned by the driver. It stays
// valid for as long as any frame references it.
type IntrinsicsHandle interface {
	// MapImagePointToCameraUnitPlane maps a pixel to the z=1 plane.
	MapImagePointToCameraUnitPlane(x, y float32) (ux, uy float32, ok bool)

	// MapCameraSpaceToImagePoint projects a camera-space point to pixels.
	MapCameraSpaceToImagePoint(x, y, z float32) (px, py float32, ok bool)
}

// CameraIntrinsics pairs an intrinsics handle with the image size the
// calibration refers to. For visible-light cameras ImageWidth is four times
// the delivered bitmap width.
type CameraIntrinsics struct {
	handle      IntrinsicsHandle
	imageWidth  int
	imageHeight int
}

// NewCameraIntrinsics wraps h with the effective image size.
func NewCameraIntrinsics(h IntrinsicsHandle, imageWidth, imageHeight int) *CameraIntrinsics {
	return &CameraIntrinsics{handle: h, imageWidth: imageWidth, imageHeight: imageHeight}
}

// Handle returns the underlying calibration handle.
func (c *CameraIntrinsics) Handle() IntrinsicsHandle { return c.handle }

// ImageWidth returns the effective pixel width.
func (c *CameraIntrinsics) ImageWidth() int { return c.imageWidth }

// ImageHeight returns the pixel height.
func (c *CameraIntrinsics) ImageHeight() int { return c.imageHeight }

// MapImagePointToCameraUnitPlane delegates to the handle.
func (c *CameraIntrinsics) MapImagePointToCameraUnitPlane(x, y float32) (float32, float32, bool) {
	return c.handle.MapImagePointToCameraUnitPlane(x, y)
}

// MapCameraSpaceToImagePoint delegates to the handle.
func (c *CameraIntrinsics) MapCameraSpaceToImagePoint(x, y, z float32) (float32, float32, bool) {
	return c.handle.MapCameraSpaceToImagePoint(x, y, z)
}

// PinholeIntrinsics is a Brown-Conrady pinhole calibration.
type PinholeIntrinsics struct {
	FocalLength          [2]float32 // fx, fy in pixels
	PrincipalPoint       [2]float32 // cx, cy in pixels
	RadialDistortion     [3]float32 // k1, k2, k3
	TangentialDistortion [2]float32 // p1, p2
}

// undistortIterations bounds the fixed-point inversion of the distortion
// model.
const undistortIterations = 8

func (p *PinholeIntrinsics) distort(x, y float32) (float32, float32) {
	k1, k2, k3 := p.RadialDistortion[0], p.RadialDistortion[1], p.RadialDistortion[2]
	p1, p2 := p.TangentialDistortion[0], p.TangentialDistortion[1]

	r2 := x*x + y*y
	radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}

// MapCameraSpaceToImagePoint projects (x, y, z). Points at or behind the
// camera plane are rejected.
func (p *PinholeIntrinsics) MapCameraSpaceToImagePoint(x, y, z float32) (float32, float32, bool) {
	if z <= 0 || p.FocalLength[0] == 0 || p.FocalLength[1] == 0 {
		return 0, 0, false
	}
	xd, yd := p.distort(x/z, y/z)
	return p.FocalLength[0]*xd + p.PrincipalPoint[0], p.FocalLength[1]*yd + p.PrincipalPoint[1], true
}

// MapImagePointToCameraUnitPlane unprojects a pixel, inverting distortion
// by fixed-point iteration.
func (p *PinholeIntrinsics) MapImagePointToCameraUnitPlane(px, py float32) (float32, float32, bool) {
	if p.FocalLength[0] == 0 || p.FocalLength[1] == 0 {
		return 0, 0, false
	}
	xd := (px - p.PrincipalPoint[0]) / p.FocalLength[0]
	yd := (py - p.PrincipalPoint[1]) / p.FocalLength[1]

	x, y := xd, yd
	for i := 0; i < undistortIterations; i++ {
		dx, dy := p.distort(x, y)
		x += xd - dx
		y += yd - dy
	}
	return x, y, true
}
