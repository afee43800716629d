package sensor

import (
	"math"
	"testing"
)

func TestPinholeIntrinsics_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    PinholeIntrinsics
	}{
		{
			name: "ideal",
			p: PinholeIntrinsics{
				FocalLength:    [2]float32{500, 500},
				PrincipalPoint: [2]float32{320, 240},
			},
		},
		{
			name: "distorted",
			p: PinholeIntrinsics{
				FocalLength:          [2]float32{365, 364},
				PrincipalPoint:       [2]float32{163, 141},
				RadialDistortion:     [3]float32{-0.02, 0.004, 0},
				TangentialDistortion: [2]float32{0.0005, -0.0003},
			},
		},
	}

	points := [][3]float32{
		{0, 0, 1},
		{0.1, -0.05, 1},
		{-0.4, 0.3, 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, pt := range points {
				px, py, ok := tt.p.MapCameraSpaceToImagePoint(pt[0], pt[1], pt[2])
				if !ok {
					t.Fatalf("projection of %v failed", pt)
				}
				ux, uy, ok := tt.p.MapImagePointToCameraUnitPlane(px, py)
				if !ok {
					t.Fatalf("unprojection of (%f, %f) failed", px, py)
				}
				wantX, wantY := pt[0]/pt[2], pt[1]/pt[2]
				if math.Abs(float64(ux-wantX)) > 1e-4 || math.Abs(float64(uy-wantY)) > 1e-4 {
					t.Errorf("%v -> (%f, %f) -> (%f, %f), want (%f, %f)", pt, px, py, ux, uy, wantX, wantY)
				}
			}
		})
	}
}

func TestPinholeIntrinsics_PrincipalPoint(t *testing.T) {
	p := PinholeIntrinsics{FocalLength: [2]float32{400, 400}, PrincipalPoint: [2]float32{160, 120}}
	px, py, ok := p.MapCameraSpaceToImagePoint(0, 0, 3)
	if !ok || px != 160 || py != 120 {
		t.Errorf("optical axis projects to (%f, %f, %v), want (160, 120, true)", px, py, ok)
	}
}

func TestPinholeIntrinsics_Rejects(t *testing.T) {
	p := PinholeIntrinsics{FocalLength: [2]float32{400, 400}}
	if _, _, ok := p.MapCameraSpaceToImagePoint(0, 0, 0); ok {
		t.Error("point on the camera plane projected")
	}
	if _, _, ok := p.MapCameraSpaceToImagePoint(0, 0, -1); ok {
		t.Error("point behind the camera projected")
	}

	var zero PinholeIntrinsics
	if _, _, ok := zero.MapImagePointToCameraUnitPlane(1, 1); ok {
		t.Error("zero focal length unprojected")
	}
}

func TestCameraIntrinsics_Delegates(t *testing.T) {
	p := &PinholeIntrinsics{FocalLength: [2]float32{100, 100}, PrincipalPoint: [2]float32{50, 50}}
	ci := NewCameraIntrinsics(p, 2560, 480)

	if ci.Handle() != IntrinsicsHandle(p) {
		t.Error("Handle() did not return the wrapped handle")
	}
	if ci.ImageWidth() != 2560 || ci.ImageHeight() != 480 {
		t.Errorf("size = %dx%d", ci.ImageWidth(), ci.ImageHeight())
	}
	px, py, ok := ci.MapCameraSpaceToImagePoint(1, 0, 1)
	if !ok || px != 150 || py != 50 {
		t.Errorf("MapCameraSpaceToImagePoint = (%f, %f, %v)", px, py, ok)
	}
}
