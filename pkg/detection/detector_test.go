package detection

import (
	"image"
	"math"
	"testing"

	"github.com/teslashibe/go-blinkwatch/pkg/face"
)

func TestEstimatePose(t *testing.T) {
	tests := []struct {
		name      string
		left      face.Point
		right     face.Point
		nose      face.Point
		wantYaw   float64
		wantPitch float64
		wantRoll  float64
	}{
		{
			name:  "frontal",
			right: face.Point{X: 100, Y: 100},
			left:  face.Point{X: 200, Y: 100},
			nose:  face.Point{X: 150, Y: 150},
		},
		{
			name:     "tilted 45 degrees",
			right:    face.Point{X: 100, Y: 100},
			left:     face.Point{X: 200, Y: 200},
			nose:     face.Point{X: 100, Y: 200},
			wantRoll: 45,
		},
		{
			name:    "nose shifted toward left eye",
			right:   face.Point{X: 100, Y: 100},
			left:    face.Point{X: 200, Y: 100},
			nose:    face.Point{X: 175, Y: 150},
			wantYaw: 30,
		},
		{
			name:      "nose dropped",
			right:     face.Point{X: 100, Y: 100},
			left:      face.Point{X: 200, Y: 100},
			nose:      face.Point{X: 150, Y: 175},
			wantPitch: 30,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := estimatePose(tc.left, tc.right, tc.nose)
			if math.Abs(float64(got.Roll)-tc.wantRoll) > 0.5 {
				t.Errorf("Roll: got %.2f, want %.2f", got.Roll, tc.wantRoll)
			}
			if math.Abs(float64(got.Yaw)-tc.wantYaw) > 0.5 {
				t.Errorf("Yaw: got %.2f, want %.2f", got.Yaw, tc.wantYaw)
			}
			if math.Abs(float64(got.Pitch)-tc.wantPitch) > 0.5 {
				t.Errorf("Pitch: got %.2f, want %.2f", got.Pitch, tc.wantPitch)
			}
		})
	}
}

func TestEstimatePose_DegenerateEyes(t *testing.T) {
	p := face.Point{X: 10, Y: 10}
	if got := estimatePose(p, p, face.Point{X: 10, Y: 20}); got != (face.HeadPose{}) {
		t.Errorf("coincident eyes: got %+v, want zero pose", got)
	}
}

func TestEyeWindow(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)
	tests := []struct {
		name      string
		eye       face.Point
		faceWidth int
		want      image.Rectangle
	}{
		{"centered", face.Point{X: 100, Y: 100}, 200, image.Rect(70, 70, 130, 130)},
		{"small face uses minimum", face.Point{X: 50, Y: 50}, 20, image.Rect(44, 44, 56, 56)},
		{"clamped", face.Point{X: 5, Y: 470}, 200, image.Rect(0, 440, 35, 480)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := eyeWindow(tc.eye, tc.faceWidth, bounds); got != tc.want {
				t.Errorf("eyeWindow: got %v, want %v", got, tc.want)
			}
		})
	}
}
