// Package detection provides face detection using computer vision
package detection

import (
	"image"
	"math"

	"github.com/teslashibe/go-blinkwatch/pkg/face"
)

// Config holds detector configuration
type Config struct {
	ModelPath        string  // Path to YuNet ONNX model
	EyeCascadePath   string  // Path to Haar eye cascade XML, empty disables eye-open estimation
	ConfidenceThresh float64 // Minimum confidence (default 0.6)
	NMSThresh        float64 // Non-maximum suppression IoU (default 0.3)
	InputWidth       int     // Initial model input width
	InputHeight      int     // Initial model input height

	// MinFaceSize discards faces narrower than this fraction of the upright frame width.
	MinFaceSize float64
}

// DefaultConfig returns production defaults for YuNet
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		EyeCascadePath:   "models/haarcascade_eye_tree_eyeglasses.xml",
		ConfidenceThresh: 0.6,
		NMSThresh:        0.3,
		InputWidth:       320,
		InputHeight:      320,
		MinFaceSize:      0.1,
	}
}

// estimatePose derives Euler angles in degrees from the five YuNet landmarks.
// Roll is the tilt of the eye line, yaw the horizontal nose offset from the
// eye midpoint and pitch the vertical offset from its neutral drop, both
// relative to the eye distance. Rough, but monotonic in the true angles.
func estimatePose(leftEye, rightEye, nose face.Point) face.HeadPose {
	dx := float64(leftEye.X - rightEye.X)
	dy := float64(leftEye.Y - rightEye.Y)
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		return face.HeadPose{}
	}

	roll := math.Atan2(dy, dx)

	// Nose offset from the eye midpoint, in the face's own axes.
	mx := float64(leftEye.X+rightEye.X) / 2
	my := float64(leftEye.Y+rightEye.Y) / 2
	nx, ny := float64(nose.X)-mx, float64(nose.Y)-my
	cos, sin := math.Cos(-roll), math.Sin(-roll)
	fx := nx*cos - ny*sin
	fy := nx*sin + ny*cos

	const neutralDrop = 0.5 // nose sits about half an eye distance below the eyes
	yaw := math.Asin(clamp(2*fx/dist, -1, 1))
	pitch := math.Asin(clamp(2*(fy/dist-neutralDrop), -1, 1))

	return face.HeadPose{
		Yaw:   float32(yaw * 180 / math.Pi),
		Pitch: float32(pitch * 180 / math.Pi),
		Roll:  float32(roll * 180 / math.Pi),
	}
}

// eyeWindow is the square searched for an open eye around a landmark.
func eyeWindow(eye face.Point, faceWidth int, bounds image.Rectangle) image.Rectangle {
	half := max(faceWidth*3/20, 6)
	x, y := int(eye.X), int(eye.Y)
	return image.Rect(x-half, y-half, x+half, y+half).Intersect(bounds)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
