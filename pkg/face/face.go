// Package face defines what a face detector reports for a single frame
// and the interface every detector backend implements.
package face

import (
	"context"
	"image"
)

// Rect is an axis-aligned face bounding box in frame pixels.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rectangle converts r to an image.Rectangle.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
}

// RectFrom converts an image.Rectangle to a Rect.
func RectFrom(r image.Rectangle) Rect {
	return Rect{Left: r.Min.X, Top: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// SensorRect maps r from the upright frame, the sensor image turned
// clockwise by rotation degrees, back to the width x height sensor image.
func SensorRect(r image.Rectangle, rotation, width, height int) image.Rectangle {
	switch rotation {
	case 90:
		return image.Rect(r.Min.Y, height-r.Max.X, r.Max.Y, height-r.Min.X)
	case 180:
		return image.Rect(width-r.Max.X, height-r.Max.Y, width-r.Min.X, height-r.Min.Y)
	case 270:
		return image.Rect(width-r.Max.Y, r.Min.X, width-r.Min.Y, r.Max.X)
	}
	return r
}

// Point is a landmark position in frame pixels.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// HeadPose holds Euler angles in degrees.
type HeadPose struct {
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
	Roll  float32 `json:"roll"`
}

// Landmarks are optional facial keypoints. A nil pointer means the detector
// did not report that point.
type Landmarks struct {
	LeftEye     *Point
	RightEye    *Point
	Nose        *Point
	MouthLeft   *Point
	MouthRight  *Point
	MouthBottom *Point
}

// Face is one detected face.
type Face struct {
	Bounds     Rect
	TrackingID *int
	HeadPose   HeadPose
	Landmarks  Landmarks

	LeftEyeOpenProbability  *float32
	RightEyeOpenProbability *float32
	SmilingProbability      *float32
}

// ID returns the tracking id and whether one was assigned.
func (f *Face) ID() (int, bool) {
	if f.TrackingID == nil {
		return 0, false
	}
	return *f.TrackingID, true
}

// Image is an NV21 frame handed to a detector.
type Image struct {
	NV21     []byte
	Width    int
	Height   int
	Rotation int // 0, 90, 180 or 270
}

// Detector finds faces in an NV21 image.
type Detector interface {
	// Detect may block for an unbounded time; implementations should honor ctx.
	Detect(ctx context.Context, img Image) ([]Face, error)

	// Close releases resources
	Close() error
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
