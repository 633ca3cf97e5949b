// Package remote talks to a face detector running in another process over a
// unix socket. Each request is one connection carrying one msgpack request
// and one msgpack response.
package remote

import (
	"math"

	"github.com/teslashibe/go-blinkwatch/pkg/face"
)

// Request is sent to the detector service
type Request struct {
	Width    int    `msgpack:"w"`
	Height   int    `msgpack:"h"`
	Rotation int    `msgpack:"r"`
	Data     []byte `msgpack:"d"` // NV21
}

// Face is one detection as sent by the service
type Face struct {
	TrackingID *int    `msgpack:"id"`
	X          float32 `msgpack:"x"`
	Y          float32 `msgpack:"y"`
	Width      float32 `msgpack:"w"`
	Height     float32 `msgpack:"h"`

	Yaw   float32 `msgpack:"yaw"`
	Pitch float32 `msgpack:"pitch"`
	Roll  float32 `msgpack:"roll"`

	// Landmarks holds up to 6 (x, y) pairs in order: left eye, right eye,
	// nose, left mouth corner, right mouth corner, mouth bottom. NaN marks
	// a missing point.
	Landmarks []float32 `msgpack:"l"`

	LeftEyeOpen  *float32 `msgpack:"leo"`
	RightEyeOpen *float32 `msgpack:"reo"`
	Smiling      *float32 `msgpack:"smile"`
}

// Response is received from the detector service
type Response struct {
	Faces       []Face  `msgpack:"faces"`
	InferenceMs float32 `msgpack:"inference_ms"`
	Error       string  `msgpack:"error,omitempty"`
}

func toFace(w Face) face.Face {
	f := face.Face{
		Bounds: face.Rect{
			Left:   int(w.X),
			Top:    int(w.Y),
			Width:  int(w.Width),
			Height: int(w.Height),
		},
		TrackingID:              w.TrackingID,
		HeadPose:                face.HeadPose{Yaw: w.Yaw, Pitch: w.Pitch, Roll: w.Roll},
		LeftEyeOpenProbability:  w.LeftEyeOpen,
		RightEyeOpenProbability: w.RightEyeOpen,
		SmilingProbability:      w.Smiling,
	}

	slots := []**face.Point{
		&f.Landmarks.LeftEye,
		&f.Landmarks.RightEye,
		&f.Landmarks.Nose,
		&f.Landmarks.MouthLeft,
		&f.Landmarks.MouthRight,
		&f.Landmarks.MouthBottom,
	}
	for i, slot := range slots {
		if 2*i+1 >= len(w.Landmarks) {
			break
		}
		x, y := w.Landmarks[2*i], w.Landmarks[2*i+1]
		if math.IsNaN(float64(x)) || math.IsNaN(float64(y)) {
			continue
		}
		*slot = &face.Point{X: x, Y: y}
	}
	return f
}

func fromFace(f face.Face) Face {
	w := Face{
		TrackingID:   f.TrackingID,
		X:            float32(f.Bounds.Left),
		Y:            float32(f.Bounds.Top),
		Width:        float32(f.Bounds.Width),
		Height:       float32(f.Bounds.Height),
		Yaw:          f.HeadPose.Yaw,
		Pitch:        f.HeadPose.Pitch,
		Roll:         f.HeadPose.Roll,
		LeftEyeOpen:  f.LeftEyeOpenProbability,
		RightEyeOpen: f.RightEyeOpenProbability,
		Smiling:      f.SmilingProbability,
	}

	lm := f.Landmarks
	points := []*face.Point{lm.LeftEye, lm.RightEye, lm.Nose, lm.MouthLeft, lm.MouthRight, lm.MouthBottom}
	last := -1
	for i, p := range points {
		if p != nil {
			last = i
		}
	}
	nan := float32(math.NaN())
	for _, p := range points[:last+1] {
		if p == nil {
			w.Landmarks = append(w.Landmarks, nan, nan)
			continue
		}
		w.Landmarks = append(w.Landmarks, p.X, p.Y)
	}
	return w
}
