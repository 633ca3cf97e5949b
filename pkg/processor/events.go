package processor

import (
	"github.com/teslashibe/go-blinkwatch/pkg/blink"
	"github.com/teslashibe/go-blinkwatch/pkg/face"
)

// FaceEvent is the geometry of every face found in one processed frame.
type FaceEvent struct {
	Faces       []FaceData `json:"faces"`
	Timestamp   int64      `json:"timestamp"`
	FrameWidth  int        `json:"frameWidth"`
	FrameHeight int        `json:"frameHeight"`
}

// FaceData describes one detected face.
type FaceData struct {
	Bounds             face.Rect     `json:"bounds"`
	TrackingID         *int          `json:"trackingId,omitempty"`
	HeadPose           face.HeadPose `json:"headPose"`
	Landmarks          LandmarkData  `json:"landmarks"`
	SmilingProbability *float32      `json:"smilingProbability,omitempty"`
}

// LandmarkData holds the landmarks the detector reported.
type LandmarkData struct {
	LeftEye  *EyeData   `json:"leftEye,omitempty"`
	RightEye *EyeData   `json:"rightEye,omitempty"`
	Nose     *face.Point `json:"nose,omitempty"`
	Mouth    *MouthData `json:"mouth,omitempty"`
}

// EyeData is an eye landmark with its open probability, when known.
type EyeData struct {
	X               float32  `json:"x"`
	Y               float32  `json:"y"`
	OpenProbability *float32 `json:"openProbability,omitempty"`
	IsOpen          *bool    `json:"isOpen,omitempty"`
}

// MouthData is present only when both mouth corners were detected.
type MouthData struct {
	LeftX              float32  `json:"leftX"`
	LeftY              float32  `json:"leftY"`
	RightX             float32  `json:"rightX"`
	RightY             float32  `json:"rightY"`
	BottomX            *float32 `json:"bottomX,omitempty"`
	BottomY            *float32 `json:"bottomY,omitempty"`
	SmilingProbability *float32 `json:"smilingProbability,omitempty"`
}

// BlinkEvent is a completed blink of a tracked face.
type BlinkEvent = blink.Event

// NewFaceData builds the event payload for f. threshold classifies eye
// probabilities into the isOpen flag.
func NewFaceData(f face.Face, threshold float64) FaceData {
	fd := FaceData{
		Bounds:             f.Bounds,
		TrackingID:         f.TrackingID,
		HeadPose:           f.HeadPose,
		SmilingProbability: f.SmilingProbability,
	}

	lm := f.Landmarks
	fd.Landmarks.LeftEye = eyeData(lm.LeftEye, f.LeftEyeOpenProbability, threshold)
	fd.Landmarks.RightEye = eyeData(lm.RightEye, f.RightEyeOpenProbability, threshold)
	if lm.Nose != nil {
		p := *lm.Nose
		fd.Landmarks.Nose = &p
	}
	if lm.MouthLeft != nil && lm.MouthRight != nil {
		m := &MouthData{
			LeftX:              lm.MouthLeft.X,
			LeftY:              lm.MouthLeft.Y,
			RightX:             lm.MouthRight.X,
			RightY:             lm.MouthRight.Y,
			SmilingProbability: f.SmilingProbability,
		}
		if lm.MouthBottom != nil {
			m.BottomX = face.Ptr(lm.MouthBottom.X)
			m.BottomY = face.Ptr(lm.MouthBottom.Y)
		}
		fd.Landmarks.Mouth = m
	}
	return fd
}

func eyeData(p *face.Point, prob *float32, threshold float64) *EyeData {
	if p == nil {
		return nil
	}
	e := &EyeData{X: p.X, Y: p.Y}
	if prob != nil {
		e.OpenProbability = face.Ptr(*prob)
		e.IsOpen = face.Ptr(blink.IsOpen(*prob, threshold))
	}
	return e
}
