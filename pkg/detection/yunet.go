package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-blinkwatch/pkg/debug"
	"github.com/teslashibe/go-blinkwatch/pkg/face"
	"github.com/teslashibe/go-blinkwatch/pkg/pixfmt"
)

// ErrClosed is returned by Detect after Close.
var ErrClosed = errors.New("detection: detector closed")

// YuNetDetector uses OpenCV's FaceDetectorYN for face detection and an
// optional Haar eye cascade to tell open eyes from closed ones
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	eyes     *gocv.CascadeClassifier
	ids      *face.IDAssigner
	config   Config
	mu       sync.Mutex // Protects inference
	closed   bool
}

// NewYuNet creates a new YuNet face detector using GoCV's built-in FaceDetectorYN
func NewYuNet(cfg Config) (*YuNetDetector, error) {
	// Check if model file exists first
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	var eyes *gocv.CascadeClassifier
	if cfg.EyeCascadePath != "" {
		if _, err := os.Stat(cfg.EyeCascadePath); os.IsNotExist(err) {
			return nil, fmt.Errorf("eye cascade not found: %s", cfg.EyeCascadePath)
		}
		c := gocv.NewCascadeClassifier()
		if !c.Load(cfg.EyeCascadePath) {
			c.Close()
			return nil, fmt.Errorf("failed to load eye cascade from %s", cfg.EyeCascadePath)
		}
		eyes = &c
	}

	// Create FaceDetectorYN with initial size (will be updated per-image)
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",                                        // No config file needed for ONNX
		image.Pt(cfg.InputWidth, cfg.InputHeight), // Initial input size
		float32(cfg.ConfidenceThresh),             // Score threshold
		float32(cfg.NMSThresh),                    // NMS threshold
		5000,                                      // Top K
		int(gocv.NetBackendDefault),               // Backend
		int(gocv.NetTargetCPU),                    // Target
	)

	return &YuNetDetector{
		detector: detector,
		eyes:     eyes,
		ids:      face.NewIDAssigner(),
		config:   cfg,
	}, nil
}

// Detect finds faces in the NV21 image. Boxes and landmarks are in the
// upright frame, after applying img.Rotation.
func (d *YuNetDetector) Detect(ctx context.Context, img face.Image) ([]face.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	bgr, gray, err := uprightMats(img)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()
	defer gray.Close()

	bounds := image.Rect(0, 0, bgr.Cols(), bgr.Rows())
	minWidth := int(d.config.MinFaceSize * float64(bgr.Cols()))

	// Update detector input size to match image
	d.detector.SetInputSize(image.Pt(bgr.Cols(), bgr.Rows()))

	// Prepare output matrix for faces
	out := gocv.NewMat()
	defer out.Close()

	// Run detection
	d.detector.Detect(bgr, &out)

	var faces []face.Face
	for r := 0; r < out.Rows(); r++ {
		// YuNet output format (15 columns):
		// 0-3: x, y, w, h (bounding box in pixels)
		// 4-13: right eye, left eye, nose tip, right mouth corner, left mouth corner
		// 14: face score
		x := out.GetFloatAt(r, 0)
		y := out.GetFloatAt(r, 1)
		w := out.GetFloatAt(r, 2)
		h := out.GetFloatAt(r, 3)

		box := image.Rect(int(x), int(y), int(x+w), int(y+h)).Intersect(bounds)
		if box.Empty() || box.Dx() < minWidth {
			continue
		}

		pt := func(col int) face.Point {
			return face.Point{X: out.GetFloatAt(r, col), Y: out.GetFloatAt(r, col+1)}
		}
		rightEye, leftEye, nose := pt(4), pt(6), pt(8)
		mouthRight, mouthLeft := pt(10), pt(12)

		f := face.Face{
			Bounds:   face.RectFrom(box),
			HeadPose: estimatePose(leftEye, rightEye, nose),
			Landmarks: face.Landmarks{
				LeftEye:    &leftEye,
				RightEye:   &rightEye,
				Nose:       &nose,
				MouthLeft:  &mouthLeft,
				MouthRight: &mouthRight,
			},
		}
		if d.eyes != nil {
			f.LeftEyeOpenProbability = face.Ptr(d.eyeOpen(gray, leftEye, box.Dx(), bounds))
			f.RightEyeOpenProbability = face.Ptr(d.eyeOpen(gray, rightEye, box.Dx(), bounds))
		}
		faces = append(faces, f)
	}

	d.ids.Assign(faces)

	if len(faces) > 0 {
		debug.FrameLog("YuNet found faces", "count", len(faces))
	}

	return faces, nil
}

// eyeOpen runs the eye cascade around an eye landmark. The cascade only
// fires on open eyes, so a hit reads as 1 and a miss as 0.
func (d *YuNetDetector) eyeOpen(gray gocv.Mat, eye face.Point, faceWidth int, bounds image.Rectangle) float32 {
	win := eyeWindow(eye, faceWidth, bounds)
	if win.Empty() {
		return 0
	}

	roi := gray.Region(win)
	defer roi.Close()

	side := max(win.Dx()/4, 4)
	found := d.eyes.DetectMultiScaleWithParams(roi, 1.1, 3, 0, image.Pt(side, side), image.Pt(0, 0))
	if len(found) > 0 {
		return 1
	}
	return 0
}

// uprightMats wraps an NV21 image as BGR and grayscale mats rotated upright.
func uprightMats(img face.Image) (gocv.Mat, gocv.Mat, error) {
	nv21, w, h := pixfmt.EvenNV21(img.NV21, img.Width, img.Height)
	if w < 2 || h < 2 {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("image too small: %dx%d", img.Width, img.Height)
	}

	yuv, err := gocv.NewMatFromBytes(h*3/2, w, gocv.MatTypeCV8UC1, nv21)
	if err != nil {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("wrap nv21: %w", err)
	}
	defer yuv.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(yuv, &bgr, gocv.ColorYUVToBGRNV21)
	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	var flag gocv.RotateFlag
	switch img.Rotation {
	case 90:
		flag = gocv.Rotate90Clockwise
	case 180:
		flag = gocv.Rotate180Clockwise
	case 270:
		flag = gocv.Rotate90CounterClockwise
	default:
		return bgr, gray, nil
	}

	rbgr, rgray := gocv.NewMat(), gocv.NewMat()
	gocv.Rotate(bgr, &rbgr, flag)
	gocv.Rotate(gray, &rgray, flag)
	bgr.Close()
	gray.Close()
	return rbgr, rgray, nil
}

// Close releases the detector resources
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.detector.Close()
	if d.eyes != nil {
		return d.eyes.Close()
	}
	return nil
}
