package remote

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-blinkwatch/pkg/face"
)

type stubDetector struct {
	mu    sync.Mutex
	faces []face.Face
	err   error
	last  face.Image
}

func (s *stubDetector) Detect(ctx context.Context, img face.Image) ([]face.Face, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = img
	return s.faces, s.err
}

func (s *stubDetector) Close() error { return nil }

func startServer(t *testing.T, d face.Detector) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detector.sock")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Serve(ctx, l, d)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return path
}

func TestDetector_RoundTrip(t *testing.T) {
	stub := &stubDetector{faces: []face.Face{{
		Bounds:   face.Rect{Left: 10, Top: 20, Width: 30, Height: 40},
		HeadPose: face.HeadPose{Yaw: 5, Pitch: -3, Roll: 1.5},
		Landmarks: face.Landmarks{
			LeftEye:  &face.Point{X: 15, Y: 25},
			RightEye: &face.Point{X: 30, Y: 25},
			Nose:     &face.Point{X: 22, Y: 35},
		},
		LeftEyeOpenProbability:  face.Ptr[float32](0.9),
		RightEyeOpenProbability: face.Ptr[float32](0.1),
	}}}
	client := NewDetector(startServer(t, stub))
	client.Timeout = 5 * time.Second

	img := face.Image{NV21: make([]byte, 6), Width: 2, Height: 2, Rotation: 90}
	faces, err := client.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	stub.mu.Lock()
	last := stub.last
	stub.mu.Unlock()
	if last.Width != 2 || last.Height != 2 || last.Rotation != 90 || len(last.NV21) != 6 {
		t.Errorf("server image: got %dx%d r%d len %d, want 2x2 r90 len 6",
			last.Width, last.Height, last.Rotation, len(last.NV21))
	}

	if len(faces) != 1 {
		t.Fatalf("faces: got %d, want 1", len(faces))
	}
	f := faces[0]
	if f.Bounds != stub.faces[0].Bounds {
		t.Errorf("Bounds: got %+v, want %+v", f.Bounds, stub.faces[0].Bounds)
	}
	if f.HeadPose != stub.faces[0].HeadPose {
		t.Errorf("HeadPose: got %+v, want %+v", f.HeadPose, stub.faces[0].HeadPose)
	}
	if f.Landmarks.Nose == nil || *f.Landmarks.Nose != (face.Point{X: 22, Y: 35}) {
		t.Errorf("Nose: got %v, want {22 35}", f.Landmarks.Nose)
	}
	if f.Landmarks.MouthLeft != nil || f.Landmarks.MouthBottom != nil {
		t.Error("missing mouth landmarks should stay nil")
	}
	if f.LeftEyeOpenProbability == nil || *f.LeftEyeOpenProbability != 0.9 {
		t.Errorf("LeftEyeOpenProbability: got %v, want 0.9", f.LeftEyeOpenProbability)
	}
	if f.SmilingProbability != nil {
		t.Errorf("SmilingProbability: got %v, want nil", *f.SmilingProbability)
	}
	if _, ok := f.ID(); !ok {
		t.Error("client should assign a tracking id")
	}
}

func TestDetector_RemoteError(t *testing.T) {
	client := NewDetector(startServer(t, &stubDetector{err: errors.New("model exploded")}))

	_, err := client.Detect(context.Background(), face.Image{NV21: []byte{0}, Width: 1, Height: 1})
	if !errors.Is(err, ErrRemote) {
		t.Errorf("Detect: got %v, want ErrRemote", err)
	}
}

func TestDetector_NoService(t *testing.T) {
	client := NewDetector(filepath.Join(t.TempDir(), "missing.sock"))
	if _, err := client.Detect(context.Background(), face.Image{}); err == nil {
		t.Error("expected dial error")
	}
}

func TestWireLandmarks(t *testing.T) {
	in := face.Face{Landmarks: face.Landmarks{
		RightEye:   &face.Point{X: 1, Y: 2},
		MouthRight: &face.Point{X: 3, Y: 4},
	}}
	w := fromFace(in)
	if len(w.Landmarks) != 10 {
		t.Fatalf("Landmarks len: got %d, want 10", len(w.Landmarks))
	}
	out := toFace(w)
	if out.Landmarks.LeftEye != nil || out.Landmarks.Nose != nil || out.Landmarks.MouthBottom != nil {
		t.Error("absent landmarks should decode as nil")
	}
	if out.Landmarks.RightEye == nil || *out.Landmarks.RightEye != (face.Point{X: 1, Y: 2}) {
		t.Errorf("RightEye: got %v, want {1 2}", out.Landmarks.RightEye)
	}
	if out.Landmarks.MouthRight == nil || *out.Landmarks.MouthRight != (face.Point{X: 3, Y: 4}) {
		t.Errorf("MouthRight: got %v, want {3 4}", out.Landmarks.MouthRight)
	}
}
