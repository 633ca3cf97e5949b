package face

import (
	"image"
	"sync"
)

// IDAssigner gives faces from detectors without native tracking a stable id
// across frames by greedy IoU matching against the previous frame's boxes.
type IDAssigner struct {
	// MinIoU is the overlap a box needs with a known track to inherit its id.
	MinIoU float64
	// MaxMissed is how many consecutive frames a track may go unseen before
	// it is forgotten.
	MaxMissed int

	mu     sync.Mutex
	nextID int
	tracks []track
}

type track struct {
	id     int
	box    image.Rectangle
	missed int
}

// NewIDAssigner returns an assigner with sensible defaults.
func NewIDAssigner() *IDAssigner {
	return &IDAssigner{MinIoU: 0.3, MaxMissed: 5}
}

// Assign sets TrackingID on every face in faces that does not already have one.
func (a *IDAssigner) Assign(faces []Face) {
	a.mu.Lock()
	defer a.mu.Unlock()

	claimed := make([]bool, len(a.tracks))
	seen := make([]bool, len(a.tracks))

	for i := range faces {
		if faces[i].TrackingID != nil {
			continue
		}
		box := faces[i].Bounds.Rectangle()

		best, bestIoU := -1, a.MinIoU
		for j, tr := range a.tracks {
			if claimed[j] {
				continue
			}
			if v := IoU(box, tr.box); v > 0 && v >= bestIoU {
				best, bestIoU = j, v
			}
		}

		if best >= 0 {
			claimed[best] = true
			seen[best] = true
			a.tracks[best].box = box
			a.tracks[best].missed = 0
			faces[i].TrackingID = Ptr(a.tracks[best].id)
			continue
		}

		id := a.nextID
		a.nextID++
		a.tracks = append(a.tracks, track{id: id, box: box})
		claimed = append(claimed, true)
		seen = append(seen, true)
		faces[i].TrackingID = Ptr(id)
	}

	kept := a.tracks[:0]
	for j, tr := range a.tracks {
		if !seen[j] {
			tr.missed++
		}
		if tr.missed <= a.MaxMissed {
			kept = append(kept, tr)
		}
	}
	a.tracks = kept
}

// Reset forgets every track. Ids keep increasing.
func (a *IDAssigner) Reset() {
	a.mu.Lock()
	a.tracks = nil
	a.mu.Unlock()
}

// IoU returns the intersection-over-union of two rectangles.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}
