// Package tracker follows a single facial feature between frames using
// pyramidal Lucas-Kanade optical flow.
package tracker

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/cameramouse/internal/geom"
	"github.com/ayusman/cameramouse/internal/overlay"
)

// MaxMisses is the number of consecutive frames the flow may fail before the
// tracker drops its point and reports itself uninitialized.
const MaxMisses = 5

// LKTracker tracks one point with gocv.CalcOpticalFlowPyrLK.
type LKTracker struct {
	prevGray    gocv.Mat
	point       geom.Point
	initialized bool
	misses      int
	mu          sync.Mutex
}

// New creates an idle LKTracker.
func New() *LKTracker {
	return &LKTracker{
		prevGray: gocv.NewMat(),
		point:    geom.Empty,
	}
}

// IsInitialized reports whether a track point is set.
func (t *LKTracker) IsInitialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized
}

// SetTrackPoint starts tracking p on frame.
func (t *LKTracker) SetTrackPoint(frame *gocv.Mat, p geom.Point) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if frame == nil || frame.Empty() || p.IsEmpty() {
		return
	}

	toGray(frame, &t.prevGray)
	t.point = p
	t.initialized = true
	t.misses = 0
}

// Track returns the feature position on frame, or geom.Empty when the flow
// could not follow it this frame.
func (t *LKTracker) Track(frame *gocv.Mat) geom.Point {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized || frame == nil || frame.Empty() {
		return geom.Empty
	}

	gray := gocv.NewMat()
	defer gray.Close()
	toGray(frame, &gray)

	if gray.Rows() != t.prevGray.Rows() || gray.Cols() != t.prevGray.Cols() {
		// Resolution changed; restart from the last point on the new frame.
		gray.CopyTo(&t.prevGray)
		return t.point
	}

	prevPts := gocv.NewMatWithSize(1, 1, gocv.MatTypeCV32FC2)
	defer prevPts.Close()
	prevPts.SetFloatAt(0, 0, float32(t.point.X))
	prevPts.SetFloatAt(0, 1, float32(t.point.Y))

	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	errs := gocv.NewMat()
	defer errs.Close()

	gocv.CalcOpticalFlowPyrLK(t.prevGray, gray, prevPts, nextPts, &status, &errs)
	gray.CopyTo(&t.prevGray)

	if status.Empty() || nextPts.Empty() || status.GetUCharAt(0, 0) != 1 {
		t.misses++
		if t.misses >= MaxMisses {
			t.initialized = false
			t.point = geom.Empty
		}
		return geom.Empty
	}

	t.misses = 0
	t.point = geom.Pt(float64(nextPts.GetFloatAt(0, 0)), float64(nextPts.GetFloatAt(0, 1)))
	return t.point
}

// StopTracking drops the current point.
func (t *LKTracker) StopTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialized = false
	t.point = geom.Empty
	t.misses = 0
}

// DrawOnFrame draws the feature marker at p.
func (t *LKTracker) DrawOnFrame(frame *gocv.Mat, p geom.Point) {
	overlay.DrawMarker(frame, p)
}

// Close releases the retained grayscale frame.
func (t *LKTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.initialized = false
	if !t.prevGray.Empty() {
		t.prevGray.Close()
		t.prevGray = gocv.NewMat()
	}
	return nil
}

// Point returns the last tracked point.
func (t *LKTracker) Point() geom.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.point
}

func toGray(frame *gocv.Mat, dst *gocv.Mat) {
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, dst, gocv.ColorBGRToGray)
		return
	}
	frame.CopyTo(dst)
}
