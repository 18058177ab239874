package tracker

import (
	"gocv.io/x/gocv"

	"github.com/ayusman/cameramouse/internal/geom"
)

// MockTracker is a test implementation of the tracking service.
// Track returns queued points in order, then geom.Empty.
type MockTracker struct {
	initialized bool
	queue       []geom.Point

	TrackPoints []geom.Point
	Drawn       []geom.Point
	Stops       int
	Closed      bool
}

// NewMockTracker creates an uninitialized MockTracker.
func NewMockTracker() *MockTracker {
	return &MockTracker{}
}

// Queue appends points to be returned by subsequent Track calls.
func (m *MockTracker) Queue(points ...geom.Point) {
	m.queue = append(m.queue, points...)
}

// SetInitialized forces the initialized flag.
func (m *MockTracker) SetInitialized(v bool) {
	m.initialized = v
}

// IsInitialized reports whether a track point has been set.
func (m *MockTracker) IsInitialized() bool {
	return m.initialized
}

// Track pops the next queued point.
func (m *MockTracker) Track(frame *gocv.Mat) geom.Point {
	if len(m.queue) == 0 {
		return geom.Empty
	}
	p := m.queue[0]
	m.queue = m.queue[1:]
	return p
}

// SetTrackPoint records p and marks the tracker initialized.
func (m *MockTracker) SetTrackPoint(frame *gocv.Mat, p geom.Point) {
	m.TrackPoints = append(m.TrackPoints, p)
	m.initialized = true
}

// StopTracking marks the tracker uninitialized.
func (m *MockTracker) StopTracking() {
	m.Stops++
	m.initialized = false
}

// DrawOnFrame records p.
func (m *MockTracker) DrawOnFrame(frame *gocv.Mat, p geom.Point) {
	m.Drawn = append(m.Drawn, p)
}

// Close marks the tracker closed.
func (m *MockTracker) Close() error {
	m.Closed = true
	return nil
}

// LastTrackPoint returns the most recent SetTrackPoint argument.
func (m *MockTracker) LastTrackPoint() (geom.Point, bool) {
	if len(m.TrackPoints) == 0 {
		return geom.Empty, false
	}
	return m.TrackPoints[len(m.TrackPoints)-1], true
}
