package detector

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/cameramouse/internal/geom"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the acquisition result.
type MockDetector struct {
	mu      sync.Mutex
	feature geom.Point
	loaded  bool
	calls   int
}

// NewMockDetector creates a new MockDetector that finds nothing and reports
// its files as not loaded.
func NewMockDetector() *MockDetector {
	return &MockDetector{feature: geom.Empty}
}

// SetFeature sets the point returned by InitializeFeature.
func (m *MockDetector) SetFeature(p geom.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feature = p
}

// SetLoaded sets the value returned by AllFilesLoaded.
func (m *MockDetector) SetLoaded(loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = loaded
}

// InitializeFeature returns the pre-configured feature.
func (m *MockDetector) InitializeFeature(frame *gocv.Mat) geom.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.feature
}

// AllFilesLoaded returns the pre-configured loaded flag.
func (m *MockDetector) AllFilesLoaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// Calls returns how many times InitializeFeature was called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}
