// Package detector provides automatic acquisition of the tracked facial
// feature (the nose tip) from camera frames.
package detector

import (
	"errors"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/ayusman/cameramouse/internal/geom"
)

// ErrCascadeNotLoaded is returned when a detector's model files are missing
// or cannot be parsed.
var ErrCascadeNotLoaded = errors.New("detector model not loaded")

// Detector defines the interface for feature acquisition implementations.
type Detector interface {
	// InitializeFeature analyzes a video frame and returns the nose position
	// in frame coordinates. Returns geom.Empty if no face is found.
	InitializeFeature(frame *gocv.Mat) geom.Point

	// AllFilesLoaded reports whether the detector's model files are loaded.
	AllFilesLoaded() bool

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for feature acquisition.
type Config struct {
	// CascadePath is the pigo face cascade file.
	CascadePath string

	// MinFaceSize and MaxFaceSize bound the detected face diameter in pixels.
	MinFaceSize int
	MaxFaceSize int

	// MinQuality is the minimum pigo detection quality.
	MinQuality float32

	ShiftFactor  float64
	ScaleFactor  float64
	IoUThreshold float64

	// FaceMeshScript and Python override the face mesh service lookup.
	FaceMeshScript string
	Python         string

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MinFaceSize:  60,
		MaxFaceSize:  1000,
		MinQuality:   5.0,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
	}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
