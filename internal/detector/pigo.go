package detector

import (
	"fmt"
	"os"
	"sync"

	pigo "github.com/esimov/pigo/core"
	"gocv.io/x/gocv"

	"github.com/ayusman/cameramouse/internal/geom"
)

// PigoDetector finds the nose by running the pigo face cascade and
// estimating the nose tip from the best face.
type PigoDetector struct {
	config     Config
	classifier *pigo.Pigo
	mu         sync.Mutex
}

// NewPigoDetector loads the cascade at config.CascadePath.
func NewPigoDetector(config Config) (*PigoDetector, error) {
	if config.CascadePath == "" {
		return nil, fmt.Errorf("%w: no cascade path configured", ErrCascadeNotLoaded)
	}

	cascade, err := os.ReadFile(config.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read cascade: %v", ErrCascadeNotLoaded, err)
	}

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack cascade: %v", ErrCascadeNotLoaded, err)
	}

	config.logger().Info("pigo face detector initialized",
		"cascade", config.CascadePath,
		"min_size", config.MinFaceSize,
		"min_quality", config.MinQuality)

	return &PigoDetector{
		config:     config,
		classifier: classifier,
	}, nil
}

// InitializeFeature returns the estimated nose tip of the best face.
func (d *PigoDetector) InitializeFeature(frame *gocv.Mat) geom.Point {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.classifier == nil || frame == nil || frame.Empty() {
		return geom.Empty
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	params := pigo.CascadeParams{
		MinSize:     d.config.MinFaceSize,
		MaxSize:     d.config.MaxFaceSize,
		ShiftFactor: d.config.ShiftFactor,
		ScaleFactor: d.config.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: gray.ToBytes(),
			Rows:   gray.Rows(),
			Cols:   gray.Cols(),
			Dim:    gray.Cols(),
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, d.config.IoUThreshold)

	face, ok := bestFace(d.toFaces(dets))
	if !ok {
		return geom.Empty
	}
	return face.Nose()
}

// toFaces converts pigo detections, dropping those below MinQuality.
func (d *PigoDetector) toFaces(dets []pigo.Detection) []Face {
	var faces []Face
	for _, det := range dets {
		if det.Q < d.config.MinQuality {
			continue
		}
		// Pigo returns the center (Row, Col) and the diameter as Scale.
		faces = append(faces, Face{
			Center: geom.Pt(float64(det.Col), float64(det.Row)),
			Size:   float64(det.Scale),
			Score:  float64(det.Q),
		})
	}
	return faces
}

// AllFilesLoaded reports whether the cascade was unpacked.
func (d *PigoDetector) AllFilesLoaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier != nil
}

// Close releases the classifier.
func (d *PigoDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classifier = nil
	return nil
}
