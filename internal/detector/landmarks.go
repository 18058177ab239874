package detector

import "github.com/ayusman/cameramouse/internal/geom"

// Face mesh landmark indices following the MediaPipe convention.
const (
	NoseTip          = 1
	NoseBottom       = 2
	LeftEyeOuter     = 33
	RightEyeOuter    = 263
	NumFaceLandmarks = 468
)

// NoseOffset is the nose tip's offset below the face center, as a fraction
// of the face diameter.
const NoseOffset = 0.08

// Face is a detected face: center and diameter in pixels plus a quality score.
type Face struct {
	Center geom.Point
	Size   float64
	Score  float64
}

// Nose estimates the nose tip position from the face geometry.
func (f Face) Nose() geom.Point {
	return geom.Pt(f.Center.X, f.Center.Y+f.Size*NoseOffset)
}

// bestFace returns the face with the highest score, preferring the larger
// face on ties.
func bestFace(faces []Face) (Face, bool) {
	if len(faces) == 0 {
		return Face{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Score > best.Score || (f.Score == best.Score && f.Size > best.Size) {
			best = f
		}
	}
	return best, true
}
