package pointer

import (
	"fmt"

	"github.com/vova616/screenshot"

	"github.com/ayusman/cameramouse/internal/geom"
)

// ScreenSize returns the primary display resolution.
func ScreenSize() (geom.Point, error) {
	rect, err := screenshot.ScreenRect()
	if err != nil {
		return geom.Empty, fmt.Errorf("failed to query screen size: %w", err)
	}
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return geom.Empty, fmt.Errorf("failed to query screen size: got %v", rect)
	}
	return geom.Pt(float64(rect.Dx()), float64(rect.Dy())), nil
}
