// Package overlay draws tracking feedback onto camera frames.
package overlay

import (
	"image"
	"image/color"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/ayusman/cameramouse/internal/geom"
)

// Marker and countdown styling.
const (
	MarkerRadius    = 6
	MarkerThickness = 2
	CountdownScale  = 4.0
	CountdownWeight = 6
)

var (
	markerColor    = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	countdownColor = color.RGBA{R: 0, G: 0, B: 255, A: 0}
)

// DrawMarker draws the tracked-feature marker at p.
// Empty points and empty frames are ignored.
func DrawMarker(frame *gocv.Mat, p geom.Point) {
	if frame == nil || frame.Empty() || p.IsEmpty() {
		return
	}
	center := p.Image()
	gocv.Circle(frame, center, MarkerRadius, markerColor, MarkerThickness)
	gocv.Line(frame, center.Add(image.Pt(-MarkerRadius*2, 0)), center.Add(image.Pt(MarkerRadius*2, 0)), markerColor, 1)
	gocv.Line(frame, center.Add(image.Pt(0, -MarkerRadius*2)), center.Add(image.Pt(0, MarkerRadius*2)), markerColor, 1)
}

// DrawCountdown draws the remaining seconds centered on the frame.
func DrawCountdown(frame *gocv.Mat, remaining int) {
	if frame == nil || frame.Empty() {
		return
	}
	text := strconv.Itoa(remaining)
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, CountdownScale, CountdownWeight)
	org := CountdownOrigin(frame.Cols(), frame.Rows(), size)
	gocv.PutText(frame, text, org, gocv.FontHersheySimplex, CountdownScale, countdownColor, CountdownWeight)
}

// CountdownOrigin returns the text baseline origin that centers a text box of
// the given size on a width x height frame.
func CountdownOrigin(width, height int, size image.Point) image.Point {
	return image.Pt((width-size.X)/2, (height+size.Y)/2)
}
