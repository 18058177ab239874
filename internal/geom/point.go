// Package geom provides the 2-D point type shared by the tracking pipeline.
package geom

import (
	"fmt"
	"image"
	"math"
)

// Point is a 2-D coordinate in frame or screen space.
// The zero value is the origin; use Empty for "no detection".
type Point struct {
	X float64
	Y float64
}

// Empty is the sentinel returned when a detector or tracker has no result
// for the current frame. It is never a valid screen position.
var Empty = Point{X: math.NaN(), Y: math.NaN()}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// FromImage converts an integer image point.
func FromImage(p image.Point) Point {
	return Point{X: float64(p.X), Y: float64(p.Y)}
}

// IsEmpty reports whether p is the Empty sentinel.
func (p Point) IsEmpty() bool {
	return math.IsNaN(p.X) || math.IsNaN(p.Y)
}

// Add returns p+q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns p-q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Scale returns p with both components multiplied by k.
func (p Point) Scale(k float64) Point {
	return Point{X: p.X * k, Y: p.Y * k}
}

// Dot returns the dot product of p and q.
func (p Point) Dot(q Point) float64 {
	return p.X*q.X + p.Y*q.Y
}

// NormSq returns the squared magnitude of p. Drift checks compare this
// against squared thresholds so no square root is ever taken.
func (p Point) NormSq() float64 {
	return p.Dot(p)
}

// Image rounds p to the nearest integer image point.
func (p Point) Image() image.Point {
	return image.Point{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

func (p Point) String() string {
	if p.IsEmpty() {
		return "(empty)"
	}
	return fmt.Sprintf("(%.1f,%.1f)", p.X, p.Y)
}
