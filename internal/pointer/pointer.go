// Package pointer maps tracked feature positions to OS pointer motion.
package pointer

import (
	"log/slog"
	"math"
	"sync"

	"github.com/ayusman/cameramouse/internal/geom"
)

// Source supplies the user-tunable mapping parameters.
type Source interface {
	Gain() geom.Point
	Smoothing() float64
	ScreenResolution() geom.Point
}

// Mover moves the OS pointer to absolute screen coordinates.
type Mover interface {
	MoveTo(x, y int) error
}

// Controller turns feature motion into pointer motion relative to a screen
// reference: pos = ref + gain * (feature - featureRef), smoothed with an
// exponential moving average and clamped to the screen.
type Controller struct {
	source Source
	mover  Mover
	logger *slog.Logger

	mu         sync.Mutex
	screenRef  geom.Point
	featureRef geom.Point
	prev       geom.Point
	moveErrors int
}

// NewController creates a Controller centred on the screen.
func NewController(source Source, mover Mover, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if mover == nil {
		mover = NopMover{}
	}
	center := source.ScreenResolution().Scale(0.5)
	return &Controller{
		source:     source,
		mover:      mover,
		logger:     logger,
		screenRef:  center,
		featureRef: geom.Empty,
		prev:       center,
	}
}

// SetScreenReference sets the screen position that the next feature
// reference maps to. An empty point selects the screen center.
func (c *Controller) SetScreenReference(p geom.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.IsEmpty() {
		p = c.source.ScreenResolution().Scale(0.5)
	}
	c.screenRef = c.clamp(p)
}

// Restart drops the feature reference. The next Update re-anchors the
// feature at the screen reference.
func (c *Controller) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.featureRef = geom.Empty
	c.prev = c.screenRef
}

// Update moves the pointer for a new feature position. Empty points are
// ignored.
func (c *Controller) Update(feature geom.Point) {
	if feature.IsEmpty() {
		return
	}

	c.mu.Lock()
	if c.featureRef.IsEmpty() {
		c.featureRef = feature
	}

	gain := c.source.Gain()
	d := feature.Sub(c.featureRef)
	target := c.screenRef.Add(geom.Pt(gain.X*d.X, gain.Y*d.Y))

	alpha := c.source.Smoothing()
	pos := c.prev.Add(target.Sub(c.prev).Scale(alpha))
	pos = c.clamp(pos)
	c.prev = pos
	c.mu.Unlock()

	p := pos.Image()
	if err := c.mover.MoveTo(p.X, p.Y); err != nil {
		c.mu.Lock()
		c.moveErrors++
		n := c.moveErrors
		c.mu.Unlock()
		// First failure, then every 100th.
		if n == 1 || n%100 == 0 {
			c.logger.Warn("pointer move failed", "error", err, "count", n)
		}
	}
}

// PrevPos returns the last pointer position produced by Update.
func (c *Controller) PrevPos() geom.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prev
}

func (c *Controller) clamp(p geom.Point) geom.Point {
	res := c.source.ScreenResolution()
	return geom.Pt(
		math.Max(0, math.Min(res.X-1, p.X)),
		math.Max(0, math.Min(res.Y-1, p.Y)),
	)
}

// NopMover discards pointer moves.
type NopMover struct{}

// MoveTo does nothing.
func (NopMover) MoveTo(x, y int) error { return nil }
