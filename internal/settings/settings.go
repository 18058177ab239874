// Package settings holds the user-tunable control settings read by the
// tracking supervisor and the pointer controller.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ayusman/cameramouse/internal/geom"
)

// Default values.
const (
	DefaultResetFeatureDistThreshSq = 1600.0 // 40px
	DefaultScreenWidth              = 1920
	DefaultScreenHeight             = 1080
	DefaultGain                     = 6.0
	DefaultSmoothing                = 0.5

	// MaxMargin bounds each margin so the inside region never collapses.
	MaxMargin = 0.45
)

// ErrInvalid is returned when settings contain non-finite values.
var ErrInvalid = errors.New("invalid settings")

// Margins are insets from each frame edge, as fractions of the frame width
// (Left, Right) or height (Top, Bottom). A feature at or beyond any inset is
// considered out of frame.
type Margins struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// DefaultMargins corresponds to 45px left, 40px right, 45px top and 50px
// bottom on a 640x480 frame.
var DefaultMargins = Margins{
	Left:   45.0 / 640,
	Right:  40.0 / 640,
	Top:    45.0 / 480,
	Bottom: 50.0 / 480,
}

// Contains reports whether p lies strictly inside the margins of a
// width x height frame. X and Y are evaluated independently.
func (m Margins) Contains(p geom.Point, width, height int) bool {
	w, h := float64(width), float64(height)
	if p.X <= m.Left*w || p.X >= w-m.Right*w {
		return false
	}
	if p.Y <= m.Top*h || p.Y >= h-m.Bottom*h {
		return false
	}
	return true
}

// Values is a plain snapshot of the control settings.
type Values struct {
	AutoDetectNose           bool    `json:"auto_detect_nose"`
	ResetFeatureDistThreshSq float64 `json:"reset_feature_dist_thresh_sq"`
	ScreenWidth              int     `json:"screen_width"`
	ScreenHeight             int     `json:"screen_height"`
	Margins                  Margins `json:"margins"`
	GainX                    float64 `json:"gain_x"`
	GainY                    float64 `json:"gain_y"`
	Smoothing                float64 `json:"smoothing"`
}

// Defaults returns Values populated with standard defaults.
func Defaults() Values {
	return Values{
		AutoDetectNose:           true,
		ResetFeatureDistThreshSq: DefaultResetFeatureDistThreshSq,
		ScreenWidth:              DefaultScreenWidth,
		ScreenHeight:             DefaultScreenHeight,
		Margins:                  DefaultMargins,
		GainX:                    DefaultGain,
		GainY:                    DefaultGain,
		Smoothing:                DefaultSmoothing,
	}
}

// Validate clamps values to safe ranges. It fails only on NaN or Inf input.
func (v *Values) Validate() error {
	for name, f := range map[string]float64{
		"reset_feature_dist_thresh_sq": v.ResetFeatureDistThreshSq,
		"margins.left":                 v.Margins.Left,
		"margins.right":                v.Margins.Right,
		"margins.top":                  v.Margins.Top,
		"margins.bottom":               v.Margins.Bottom,
		"gain_x":                       v.GainX,
		"gain_y":                       v.GainY,
		"smoothing":                    v.Smoothing,
	} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalid, name)
		}
	}

	if v.ResetFeatureDistThreshSq < 0 {
		v.ResetFeatureDistThreshSq = DefaultResetFeatureDistThreshSq
	}
	if v.ScreenWidth <= 0 {
		v.ScreenWidth = DefaultScreenWidth
	}
	if v.ScreenHeight <= 0 {
		v.ScreenHeight = DefaultScreenHeight
	}
	v.Margins.Left = clamp(v.Margins.Left, 0, MaxMargin)
	v.Margins.Right = clamp(v.Margins.Right, 0, MaxMargin)
	v.Margins.Top = clamp(v.Margins.Top, 0, MaxMargin)
	v.Margins.Bottom = clamp(v.Margins.Bottom, 0, MaxMargin)
	if v.GainX <= 0 {
		v.GainX = DefaultGain
	}
	if v.GainY <= 0 {
		v.GainY = DefaultGain
	}
	if v.Smoothing <= 0 || v.Smoothing > 1 {
		v.Smoothing = DefaultSmoothing
	}
	return nil
}

func clamp(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, f))
}

// ControlSettings is the live, concurrency-safe settings object. The HTTP
// API and the tray write to it while the control loop reads from it.
type ControlSettings struct {
	mu            sync.RWMutex
	v             Values
	lossIndicator bool
}

// New creates ControlSettings from v after validation.
func New(v Values) (*ControlSettings, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return &ControlSettings{v: v}, nil
}

// Snapshot returns a copy of the current values.
func (c *ControlSettings) Snapshot() Values {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

// Apply validates v and replaces the current values.
func (c *ControlSettings) Apply(v Values) error {
	if err := v.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v = v
	return nil
}

// AutoDetectEnabled reports whether automatic nose detection is on.
func (c *ControlSettings) AutoDetectEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.AutoDetectNose
}

// SetAutoDetect toggles automatic nose detection.
func (c *ControlSettings) SetAutoDetect(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v.AutoDetectNose = enabled
}

// ResetFeatureDistThreshSq returns the squared drift threshold.
func (c *ControlSettings) ResetFeatureDistThreshSq() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.ResetFeatureDistThreshSq
}

// ScreenResolution returns the screen size as a point (width, height).
func (c *ControlSettings) ScreenResolution() geom.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return geom.Pt(float64(c.v.ScreenWidth), float64(c.v.ScreenHeight))
}

// FrameMargins returns the out-of-frame margins.
func (c *ControlSettings) FrameMargins() Margins {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.Margins
}

// Gain returns the horizontal and vertical pointer gain.
func (c *ControlSettings) Gain() geom.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return geom.Pt(c.v.GainX, c.v.GainY)
}

// Smoothing returns the pointer smoothing factor in (0, 1].
func (c *ControlSettings) Smoothing() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.Smoothing
}

// SetLossIndicator is toggled by the supervisor while a loss countdown runs.
func (c *ControlSettings) SetLossIndicator(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lossIndicator = active
}

// LossIndicatorActive reports whether the UI should show the loss indicator.
func (c *ControlSettings) LossIndicatorActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lossIndicator
}

// Repository is the key/value storage used to persist settings.
type Repository interface {
	// Get returns ok=false when the key has never been written.
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// storageKey is the settings table key holding the JSON-encoded Values.
const storageKey = "control_settings"

// Load reads Values from repo. A missing entry yields Defaults().
func Load(repo Repository) (Values, error) {
	v := Defaults()
	raw, ok, err := repo.Get(storageKey)
	if err != nil {
		return v, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return v, nil
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Defaults(), fmt.Errorf("decode settings: %w", err)
	}
	if err := v.Validate(); err != nil {
		return Defaults(), err
	}
	return v, nil
}

// Save validates v and writes it to repo.
func Save(repo Repository, v Values) error {
	if err := v.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := repo.Set(storageKey, string(data)); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
