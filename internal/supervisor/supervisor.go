// Package supervisor turns per-frame tracking results into pointer commands
// and recovers from tracking loss.
//
// A FrameSupervisor is not safe for concurrent use. ProcessFrame,
// ProcessClick and the callbacks handed to the Scheduler must all run on the
// same goroutine (see package loop).
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/cameramouse/internal/geom"
	"github.com/ayusman/cameramouse/internal/overlay"
	"github.com/ayusman/cameramouse/internal/settings"
)

const (
	// CountdownSeconds is the length of the loss countdown.
	CountdownSeconds = 5
	// CountdownTick is the interval between countdown ticks.
	CountdownTick = time.Second
	// DriftCheckInterval is the minimum time between drift checks.
	DriftCheckInterval = 1000 * time.Millisecond
)

// Tracker follows the feature between frames.
type Tracker interface {
	IsInitialized() bool
	Track(frame *gocv.Mat) geom.Point
	SetTrackPoint(frame *gocv.Mat, p geom.Point)
	StopTracking()
	DrawOnFrame(frame *gocv.Mat, p geom.Point)
	Close() error
}

// Acquirer locates the feature without prior state.
type Acquirer interface {
	InitializeFeature(frame *gocv.Mat) geom.Point
	AllFilesLoaded() bool
}

// Pointer drives the OS pointer from feature positions.
type Pointer interface {
	Update(p geom.Point)
	Restart()
	SetScreenReference(p geom.Point)
	PrevPos() geom.Point
}

// Settings is the supervisor's view of the control settings.
type Settings interface {
	AutoDetectEnabled() bool
	ResetFeatureDistThreshSq() float64
	ScreenResolution() geom.Point
	FrameMargins() settings.Margins
	SetLossIndicator(active bool)
}

// Scheduler runs fn once after delay on the control goroutine.
type Scheduler interface {
	Schedule(delay time.Duration, fn func())
}

// Clock supplies the time used by the drift gate.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ErrMissingCollaborator is returned by New when a required collaborator is
// nil.
var ErrMissingCollaborator = errors.New("missing supervisor collaborator")

// Config holds the collaborators of a FrameSupervisor. Settings, Tracker,
// Pointer and Scheduler are required. A nil Acquirer disables
// auto-detection.
type Config struct {
	Settings Settings
	Tracker  Tracker
	Acquirer Acquirer
	Pointer  Pointer

	// Scheduler must run callbacks on the goroutine that calls
	// ProcessFrame and ProcessClick, such as a loop.Loop.
	Scheduler Scheduler
	Clock     Clock
	Logger    *slog.Logger
}

// FrameSupervisor owns the tracking state machine.
type FrameSupervisor struct {
	settings  Settings
	tracker   Tracker
	acquirer  Acquirer
	pointer   Pointer
	scheduler Scheduler
	clock     Clock
	logger    *slog.Logger
	listeners []Listener

	state     State
	prevFrame gocv.Mat
	tracked   geom.Point

	// countdown
	session   uint64
	remaining int

	lastDriftCheck time.Time
	closed         bool
}

// New creates a FrameSupervisor in the Uninitialized state. The supervisor
// takes ownership of the tracker.
func New(cfg Config) (*FrameSupervisor, error) {
	switch {
	case cfg.Settings == nil:
		return nil, fmt.Errorf("%w: settings", ErrMissingCollaborator)
	case cfg.Tracker == nil:
		return nil, fmt.Errorf("%w: tracker", ErrMissingCollaborator)
	case cfg.Pointer == nil:
		return nil, fmt.Errorf("%w: pointer", ErrMissingCollaborator)
	case cfg.Scheduler == nil:
		return nil, fmt.Errorf("%w: scheduler", ErrMissingCollaborator)
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FrameSupervisor{
		settings:       cfg.Settings,
		tracker:        cfg.Tracker,
		acquirer:       cfg.Acquirer,
		pointer:        cfg.Pointer,
		scheduler:      cfg.Scheduler,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		state:          Uninitialized,
		prevFrame:      gocv.NewMat(),
		tracked:        geom.Empty,
		lastDriftCheck: cfg.Clock.Now(),
	}, nil
}

// AddListener registers l for all subsequent events.
func (s *FrameSupervisor) AddListener(l Listener) {
	if l != nil {
		s.listeners = append(s.listeners, l)
	}
}

// State returns the current state.
func (s *FrameSupervisor) State() State {
	return s.state
}

// Remaining returns the countdown's remaining seconds. ok is false unless
// the supervisor is in LossCountdown.
func (s *FrameSupervisor) Remaining() (int, bool) {
	if s.state != LossCountdown {
		return 0, false
	}
	return s.remaining, true
}

// TrackedPoint returns the last feature position forwarded to the pointer,
// or geom.Empty when nothing is tracked.
func (s *FrameSupervisor) TrackedPoint() geom.Point {
	return s.tracked
}

// IsAutoDetectWorking reports whether the acquirer has loaded its models.
func (s *FrameSupervisor) IsAutoDetectWorking() bool {
	return s.acquirer != nil && s.acquirer.AllFilesLoaded()
}

// ProcessFrame consumes one camera frame. The frame may be annotated with
// the feature marker or the countdown. Empty frames are ignored.
func (s *FrameSupervisor) ProcessFrame(frame *gocv.Mat) {
	if s.closed || frame == nil || frame.Empty() {
		return
	}

	s.retain(frame)

	if s.state == Tracking && !s.tracker.IsInitialized() {
		s.logger.Debug("tracker lost its point")
		s.tracked = geom.Empty
		s.transition(Uninitialized, EventLost, geom.Empty)
	}

	switch s.state {
	case Uninitialized:
		if p, ok := s.acquireInside(frame); ok {
			s.startTracking(frame, p)
			s.transition(Tracking, EventAcquired, p)
		}
	case Tracking:
		s.track(frame)
	case LossCountdown:
		if p, ok := s.acquireInside(frame); ok {
			s.session++
			s.settings.SetLossIndicator(false)
			s.startTracking(frame, p)
			s.transition(Tracking, EventReacquired, p)
			return
		}
		overlay.DrawCountdown(frame, s.remaining)
	}
}

func (s *FrameSupervisor) retain(frame *gocv.Mat) {
	s.prevFrame.Close()
	s.prevFrame = frame.Clone()
}

// acquire runs auto-detection when it is enabled.
func (s *FrameSupervisor) acquire(frame *gocv.Mat) (geom.Point, bool) {
	if s.acquirer == nil || !s.settings.AutoDetectEnabled() {
		return geom.Empty, false
	}
	p := s.acquirer.InitializeFeature(frame)
	return p, !p.IsEmpty()
}

// acquireInside runs auto-detection and accepts only a feature inside the
// frame margins. A detection in the margin band leaves a running countdown
// to finish.
func (s *FrameSupervisor) acquireInside(frame *gocv.Mat) (geom.Point, bool) {
	p, ok := s.acquire(frame)
	if !ok || !s.settings.FrameMargins().Contains(p, frame.Cols(), frame.Rows()) {
		return geom.Empty, false
	}
	return p, true
}

// startTracking anchors the tracker and pointer at p with the pointer
// reference at the screen center.
func (s *FrameSupervisor) startTracking(frame *gocv.Mat, p geom.Point) {
	s.tracker.SetTrackPoint(frame, p)
	s.pointer.SetScreenReference(s.settings.ScreenResolution().Scale(0.5))
	s.pointer.Restart()
	s.tracked = p
}

func (s *FrameSupervisor) track(frame *gocv.Mat) {
	p := s.tracker.Track(frame)
	if p.IsEmpty() {
		return
	}

	if !s.settings.FrameMargins().Contains(p, frame.Cols(), frame.Rows()) {
		s.startCountdown(p)
		return
	}

	p = s.checkDrift(frame, p)

	s.tracker.DrawOnFrame(frame, p)
	s.pointer.Update(p)
	s.tracked = p
}

// checkDrift compares p with a fresh detection at most once per
// DriftCheckInterval and returns the position to use for this frame.
func (s *FrameSupervisor) checkDrift(frame *gocv.Mat, p geom.Point) geom.Point {
	if s.acquirer == nil || !s.settings.AutoDetectEnabled() {
		return p
	}
	now := s.clock.Now()
	if now.Sub(s.lastDriftCheck) < DriftCheckInterval {
		return p
	}

	auto := s.acquirer.InitializeFeature(frame)
	if auto.IsEmpty() {
		return p
	}
	s.lastDriftCheck = now

	if auto.Sub(p).NormSq() <= s.settings.ResetFeatureDistThreshSq() {
		return p
	}

	s.tracker.SetTrackPoint(frame, auto)
	s.pointer.SetScreenReference(s.pointer.PrevPos())
	s.pointer.Restart()
	s.logger.Info("drift re-acquisition", "tracked", p, "detected", auto)
	s.emit(Event{Kind: EventDrift, From: Tracking, To: Tracking, Point: auto})
	return auto
}

func (s *FrameSupervisor) startCountdown(p geom.Point) {
	s.tracker.StopTracking()
	s.tracked = geom.Empty
	s.session++
	s.remaining = CountdownSeconds
	s.settings.SetLossIndicator(true)
	s.transition(LossCountdown, EventLost, p)
	s.scheduleTick(s.session)
}

func (s *FrameSupervisor) scheduleTick(session uint64) {
	s.scheduler.Schedule(CountdownTick, func() { s.tick(session) })
}

func (s *FrameSupervisor) tick(session uint64) {
	if s.closed || session != s.session || s.state != LossCountdown {
		return
	}

	s.remaining--
	s.emit(Event{Kind: EventTick, From: LossCountdown, To: LossCountdown, Point: geom.Empty, Remaining: s.remaining})
	if s.remaining > 0 {
		s.scheduleTick(session)
		return
	}
	s.recover()
}

// recover recenters the tracker once the countdown runs out.
func (s *FrameSupervisor) recover() {
	s.session++
	s.settings.SetLossIndicator(false)

	if s.prevFrame.Empty() {
		s.transition(Uninitialized, EventRecovered, geom.Empty)
		return
	}

	center := geom.Pt(float64(s.prevFrame.Cols()/2), float64(s.prevFrame.Rows()/2))
	s.tracker.SetTrackPoint(&s.prevFrame, center)
	s.pointer.Restart()
	s.tracked = center
	s.transition(Tracking, EventRecovered, center)
}

// ProcessClick re-anchors tracking at p on the last retained frame. It
// cancels any countdown. Without a retained frame it does nothing.
func (s *FrameSupervisor) ProcessClick(p geom.Point) {
	if s.closed || s.prevFrame.Empty() || p.IsEmpty() {
		return
	}

	s.tracker.SetTrackPoint(&s.prevFrame, p)
	s.pointer.Restart()
	if s.state == LossCountdown {
		s.settings.SetLossIndicator(false)
	}
	s.session++
	s.tracked = p
	s.transition(Tracking, EventClick, p)
}

func (s *FrameSupervisor) transition(to State, kind EventKind, p geom.Point) {
	from := s.state
	s.state = to
	if from != to {
		s.logger.Info("state transition", "from", from, "to", to, "event", kind)
	}
	ev := Event{Kind: kind, From: from, To: to, Point: p}
	if to == LossCountdown {
		ev.Remaining = s.remaining
	}
	s.emit(ev)
}

func (s *FrameSupervisor) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.clock.Now()
	}
	for _, l := range s.listeners {
		l(ev)
	}
}

// Close cancels any pending countdown, releases the retained frame and
// closes the tracker. Later calls are no-ops.
func (s *FrameSupervisor) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.session++
	s.prevFrame.Close()
	if s.state == LossCountdown {
		s.settings.SetLossIndicator(false)
	}
	s.state = Uninitialized
	s.tracked = geom.Empty
	return s.tracker.Close()
}
