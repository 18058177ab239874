package supervisor

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/cameramouse/internal/detector"
	"github.com/ayusman/cameramouse/internal/geom"
	"github.com/ayusman/cameramouse/internal/settings"
	"github.com/ayusman/cameramouse/internal/tracker"
)

// manualScheduler holds callbacks until the test fires them.
type manualScheduler struct {
	pending []func()
	delays  []time.Duration
}

func (m *manualScheduler) Schedule(delay time.Duration, fn func()) {
	m.pending = append(m.pending, fn)
	m.delays = append(m.delays, delay)
}

// take removes and returns the oldest pending callback.
func (m *manualScheduler) take(t *testing.T) func() {
	t.Helper()
	if len(m.pending) == 0 {
		t.Fatal("no pending callback")
	}
	fn := m.pending[0]
	m.pending = m.pending[1:]
	return fn
}

func (m *manualScheduler) fireNext(t *testing.T) {
	t.Helper()
	m.take(t)()
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingPointer struct {
	updates  []geom.Point
	refs     []geom.Point
	restarts int
	prev     geom.Point
	calls    int
}

func (p *recordingPointer) Update(pt geom.Point) {
	p.calls++
	p.updates = append(p.updates, pt)
}

func (p *recordingPointer) Restart() {
	p.calls++
	p.restarts++
}

func (p *recordingPointer) SetScreenReference(pt geom.Point) {
	p.calls++
	p.refs = append(p.refs, pt)
}

func (p *recordingPointer) PrevPos() geom.Point {
	p.calls++
	return p.prev
}

// countingSettings counts every accessor call.
type countingSettings struct {
	*settings.ControlSettings
	calls int
}

func (s *countingSettings) AutoDetectEnabled() bool {
	s.calls++
	return s.ControlSettings.AutoDetectEnabled()
}

func (s *countingSettings) ResetFeatureDistThreshSq() float64 {
	s.calls++
	return s.ControlSettings.ResetFeatureDistThreshSq()
}

func (s *countingSettings) ScreenResolution() geom.Point {
	s.calls++
	return s.ControlSettings.ScreenResolution()
}

func (s *countingSettings) FrameMargins() settings.Margins {
	s.calls++
	return s.ControlSettings.FrameMargins()
}

func (s *countingSettings) SetLossIndicator(active bool) {
	s.calls++
	s.ControlSettings.SetLossIndicator(active)
}

type harness struct {
	sup      *FrameSupervisor
	tracker  *tracker.MockTracker
	detector *detector.MockDetector
	pointer  *recordingPointer
	sched    *manualScheduler
	clock    *fakeClock
	settings *countingSettings
	events   []Event
}

func newHarness(t *testing.T, autoDetect bool) *harness {
	t.Helper()

	v := settings.Defaults()
	v.AutoDetectNose = autoDetect
	cs, err := settings.New(v)
	if err != nil {
		t.Fatalf("settings.New: %v", err)
	}

	h := &harness{
		tracker:  tracker.NewMockTracker(),
		detector: detector.NewMockDetector(),
		pointer:  &recordingPointer{prev: geom.Pt(100, 200)},
		sched:    &manualScheduler{},
		clock:    &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		settings: &countingSettings{ControlSettings: cs},
	}
	sup, err := New(Config{
		Settings:  h.settings,
		Tracker:   h.tracker,
		Acquirer:  h.detector,
		Pointer:   h.pointer,
		Scheduler: h.sched,
		Clock:     h.clock,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sup = sup
	h.sup.AddListener(func(ev Event) { h.events = append(h.events, ev) })
	t.Cleanup(func() { h.sup.Close() })
	return h
}

func newFrame(t *testing.T) *gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return &m
}

// startTracking puts the supervisor in Tracking at p via a click.
func (h *harness) startTracking(t *testing.T, p geom.Point) {
	t.Helper()
	h.sup.ProcessFrame(newFrame(t))
	h.sup.ProcessClick(p)
	if h.sup.State() != Tracking {
		t.Fatalf("expected Tracking after click, got %v", h.sup.State())
	}
}

// trackTo feeds one frame on which the tracker reports p.
func (h *harness) trackTo(t *testing.T, p geom.Point) {
	t.Helper()
	h.tracker.Queue(p)
	h.sup.ProcessFrame(newFrame(t))
}

func (h *harness) eventCount(kind EventKind) int {
	n := 0
	for _, ev := range h.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestNew_RequiresCollaborators(t *testing.T) {
	cs, err := settings.New(settings.Defaults())
	if err != nil {
		t.Fatalf("settings.New: %v", err)
	}
	full := Config{Settings: cs, Tracker: tracker.NewMockTracker(), Pointer: &recordingPointer{}, Scheduler: &manualScheduler{}}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"settings", func(c *Config) { c.Settings = nil }},
		{"tracker", func(c *Config) { c.Tracker = nil }},
		{"pointer", func(c *Config) { c.Pointer = nil }},
		{"scheduler", func(c *Config) { c.Scheduler = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := full
			tt.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, ErrMissingCollaborator) {
				t.Errorf("New() error = %v, want ErrMissingCollaborator", err)
			}
		})
	}

	sup, err := New(full)
	if err != nil {
		t.Fatalf("New() with all collaborators: %v", err)
	}
	sup.Close()
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Uninitialized, "uninitialized"},
		{Tracking, "tracking"},
		{LossCountdown, "loss_countdown"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestProcessFrame_EmptyFrame(t *testing.T) {
	t.Run("nil frame", func(t *testing.T) {
		h := newHarness(t, true)
		h.detector.SetFeature(geom.Pt(320, 240))

		h.sup.ProcessFrame(nil)

		assertUntouched(t, h)
	})

	t.Run("empty mat", func(t *testing.T) {
		h := newHarness(t, true)
		h.detector.SetFeature(geom.Pt(320, 240))

		empty := gocv.NewMat()
		defer empty.Close()
		h.sup.ProcessFrame(&empty)

		assertUntouched(t, h)
	})

	t.Run("while tracking", func(t *testing.T) {
		h := newHarness(t, false)
		h.startTracking(t, geom.Pt(320, 240))
		before := len(h.events)
		settingsCalls := h.settings.calls
		pointerCalls := h.pointer.calls

		h.tracker.Queue(geom.Pt(10, 10))
		empty := gocv.NewMat()
		defer empty.Close()
		h.sup.ProcessFrame(&empty)

		if h.sup.State() != Tracking {
			t.Errorf("expected Tracking, got %v", h.sup.State())
		}
		if h.settings.calls != settingsCalls || h.pointer.calls != pointerCalls {
			t.Error("empty frame should not call any collaborator")
		}
		if len(h.events) != before {
			t.Error("empty frame should not emit events")
		}
	})
}

func assertUntouched(t *testing.T, h *harness) {
	t.Helper()
	if h.sup.State() != Uninitialized {
		t.Errorf("expected Uninitialized, got %v", h.sup.State())
	}
	if h.detector.Calls() != 0 {
		t.Errorf("expected no acquisition calls, got %d", h.detector.Calls())
	}
	if h.settings.calls != 0 {
		t.Errorf("expected no settings calls, got %d", h.settings.calls)
	}
	if h.pointer.calls != 0 {
		t.Errorf("expected no pointer calls, got %d", h.pointer.calls)
	}
	if len(h.tracker.TrackPoints) != 0 || h.tracker.Stops != 0 || len(h.tracker.Drawn) != 0 {
		t.Error("expected no tracker calls")
	}
	if len(h.events) != 0 {
		t.Errorf("expected no events, got %d", len(h.events))
	}
}

func TestProcessFrame_InitialAcquisition(t *testing.T) {
	t.Run("auto-detect finds the feature", func(t *testing.T) {
		h := newHarness(t, true)
		h.detector.SetFeature(geom.Pt(320, 240))

		h.sup.ProcessFrame(newFrame(t))

		if h.sup.State() != Tracking {
			t.Fatalf("expected Tracking, got %v", h.sup.State())
		}
		if p, ok := h.tracker.LastTrackPoint(); !ok || p != geom.Pt(320, 240) {
			t.Errorf("expected track point (320,240), got %v", p)
		}
		if len(h.pointer.refs) != 1 || h.pointer.refs[0] != geom.Pt(960, 540) {
			t.Errorf("expected screen reference at the screen center, got %v", h.pointer.refs)
		}
		if h.pointer.restarts != 1 {
			t.Errorf("expected 1 restart, got %d", h.pointer.restarts)
		}
		if len(h.pointer.updates) != 0 {
			t.Errorf("expected no pointer update on the acquisition frame, got %v", h.pointer.updates)
		}
		if h.eventCount(EventAcquired) != 1 {
			t.Errorf("expected one acquired event, got %d", h.eventCount(EventAcquired))
		}
	})

	t.Run("auto-detect finds nothing", func(t *testing.T) {
		h := newHarness(t, true)

		h.sup.ProcessFrame(newFrame(t))

		if h.sup.State() != Uninitialized {
			t.Errorf("expected Uninitialized, got %v", h.sup.State())
		}
		if h.detector.Calls() != 1 {
			t.Errorf("expected 1 acquisition call, got %d", h.detector.Calls())
		}
		if h.pointer.restarts != 0 {
			t.Error("expected no pointer restart")
		}
	})

	t.Run("auto-detect disabled", func(t *testing.T) {
		h := newHarness(t, false)
		h.detector.SetFeature(geom.Pt(320, 240))

		h.sup.ProcessFrame(newFrame(t))

		if h.sup.State() != Uninitialized {
			t.Errorf("expected Uninitialized, got %v", h.sup.State())
		}
		if h.detector.Calls() != 0 {
			t.Errorf("expected no acquisition calls, got %d", h.detector.Calls())
		}
	})
}

func TestProcessFrame_InsideMargins(t *testing.T) {
	// Bounds on 640x480 with the default margins: 45 < x < 600, 45 < y < 430.
	points := []geom.Point{
		geom.Pt(320, 240),
		geom.Pt(45.5, 45.5),
		geom.Pt(599.5, 429.5),
		geom.Pt(46, 429),
		geom.Pt(599, 46),
	}

	for _, p := range points {
		t.Run(p.String(), func(t *testing.T) {
			h := newHarness(t, false)
			h.startTracking(t, geom.Pt(320, 240))

			h.trackTo(t, p)

			if len(h.pointer.updates) != 1 || h.pointer.updates[0] != p {
				t.Errorf("expected exactly one update with %v, got %v", p, h.pointer.updates)
			}
			if len(h.tracker.Drawn) != 1 || h.tracker.Drawn[0] != p {
				t.Errorf("expected marker drawn at %v, got %v", p, h.tracker.Drawn)
			}
			if h.sup.State() != Tracking {
				t.Errorf("expected Tracking, got %v", h.sup.State())
			}
			if len(h.sched.pending) != 0 {
				t.Error("no countdown should be scheduled")
			}
			if h.sup.TrackedPoint() != p {
				t.Errorf("expected tracked point %v, got %v", p, h.sup.TrackedPoint())
			}
		})
	}
}

func TestProcessFrame_EmptyTrackResult(t *testing.T) {
	h := newHarness(t, false)
	h.startTracking(t, geom.Pt(320, 240))

	h.sup.ProcessFrame(newFrame(t))

	if h.sup.State() != Tracking {
		t.Errorf("expected Tracking, got %v", h.sup.State())
	}
	if len(h.pointer.updates) != 0 {
		t.Errorf("expected no update, got %v", h.pointer.updates)
	}
	if len(h.sched.pending) != 0 {
		t.Error("no countdown should be scheduled")
	}
}

func TestProcessFrame_LossTrigger(t *testing.T) {
	points := []geom.Point{
		geom.Pt(45, 240),
		geom.Pt(10, 240),
		geom.Pt(600, 240),
		geom.Pt(639, 240),
		geom.Pt(320, 45),
		geom.Pt(320, 0),
		geom.Pt(320, 431),
		geom.Pt(320, 479),
		geom.Pt(700, 500),
	}

	for _, p := range points {
		t.Run(p.String(), func(t *testing.T) {
			h := newHarness(t, false)
			h.startTracking(t, geom.Pt(320, 240))

			h.trackTo(t, p)

			if h.sup.State() != LossCountdown {
				t.Fatalf("expected LossCountdown, got %v", h.sup.State())
			}
			if rem, ok := h.sup.Remaining(); !ok || rem != CountdownSeconds {
				t.Errorf("expected remaining %d, got %d (ok=%v)", CountdownSeconds, rem, ok)
			}
			if h.tracker.Stops != 1 {
				t.Errorf("expected tracker stopped once, got %d", h.tracker.Stops)
			}
			if !h.settings.LossIndicatorActive() {
				t.Error("expected loss indicator active")
			}
			if len(h.pointer.updates) != 0 {
				t.Errorf("expected no pointer update, got %v", h.pointer.updates)
			}
			if len(h.sched.pending) != 1 || h.sched.delays[0] != CountdownTick {
				t.Errorf("expected one tick scheduled after %v, got %v", CountdownTick, h.sched.delays)
			}
			if !h.sup.TrackedPoint().IsEmpty() {
				t.Error("tracked point should be cleared on loss")
			}
		})
	}
}

func TestCountdown(t *testing.T) {
	t.Run("five ticks recenter exactly once", func(t *testing.T) {
		h := newHarness(t, false)
		h.startTracking(t, geom.Pt(320, 240))
		h.trackTo(t, geom.Pt(620, 240))
		restarts := h.pointer.restarts
		trackPoints := len(h.tracker.TrackPoints)

		for want := CountdownSeconds - 1; want > 0; want-- {
			h.sched.fireNext(t)
			rem, ok := h.sup.Remaining()
			if !ok || rem != want {
				t.Fatalf("expected remaining %d, got %d (ok=%v)", want, rem, ok)
			}
			if h.sup.State() != LossCountdown {
				t.Fatalf("expected LossCountdown, got %v", h.sup.State())
			}
		}
		if len(h.tracker.TrackPoints) != trackPoints {
			t.Fatal("recenter ran before the countdown finished")
		}

		h.sched.fireNext(t)

		if h.sup.State() != Tracking {
			t.Fatalf("expected Tracking after recovery, got %v", h.sup.State())
		}
		if len(h.tracker.TrackPoints) != trackPoints+1 {
			t.Fatalf("expected exactly one recenter, got %d", len(h.tracker.TrackPoints)-trackPoints)
		}
		if p, _ := h.tracker.LastTrackPoint(); p != geom.Pt(320, 240) {
			t.Errorf("expected recenter at (320,240), got %v", p)
		}
		if h.pointer.restarts != restarts+1 {
			t.Errorf("expected one pointer restart, got %d", h.pointer.restarts-restarts)
		}
		if h.settings.LossIndicatorActive() {
			t.Error("loss indicator should be cleared")
		}
		if len(h.sched.pending) != 0 {
			t.Errorf("expected no pending callbacks, got %d", len(h.sched.pending))
		}
		if _, ok := h.sup.Remaining(); ok {
			t.Error("countdown should be absent after recovery")
		}
		if h.eventCount(EventTick) != CountdownSeconds || h.eventCount(EventRecovered) != 1 {
			t.Errorf("expected %d ticks and 1 recovery, got %d and %d",
				CountdownSeconds, h.eventCount(EventTick), h.eventCount(EventRecovered))
		}
	})

	t.Run("countdown text is drawn on frames", func(t *testing.T) {
		h := newHarness(t, false)
		h.startTracking(t, geom.Pt(320, 240))
		h.trackTo(t, geom.Pt(620, 240))

		frame := newFrame(t)
		h.sup.ProcessFrame(frame)

		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
		if gocv.CountNonZero(gray) == 0 {
			t.Error("expected countdown text on the frame")
		}
		if h.sup.State() != LossCountdown {
			t.Errorf("expected LossCountdown, got %v", h.sup.State())
		}
	})
}

func TestSessionInvalidation(t *testing.T) {
	t.Run("click at remaining 3 cancels the countdown", func(t *testing.T) {
		h := newHarness(t, false)
		h.startTracking(t, geom.Pt(320, 240))
		h.trackTo(t, geom.Pt(620, 240))

		h.sched.fireNext(t)
		h.sched.fireNext(t)
		if rem, _ := h.sup.Remaining(); rem != 3 {
			t.Fatalf("expected remaining 3, got %d", rem)
		}
		stale := h.sched.take(t)

		h.sup.ProcessClick(geom.Pt(100, 100))
		if h.sup.State() != Tracking {
			t.Fatalf("expected Tracking after click, got %v", h.sup.State())
		}
		if h.settings.LossIndicatorActive() {
			t.Error("click should clear the loss indicator")
		}

		restarts := h.pointer.restarts
		trackPoints := len(h.tracker.TrackPoints)
		events := len(h.events)

		stale()

		if h.sup.State() != Tracking {
			t.Errorf("stale tick changed state to %v", h.sup.State())
		}
		if h.pointer.restarts != restarts || len(h.tracker.TrackPoints) != trackPoints {
			t.Error("stale tick issued commands")
		}
		if len(h.events) != events {
			t.Error("stale tick emitted events")
		}
		if len(h.sched.pending) != 0 {
			t.Error("stale tick scheduled further callbacks")
		}
		if p, _ := h.tracker.LastTrackPoint(); p != geom.Pt(100, 100) {
			t.Errorf("expected track point (100,100), got %v", p)
		}
	})

	t.Run("new loss supersedes the old countdown", func(t *testing.T) {
		h := newHarness(t, false)
		h.startTracking(t, geom.Pt(320, 240))
		h.trackTo(t, geom.Pt(620, 240))
		h.sched.fireNext(t)
		stale := h.sched.take(t)

		h.sup.ProcessClick(geom.Pt(320, 240))
		h.trackTo(t, geom.Pt(10, 240))
		if rem, _ := h.sup.Remaining(); rem != CountdownSeconds {
			t.Fatalf("expected a fresh countdown, got remaining %d", rem)
		}

		stale()

		if rem, _ := h.sup.Remaining(); rem != CountdownSeconds {
			t.Errorf("stale tick decremented the new countdown to %d", rem)
		}
		if len(h.sched.pending) != 1 {
			t.Errorf("expected only the new countdown's tick pending, got %d", len(h.sched.pending))
		}
	})
}

func TestDriftReacquisition(t *testing.T) {
	// newDriftHarness acquires at (320,240) with auto-detect on.
	newDriftHarness := func(t *testing.T) *harness {
		h := newHarness(t, true)
		h.detector.SetFeature(geom.Pt(320, 240))
		h.sup.ProcessFrame(newFrame(t))
		if h.sup.State() != Tracking {
			t.Fatalf("expected Tracking, got %v", h.sup.State())
		}
		return h
	}

	t.Run("displacement above threshold swaps the point", func(t *testing.T) {
		h := newDriftHarness(t)
		h.detector.SetFeature(geom.Pt(400, 240))
		h.clock.Advance(DriftCheckInterval)
		restarts := h.pointer.restarts

		h.trackTo(t, geom.Pt(320, 240))

		if p, _ := h.tracker.LastTrackPoint(); p != geom.Pt(400, 240) {
			t.Errorf("expected track point replaced by (400,240), got %v", p)
		}
		if h.pointer.restarts != restarts+1 {
			t.Errorf("expected one restart, got %d", h.pointer.restarts-restarts)
		}
		if last := h.pointer.refs[len(h.pointer.refs)-1]; last != geom.Pt(100, 200) {
			t.Errorf("expected screen reference at the previous pointer position, got %v", last)
		}
		if len(h.pointer.updates) != 1 || h.pointer.updates[0] != geom.Pt(400, 240) {
			t.Errorf("expected update with the detected point, got %v", h.pointer.updates)
		}
		if h.eventCount(EventDrift) != 1 {
			t.Errorf("expected one drift event, got %d", h.eventCount(EventDrift))
		}
	})

	t.Run("displacement at threshold keeps the point", func(t *testing.T) {
		h := newDriftHarness(t)
		h.detector.SetFeature(geom.Pt(360, 240)) // 40^2 == threshold
		h.clock.Advance(DriftCheckInterval)
		trackPoints := len(h.tracker.TrackPoints)
		restarts := h.pointer.restarts

		h.trackTo(t, geom.Pt(320, 240))

		if len(h.tracker.TrackPoints) != trackPoints || h.pointer.restarts != restarts {
			t.Error("expected no replacement")
		}
		if len(h.pointer.updates) != 1 || h.pointer.updates[0] != geom.Pt(320, 240) {
			t.Errorf("expected update with the tracked point, got %v", h.pointer.updates)
		}
	})

	t.Run("gated to once per interval", func(t *testing.T) {
		h := newDriftHarness(t)
		calls := h.detector.Calls()
		h.detector.SetFeature(geom.Pt(500, 240))
		h.clock.Advance(DriftCheckInterval - time.Millisecond)

		h.trackTo(t, geom.Pt(320, 240))

		if h.detector.Calls() != calls {
			t.Error("acquisition ran before the interval elapsed")
		}
	})

	t.Run("successful check restarts the gate without a swap", func(t *testing.T) {
		h := newDriftHarness(t)
		h.detector.SetFeature(geom.Pt(330, 240))
		h.clock.Advance(DriftCheckInterval)
		h.trackTo(t, geom.Pt(320, 240))
		calls := h.detector.Calls()

		h.detector.SetFeature(geom.Pt(500, 240))
		h.clock.Advance(DriftCheckInterval / 2)
		h.trackTo(t, geom.Pt(320, 240))

		if h.detector.Calls() != calls {
			t.Error("drift check ran again inside the interval")
		}
		if p, _ := h.tracker.LastTrackPoint(); p != geom.Pt(320, 240) {
			t.Errorf("expected no replacement, got %v", p)
		}
	})

	t.Run("empty detection does not restart the gate", func(t *testing.T) {
		h := newDriftHarness(t)
		h.detector.SetFeature(geom.Empty)
		h.clock.Advance(DriftCheckInterval)
		h.trackTo(t, geom.Pt(320, 240))

		h.detector.SetFeature(geom.Pt(500, 240))
		h.trackTo(t, geom.Pt(320, 240))

		if p, _ := h.tracker.LastTrackPoint(); p != geom.Pt(500, 240) {
			t.Errorf("expected replacement on the next frame, got %v", p)
		}
	})

	t.Run("auto-detect disabled skips drift checks", func(t *testing.T) {
		h := newDriftHarness(t)
		h.settings.SetAutoDetect(false)
		calls := h.detector.Calls()
		h.detector.SetFeature(geom.Pt(500, 240))
		h.clock.Advance(2 * DriftCheckInterval)

		h.trackTo(t, geom.Pt(320, 240))

		if h.detector.Calls() != calls {
			t.Error("acquisition ran with auto-detect disabled")
		}
	})
}

func TestProcessClick(t *testing.T) {
	t.Run("no retained frame is a no-op", func(t *testing.T) {
		h := newHarness(t, false)

		h.sup.ProcessClick(geom.Pt(100, 100))

		if h.sup.State() != Uninitialized {
			t.Errorf("expected Uninitialized, got %v", h.sup.State())
		}
		if len(h.tracker.TrackPoints) != 0 || h.pointer.restarts != 0 {
			t.Error("click without a frame issued commands")
		}
	})

	states := []struct {
		name  string
		setup func(t *testing.T, h *harness)
	}{
		{"from uninitialized", func(t *testing.T, h *harness) {
			h.sup.ProcessFrame(newFrame(t))
		}},
		{"from tracking", func(t *testing.T, h *harness) {
			h.startTracking(t, geom.Pt(320, 240))
		}},
		{"from loss countdown", func(t *testing.T, h *harness) {
			h.startTracking(t, geom.Pt(320, 240))
			h.trackTo(t, geom.Pt(5, 5))
		}},
	}

	for _, tt := range states {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false)
			tt.setup(t, h)
			restarts := h.pointer.restarts

			h.sup.ProcessClick(geom.Pt(200, 150))

			if h.sup.State() != Tracking {
				t.Errorf("expected Tracking, got %v", h.sup.State())
			}
			if p, _ := h.tracker.LastTrackPoint(); p != geom.Pt(200, 150) {
				t.Errorf("expected track point (200,150), got %v", p)
			}
			if h.pointer.restarts != restarts+1 {
				t.Errorf("expected one restart, got %d", h.pointer.restarts-restarts)
			}
			if _, ok := h.sup.Remaining(); ok {
				t.Error("countdown should be cleared")
			}
		})
	}
}

func TestProcessFrame_ReacquireDuringCountdown(t *testing.T) {
	h := newHarness(t, true)
	h.detector.SetFeature(geom.Pt(320, 240))
	h.sup.ProcessFrame(newFrame(t))
	h.detector.SetFeature(geom.Empty)
	h.trackTo(t, geom.Pt(620, 240))
	if h.sup.State() != LossCountdown {
		t.Fatalf("expected LossCountdown, got %v", h.sup.State())
	}
	stale := h.sched.take(t)

	h.detector.SetFeature(geom.Pt(300, 220))
	h.sup.ProcessFrame(newFrame(t))

	if h.sup.State() != Tracking {
		t.Fatalf("expected Tracking, got %v", h.sup.State())
	}
	if p, _ := h.tracker.LastTrackPoint(); p != geom.Pt(300, 220) {
		t.Errorf("expected track point (300,220), got %v", p)
	}
	if h.settings.LossIndicatorActive() {
		t.Error("loss indicator should be cleared")
	}
	if h.eventCount(EventReacquired) != 1 {
		t.Errorf("expected one reacquired event, got %d", h.eventCount(EventReacquired))
	}

	stale()
	if h.sup.State() != Tracking {
		t.Errorf("stale tick changed state to %v", h.sup.State())
	}
}

func TestProcessFrame_AcquisitionInMarginBand(t *testing.T) {
	t.Run("initial acquisition waits for a point inside the margins", func(t *testing.T) {
		h := newHarness(t, true)
		h.detector.SetFeature(geom.Pt(620, 240))

		h.sup.ProcessFrame(newFrame(t))

		if h.sup.State() != Uninitialized {
			t.Fatalf("expected Uninitialized, got %v", h.sup.State())
		}
		if h.eventCount(EventAcquired) != 0 || h.pointer.restarts != 0 {
			t.Error("a detection in the margin band must not start tracking")
		}
	})

	t.Run("countdown finishes while the feature stays in the band", func(t *testing.T) {
		h := newHarness(t, true)
		h.detector.SetFeature(geom.Pt(320, 240))
		h.sup.ProcessFrame(newFrame(t))

		h.detector.SetFeature(geom.Pt(620, 240))
		h.trackTo(t, geom.Pt(620, 240))
		if h.sup.State() != LossCountdown {
			t.Fatalf("expected LossCountdown, got %v", h.sup.State())
		}

		for i := 0; i < CountdownSeconds; i++ {
			h.sup.ProcessFrame(newFrame(t))
			h.sup.ProcessFrame(newFrame(t))
			if i < CountdownSeconds-1 && h.sup.State() != LossCountdown {
				t.Fatalf("tick %d: expected LossCountdown, got %v", i, h.sup.State())
			}
			h.sched.fireNext(t)
		}

		if h.sup.State() != Tracking {
			t.Fatalf("expected Tracking after recovery, got %v", h.sup.State())
		}
		if p, _ := h.tracker.LastTrackPoint(); p != geom.Pt(320, 240) {
			t.Errorf("expected recenter at (320,240), got %v", p)
		}
		if got := h.eventCount(EventRecovered); got != 1 {
			t.Errorf("expected exactly one recovered event, got %d", got)
		}
		if h.eventCount(EventLost) != 1 || h.eventCount(EventReacquired) != 0 {
			t.Errorf("expected one lost and no reacquired events, got %d and %d",
				h.eventCount(EventLost), h.eventCount(EventReacquired))
		}
		if h.eventCount(EventTick) != CountdownSeconds {
			t.Errorf("expected %d ticks, got %d", CountdownSeconds, h.eventCount(EventTick))
		}
	})
}

func TestProcessFrame_TrackerSelfLoss(t *testing.T) {
	h := newHarness(t, false)
	h.startTracking(t, geom.Pt(320, 240))

	h.tracker.SetInitialized(false)
	h.sup.ProcessFrame(newFrame(t))

	if h.sup.State() != Uninitialized {
		t.Errorf("expected Uninitialized, got %v", h.sup.State())
	}
	if len(h.sched.pending) != 0 {
		t.Error("tracker self-loss should not start a countdown")
	}
}

func TestIsAutoDetectWorking(t *testing.T) {
	h := newHarness(t, true)
	if h.sup.IsAutoDetectWorking() {
		t.Error("expected false before files are loaded")
	}
	h.detector.SetLoaded(true)
	if !h.sup.IsAutoDetectWorking() {
		t.Error("expected true once files are loaded")
	}
	if h.sup.State() != Uninitialized || h.detector.Calls() != 0 {
		t.Error("IsAutoDetectWorking should not mutate anything")
	}

	cs, _ := settings.New(settings.Defaults())
	noAcq, err := New(Config{Settings: cs, Tracker: tracker.NewMockTracker(), Pointer: &recordingPointer{}, Scheduler: &manualScheduler{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer noAcq.Close()
	if noAcq.IsAutoDetectWorking() {
		t.Error("expected false without an acquirer")
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, false)
	h.startTracking(t, geom.Pt(320, 240))
	h.trackTo(t, geom.Pt(620, 240))
	pending := h.sched.take(t)

	if err := h.sup.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !h.tracker.Closed {
		t.Error("Close should close the tracker")
	}
	if h.settings.LossIndicatorActive() {
		t.Error("Close should clear the loss indicator")
	}

	restarts := h.pointer.restarts
	trackPoints := len(h.tracker.TrackPoints)
	pending()
	h.sup.ProcessClick(geom.Pt(1, 1))
	h.sup.ProcessFrame(newFrame(t))

	if h.pointer.restarts != restarts || len(h.tracker.TrackPoints) != trackPoints {
		t.Error("calls after Close issued commands")
	}
	if err := h.sup.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
