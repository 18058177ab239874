// Package app wires the camera, the control loop and the frame supervisor
// into a running camera mouse.
package app

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ayusman/cameramouse/internal/capture"
	"github.com/ayusman/cameramouse/internal/config"
	"github.com/ayusman/cameramouse/internal/detector"
	"github.com/ayusman/cameramouse/internal/emitter"
	"github.com/ayusman/cameramouse/internal/geom"
	"github.com/ayusman/cameramouse/internal/loop"
	"github.com/ayusman/cameramouse/internal/pointer"
	"github.com/ayusman/cameramouse/internal/settings"
	"github.com/ayusman/cameramouse/internal/store"
	"github.com/ayusman/cameramouse/internal/supervisor"
	"github.com/ayusman/cameramouse/internal/tracker"
)

var (
	// ErrStopped is returned when Start is called after Stop.
	ErrStopped = errors.New("app stopped")
	// ErrBusy is returned when the control loop queue is full.
	ErrBusy = errors.New("control loop busy")
)

// Config holds configuration options for the application.
type Config struct {
	CameraID int
	FPS      int
	Detector config.DetectorConfig

	// Settings defaults to settings.Defaults().
	Settings *settings.ControlSettings
	// Store, when set, records a session and its tracking events.
	Store *store.Store
	// Emitter, when set, publishes tracking events over MQTT.
	Emitter *emitter.MQTTEmitter
	Logger  *slog.Logger

	// Camera, Acquirer, Tracker and Mover replace the real implementations
	// when set.
	Camera   capture.Camera
	Acquirer detector.Detector
	Tracker  supervisor.Tracker
	Mover    pointer.Mover
}

// Subscriber receives every supervisor event together with the status that
// resulted from it. Subscribers run on the control loop and must not block.
type Subscriber func(ev supervisor.Event, st Status)

// App is the main application that runs frames through the supervisor.
type App struct {
	config   Config
	logger   *slog.Logger
	settings *settings.ControlSettings
	camera   capture.Camera
	detector detector.Detector
	pointer  *pointer.Controller
	loop     *loop.Loop
	sup      *supervisor.FrameSupervisor

	enabled atomic.Bool

	mu      sync.RWMutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	session string

	subMu       sync.RWMutex
	subscribers []Subscriber

	jpegMu sync.RWMutex
	jpeg   []byte

	// owned by the control loop
	frameSize image.Point

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a new App instance with the given configuration.
func New(cfg Config) (*App, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FPS <= 0 {
		cfg.FPS = capture.DefaultFPS
	}
	if cfg.Settings == nil {
		cs, err := settings.New(settings.Defaults())
		if err != nil {
			return nil, fmt.Errorf("default settings: %w", err)
		}
		cfg.Settings = cs
	}

	a := &App{
		config:   cfg,
		logger:   cfg.Logger,
		settings: cfg.Settings,
		loop:     loop.New(loop.DefaultQueueSize, cfg.Logger.With("component", "loop")),
	}

	a.camera = cfg.Camera
	if a.camera == nil {
		camCfg := capture.DefaultConfig(cfg.CameraID)
		camCfg.FPS = cfg.FPS
		a.camera = capture.NewCamera(camCfg)
	}

	a.detector = cfg.Acquirer
	if a.detector == nil {
		a.detector = newDetector(cfg.Detector, cfg.Logger)
	}

	trk := cfg.Tracker
	if trk == nil {
		trk = tracker.New()
	}

	mover := cfg.Mover
	if mover == nil {
		mover = pointer.NewSystemMover()
	}
	a.pointer = pointer.NewController(cfg.Settings, mover, cfg.Logger.With("component", "pointer"))

	var acquirer supervisor.Acquirer
	if a.detector != nil {
		acquirer = a.detector
	}

	sup, err := supervisor.New(supervisor.Config{
		Settings:  cfg.Settings,
		Tracker:   trk,
		Acquirer:  acquirer,
		Pointer:   a.pointer,
		Scheduler: a.loop,
		Logger:    cfg.Logger.With("component", "supervisor"),
	})
	if err != nil {
		if a.detector != nil {
			a.detector.Close()
		}
		return nil, fmt.Errorf("create supervisor: %w", err)
	}
	a.sup = sup
	if cfg.Store != nil {
		a.sup.AddListener(a.recordEvent)
	}
	if cfg.Emitter != nil {
		a.sup.AddListener(cfg.Emitter.Listener())
	}
	a.sup.AddListener(a.dispatch)
	a.enabled.Store(true)

	return a, nil
}

// newDetector builds the configured acquisition backend, falling back to a
// mock that never finds a feature when the backend is unavailable.
func newDetector(cfg config.DetectorConfig, logger *slog.Logger) detector.Detector {
	dc := detector.DefaultConfig()
	dc.CascadePath = cfg.CascadePath
	if cfg.MinFaceSize > 0 {
		dc.MinFaceSize = cfg.MinFaceSize
	}
	if cfg.MinQuality > 0 {
		dc.MinQuality = cfg.MinQuality
	}
	dc.Logger = logger.With("component", "detector")

	switch cfg.Kind {
	case config.DetectorNone:
		logger.Info("feature auto-detection disabled")
		return nil
	case config.DetectorMediaPipe:
		d, err := detector.NewMediaPipeDetector(dc)
		if err == nil {
			logger.Info("using mediapipe face mesh detection")
			return d
		}
		logger.Warn("mediapipe not available, using mock detector", "error", err)
	default:
		d, err := detector.NewPigoDetector(dc)
		if err == nil {
			logger.Info("using pigo face detection")
			return d
		}
		logger.Warn("pigo cascade not available, using mock detector", "error", err)
	}
	return detector.NewMockDetector()
}

// SetEnabled pauses or resumes frame delivery to the supervisor.
func (a *App) SetEnabled(enabled bool) {
	if a.enabled.Swap(enabled) != enabled {
		a.logger.Info("frame delivery toggled", "enabled", enabled)
	}
}

// IsEnabled returns whether frames are being delivered.
func (a *App) IsEnabled() bool {
	return a.enabled.Load()
}

// Subscribe registers fn for all subsequent supervisor events.
func (a *App) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

// Start opens the camera and begins the capture and control goroutines.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrStopped
	}
	if a.running {
		return nil
	}

	if err := a.camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	a.camera.SetFPS(a.config.FPS)

	if a.config.Store != nil {
		sess, err := a.config.Store.Events().StartSession()
		if err != nil {
			a.logger.Warn("failed to start tracking session", "error", err)
		} else {
			a.session = sess.ID
		}
	}

	a.loop.Start()
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	a.running = true
	go a.runCapture(a.stopCh, a.doneCh)

	a.logger.Info("camera mouse started", "camera", a.config.CameraID, "fps", a.config.FPS, "session", a.session)
	return nil
}

// Stop halts capture, closes the supervisor and releases resources. An App
// cannot be restarted after Stop.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}
	a.stopped = true

	if a.stopCh != nil {
		close(a.stopCh)
		<-a.doneCh
		a.stopCh = nil
	}

	if a.running {
		a.loop.Call(func() { a.sup.Close() })
	} else {
		a.sup.Close()
	}
	a.running = false
	a.loop.Stop()

	if err := a.camera.Close(); err != nil {
		a.logger.Warn("error closing camera", "error", err)
	}
	if a.detector != nil {
		if err := a.detector.Close(); err != nil {
			a.logger.Warn("error closing detector", "error", err)
		}
	}
	if a.config.Emitter != nil {
		if err := a.config.Emitter.Disconnect(); err != nil {
			a.logger.Warn("error disconnecting emitter", "error", err)
		}
	}
	if a.config.Store != nil && a.session != "" {
		if err := a.config.Store.Events().EndSession(a.session); err != nil {
			a.logger.Warn("failed to end tracking session", "session", a.session, "error", err)
		}
	}

	a.logger.Info("camera mouse stopped", "frames", a.frames.Load(), "dropped", a.dropped.Load())
}

// Click forwards a manual feature selection to the supervisor.
func (a *App) Click(p geom.Point) error {
	if !a.loop.TryPost(func() { a.sup.ProcessClick(p) }) {
		return ErrBusy
	}
	return nil
}

// Recenter selects the centre of the most recent frame as the feature.
func (a *App) Recenter() error {
	if !a.loop.TryPost(func() {
		if a.frameSize == (image.Point{}) {
			return
		}
		a.sup.ProcessClick(geom.Pt(float64(a.frameSize.X/2), float64(a.frameSize.Y/2)))
	}) {
		return ErrBusy
	}
	return nil
}

// Status returns a snapshot of the supervisor state.
func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var st Status
	if a.running {
		a.loop.Call(func() { st = a.status() })
	} else {
		st = a.status()
	}
	return st
}

// LatestJPEG returns the most recent annotated frame, or nil before the
// first frame.
func (a *App) LatestJPEG() []byte {
	a.jpegMu.RLock()
	defer a.jpegMu.RUnlock()
	return a.jpeg
}

// Settings returns the live control settings.
func (a *App) Settings() *settings.ControlSettings {
	return a.settings
}

// SessionID returns the id of the stored session, or "" without a store.
func (a *App) SessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

// Stats returns the number of processed and dropped frames.
func (a *App) Stats() (frames, dropped uint64) {
	return a.frames.Load(), a.dropped.Load()
}

// Detector returns the feature detector, or nil when auto-detection is off.
func (a *App) Detector() detector.Detector {
	return a.detector
}
