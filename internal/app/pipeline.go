package app

import (
	"errors"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/cameramouse/internal/capture"
	"github.com/ayusman/cameramouse/internal/geom"
	"github.com/ayusman/cameramouse/internal/store"
	"github.com/ayusman/cameramouse/internal/supervisor"
)

// readErrorLogEvery limits how often repeated camera read failures are logged.
const readErrorLogEvery = 100

// Point is a JSON friendly position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Status is a snapshot of the tracking state.
type Status struct {
	State             string `json:"state"`
	Remaining         int    `json:"remaining"`
	Tracked           *Point `json:"tracked"`
	AutoDetectWorking bool   `json:"auto_detect_working"`
	Enabled           bool   `json:"enabled"`
	LossIndicator     bool   `json:"loss_indicator"`
}

func toPoint(p geom.Point) *Point {
	if p.IsEmpty() {
		return nil
	}
	return &Point{X: p.X, Y: p.Y}
}

// runCapture reads frames at the configured rate and hands them to the
// control loop. Frames are dropped rather than queued without bound when the
// loop falls behind.
func (a *App) runCapture(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(a.config.FPS))
	defer ticker.Stop()

	var readErrors int
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !a.IsEnabled() {
				continue
			}

			frame, err := a.camera.ReadFrame()
			if err != nil {
				if errors.Is(err, capture.ErrNoMoreFrames) {
					continue
				}
				if readErrors%readErrorLogEvery == 0 {
					a.logger.Warn("error reading frame", "error", err, "count", readErrors+1)
				}
				readErrors++
				continue
			}

			if !a.loop.TryPost(func() { a.handleFrame(frame) }) {
				frame.Close()
				a.dropped.Add(1)
			}
		}
	}
}

// handleFrame runs on the control loop and owns frame.
func (a *App) handleFrame(frame *gocv.Mat) {
	defer frame.Close()

	a.sup.ProcessFrame(frame)
	if frame.Empty() {
		return
	}
	a.frames.Add(1)
	a.frameSize = image.Pt(frame.Cols(), frame.Rows())

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		a.logger.Debug("failed to encode frame", "error", err)
		return
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	a.jpegMu.Lock()
	a.jpeg = data
	a.jpegMu.Unlock()
}

// status must run on the control loop while the app is running.
func (a *App) status() Status {
	remaining, _ := a.sup.Remaining()
	return Status{
		State:             a.sup.State().String(),
		Remaining:         remaining,
		Tracked:           toPoint(a.sup.TrackedPoint()),
		AutoDetectWorking: a.sup.IsAutoDetectWorking(),
		Enabled:           a.IsEnabled(),
		LossIndicator:     a.settings.LossIndicatorActive(),
	}
}

// dispatch fans supervisor events out to subscribers.
func (a *App) dispatch(ev supervisor.Event) {
	a.subMu.RLock()
	subs := a.subscribers
	a.subMu.RUnlock()
	if len(subs) == 0 {
		return
	}

	st := a.status()
	for _, fn := range subs {
		fn(ev, st)
	}
}

// recordEvent stores ev under the current session.
func (a *App) recordEvent(ev supervisor.Event) {
	if a.session == "" {
		return
	}

	e := &store.Event{
		SessionID: a.session,
		Kind:      string(ev.Kind),
		FromState: ev.From.String(),
		ToState:   ev.To.String(),
		Remaining: ev.Remaining,
		CreatedAt: ev.At,
	}
	if !ev.Point.IsEmpty() {
		x, y := ev.Point.X, ev.Point.Y
		e.X, e.Y = &x, &y
	}

	if err := a.config.Store.Events().Create(e); err != nil {
		a.logger.Warn("failed to record tracking event", "kind", ev.Kind, "error", err)
	}
}
