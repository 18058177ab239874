package supervisor

import (
	"time"

	"github.com/ayusman/cameramouse/internal/geom"
)

// State is the supervisor's tracking state.
type State int

const (
	// Uninitialized means no feature is being tracked.
	Uninitialized State = iota
	// Tracking means the tracker follows the feature and drives the pointer.
	Tracking
	// LossCountdown means the feature left the frame margins and the
	// supervisor is counting down to an automatic recenter.
	LossCountdown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Tracking:
		return "tracking"
	case LossCountdown:
		return "loss_countdown"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind identifies what happened in an Event.
type EventKind string

const (
	EventAcquired   EventKind = "acquired"
	EventLost       EventKind = "lost"
	EventTick       EventKind = "tick"
	EventRecovered  EventKind = "recovered"
	EventDrift      EventKind = "drift"
	EventClick      EventKind = "click"
	EventReacquired EventKind = "reacquired"
)

// Event describes a state transition or a drift swap.
type Event struct {
	Kind      EventKind
	From      State
	To        State
	Point     geom.Point
	Remaining int
	At        time.Time
}

// Countdown returns the remaining seconds for events that leave the
// supervisor in LossCountdown. The final tick carries 0.
func (ev Event) Countdown() (int, bool) {
	return ev.Remaining, ev.To == LossCountdown
}

// Listener receives events on the control goroutine. Listeners must not
// call back into the supervisor.
type Listener func(ev Event)
