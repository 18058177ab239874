// Package loop runs work on a single control goroutine. Frames, clicks and
// timer callbacks are all posted here so the code they call never needs its
// own locking.
package loop

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// DefaultQueueSize is the task buffer used when New is given a size <= 0.
const DefaultQueueSize = 64

// Loop serializes tasks onto one goroutine.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	exited chan struct{}
	logger *slog.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	started bool
	stopped bool
}

// New creates a Loop with a task buffer of the given size.
func New(size int, logger *slog.Logger) *Loop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		tasks:  make(chan func(), size),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		logger: logger,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Start runs the loop in a new goroutine. Calling Start twice is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.started || l.stopped {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	go l.run()
}

func (l *Loop) run() {
	defer close(l.exited)
	for {
		select {
		case <-l.done:
			l.drain()
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// drain runs tasks that were queued before Stop.
func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.tasks:
			l.exec(fn)
		default:
			return
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("control loop task panic", "error", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Post queues fn, blocking while the queue is full. It returns false once
// the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// TryPost queues fn without blocking. It returns false if the queue is full
// or the loop has been stopped.
func (l *Loop) TryPost(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	default:
		return false
	}
}

// Call posts fn and waits for it to finish. It must not be called from a
// task running on the loop.
func (l *Loop) Call(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.exited:
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}

// Schedule posts fn onto the loop after delay. Callbacks still pending when
// the loop stops are discarded.
func (l *Loop) Schedule(delay time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, t)
		l.mu.Unlock()
		l.Post(fn)
	})
	l.timers[t] = struct{}{}
}

// Pending returns the number of scheduled callbacks that have not fired.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Stop cancels pending timers, runs the tasks already queued and waits for
// the loop goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	started := l.started
	for t := range l.timers {
		t.Stop()
	}
	l.timers = make(map[*time.Timer]struct{})
	close(l.done)
	l.mu.Unlock()

	if !started {
		l.drain()
		close(l.exited)
		return
	}
	<-l.exited
}
