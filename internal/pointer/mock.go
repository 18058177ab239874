package pointer

import (
	"image"
	"sync"
)

// MockMover records pointer moves for tests.
type MockMover struct {
	mu    sync.Mutex
	moves []image.Point
	err   error
}

// SetError makes subsequent MoveTo calls fail with err.
func (m *MockMover) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// MoveTo records the move.
func (m *MockMover) MoveTo(x, y int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, image.Pt(x, y))
	return m.err
}

// Moves returns a copy of the recorded moves.
func (m *MockMover) Moves() []image.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]image.Point, len(m.moves))
	copy(out, m.moves)
	return out
}

// Last returns the most recent move.
func (m *MockMover) Last() (image.Point, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.moves) == 0 {
		return image.Point{}, false
	}
	return m.moves[len(m.moves)-1], true
}
