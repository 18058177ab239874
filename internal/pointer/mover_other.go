//go:build !windows

package pointer

// NewSystemMover returns a Mover for the current platform. Only Windows has
// a native backend; elsewhere moves are discarded.
func NewSystemMover() Mover {
	return NopMover{}
}
