package pointer

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	user32       = windows.NewLazySystemDLL("user32.dll")
	setCursorPos = user32.NewProc("SetCursorPos")
)

type systemMover struct{}

// NewSystemMover returns a Mover backed by the Win32 SetCursorPos call.
func NewSystemMover() Mover {
	return systemMover{}
}

func (systemMover) MoveTo(x, y int) error {
	r, _, err := setCursorPos.Call(uintptr(x), uintptr(y))
	if r == 0 {
		return fmt.Errorf("SetCursorPos(%d, %d): %w", x, y, err)
	}
	return nil
}
