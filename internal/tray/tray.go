// Package tray provides the system tray menu for the camera mouse.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle     func(enabled bool)
	onAutoDetect func(enabled bool)
	onRecenter   func()
	onSettings   func()
	onQuit       func()
	enabled      bool
	autoDetect   bool
	mu           sync.RWMutex

	// Menu items stored for later updates
	menuToggle     *systray.MenuItem
	menuAutoDetect *systray.MenuItem
	menuStatus     *systray.MenuItem
}

// New creates a new Tray with frame delivery enabled and the given
// auto-detect state.
func New(autoDetect bool) *Tray {
	return &Tray{
		enabled:    true,
		autoDetect: autoDetect,
	}
}

// OnToggle sets the callback function to be called when the enabled state is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnAutoDetect sets the callback for the auto-detect menu item.
func (t *Tray) OnAutoDetect(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAutoDetect = fn
}

// OnRecenter sets the callback for the recenter menu item.
func (t *Tray) OnRecenter(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRecenter = fn
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit ends Run.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("CM")
	systray.SetTooltip("Camera Mouse")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(enabledTitle(t.enabled), "Pause or resume pointer control")
	t.menuAutoDetect = systray.AddMenuItemCheckbox("Auto-detect nose", "Find the nose automatically", t.autoDetect)
	menuRecenter := systray.AddMenuItem("Recenter", "Track the centre of the camera frame")
	systray.AddSeparator()

	t.menuStatus = systray.AddMenuItem(statusTitle("uninitialized", 0), "Tracking state")
	t.menuStatus.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Camera Mouse")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-t.menuAutoDetect.ClickedCh:
				t.handleAutoDetect()
			case <-menuRecenter.ClickedCh:
				t.handleRecenter()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

func enabledTitle(enabled bool) string {
	if enabled {
		return "● Enabled"
	}
	return "○ Paused"
}

// statusTitle renders the tracking state for the status menu item.
func statusTitle(state string, remaining int) string {
	switch state {
	case "tracking":
		return "Tracking"
	case "loss_countdown":
		return fmt.Sprintf("Lost, recentering in %ds", remaining)
	case "uninitialized":
		return "Waiting for nose"
	default:
		return "Status: " + state
	}
}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled

	if t.menuToggle != nil {
		t.menuToggle.SetTitle(enabledTitle(enabled))
	}

	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

// handleAutoDetect handles the auto-detect menu item click.
func (t *Tray) handleAutoDetect() {
	t.mu.Lock()
	t.autoDetect = !t.autoDetect
	enabled := t.autoDetect

	if t.menuAutoDetect != nil {
		if enabled {
			t.menuAutoDetect.Check()
		} else {
			t.menuAutoDetect.Uncheck()
		}
	}

	callback := t.onAutoDetect
	t.mu.Unlock()

	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleRecenter() {
	t.mu.RLock()
	callback := t.onRecenter
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleSettings handles the settings menu item click.
func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetStatus updates the status display in the menu and the tray title.
func (t *Tray) SetStatus(state string, remaining int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuStatus == nil {
		return
	}
	t.menuStatus.SetTitle(statusTitle(state, remaining))
	if state == "loss_countdown" {
		systray.SetTitle(fmt.Sprintf("CM %d", remaining))
	} else {
		systray.SetTitle("CM")
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// AutoDetect returns the current auto-detect state.
func (t *Tray) AutoDetect() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.autoDetect
}
