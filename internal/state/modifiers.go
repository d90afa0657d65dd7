package state

import (
	"fmt"
	"strings"
)

// Key identifies one of the two guard modifiers.
type Key int

const (
	KeyNone Key = iota
	// KeyCtrl is guard key A.
	KeyCtrl
	// KeyShift is guard key B. It doubles as the menu reveal modifier.
	KeyShift
)

func (k Key) String() string {
	switch k {
	case KeyCtrl:
		return "CTRL"
	case KeyShift:
		return "SHIFT"
	default:
		return "NONE"
	}
}

// ParseKey accepts ctrl/control/a and shift/b, case-insensitively.
func ParseKey(s string) (Key, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ctrl", "control", "a":
		return KeyCtrl, nil
	case "shift", "b":
		return KeyShift, nil
	default:
		return KeyNone, fmt.Errorf("unknown modifier key %q", s)
	}
}

// Modifiers records which guard keys are held. Level-triggered: the last
// reported state wins, with no debouncing.
type Modifiers struct {
	ctrl  bool
	shift bool
}

// Set records a key-down (pressed) or key-up transition. Unknown keys are ignored.
func (m *Modifiers) Set(key Key, pressed bool) {
	switch key {
	case KeyCtrl:
		m.ctrl = pressed
	case KeyShift:
		m.shift = pressed
	}
}

// Held reports the current state of key.
func (m *Modifiers) Held(key Key) bool {
	switch key {
	case KeyCtrl:
		return m.ctrl
	case KeyShift:
		return m.shift
	default:
		return false
	}
}

// Satisfied reports whether the configured guard key is held.
func (m *Modifiers) Satisfied(selected Key) bool {
	return m.Held(selected)
}

func (m *Modifiers) Reset() {
	m.ctrl = false
	m.shift = false
}
