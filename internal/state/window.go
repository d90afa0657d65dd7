package state

import "time"

const (
	MinWindowSeconds = 1
	MaxWindowSeconds = 600
)

// Window tracks the most recent arming instant. It is not a timer: callers
// re-evaluate it against a clock reading on every attempt.
type Window struct {
	lastArmed time.Time
	armed     bool
}

// Arm records now as the last arming instant.
func (w *Window) Arm(now time.Time) {
	w.lastArmed = now
	w.armed = true
}

// Reset forgets the arming instant.
func (w *Window) Reset() {
	w.lastArmed = time.Time{}
	w.armed = false
}

// LastArmed returns the arming instant, if any.
func (w *Window) LastArmed() (time.Time, bool) {
	return w.lastArmed, w.armed
}

// IsArmed reports whether the block is currently engaged. With windowing
// disabled the gate is always open. The boundary is inclusive.
func (w *Window) IsArmed(now time.Time, delaySeconds int, enabled bool) bool {
	if !enabled {
		return true
	}
	if !w.armed {
		return false
	}
	return w.elapsed(now) <= int64(delaySeconds)
}

// Remaining returns delay minus whole elapsed seconds. Non-positive results
// are reported as 1 so a countdown never shows zero.
func (w *Window) Remaining(now time.Time, delaySeconds int) (int, bool) {
	if !w.armed {
		return 0, false
	}
	remaining := int64(delaySeconds) - w.elapsed(now)
	if remaining <= 0 {
		return 1, true
	}
	return int(remaining), true
}

// elapsed is truncated to whole seconds. A reading taken before the arming
// instant counts as zero.
func (w *Window) elapsed(now time.Time) int64 {
	d := now.Sub(w.lastArmed)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// ClampWindowSeconds bounds a configured delay to the supported range.
func ClampWindowSeconds(seconds int) int {
	if seconds < MinWindowSeconds {
		return MinWindowSeconds
	}
	if seconds > MaxWindowSeconds {
		return MaxWindowSeconds
	}
	return seconds
}
