package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector aggregates local decision counters for the control API.
type Collector struct {
	mu      sync.RWMutex
	enabled bool
	started time.Time
	actions map[string]*ActionMetrics
	arms    map[string]uint64
}

// ActionMetrics captures per context:action counters tracked by the collector.
type ActionMetrics struct {
	Context     string    `json:"context"`
	Action      string    `json:"action"`
	Evaluated   uint64    `json:"evaluated"`
	Blocked     uint64    `json:"blocked"`
	Allowed     uint64    `json:"allowed"`
	LastBlocked time.Time `json:"lastBlocked,omitempty"`
	LastAllowed time.Time `json:"lastAllowed,omitempty"`
}

// Totals aggregates counters across all actions in a snapshot.
type Totals struct {
	Evaluated uint64 `json:"evaluated"`
	Blocked   uint64 `json:"blocked"`
	Allowed   uint64 `json:"allowed"`
	Arms      uint64 `json:"arms"`
}

// Snapshot is the serializable view of the current metrics state.
type Snapshot struct {
	Enabled bool              `json:"enabled"`
	Started time.Time         `json:"started,omitempty"`
	Totals  Totals            `json:"totals"`
	Actions []ActionMetrics   `json:"actions,omitempty"`
	Arms    map[string]uint64 `json:"arms,omitempty"`
}

// NewCollector returns a collector with the provided opt-in state.
func NewCollector(enabled bool) *Collector {
	c := &Collector{}
	c.SetEnabled(enabled)
	return c
}

// Enabled reports whether collection is currently active.
func (c *Collector) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled toggles collection, resetting counters when enabling.
func (c *Collector) SetEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	if !enabled {
		c.actions = nil
		c.arms = nil
		c.started = time.Time{}
		return
	}
	c.started = time.Now()
	c.actions = make(map[string]*ActionMetrics)
	c.arms = make(map[string]uint64)
}

// RecordDecision counts one evaluated attempt for context:action.
func (c *Collector) RecordDecision(context, action string, blocked bool) {
	if c == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if c.actions == nil {
		c.actions = make(map[string]*ActionMetrics)
	}
	key := context + ":" + action
	metrics, exists := c.actions[key]
	if !exists {
		metrics = &ActionMetrics{Context: context, Action: action}
		c.actions[key] = metrics
	}
	metrics.Evaluated++
	if blocked {
		metrics.Blocked++
		metrics.LastBlocked = now
	} else {
		metrics.Allowed++
		metrics.LastAllowed = now
	}
}

// RecordArm counts a trigger window arming by source (animation or word).
func (c *Collector) RecordArm(source string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if c.arms == nil {
		c.arms = make(map[string]uint64)
	}
	c.arms[source]++
}

// Snapshot returns the current counters for serialization or display.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Enabled: c.enabled}
	if !c.enabled {
		return snap
	}
	snap.Started = c.started
	if len(c.arms) > 0 {
		snap.Arms = make(map[string]uint64, len(c.arms))
		for source, n := range c.arms {
			snap.Arms[source] = n
			snap.Totals.Arms += n
		}
	}
	if len(c.actions) == 0 {
		return snap
	}
	snap.Actions = make([]ActionMetrics, 0, len(c.actions))
	for _, metrics := range c.actions {
		if metrics == nil {
			continue
		}
		clone := *metrics
		snap.Actions = append(snap.Actions, clone)
		snap.Totals.Evaluated += clone.Evaluated
		snap.Totals.Blocked += clone.Blocked
		snap.Totals.Allowed += clone.Allowed
	}
	sort.Slice(snap.Actions, func(i, j int) bool {
		if snap.Actions[i].Context == snap.Actions[j].Context {
			return snap.Actions[i].Action < snap.Actions[j].Action
		}
		return snap.Actions[i].Context < snap.Actions[j].Context
	})
	return snap
}
