package config

import "sync/atomic"

// Live holds the active configuration. Readers call Current on every
// decision; the reloader swaps in validated documents.
type Live struct {
	cur atomic.Pointer[Config]
}

// NewLive wraps cfg, falling back to defaults when nil.
func NewLive(cfg *Config) *Live {
	if cfg == nil {
		cfg = Default()
	}
	l := &Live{}
	l.cur.Store(cfg)
	return l
}

// Current returns the active document. Callers must treat it as read-only.
func (l *Live) Current() *Config {
	return l.cur.Load()
}

// Store replaces the active document and returns the previous one.
func (l *Live) Store(cfg *Config) *Config {
	return l.cur.Swap(cfg)
}
