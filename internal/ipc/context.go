package ipc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/castguard/castguard/internal/config"
)

// ErrNoContext is returned until the host reports a context the
// configuration knows about.
var ErrNoContext = errors.New("no current context")

// SettingsProvider returns the live configuration.
type SettingsProvider interface {
	Current() *config.Config
}

// HostContext mirrors the last context the host reported. The raw report is
// kept and resolved against the live context list on every lookup, so a
// reload that reorders contexts takes effect immediately.
type HostContext struct {
	settings SettingsProvider

	mu       sync.Mutex
	reported string
}

func NewHostContext(settings SettingsProvider) *HostContext {
	return &HostContext{settings: settings}
}

// Report records a context report: a configured name or a numeric index
// into the configured list. Reports that cannot be resolved are rejected
// and leave the previous value in place.
func (h *HostContext) Report(raw string) error {
	raw = strings.TrimSpace(raw)
	if _, err := resolveContext(h.settings.Current(), raw); err != nil {
		return err
	}
	h.mu.Lock()
	h.reported = raw
	h.mu.Unlock()
	return nil
}

// Clear forgets the reported context.
func (h *HostContext) Clear() {
	h.mu.Lock()
	h.reported = ""
	h.mu.Unlock()
}

// CurrentContext resolves the last report against the live configuration.
func (h *HostContext) CurrentContext() (string, error) {
	h.mu.Lock()
	raw := h.reported
	h.mu.Unlock()
	return resolveContext(h.settings.Current(), raw)
}

func resolveContext(cfg *config.Config, raw string) (string, error) {
	if raw == "" {
		return "", ErrNoContext
	}
	if idx, err := strconv.Atoi(raw); err == nil {
		name, ok := cfg.ContextIndex(idx)
		if !ok {
			return "", fmt.Errorf("%w: index %d out of range", ErrNoContext, idx)
		}
		return name, nil
	}
	for _, name := range cfg.Contexts {
		if strings.EqualFold(name, raw) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: unknown context %q", ErrNoContext, raw)
}
