package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/castguard/castguard/internal/action"
	"github.com/castguard/castguard/internal/state"
)

// ToggleOffer is an extra menu entry the host should show next to the
// activation verb.
type ToggleOffer string

const (
	ToggleNone          ToggleOffer = ""
	ToggleEnableBlock   ToggleOffer = "Enable block"
	ToggleDisableBlock  ToggleOffer = "Disable block"
	ToggleAddTrigger    ToggleOffer = "Add trigger"
	ToggleRemoveTrigger ToggleOffer = "Remove trigger"
)

// ParseToggle matches option against the known offers exactly.
func ParseToggle(option string) (ToggleOffer, bool) {
	switch ToggleOffer(option) {
	case ToggleEnableBlock, ToggleDisableBlock, ToggleAddTrigger, ToggleRemoveTrigger:
		return ToggleOffer(option), true
	default:
		return ToggleNone, false
	}
}

// revealKey must be held for toggle offers to appear.
const revealKey = state.KeyShift

// ProposeMenuToggle returns the toggle to offer for a menu entry, or
// ToggleNone. Offers only appear while the reveal modifier is held and the
// option is the activation verb.
func (e *Engine) ProposeMenuToggle(option, label string) ToggleOffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || !e.modifiers.Held(revealKey) || !e.classifier.IsMenuVerb(option) {
		return ToggleNone
	}
	if !e.classifier.IsGoverned(label) {
		cleaned := action.Clean(label)
		if cleaned == "" {
			return ToggleNone
		}
		if e.triggers.Contains(cleaned) {
			return ToggleRemoveTrigger
		}
		return ToggleAddTrigger
	}
	name, err := e.resolver.CurrentContext()
	if err != nil {
		return ToggleNone
	}
	if e.rules.IsBlocked(name, label) {
		return ToggleDisableBlock
	}
	return ToggleEnableBlock
}

// AcceptToggle performs the mutation named by option and persists it. It
// never evaluates a cast. Persistence failures are reported to the user and
// returned; the in-memory change is kept.
func (e *Engine) AcceptToggle(ctx context.Context, option, label string) error {
	offer, ok := ParseToggle(option)
	if !ok {
		return fmt.Errorf("unknown toggle %q", option)
	}
	var err error
	switch offer {
	case ToggleEnableBlock, ToggleDisableBlock:
		var name string
		name, err = e.currentContext()
		if err == nil {
			if offer == ToggleEnableBlock {
				_, err = e.Block(ctx, name, label)
			} else {
				_, err = e.Unblock(ctx, name, label)
			}
		}
	case ToggleAddTrigger:
		_, err = e.AddTrigger(ctx, label)
	case ToggleRemoveTrigger:
		_, err = e.RemoveTrigger(ctx, label)
	}
	return err
}

func (e *Engine) currentContext() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return "", ErrNotRunning
	}
	name, err := e.resolver.CurrentContext()
	if err != nil {
		return "", fmt.Errorf("resolve context: %w", err)
	}
	return name, nil
}

// Block adds label's canonical id to the named context's rule set.
func (e *Engine) Block(ctx context.Context, name, label string) (bool, error) {
	return e.toggleRule(ctx, name, label, true)
}

// Unblock removes label's canonical id from the named context's rule set.
func (e *Engine) Unblock(ctx context.Context, name, label string) (bool, error) {
	return e.toggleRule(ctx, name, label, false)
}

func (e *Engine) toggleRule(ctx context.Context, name, label string, block bool) (bool, error) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return false, ErrNotRunning
	}
	var (
		mutated bool
		err     error
	)
	if block {
		mutated, err = e.rules.Block(ctx, name, label)
	} else {
		mutated, err = e.rules.Unblock(ctx, name, label)
	}
	e.trace("rules.toggled", map[string]any{
		"context": name,
		"label":   label,
		"block":   block,
		"changed": mutated,
	})
	e.mu.Unlock()
	if err != nil {
		e.logger.Errorf("toggle rule %q in %s: %v", label, name, err)
		if mutated {
			e.notifier.Notify("castguard could not save your blocked teleports.")
		}
		return mutated, err
	}
	if mutated {
		e.logger.Infof("%s %q in %s", blockVerb(block), label, name)
	}
	return mutated, nil
}

func blockVerb(block bool) string {
	if block {
		return "blocked"
	}
	return "unblocked"
}

// AddTrigger adds word to the trigger word list and persists it.
func (e *Engine) AddTrigger(ctx context.Context, word string) (bool, error) {
	return e.toggleTrigger(ctx, word, true)
}

// RemoveTrigger removes word from the trigger word list and persists it.
func (e *Engine) RemoveTrigger(ctx context.Context, word string) (bool, error) {
	return e.toggleTrigger(ctx, word, false)
}

func (e *Engine) toggleTrigger(ctx context.Context, word string, add bool) (bool, error) {
	cleaned := action.Clean(word)
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return false, ErrNotRunning
	}
	var changed bool
	if add {
		changed = e.triggers.Add(cleaned)
	} else {
		changed = e.triggers.Remove(cleaned)
	}
	var err error
	if changed {
		err = e.persistence.SaveTriggerWords(ctx, e.triggers)
	}
	e.mu.Unlock()
	if err != nil {
		e.logger.Errorf("save trigger words: %v", err)
		e.notifier.Notify("castguard could not save your trigger words.")
		return true, fmt.Errorf("persist trigger words: %w", err)
	}
	if changed && add {
		e.logger.Infof("trigger word %q added", cleaned)
	} else if changed {
		e.logger.Infof("trigger word %q removed", cleaned)
	}
	return changed, nil
}

// Triggers returns the current trigger words, sorted.
func (e *Engine) Triggers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggers.Words()
}

// Rules returns the blocked ids per context.
func (e *Engine) Rules() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rules == nil {
		return nil
	}
	out := make(map[string][]string)
	for _, name := range e.rules.Contexts() {
		out[name] = e.rules.Members(name)
	}
	return out
}

// Status is a point-in-time view of the engine for inspection.
type Status struct {
	Running      bool                `json:"running"`
	Context      string              `json:"context,omitempty"`
	ContextError string              `json:"contextError,omitempty"`
	Ctrl         bool                `json:"ctrl"`
	Shift        bool                `json:"shift"`
	GuardKey     string              `json:"guardKey"`
	GuardEnabled bool                `json:"guardEnabled"`
	Windowing    bool                `json:"windowing"`
	Armed        bool                `json:"armed"`
	LastArmed    time.Time           `json:"lastArmed,omitempty"`
	Remaining    int                 `json:"remaining,omitempty"`
	Rules        map[string][]string `json:"rules,omitempty"`
	Triggers     []string            `json:"triggers,omitempty"`
	CustomWords  bool                `json:"customWords"`
}

// Status reports the engine state at now.
func (e *Engine) Status(now time.Time) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.settings.Current()
	st := Status{
		Running:      e.running,
		Ctrl:         e.modifiers.Held(state.KeyCtrl),
		Shift:        e.modifiers.Held(state.KeyShift),
		GuardKey:     cfg.GuardKey().String(),
		GuardEnabled: cfg.GuardEnabled(),
		Windowing:    cfg.Window.Enabled,
		CustomWords:  cfg.Triggers.Custom.Enabled,
	}
	if !e.running {
		return st
	}
	if name, err := e.resolver.CurrentContext(); err != nil {
		st.ContextError = err.Error()
	} else {
		st.Context = name
	}
	delay := state.ClampWindowSeconds(cfg.Window.Seconds)
	st.Armed = e.window.IsArmed(now, delay, cfg.Window.Enabled)
	if at, ok := e.window.LastArmed(); ok {
		st.LastArmed = at
		if cfg.Window.Enabled && st.Armed {
			st.Remaining, _ = e.window.Remaining(now, delay)
		}
	}
	st.Rules = make(map[string][]string)
	for _, name := range e.rules.Contexts() {
		st.Rules[name] = e.rules.Members(name)
	}
	st.Triggers = e.triggers.Words()
	return st
}

// Now reads the engine clock.
func (e *Engine) Now() time.Time {
	return e.clock()
}
