package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/castguard/castguard/internal/rules"
	"github.com/castguard/castguard/internal/state"
)

// Channel is how an attempt reached the host.
type Channel string

const (
	// ChannelDirect is a click on the action itself.
	ChannelDirect Channel = "direct"
	// ChannelMenu is a pick from an expanded option menu.
	ChannelMenu Channel = "menu"
	// ChannelOther covers host activations that are not casts.
	ChannelOther Channel = "other"
)

// ParseChannel maps a wire token to a Channel. Unknown tokens are ChannelOther.
func ParseChannel(s string) Channel {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelDirect:
		return ChannelDirect
	case ChannelMenu:
		return ChannelMenu
	default:
		return ChannelOther
	}
}

// Attempt is one intercepted activation.
type Attempt struct {
	Label    string  `json:"label"`
	Channel  Channel `json:"channel"`
	MenuOpen bool    `json:"menuOpen"`
}

type Decision string

const (
	Allow Decision = "allow"
	Block Decision = "block"
)

// Reasons name the step of the decision procedure that settled a verdict.
const (
	ReasonStopped      = "stopped"
	ReasonNotCast      = "not-cast"
	ReasonNotGoverned  = "not-governed"
	ReasonNoContext    = "no-context"
	ReasonNotBlocked   = "not-blocked"
	ReasonMenuExempt   = "menu-exempt"
	ReasonNotArmed     = "not-armed"
	ReasonBlocked      = "blocked"
	ReasonGuardHeld    = "guard-held"
	ReasonGuardMissing = "guard-missing"
)

// Verdict is the outcome of evaluating an Attempt.
type Verdict struct {
	Decision  Decision    `json:"decision"`
	Message   string      `json:"message,omitempty"`
	Reason    string      `json:"reason"`
	Context   string      `json:"context,omitempty"`
	ActionID  string      `json:"action,omitempty"`
	Remaining int         `json:"remaining,omitempty"`
	Match     rules.Match `json:"match"`
}

// Blocked is shorthand for Decision == Block.
func (v Verdict) Blocked() bool {
	return v.Decision == Block
}

// EvaluateCast decides a single attempt against the current state. It does
// not mutate engine state; callers read the clock once and pass it in.
func (e *Engine) EvaluateCast(attempt Attempt, now time.Time) Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluateLocked(attempt, now)
}

func (e *Engine) evaluateLocked(attempt Attempt, now time.Time) Verdict {
	if !e.running {
		return Verdict{Decision: Allow, Reason: ReasonStopped}
	}
	if attempt.Channel == ChannelOther {
		return Verdict{Decision: Allow, Reason: ReasonNotCast}
	}
	if !e.classifier.IsGoverned(attempt.Label) {
		return Verdict{Decision: Allow, Reason: ReasonNotGoverned}
	}
	v := Verdict{ActionID: e.classifier.Classify(attempt.Label)}

	name, err := e.resolver.CurrentContext()
	if err != nil {
		e.logger.Debugf("context unavailable, allowing %q: %v", v.ActionID, err)
		v.Decision, v.Reason = Allow, ReasonNoContext
		return v
	}
	v.Context = name
	v.Match = e.rules.Lookup(name, attempt.Label)
	if !v.Match.Blocked {
		v.Decision, v.Reason = Allow, ReasonNotBlocked
		return v
	}

	cfg := e.settings.Current()
	if cfg.ExemptMenuChannel() && (attempt.Channel == ChannelMenu || attempt.MenuOpen) {
		v.Decision, v.Reason = Allow, ReasonMenuExempt
		return v
	}

	delay := state.ClampWindowSeconds(cfg.Window.Seconds)
	if !e.window.IsArmed(now, delay, cfg.Window.Enabled) {
		v.Decision, v.Reason = Allow, ReasonNotArmed
		return v
	}
	if cfg.Window.Enabled {
		v.Remaining, _ = e.window.Remaining(now, delay)
	}

	noun := cfg.Messages.Noun
	if !cfg.GuardEnabled() {
		v.Decision, v.Reason = Block, ReasonBlocked
		v.Message = blockedMessage(noun, v.Remaining)
		return v
	}
	key := cfg.GuardKey()
	if e.modifiers.Satisfied(key) {
		v.Decision, v.Reason = Allow, ReasonGuardHeld
		return v
	}
	v.Decision, v.Reason = Block, ReasonGuardMissing
	v.Message = guardMessage(key, noun, v.Remaining)
	return v
}

// HandleAttempt is the daemon entry point: it evaluates the attempt, records
// the decision, then offers the label as an arming signal so a trigger
// action never affects its own verdict. Block messages go to the notifier.
func (e *Engine) HandleAttempt(attempt Attempt) Verdict {
	e.mu.Lock()
	now := e.clock()
	started := time.Now()
	v := e.evaluateLocked(attempt, now)
	took := time.Since(started)
	e.recordLocked(attempt, v, now, took)
	if attempt.Channel != ChannelOther {
		e.armFromLabelLocked(attempt.Label, now)
	}
	e.mu.Unlock()

	if v.Blocked() && v.Message != "" {
		e.notifier.Notify(v.Message)
	}
	return v
}

func (e *Engine) recordLocked(attempt Attempt, v Verdict, now time.Time, took time.Duration) {
	e.history.add(DecisionRecord{
		Timestamp: now,
		Label:     attempt.Label,
		Channel:   attempt.Channel,
		Verdict:   v,
	})
	if v.Context != "" {
		e.collector.RecordDecision(v.Context, v.ActionID, v.Blocked())
	}
	e.exporter.ObserveDecision(v.Context, string(v.Decision), v.Reason, took)
	e.trace("decision.evaluated", map[string]any{
		"label":    attempt.Label,
		"channel":  attempt.Channel,
		"menuOpen": attempt.MenuOpen,
		"decision": v.Decision,
		"reason":   v.Reason,
		"context":  v.Context,
		"action":   v.ActionID,
	})
	if v.Blocked() {
		e.logger.Debugf("blocked %q in %s (%s)", v.ActionID, v.Context, v.Reason)
	}
}

func blockedMessage(noun string, remaining int) string {
	if remaining > 0 {
		return fmt.Sprintf("This %s is being blocked by castguard for %d more %s!", noun, remaining, secondsWord(remaining))
	}
	return fmt.Sprintf("This %s is being blocked by castguard!", noun)
}

func guardMessage(key state.Key, noun string, remaining int) string {
	msg := fmt.Sprintf("Hold %s to use this %s", key, noun)
	if remaining > 0 {
		msg += fmt.Sprintf(" or wait %d %s", remaining, secondsWord(remaining))
	}
	return msg + "!"
}

func secondsWord(n int) string {
	if n == 1 {
		return "second"
	}
	return "seconds"
}
