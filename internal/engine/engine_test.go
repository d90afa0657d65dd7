package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/castguard/castguard/internal/config"
	"github.com/castguard/castguard/internal/metrics"
	"github.com/castguard/castguard/internal/state"
	"github.com/castguard/castguard/internal/store"
)

type fakeResolver struct {
	name string
	err  error
}

func (f *fakeResolver) CurrentContext() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.name, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

func (n *recordingNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return ""
	}
	return n.messages[len(n.messages)-1]
}

// flakyBackend fails reads or writes on demand.
type flakyBackend struct {
	*store.Memory
	failGet bool
	failSet bool
}

func (f *flakyBackend) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet {
		return "", false, errors.New("disk on fire")
	}
	return f.Memory.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key, value string) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.Memory.Set(ctx, key, value)
}

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	engine   *Engine
	live     *config.Live
	resolver *fakeResolver
	notifier *recordingNotifier
	backend  *flakyBackend
	clock    *manualClock
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{
		live:     config.NewLive(cfg),
		resolver: &fakeResolver{name: "standard"},
		notifier: &recordingNotifier{},
		backend:  &flakyBackend{Memory: store.NewMemory()},
		clock:    &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	eng, err := New(Options{
		Persistence: store.NewSettings(h.backend),
		Resolver:    h.resolver,
		Settings:    h.live,
		Notifier:    h.notifier,
		Metrics:     metrics.NewCollector(true),
		Exporter:    metrics.NewExporter(),
		Clock:       h.clock.Now,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = eng
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func (h *harness) block(t *testing.T, label string) {
	t.Helper()
	if _, err := h.engine.Block(context.Background(), h.resolver.name, label); err != nil {
		t.Fatalf("block %q: %v", label, err)
	}
}

func withWindow(seconds int, words string) func(*config.Config) {
	return func(cfg *config.Config) {
		cfg.Window.Enabled = true
		cfg.Window.Seconds = seconds
		cfg.Triggers.Custom.Enabled = true
		cfg.Triggers.Custom.Words = &words
	}
}

func direct(label string) Attempt {
	return Attempt{Label: label, Channel: ChannelDirect}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without persistence")
	}
	if _, err := New(Options{Persistence: store.NewSettings(store.NewMemory())}); err == nil {
		t.Fatalf("expected error without resolver")
	}
}

func TestBlockedActionWithoutGuardKey(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.block(t, "Teleport to House")

	v := h.engine.HandleAttempt(direct("<col=ff9040>Teleport to House</col>"))
	if v.Decision != Block {
		t.Fatalf("expected block, got %#v", v)
	}
	if v.Message != "Hold CTRL to use this teleport!" {
		t.Fatalf("unexpected message %q", v.Message)
	}
	if v.Reason != ReasonGuardMissing || v.Context != "standard" || v.ActionID != "teleport to house" {
		t.Fatalf("unexpected verdict details: %#v", v)
	}
	if got := h.notifier.last(); got != v.Message {
		t.Fatalf("expected notifier to receive block message, got %q", got)
	}
}

func TestBlockedActionWithGuardKeyHeld(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.block(t, "Teleport to House")
	h.engine.OnKey(state.KeyCtrl, true)

	v := h.engine.HandleAttempt(direct("Teleport to House"))
	if v.Decision != Allow || v.Reason != ReasonGuardHeld {
		t.Fatalf("expected allow via guard, got %#v", v)
	}

	h.engine.OnKey(state.KeyCtrl, false)
	if v := h.engine.EvaluateCast(direct("Teleport to House"), h.clock.Now()); v.Decision != Block {
		t.Fatalf("expected block after key release, got %#v", v)
	}
}

func TestGuardKeyFollowsConfigReload(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.block(t, "Varrock Teleport")
	h.engine.OnKey(state.KeyShift, true)

	if v := h.engine.EvaluateCast(direct("Varrock Teleport"), h.clock.Now()); v.Decision != Block {
		t.Fatalf("shift must not satisfy a ctrl guard: %#v", v)
	}

	next := config.Default()
	next.Guard.Key = "shift"
	h.live.Store(next)
	if v := h.engine.EvaluateCast(direct("Varrock Teleport"), h.clock.Now()); v.Decision != Allow {
		t.Fatalf("expected reload to switch guard key, got %#v", v)
	}
}

func TestWindowExpiresAfterDelay(t *testing.T) {
	h := newHarness(t, withWindow(5, "alchemy"))
	h.start(t)
	h.block(t, "Camelot Teleport")

	if v := h.engine.HandleAttempt(direct("Low Alchemy")); v.Decision != Allow || v.Reason != ReasonNotGoverned {
		t.Fatalf("arming action must itself be allowed: %#v", v)
	}

	h.clock.Advance(2 * time.Second)
	v := h.engine.EvaluateCast(direct("Camelot Teleport"), h.clock.Now())
	if v.Decision != Block || v.Message != "Hold CTRL to use this teleport or wait 3 seconds!" {
		t.Fatalf("unexpected verdict inside window: %#v", v)
	}

	h.clock.Advance(3 * time.Second)
	v = h.engine.EvaluateCast(direct("Camelot Teleport"), h.clock.Now())
	if v.Decision != Block || v.Message != "Hold CTRL to use this teleport or wait 1 second!" {
		t.Fatalf("boundary must still block with a one second countdown: %#v", v)
	}

	h.clock.Advance(time.Second)
	v = h.engine.EvaluateCast(direct("Camelot Teleport"), h.clock.Now())
	if v.Decision != Allow || v.Reason != ReasonNotArmed {
		t.Fatalf("expected allow after window, got %#v", v)
	}
}

func TestWindowNeverArmedAllows(t *testing.T) {
	h := newHarness(t, withWindow(5, "alchemy"))
	h.start(t)
	h.block(t, "Camelot Teleport")
	if v := h.engine.EvaluateCast(direct("Camelot Teleport"), h.clock.Now()); v.Decision != Allow {
		t.Fatalf("expected allow before any arming, got %#v", v)
	}
}

func TestArmingIgnoredWhileWindowingDisabled(t *testing.T) {
	words := "alchemy"
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Triggers.Custom.Enabled = true
		cfg.Triggers.Custom.Words = &words
	})
	h.start(t)
	if h.engine.ArmFromLabel("Low Alchemy", h.clock.Now()) {
		t.Fatalf("arming must be ignored with windowing disabled")
	}
	if h.engine.OnAnimation(712, true) {
		t.Fatalf("animation arming must be ignored with windowing disabled")
	}
	if _, armed := h.engine.window.LastArmed(); armed {
		t.Fatalf("window should not record an arming instant")
	}
}

func TestAnimationPolicy(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Window.Enabled = true
		cfg.Window.Seconds = 10
	})
	h.start(t)
	h.block(t, "Varrock Teleport")

	if h.engine.OnAnimation(712, false) {
		t.Fatalf("other players' animations must not arm")
	}
	if h.engine.OnAnimation(1, true) {
		t.Fatalf("unlisted animation must not arm")
	}
	if h.engine.ArmFromLabel("High Level Alchemy", h.clock.Now()) {
		t.Fatalf("word policy must be inert while animation policy is selected")
	}
	if !h.engine.OnAnimation(713, true) {
		t.Fatalf("expected high alchemy animation to arm")
	}
	v := h.engine.EvaluateCast(direct("Varrock Teleport (Grand Exchange)"), h.clock.Now())
	if v.Decision != Block || !strings.HasSuffix(v.Message, "or wait 10 seconds!") {
		t.Fatalf("unexpected verdict after animation: %#v", v)
	}
}

func TestWordPolicyMatchesCanonicalID(t *testing.T) {
	h := newHarness(t, withWindow(5, "seers"))
	h.start(t)
	if h.engine.ArmFromLabel("Camelot Teleport (Seers)", h.clock.Now()) {
		t.Fatalf("alias text must not arm once the label resolves to its base id")
	}

	h = newHarness(t, withWindow(5, "camelot"))
	h.start(t)
	if !h.engine.ArmFromLabel("Camelot Teleport (Seers)", h.clock.Now()) {
		t.Fatalf("expected the base id to match the trigger word")
	}
}

func TestWordPolicyDisablesAnimationPolicy(t *testing.T) {
	h := newHarness(t, withWindow(5, "alchemy"))
	h.start(t)
	if h.engine.OnAnimation(712, true) {
		t.Fatalf("animation policy must be inert while the word policy is selected")
	}
}

func TestMenuChannelExemption(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.block(t, "Teleport to House")

	if v := h.engine.EvaluateCast(Attempt{Label: "Teleport to House", Channel: ChannelMenu}, h.clock.Now()); v.Decision != Allow || v.Reason != ReasonMenuExempt {
		t.Fatalf("expected menu channel exemption, got %#v", v)
	}
	if v := h.engine.EvaluateCast(Attempt{Label: "Teleport to House", Channel: ChannelDirect, MenuOpen: true}, h.clock.Now()); v.Decision != Allow {
		t.Fatalf("expected open menu exemption, got %#v", v)
	}

	next := config.Default()
	next.Guard.ExemptMenuChannel = new(bool)
	h.live.Store(next)
	if v := h.engine.EvaluateCast(Attempt{Label: "Teleport to House", Channel: ChannelMenu}, h.clock.Now()); v.Decision != Block {
		t.Fatalf("expected block once exemption is off, got %#v", v)
	}
}

func TestGuardDisabledNeverAllows(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Guard.Enabled = new(bool)
	})
	h.start(t)
	h.block(t, "Teleport to House")
	h.engine.OnKey(state.KeyCtrl, true)
	h.engine.OnKey(state.KeyShift, true)

	v := h.engine.EvaluateCast(direct("Teleport to House"), h.clock.Now())
	if v.Decision != Block || v.Reason != ReasonBlocked {
		t.Fatalf("expected unconditional block, got %#v", v)
	}
	if v.Message != "This teleport is being blocked by castguard!" {
		t.Fatalf("unexpected message %q", v.Message)
	}
	if strings.Contains(v.Message, "CTRL") || strings.Contains(v.Message, "SHIFT") {
		t.Fatalf("message must not name a key: %q", v.Message)
	}
}

func TestGuardDisabledWithWindowCountsDown(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		withWindow(5, "alchemy")(cfg)
		cfg.Guard.Enabled = new(bool)
	})
	h.start(t)
	h.block(t, "Teleport to House")
	h.engine.ArmFromLabel("Low Alchemy", h.clock.Now())
	h.clock.Advance(2500 * time.Millisecond)

	v := h.engine.EvaluateCast(direct("Teleport to House"), h.clock.Now())
	if v.Message != "This teleport is being blocked by castguard for 3 more seconds!" {
		t.Fatalf("unexpected message %q", v.Message)
	}
	if v.Remaining != 3 {
		t.Fatalf("expected 3 seconds remaining, got %d", v.Remaining)
	}
}

func TestMessageNounIsConfigurable(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Messages.Noun = "spell"
	})
	h.start(t)
	h.block(t, "Teleport to House")
	v := h.engine.EvaluateCast(direct("Teleport to House"), h.clock.Now())
	if v.Message != "Hold CTRL to use this spell!" {
		t.Fatalf("unexpected message %q", v.Message)
	}
}

func TestAllowPaths(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.block(t, "Teleport to House")

	cases := []struct {
		name    string
		attempt Attempt
		reason  string
	}{
		{name: "not a cast", attempt: Attempt{Label: "Teleport to House", Channel: ChannelOther}, reason: ReasonNotCast},
		{name: "not governed", attempt: direct("Wind Strike"), reason: ReasonNotGoverned},
		{name: "not blocked", attempt: direct("Lumbridge Teleport"), reason: ReasonNotBlocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := h.engine.EvaluateCast(tc.attempt, h.clock.Now())
			if v.Decision != Allow || v.Reason != tc.reason {
				t.Fatalf("expected allow with %s, got %#v", tc.reason, v)
			}
		})
	}
}

func TestResolverFailureFailsOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.block(t, "Teleport to House")
	h.resolver.err = errors.New("no varbit yet")

	v := h.engine.HandleAttempt(direct("Teleport to House"))
	if v.Decision != Allow || v.Reason != ReasonNoContext {
		t.Fatalf("expected fail-open allow, got %#v", v)
	}
}

func TestRulesArePerContext(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.block(t, "Teleport to House")
	h.resolver.name = "lunar"
	if v := h.engine.EvaluateCast(direct("Teleport to House"), h.clock.Now()); v.Decision != Allow {
		t.Fatalf("rule from another context leaked: %#v", v)
	}
}

func TestAliasPropagation(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.block(t, "Varrock Teleport")
	v := h.engine.EvaluateCast(direct("Grand Exchange Teleport"), h.clock.Now())
	if v.Decision != Block || v.ActionID != "varrock teleport" {
		t.Fatalf("expected alias to inherit block, got %#v", v)
	}
}

func TestStopResetsState(t *testing.T) {
	h := newHarness(t, withWindow(5, "alchemy"))
	h.start(t)
	h.block(t, "Teleport to House")
	h.engine.OnKey(state.KeyCtrl, true)
	h.engine.ArmFromLabel("Low Alchemy", h.clock.Now())

	h.engine.Stop()
	if h.engine.Running() {
		t.Fatalf("expected engine to be stopped")
	}
	if v := h.engine.EvaluateCast(direct("Teleport to House"), h.clock.Now()); v.Decision != Allow || v.Reason != ReasonStopped {
		t.Fatalf("stopped engine must allow, got %#v", v)
	}
	if _, err := h.engine.Block(context.Background(), "standard", "Varrock Teleport"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	h.start(t)
	if h.engine.modifiers.Held(state.KeyCtrl) {
		t.Fatalf("modifiers must be reset across restart")
	}
	if _, armed := h.engine.window.LastArmed(); armed {
		t.Fatalf("window must be reset across restart")
	}
	if v := h.engine.EvaluateCast(direct("Teleport to House"), h.clock.Now()); v.Decision != Allow || v.Reason != ReasonNotArmed {
		t.Fatalf("expected persisted rule with unarmed window, got %#v", v)
	}
}

func TestRulesSurviveRestart(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.block(t, "Teleport to House")
	h.block(t, "Camelot Teleport")
	h.engine.Stop()
	h.start(t)

	got := h.engine.Rules()["standard"]
	if strings.Join(got, ",") != "camelot teleport,teleport to house" {
		t.Fatalf("unexpected rules after restart: %v", got)
	}
	raw, _, _ := h.backend.Memory.Get(context.Background(), store.RuleSetKey("standard"))
	if raw != "camelot teleport,teleport to house" {
		t.Fatalf("unexpected persisted value %q", raw)
	}
}

func TestPersistFailureIsNotifiedAndKept(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.backend.failSet = true

	changed, err := h.engine.Block(context.Background(), "standard", "Teleport to House")
	if err == nil || !changed {
		t.Fatalf("expected persist error with change kept, got changed=%v err=%v", changed, err)
	}
	if h.notifier.last() == "" {
		t.Fatalf("expected the user to be notified")
	}
	if v := h.engine.EvaluateCast(direct("Teleport to House"), h.clock.Now()); v.Decision != Block {
		t.Fatalf("in-memory rule should stay ahead of storage: %#v", v)
	}
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.failGet = true
	h.start(t)
	if !h.engine.Running() {
		t.Fatalf("load failure must not prevent start")
	}
	if len(h.notifier.messages) == 0 {
		t.Fatalf("expected load failure to be notified")
	}
	if got := h.engine.Rules()["standard"]; len(got) != 0 {
		t.Fatalf("expected empty rules, got %v", got)
	}
	if got := strings.Join(h.engine.Triggers(), ", "); got != config.DefaultTriggerWords {
		t.Fatalf("expected seed trigger words, got %q", got)
	}
}

// damagedBackend reports that it discarded data when it was opened.
type damagedBackend struct {
	*store.Memory
}

func (damagedBackend) Recovered() error {
	return errors.New("decode settings: dropped unreadable keys blocked_standard")
}

func TestDamagedSettingsAreNotifiedAndStartEmpty(t *testing.T) {
	notifier := &recordingNotifier{}
	eng, err := New(Options{
		Persistence: store.NewSettings(damagedBackend{Memory: store.NewMemory()}),
		Resolver:    &fakeResolver{name: "standard"},
		Settings:    config.NewLive(config.Default()),
		Notifier:    notifier,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !eng.Running() {
		t.Fatalf("damaged settings must not prevent start")
	}
	if !strings.Contains(notifier.last(), "were reset") {
		t.Fatalf("expected damaged settings to be notified, got %v", notifier.messages)
	}
	if got := eng.Rules()["standard"]; len(got) != 0 {
		t.Fatalf("expected empty rules, got %v", got)
	}
}

func TestStoredTriggerWordsOverrideSeed(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.backend.Set(context.Background(), "trigger_words", "vengeance"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.start(t)
	if got := h.engine.Triggers(); len(got) != 1 || got[0] != "vengeance" {
		t.Fatalf("expected stored words, got %v", got)
	}
}

func TestEmptyStoredTriggerWordsStayEmpty(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.backend.Set(context.Background(), "trigger_words", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.start(t)
	if got := h.engine.Triggers(); len(got) != 0 {
		t.Fatalf("an explicitly emptied list must not be reseeded, got %v", got)
	}
}

func TestProposeMenuToggle(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	if got := h.engine.ProposeMenuToggle("Cast", "Teleport to House"); got != ToggleNone {
		t.Fatalf("offers require the reveal key, got %q", got)
	}
	h.engine.OnKey(state.KeyShift, true)
	if got := h.engine.ProposeMenuToggle("Examine", "Teleport to House"); got != ToggleNone {
		t.Fatalf("offers require the activation verb, got %q", got)
	}
	if got := h.engine.ProposeMenuToggle("cast", "Teleport to House"); got != ToggleEnableBlock {
		t.Fatalf("expected enable offer, got %q", got)
	}
	if err := h.engine.AcceptToggle(context.Background(), string(ToggleEnableBlock), "Teleport to House"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := h.engine.ProposeMenuToggle("Cast", "Teleport to House"); got != ToggleDisableBlock {
		t.Fatalf("expected disable offer, got %q", got)
	}
	if err := h.engine.AcceptToggle(context.Background(), string(ToggleDisableBlock), "Teleport to House"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := h.engine.Rules()["standard"]; len(got) != 0 {
		t.Fatalf("expected block then unblock to restore membership, got %v", got)
	}
	if len(h.engine.History()) != 0 {
		t.Fatalf("accepting a toggle must never evaluate a cast")
	}
}

func TestTriggerToggleOffers(t *testing.T) {
	h := newHarness(t, withWindow(5, ""))
	h.start(t)
	h.engine.OnKey(state.KeyShift, true)

	if got := h.engine.ProposeMenuToggle("Cast", "Vengeance"); got != ToggleAddTrigger {
		t.Fatalf("expected add trigger offer, got %q", got)
	}
	if err := h.engine.AcceptToggle(context.Background(), string(ToggleAddTrigger), "<col=00ff00>Vengeance</col>"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := h.engine.ProposeMenuToggle("Cast", "Vengeance"); got != ToggleRemoveTrigger {
		t.Fatalf("expected remove trigger offer, got %q", got)
	}
	raw, ok, _ := h.backend.Memory.Get(context.Background(), "trigger_words")
	if !ok || raw != "vengeance" {
		t.Fatalf("unexpected persisted words %q", raw)
	}
	if !h.engine.ArmFromLabel("Vengeance", h.clock.Now()) {
		t.Fatalf("expected new trigger word to arm")
	}
}

func TestNoTriggerOfferForEmptyLabel(t *testing.T) {
	h := newHarness(t, withWindow(5, ""))
	h.start(t)
	h.engine.OnKey(state.KeyShift, true)
	for _, label := range []string{"", "<col=ff9040></col>", "123 !!"} {
		if got := h.engine.ProposeMenuToggle("Cast", label); got != ToggleNone {
			t.Fatalf("label %q cleans to nothing, expected no offer, got %q", label, got)
		}
	}
}

func TestAcceptToggleRejectsUnknownOption(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	if err := h.engine.AcceptToggle(context.Background(), "Teleport", "Teleport to House"); err == nil {
		t.Fatalf("expected error for unknown toggle")
	}
}

func TestBlockUnknownContext(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	if _, err := h.engine.Block(context.Background(), "necromancy", "Teleport to House"); err == nil {
		t.Fatalf("expected unknown context error")
	}
}

func TestHistoryRecordsDecisions(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.block(t, "Teleport to House")
	h.engine.HandleAttempt(direct("Teleport to House"))
	h.engine.HandleAttempt(direct("Wind Strike"))

	history := h.engine.History()
	if len(history) != 2 {
		t.Fatalf("expected two records, got %d", len(history))
	}
	if history[0].Verdict.Decision != Block || history[1].Verdict.Reason != ReasonNotGoverned {
		t.Fatalf("unexpected history %#v", history)
	}
	snap := h.engine.collector.Snapshot()
	if snap.Totals.Blocked != 1 {
		t.Fatalf("expected one blocked decision counted, got %#v", snap.Totals)
	}
}

func TestDecisionLogWrapsAround(t *testing.T) {
	log := newDecisionLog(2)
	for _, label := range []string{"a", "b", "c"} {
		log.add(DecisionRecord{Label: label})
	}
	got := log.snapshot()
	if len(got) != 2 || got[0].Label != "b" || got[1].Label != "c" {
		t.Fatalf("unexpected ring contents %#v", got)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, withWindow(5, "alchemy"))
	h.start(t)
	h.block(t, "Teleport to House")
	h.engine.OnKey(state.KeyCtrl, true)
	h.engine.ArmFromLabel("Low Alchemy", h.clock.Now())
	h.clock.Advance(time.Second)

	st := h.engine.Status(h.clock.Now())
	if !st.Running || st.Context != "standard" || !st.Ctrl || st.Shift {
		t.Fatalf("unexpected status %#v", st)
	}
	if !st.Armed || st.Remaining != 4 || st.GuardKey != "CTRL" {
		t.Fatalf("unexpected window status %#v", st)
	}
	if len(st.Rules["standard"]) != 1 || len(st.Triggers) != 1 {
		t.Fatalf("unexpected rules/triggers %#v", st)
	}
}

func TestParseChannel(t *testing.T) {
	cases := map[string]Channel{
		"direct": ChannelDirect,
		" MENU ": ChannelMenu,
		"walk":   ChannelOther,
		"":       ChannelOther,
	}
	for in, want := range cases {
		if got := ParseChannel(in); got != want {
			t.Fatalf("ParseChannel(%q) = %q, want %q", in, got, want)
		}
	}
}

func BenchmarkEvaluateCast(b *testing.B) {
	cfg := config.Default()
	eng, err := New(Options{
		Persistence: store.NewSettings(store.NewMemory()),
		Resolver:    &fakeResolver{name: "standard"},
		Settings:    config.NewLive(cfg),
	})
	if err != nil {
		b.Fatalf("new engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		b.Fatalf("start: %v", err)
	}
	if _, err := eng.Block(context.Background(), "standard", "Teleport to House"); err != nil {
		b.Fatalf("block: %v", err)
	}
	attempt := direct("<col=ff9040>Teleport to House</col>")
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		eng.EvaluateCast(attempt, now)
	}
}
