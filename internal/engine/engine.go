package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/castguard/castguard/internal/action"
	"github.com/castguard/castguard/internal/config"
	"github.com/castguard/castguard/internal/metrics"
	"github.com/castguard/castguard/internal/rules"
	"github.com/castguard/castguard/internal/state"
	"github.com/castguard/castguard/internal/util"
)

// ErrNotRunning is returned by mutators called before Start or after Stop.
var ErrNotRunning = errors.New("engine is not running")

// Persistence loads and saves rule sets and the trigger word list.
type Persistence interface {
	rules.Store
	LoadTriggerWords(ctx context.Context) (string, bool, error)
	SaveTriggerWords(ctx context.Context, words *state.TriggerWords) error
}

// recoverer is implemented by persistence that had to discard damaged data
// when it was opened.
type recoverer interface {
	Recovered() error
}

// ContextResolver reports the host's current context.
type ContextResolver interface {
	CurrentContext() (string, error)
}

// SettingsProvider returns the live configuration. It is consulted on every
// decision so reloads take effect without restarting the engine.
type SettingsProvider interface {
	Current() *config.Config
}

// Notifier delivers user-facing messages. Implementations must not call
// back into the engine.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// Options wires the engine's collaborators. Persistence, Resolver and
// Settings are required.
type Options struct {
	Persistence Persistence
	Resolver    ContextResolver
	Settings    SettingsProvider
	Notifier    Notifier
	Logger      *util.Logger
	Metrics     *metrics.Collector
	Exporter    *metrics.Exporter
	// Clock defaults to time.Now.
	Clock        func() time.Time
	HistoryLimit int
}

// Engine decides whether intercepted cast attempts go through. All entry
// points serialize on one mutex; evaluation performs no I/O.
type Engine struct {
	persistence Persistence
	resolver    ContextResolver
	settings    SettingsProvider
	notifier    Notifier
	logger      *util.Logger
	collector   *metrics.Collector
	exporter    *metrics.Exporter
	clock       func() time.Time

	mu         sync.Mutex
	running    bool
	classifier *action.Classifier
	modifiers  state.Modifiers
	window     state.Window
	triggers   *state.TriggerWords
	rules      *rules.RuleSets
	history    *decisionLog
}

// New creates a stopped engine.
func New(opts Options) (*Engine, error) {
	if opts.Persistence == nil {
		return nil, errors.New("engine: persistence is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("engine: context resolver is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("engine: settings provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.NewNopLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(string) {})
	}
	return &Engine{
		persistence: opts.Persistence,
		resolver:    opts.Resolver,
		settings:    opts.Settings,
		notifier:    notifier,
		logger:      logger,
		collector:   opts.Metrics,
		exporter:    opts.Exporter,
		clock:       clock,
		history:     newDecisionLog(opts.HistoryLimit),
	}, nil
}

// Start loads every configured context's rule set and the trigger word
// list. Load failures are reported to the user and leave the affected set
// empty; Start itself only fails on an unusable configuration.
func (e *Engine) Start(ctx context.Context) error {
	cfg := e.settings.Current()
	classifier, err := cfg.BuildClassifier()
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}

	if r, ok := e.persistence.(recoverer); ok {
		if err := r.Recovered(); err != nil {
			e.logger.Warnf("saved settings were damaged, continuing without them: %v", err)
			e.notifier.Notify("castguard could not read some saved settings; they were reset.")
		}
	}

	sets, loadErr := rules.Load(ctx, classifier, e.persistence, cfg.Contexts)
	if loadErr != nil {
		e.logger.Errorf("%v", loadErr)
		e.notifier.Notify("castguard could not load saved rules; starting with none.")
	}

	triggers := state.ParseTriggerWords(cfg.TriggerWords())
	raw, ok, err := e.persistence.LoadTriggerWords(ctx)
	switch {
	case err != nil:
		e.logger.Errorf("load trigger words: %v", err)
		e.notifier.Notify("castguard could not load saved trigger words; using defaults.")
	case ok:
		triggers = state.ParseTriggerWords(raw)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.classifier = classifier
	e.rules = sets
	e.triggers = triggers
	e.modifiers.Reset()
	e.window.Reset()
	e.running = true
	e.logger.Infof("engine started with %d contexts, %d trigger words", len(cfg.Contexts), triggers.Len())
	return nil
}

// Stop clears all in-memory state. Persisted settings are untouched.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	e.modifiers.Reset()
	e.window.Reset()
	e.rules = nil
	e.triggers = nil
	e.logger.Infof("engine stopped")
}

// Running reports whether Start has completed and Stop has not been called.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// OnKey records a guard key transition.
func (e *Engine) OnKey(key state.Key, pressed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modifiers.Set(key, pressed)
}

// OnAnimation arms the window when the local player performs one of the
// configured animations. It is inert while the custom word policy is
// selected or windowing is disabled.
func (e *Engine) OnAnimation(id int, local bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || !local {
		return false
	}
	cfg := e.settings.Current()
	if !cfg.Window.Enabled || cfg.Triggers.Custom.Enabled {
		return false
	}
	for _, anim := range cfg.Triggers.Animations {
		if anim == id {
			now := e.clock()
			e.armLocked(now, armSourceAnimation, strconv.Itoa(id))
			return true
		}
	}
	return false
}

// ArmFromLabel arms the window when the canonical id of label matches a
// trigger word under the custom word policy.
func (e *Engine) ArmFromLabel(label string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armFromLabelLocked(label, now)
}

const (
	armSourceAnimation = "animation"
	armSourceWord      = "word"
)

func (e *Engine) armFromLabelLocked(label string, now time.Time) bool {
	if !e.running {
		return false
	}
	cfg := e.settings.Current()
	if !cfg.Window.Enabled || !cfg.Triggers.Custom.Enabled {
		return false
	}
	word, ok := e.triggers.Match(e.classifier.Classify(label))
	if !ok {
		return false
	}
	e.armLocked(now, armSourceWord, word)
	return true
}

func (e *Engine) armLocked(now time.Time, source, detail string) {
	e.window.Arm(now)
	e.collector.RecordArm(source)
	e.exporter.ObserveArm(source)
	e.trace("trigger.armed", map[string]any{
		"source": source,
		"detail": detail,
		"at":     now,
	})
}

func (e *Engine) trace(event string, fields map[string]any) {
	if e.logger == nil || !e.logger.Enabled(util.LevelTrace) {
		return
	}
	e.logger.Tracef("%s %s", event, formatTraceFields(fields))
}

func formatTraceFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		val, err := json.Marshal(fields[k])
		if err != nil {
			b.WriteString(strconv.Quote(fmt.Sprintf("<marshal error: %v>", err)))
			continue
		}
		b.Write(val)
	}
	b.WriteByte('}')
	return b.String()
}
