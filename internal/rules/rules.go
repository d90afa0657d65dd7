package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/castguard/castguard/internal/action"
)

// ErrUnknownContext is returned when a mutation names a context that has no
// rule set loaded.
var ErrUnknownContext = errors.New("unknown context")

// Persister writes a whole per-context set. Implementations must not batch.
type Persister interface {
	SaveRuleSet(ctx context.Context, name string, ids []string) error
}

// Loader reads a per-context set. A missing value yields an empty slice.
type Loader interface {
	LoadRuleSet(ctx context.Context, name string) ([]string, error)
}

// Store is the persistence collaborator for rule sets.
type Store interface {
	Loader
	Persister
}

// RuleSet is the set of blocked canonical ids for one context.
type RuleSet struct {
	Context string
	blocked map[string]struct{}
}

func newRuleSet(name string, ids []string) *RuleSet {
	rs := &RuleSet{Context: name, blocked: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			rs.blocked[id] = struct{}{}
		}
	}
	return rs
}

func (rs *RuleSet) has(id string) bool {
	_, ok := rs.blocked[id]
	return ok
}

// Members returns the blocked ids sorted ascending.
func (rs *RuleSet) Members() []string {
	out := make([]string, 0, len(rs.blocked))
	for id := range rs.blocked {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Match explains why a label is blocked.
type Match struct {
	Blocked bool   `json:"blocked"`
	ID      string `json:"id"`
	Reason  string `json:"reason,omitempty"`
	Alias   string `json:"alias,omitempty"`
}

const (
	ReasonDirect = "direct"
	ReasonAlias  = "alias"
)

// RuleSets owns one RuleSet per context.
type RuleSets struct {
	classifier *action.Classifier
	persister  Persister
	order      []string
	sets       map[string]*RuleSet
}

// New creates empty rule sets for the given contexts.
func New(classifier *action.Classifier, persister Persister, contexts []string) *RuleSets {
	r := &RuleSets{
		classifier: classifier,
		persister:  persister,
		sets:       make(map[string]*RuleSet, len(contexts)),
	}
	for _, name := range contexts {
		if _, exists := r.sets[name]; exists {
			continue
		}
		r.sets[name] = newRuleSet(name, nil)
		r.order = append(r.order, name)
	}
	return r
}

// Load replaces every context's set with the persisted value. A failed
// context is left empty; the first error is returned after all contexts
// have been attempted.
func Load(ctx context.Context, classifier *action.Classifier, store Store, contexts []string) (*RuleSets, error) {
	r := New(classifier, store, contexts)
	var firstErr error
	for _, name := range r.order {
		ids, err := store.LoadRuleSet(ctx, name)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("load rule set %s: %w", name, err)
			}
			continue
		}
		r.sets[name] = newRuleSet(name, ids)
	}
	return r, firstErr
}

// Contexts returns the context names in configuration order.
func (r *RuleSets) Contexts() []string {
	return append([]string(nil), r.order...)
}

// Members returns the blocked ids for context, or nil if unknown.
func (r *RuleSets) Members(name string) []string {
	rs, _, ok := r.resolve(name)
	if !ok {
		return nil
	}
	return rs.Members()
}

// Lookup classifies label and checks it against context. Direct membership
// of either the resolved id or the cleaned label wins; otherwise a blocked
// alias base propagates to labels containing one of its alternates.
func (r *RuleSets) Lookup(name, label string) Match {
	cleaned := action.Clean(label)
	id := r.classifier.Resolve(cleaned)
	m := Match{ID: id}
	rs, ok := r.sets[name]
	if !ok {
		return m
	}
	if rs.has(id) || rs.has(cleaned) {
		m.Blocked = true
		m.Reason = ReasonDirect
		return m
	}
	for _, g := range r.classifier.Groups() {
		if !rs.has(g.Base) {
			continue
		}
		for _, alt := range g.Alternates {
			if strings.Contains(cleaned, alt) {
				m.Blocked = true
				m.Reason = ReasonAlias
				m.Alias = g.Base
				return m
			}
		}
	}
	return m
}

// IsBlocked reports whether label is blocked under context.
func (r *RuleSets) IsBlocked(name, label string) bool {
	return r.Lookup(name, label).Blocked
}

// Block marks the canonical id of label as blocked under context and
// persists the whole set. It reports whether membership changed.
func (r *RuleSets) Block(ctx context.Context, name, label string) (bool, error) {
	return r.mutate(ctx, name, label, true)
}

// Unblock clears the canonical id of label under context. Alias groups are
// never touched.
func (r *RuleSets) Unblock(ctx context.Context, name, label string) (bool, error) {
	return r.mutate(ctx, name, label, false)
}

// resolve maps name onto a configured context, ignoring case as the host
// protocol does.
func (r *RuleSets) resolve(name string) (*RuleSet, string, bool) {
	if rs, ok := r.sets[name]; ok {
		return rs, name, true
	}
	for _, configured := range r.order {
		if strings.EqualFold(configured, name) {
			return r.sets[configured], configured, true
		}
	}
	return nil, "", false
}

func (r *RuleSets) mutate(ctx context.Context, name, label string, block bool) (bool, error) {
	rs, resolved, ok := r.resolve(name)
	if !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownContext, name)
	}
	name = resolved
	id := r.classifier.Classify(label)
	if id == "" {
		return false, fmt.Errorf("label %q has no canonical id", label)
	}
	if rs.has(id) == block {
		return false, nil
	}
	if block {
		rs.blocked[id] = struct{}{}
	} else {
		delete(rs.blocked, id)
	}
	if r.persister == nil {
		return true, nil
	}
	if err := r.persister.SaveRuleSet(ctx, name, rs.Members()); err != nil {
		return true, fmt.Errorf("persist rule set %s: %w", name, err)
	}
	return true, nil
}
