package action

import (
	"fmt"
	"sort"
	"strings"
)

// AliasGroup maps a canonical base action to the alternate surface forms
// that resolve to it.
type AliasGroup struct {
	Base       string
	Alternates []string
}

// DefaultAliasGroups mirrors the teleports whose secondary destinations are
// shown under a different name.
func DefaultAliasGroups() []AliasGroup {
	return []AliasGroup{
		{Base: "camelot teleport", Alternates: []string{"seers"}},
		{Base: "teleport to house", Alternates: []string{"outside"}},
		{Base: "varrock teleport", Alternates: []string{"grand exchange"}},
		{Base: "watchtower teleport", Alternates: []string{"yanille"}},
	}
}

// DefaultGovernedMarkers are the substrings that put a label in scope.
func DefaultGovernedMarkers() []string {
	return []string{"teleport", "tele group"}
}

// DefaultMenuVerb is the menu option that activates an action.
const DefaultMenuVerb = "Cast"

// Options configures a Classifier.
type Options struct {
	Aliases         []AliasGroup
	GovernedMarkers []string
	MenuVerb        string
}

// Classifier normalizes raw action labels into canonical ids.
type Classifier struct {
	groups   []AliasGroup
	markers  []string
	menuVerb string
}

// NewClassifier validates the alias groups and builds a classifier. An
// alternate form may belong to at most one base.
func NewClassifier(opts Options) (*Classifier, error) {
	owner := make(map[string]string)
	groups := make([]AliasGroup, 0, len(opts.Aliases))
	for _, g := range opts.Aliases {
		base := Clean(g.Base)
		if base == "" {
			return nil, fmt.Errorf("alias group base cannot be empty")
		}
		alts := make([]string, 0, len(g.Alternates))
		for _, alt := range g.Alternates {
			cleaned := Clean(alt)
			if cleaned == "" {
				return nil, fmt.Errorf("alias group %q has an empty alternate", base)
			}
			if prev, exists := owner[cleaned]; exists && prev != base {
				return nil, fmt.Errorf("alternate %q belongs to both %q and %q", cleaned, prev, base)
			}
			owner[cleaned] = base
			alts = append(alts, cleaned)
		}
		groups = append(groups, AliasGroup{Base: base, Alternates: alts})
	}
	// A base containing another group's alternate would classify differently
	// on a second pass.
	for _, g := range groups {
		for alt, base := range owner {
			if base != g.Base && strings.Contains(g.Base, alt) {
				return nil, fmt.Errorf("alias base %q contains alternate %q of %q", g.Base, alt, base)
			}
		}
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Base < groups[j].Base })

	markers := make([]string, 0, len(opts.GovernedMarkers))
	for _, m := range opts.GovernedMarkers {
		if cleaned := Clean(m); cleaned != "" {
			markers = append(markers, cleaned)
		}
	}
	verb := strings.TrimSpace(opts.MenuVerb)
	if verb == "" {
		verb = DefaultMenuVerb
	}
	return &Classifier{groups: groups, markers: markers, menuVerb: verb}, nil
}

// MustClassifier panics on invalid options. Intended for defaults and tests.
func MustClassifier(opts Options) *Classifier {
	c, err := NewClassifier(opts)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns a classifier with the built-in alias groups and markers.
func Default() *Classifier {
	return MustClassifier(Options{
		Aliases:         DefaultAliasGroups(),
		GovernedMarkers: DefaultGovernedMarkers(),
		MenuVerb:        DefaultMenuVerb,
	})
}

// Clean lowercases raw, removes <...> decoration and keeps only a-z and
// spaces, then trims. Clean(Clean(x)) == Clean(x).
func Clean(raw string) string {
	lower := strings.ToLower(raw)
	var b strings.Builder
	b.Grow(len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c == '<' {
			if end := strings.IndexByte(lower[i+1:], '>'); end >= 0 {
				i += end + 1
				continue
			}
		}
		if (c >= 'a' && c <= 'z') || c == ' ' {
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}

// Classify returns the canonical id for raw.
func (c *Classifier) Classify(raw string) string {
	return c.Resolve(Clean(raw))
}

// Resolve maps an already cleaned label onto its alias base, if any.
func (c *Classifier) Resolve(cleaned string) string {
	for _, g := range c.groups {
		for _, alt := range g.Alternates {
			if strings.Contains(cleaned, alt) {
				return g.Base
			}
		}
	}
	return cleaned
}

// Groups returns a copy of the alias groups in base order.
func (c *Classifier) Groups() []AliasGroup {
	out := make([]AliasGroup, len(c.groups))
	for i, g := range c.groups {
		out[i] = AliasGroup{Base: g.Base, Alternates: append([]string(nil), g.Alternates...)}
	}
	return out
}

// IsGoverned reports whether raw is in scope for blocking at all.
func (c *Classifier) IsGoverned(raw string) bool {
	cleaned := Clean(raw)
	for _, m := range c.markers {
		if strings.Contains(cleaned, m) {
			return true
		}
	}
	return false
}

// IsMenuVerb reports whether option is the activation verb.
func (c *Classifier) IsMenuVerb(option string) bool {
	return strings.EqualFold(strings.TrimSpace(option), c.menuVerb)
}

// MenuVerb returns the configured activation verb.
func (c *Classifier) MenuVerb() string {
	return c.menuVerb
}

// MatchesTrigger is the loose trigger policy: label contains word or word
// contains label. Two plain substring checks; empty strings never match.
func MatchesTrigger(label, word string) bool {
	if label == "" || word == "" {
		return false
	}
	return strings.Contains(label, word) || strings.Contains(word, label)
}
