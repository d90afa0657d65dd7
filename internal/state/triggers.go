package state

import (
	"sort"
	"strings"

	"github.com/castguard/castguard/internal/action"
)

// TriggerWords is the user's custom arming list. Entries are trimmed and
// lowercased; the zero value is an empty list.
type TriggerWords struct {
	words map[string]struct{}
}

// ParseTriggerWords splits a comma-delimited list. Empty input yields an
// empty list.
func ParseTriggerWords(raw string) *TriggerWords {
	t := &TriggerWords{words: make(map[string]struct{})}
	for _, part := range strings.Split(raw, ",") {
		t.Add(part)
	}
	return t
}

func normalizeWord(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

// Add inserts word and reports whether the list changed.
func (t *TriggerWords) Add(word string) bool {
	w := normalizeWord(word)
	if w == "" {
		return false
	}
	if t.words == nil {
		t.words = make(map[string]struct{})
	}
	if _, exists := t.words[w]; exists {
		return false
	}
	t.words[w] = struct{}{}
	return true
}

// Remove deletes word and reports whether the list changed.
func (t *TriggerWords) Remove(word string) bool {
	w := normalizeWord(word)
	if _, exists := t.words[w]; !exists {
		return false
	}
	delete(t.words, w)
	return true
}

func (t *TriggerWords) Contains(word string) bool {
	if t == nil {
		return false
	}
	_, ok := t.words[normalizeWord(word)]
	return ok
}

func (t *TriggerWords) Len() int {
	if t == nil {
		return 0
	}
	return len(t.words)
}

// Words returns the entries sorted ascending.
func (t *TriggerWords) Words() []string {
	if t == nil || len(t.words) == 0 {
		return nil
	}
	out := make([]string, 0, len(t.words))
	for w := range t.words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// String is the persisted form: sorted, joined by ", ".
func (t *TriggerWords) String() string {
	return strings.Join(t.Words(), ", ")
}

// Match finds the first entry (in sorted order) that matches the cleaned
// label under the loose trigger policy.
func (t *TriggerWords) Match(label string) (string, bool) {
	for _, w := range t.Words() {
		if action.MatchesTrigger(label, w) {
			return w, true
		}
	}
	return "", false
}
