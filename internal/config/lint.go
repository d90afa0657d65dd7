package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/castguard/castguard/internal/action"
	"github.com/castguard/castguard/internal/state"
)

// LintError describes a single configuration problem at a dotted path.
type LintError struct {
	Path    string
	Message string
}

func (e LintError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// LintFile parses path and returns every problem found. A read or decode
// failure is returned as an error rather than a lint entry.
func LintFile(path string) ([]LintError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg.Lint(), nil
}

// Lint collects every validation problem instead of stopping at the first.
func (c *Config) Lint() []LintError {
	var errs []LintError
	add := func(path, format string, args ...any) {
		errs = append(errs, LintError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	seen := map[string]struct{}{}
	for i, name := range c.Contexts {
		path := fmt.Sprintf("contexts[%d]", i)
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			add(path, "context name cannot be empty")
			continue
		}
		if strings.ContainsAny(trimmed, ",:") {
			add(path, "context name %q cannot contain ',' or ':'", trimmed)
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			add(path, "duplicate context %q", trimmed)
		}
		seen[key] = struct{}{}
	}

	if _, err := state.ParseKey(c.Guard.Key); err != nil {
		add("guard.key", "%v (want ctrl or shift)", err)
	}
	if c.Window.Seconds < state.MinWindowSeconds || c.Window.Seconds > state.MaxWindowSeconds {
		add("window.seconds", "must be between %d and %d, got %d", state.MinWindowSeconds, state.MaxWindowSeconds, c.Window.Seconds)
	}
	for i, id := range c.Triggers.Animations {
		if id < 0 {
			add(fmt.Sprintf("triggers.animations[%d]", i), "animation id cannot be negative")
		}
	}
	if len(c.Classifier.GovernedMarkers) > 0 {
		usable := false
		for _, m := range c.Classifier.GovernedMarkers {
			if action.Clean(m) != "" {
				usable = true
			}
		}
		if !usable {
			add("classifier.governedMarkers", "at least one marker must contain letters")
		}
	}
	if _, err := action.NewClassifier(c.ClassifierOptions()); err != nil {
		add("classifier.aliases", "%v", err)
	}

	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
		if c.Storage.Path == "" {
			add("storage.path", "required for driver %q", c.Storage.Driver)
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			add("storage.redis.addr", "required for driver %q", c.Storage.Driver)
		}
	case DriverMemory:
	default:
		add("storage.driver", "unknown driver %q", c.Storage.Driver)
	}
	return errs
}
