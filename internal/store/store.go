// Package store persists rule sets and the trigger word list. Every value is
// a single delimited string under a flat key, so any key/value backend can
// hold it.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/castguard/castguard/internal/config"
	"github.com/castguard/castguard/internal/rules"
	"github.com/castguard/castguard/internal/state"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

const (
	ruleSetKeyPrefix = "blocked_"
	triggerWordsKey  = "trigger_words"
)

// Backend is a flat string key/value store. Get reports ok=false for a
// missing key; implementations must not reorder writes to the same key.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Settings adapts a Backend to the engine's persistence port.
type Settings struct {
	backend Backend
}

func NewSettings(backend Backend) *Settings {
	return &Settings{backend: backend}
}

// Recovered reports a backend that started from damaged data, if the
// backend tracks that at all.
func (s *Settings) Recovered() error {
	if r, ok := s.backend.(interface{ Recovered() error }); ok {
		return r.Recovered()
	}
	return nil
}

// RuleSetKey is the storage key for a context's rule set.
func RuleSetKey(context string) string {
	return ruleSetKeyPrefix + context
}

// LoadRuleSet returns the persisted ids for context. Missing or empty values
// decode to an empty set.
func (s *Settings) LoadRuleSet(ctx context.Context, name string) ([]string, error) {
	raw, _, err := s.backend.Get(ctx, RuleSetKey(name))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", RuleSetKey(name), err)
	}
	return rules.Decode(raw), nil
}

// SaveRuleSet writes the whole set for context as one comma-joined value.
func (s *Settings) SaveRuleSet(ctx context.Context, name string, ids []string) error {
	if err := s.backend.Set(ctx, RuleSetKey(name), rules.Encode(ids)); err != nil {
		return fmt.Errorf("set %s: %w", RuleSetKey(name), err)
	}
	return nil
}

// LoadTriggerWords returns the persisted list and whether one was stored at
// all, so callers can fall back to a configured seed.
func (s *Settings) LoadTriggerWords(ctx context.Context) (string, bool, error) {
	raw, ok, err := s.backend.Get(ctx, triggerWordsKey)
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", triggerWordsKey, err)
	}
	return raw, ok, nil
}

// SaveTriggerWords writes the list sorted and joined by ", ".
func (s *Settings) SaveTriggerWords(ctx context.Context, words *state.TriggerWords) error {
	if err := s.backend.Set(ctx, triggerWordsKey, words.String()); err != nil {
		return fmt.Errorf("set %s: %w", triggerWordsKey, err)
	}
	return nil
}

func (s *Settings) Close() error {
	return s.backend.Close()
}

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case config.DriverFile:
		return NewFile(cfg.Path)
	case config.DriverSQLite:
		return OpenSQLite(cfg.Path)
	case config.DriverRedis:
		return OpenRedis(ctx, cfg.Redis)
	case config.DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, cfg.Driver)
	}
}
