package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/castguard/castguard/internal/state"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := strings.Join(cfg.Contexts, ","); got != "standard,ancient,lunar,arceuus" {
		t.Fatalf("unexpected default contexts %q", got)
	}
	if !cfg.GuardEnabled() || !cfg.ExemptMenuChannel() {
		t.Fatalf("guard and menu exemption should default on: %+v", cfg.Guard)
	}
	if cfg.GuardKey() != state.KeyCtrl {
		t.Fatalf("expected CTRL guard key, got %v", cfg.GuardKey())
	}
	if cfg.Window.Enabled || cfg.Window.Seconds != 5 {
		t.Fatalf("unexpected window defaults: %+v", cfg.Window)
	}
	if cfg.TriggerWords() != DefaultTriggerWords {
		t.Fatalf("unexpected trigger words %q", cfg.TriggerWords())
	}
	if len(cfg.Classifier.Aliases) != 4 {
		t.Fatalf("expected four default alias groups, got %d", len(cfg.Classifier.Aliases))
	}
	if cfg.Storage.Driver != DriverFile || cfg.Storage.Path == "" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestParseExplicitFalseSurvivesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
guard:
  enabled: false
  key: shift
  exemptMenuChannel: false
triggers:
  custom:
    enabled: true
    words: ""
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.GuardEnabled() || cfg.ExemptMenuChannel() {
		t.Fatalf("explicit false overridden: %+v", cfg.Guard)
	}
	if cfg.GuardKey() != state.KeyShift {
		t.Fatalf("expected SHIFT guard key")
	}
	if cfg.TriggerWords() != "" {
		t.Fatalf("explicit empty word list overridden: %q", cfg.TriggerWords())
	}
}

func TestAliasDuplicateDetection(t *testing.T) {
	data := []byte(`
classifier:
  aliases:
    varrock teleport: [grand exchange]
    varrock teleport: [market]
`)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err == nil {
		t.Fatalf("expected duplicate alias error during unmarshal")
	}
}

func TestLintCollectsEveryProblem(t *testing.T) {
	cfg, err := Parse([]byte(`
contexts: [standard, Standard, ""]
guard:
  key: alt
window:
  seconds: 601
classifier:
  aliases:
    varrock teleport: [grand exchange]
    other teleport: [grand exchange]
storage:
  driver: redis
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	errs := cfg.Lint()
	paths := map[string]bool{}
	for _, e := range errs {
		paths[e.Path] = true
	}
	for _, want := range []string{"contexts[1]", "contexts[2]", "guard.key", "window.seconds", "classifier.aliases", "storage.redis.addr"} {
		if !paths[want] {
			t.Fatalf("expected lint error at %s, got %v", want, errs)
		}
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLintFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: etcd\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	errs, err := LintFile(path)
	if err != nil {
		t.Fatalf("lint file: %v", err)
	}
	if len(errs) != 1 || errs[0].Path != "storage.driver" {
		t.Fatalf("unexpected lint errors: %v", errs)
	}
	if _, err := LintFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestContextIndex(t *testing.T) {
	cfg := Default()
	if name, ok := cfg.ContextIndex(2); !ok || name != "lunar" {
		t.Fatalf("ContextIndex(2) = %q, %v", name, ok)
	}
	if _, ok := cfg.ContextIndex(9); ok {
		t.Fatalf("expected out of range index to fail")
	}
	if !cfg.HasContext("Ancient") {
		t.Fatalf("expected case-insensitive context lookup")
	}
}

func TestLiveSwap(t *testing.T) {
	live := NewLive(nil)
	first := live.Current()
	next := Default()
	next.Window.Seconds = 9
	if prev := live.Store(next); prev != first {
		t.Fatalf("Store should return previous document")
	}
	if live.Current().Window.Seconds != 9 {
		t.Fatalf("expected swapped document")
	}
}
