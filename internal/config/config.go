package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/castguard/castguard/internal/action"
	"github.com/castguard/castguard/internal/state"
)

// Storage drivers recognised by the store package.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config is the top-level configuration document.
type Config struct {
	Contexts   []string         `yaml:"contexts"`
	Guard      GuardConfig      `yaml:"guard"`
	Window     WindowConfig     `yaml:"window"`
	Triggers   TriggersConfig   `yaml:"triggers"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Messages   MessagesConfig   `yaml:"messages"`
	Storage    StorageConfig    `yaml:"storage"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// GuardConfig controls the confirmation modifier.
type GuardConfig struct {
	Enabled           *bool  `yaml:"enabled"`
	Key               string `yaml:"key"`
	ExemptMenuChannel *bool  `yaml:"exemptMenuChannel"`
}

// WindowConfig controls the post-trigger blocking window.
type WindowConfig struct {
	Enabled bool `yaml:"enabled"`
	Seconds int  `yaml:"seconds"`
}

// TriggersConfig selects how the window is armed.
type TriggersConfig struct {
	Animations []int         `yaml:"animations"`
	Custom     CustomTrigger `yaml:"custom"`
}

// CustomTrigger enables arming from the user's word list. Words seeds the
// list when storage holds none.
type CustomTrigger struct {
	Enabled bool    `yaml:"enabled"`
	Words   *string `yaml:"words"`
}

// ClassifierConfig tunes action label classification.
type ClassifierConfig struct {
	GovernedMarkers []string       `yaml:"governedMarkers"`
	MenuVerb        string         `yaml:"menuVerb"`
	Aliases         AliasGroupsMap `yaml:"aliases"`
}

// AliasGroupsMap maps a base action to its alternate surface forms.
type AliasGroupsMap map[string][]string

// UnmarshalYAML rejects duplicate base names, which yaml.v3 would otherwise
// silently collapse into the last entry.
func (a *AliasGroupsMap) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*a = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("aliases must be a mapping")
	}
	result := make(map[string][]string, len(value.Content)/2)
	for i := 0; i < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		valNode := value.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("alias base must be a string")
		}
		name := keyNode.Value
		if _, exists := result[name]; exists {
			return fmt.Errorf("duplicate alias base %q", name)
		}
		var alts []string
		if err := valNode.Decode(&alts); err != nil {
			return fmt.Errorf("alias %q: %w", name, err)
		}
		result[name] = alts
	}
	*a = result
	return nil
}

// MessagesConfig tunes user-facing text.
type MessagesConfig struct {
	Noun string `yaml:"noun"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// TelemetryConfig toggles the local decision counters.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultContexts are the four spellbooks.
func DefaultContexts() []string {
	return []string{"standard", "ancient", "lunar", "arceuus"}
}

// DefaultTriggerWords seeds the custom list.
const DefaultTriggerWords = "high level alchemy, low level alchemy"

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a configuration document and applies defaults without
// validating it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func boolPtr(v bool) *bool { return &v }

func (c *Config) applyDefaults() {
	if len(c.Contexts) == 0 {
		c.Contexts = DefaultContexts()
	}
	if c.Guard.Enabled == nil {
		c.Guard.Enabled = boolPtr(true)
	}
	if c.Guard.Key == "" {
		c.Guard.Key = "ctrl"
	}
	if c.Guard.ExemptMenuChannel == nil {
		c.Guard.ExemptMenuChannel = boolPtr(true)
	}
	if c.Window.Seconds == 0 {
		c.Window.Seconds = 5
	}
	if c.Triggers.Animations == nil {
		c.Triggers.Animations = []int{712, 713}
	}
	if c.Triggers.Custom.Words == nil {
		words := DefaultTriggerWords
		c.Triggers.Custom.Words = &words
	}
	if len(c.Classifier.GovernedMarkers) == 0 {
		c.Classifier.GovernedMarkers = action.DefaultGovernedMarkers()
	}
	if c.Classifier.MenuVerb == "" {
		c.Classifier.MenuVerb = action.DefaultMenuVerb
	}
	if c.Classifier.Aliases == nil {
		c.Classifier.Aliases = AliasGroupsMap{}
		for _, g := range action.DefaultAliasGroups() {
			c.Classifier.Aliases[g.Base] = append([]string(nil), g.Alternates...)
		}
	}
	if c.Messages.Noun == "" {
		c.Messages.Noun = "teleport"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverFile
	}
	if c.Storage.Driver == DriverFile && c.Storage.Path == "" {
		c.Storage.Path = defaultDataPath("settings.yaml")
	}
	if c.Storage.Driver == DriverSQLite && c.Storage.Path == "" {
		c.Storage.Path = defaultDataPath("settings.db")
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "castguard:"
	}
}

func defaultDataPath(name string) string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "castguard", name)
}

// Validate performs basic sanity checks and returns the first problem.
func (c *Config) Validate() error {
	if errs := c.Lint(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// GuardEnabled reports the effective guard toggle.
func (c *Config) GuardEnabled() bool {
	return c.Guard.Enabled == nil || *c.Guard.Enabled
}

// ExemptMenuChannel reports the effective menu exemption toggle.
func (c *Config) ExemptMenuChannel() bool {
	return c.Guard.ExemptMenuChannel == nil || *c.Guard.ExemptMenuChannel
}

// GuardKey parses the configured guard key, falling back to CTRL.
func (c *Config) GuardKey() state.Key {
	key, err := state.ParseKey(c.Guard.Key)
	if err != nil {
		return state.KeyCtrl
	}
	return key
}

// TriggerWords returns the configured seed list.
func (c *Config) TriggerWords() string {
	if c.Triggers.Custom.Words == nil {
		return ""
	}
	return *c.Triggers.Custom.Words
}

// ClassifierOptions converts the classifier section. Alias groups are
// emitted in base order so the result is deterministic.
func (c *Config) ClassifierOptions() action.Options {
	bases := make([]string, 0, len(c.Classifier.Aliases))
	for base := range c.Classifier.Aliases {
		bases = append(bases, base)
	}
	sort.Strings(bases)
	groups := make([]action.AliasGroup, 0, len(bases))
	for _, base := range bases {
		groups = append(groups, action.AliasGroup{Base: base, Alternates: c.Classifier.Aliases[base]})
	}
	return action.Options{
		Aliases:         groups,
		GovernedMarkers: c.Classifier.GovernedMarkers,
		MenuVerb:        c.Classifier.MenuVerb,
	}
}

// BuildClassifier builds the action classifier described by the config.
func (c *Config) BuildClassifier() (*action.Classifier, error) {
	return action.NewClassifier(c.ClassifierOptions())
}

// ContextIndex resolves a numeric host context (e.g. a spellbook varbit)
// into a configured context name.
func (c *Config) ContextIndex(i int) (string, bool) {
	if i < 0 || i >= len(c.Contexts) {
		return "", false
	}
	return c.Contexts[i], true
}

// HasContext reports whether name is a configured context.
func (c *Config) HasContext(name string) bool {
	for _, ctx := range c.Contexts {
		if strings.EqualFold(ctx, name) {
			return true
		}
	}
	return false
}
