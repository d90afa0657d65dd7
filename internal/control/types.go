package control

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/castguard/castguard/internal/engine"
	"github.com/castguard/castguard/internal/metrics"
)

const (
	// SocketFileName is the filename of the control socket within the runtime dir.
	SocketFileName = "control.sock"

	// Action names supported by the control protocol.
	ActionStatus         = "status"
	ActionHistory        = "history"
	ActionRulesList      = "rules.list"
	ActionRulesBlock     = "rules.block"
	ActionRulesUnblock   = "rules.unblock"
	ActionTriggersList   = "triggers.list"
	ActionTriggersAdd    = "triggers.add"
	ActionTriggersRemove = "triggers.remove"
	ActionReload         = "reload"
	ActionMetrics        = "metrics"

	// Response statuses.
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents a control API request.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type (
	// EngineStatus mirrors engine.Status on the wire.
	EngineStatus = engine.Status
	// DecisionRecord mirrors a single decision history entry.
	DecisionRecord = engine.DecisionRecord
	// MetricsSnapshot mirrors the collector snapshot.
	MetricsSnapshot = metrics.Snapshot
)

// HistoryResult wraps the decision history.
type HistoryResult struct {
	Decisions []DecisionRecord `json:"decisions"`
}

// RulesResult lists blocked ids per context.
type RulesResult struct {
	Rules map[string][]string `json:"rules"`
}

// TriggersResult lists the trigger words.
type TriggersResult struct {
	Words []string `json:"words"`
}

// MutationResult reports whether a toggle changed anything.
type MutationResult struct {
	Changed bool `json:"changed"`
}

// DefaultSocketPath returns the expected location of the castguard control socket.
func DefaultSocketPath() (string, error) {
	if env := os.Getenv("CASTGUARD_CONTROL_SOCKET"); env != "" {
		return env, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	base := runtimeDir
	if base == "" {
		base = os.TempDir()
		if base == "" {
			return "", errors.New("no runtime directory available")
		}
	}
	return filepath.Join(base, "castguard", SocketFileName), nil
}
