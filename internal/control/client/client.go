package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/castguard/castguard/internal/control"
)

const (
	// defaultTimeout is used when the caller does not provide a context deadline.
	defaultTimeout = 3 * time.Second
)

// Client talks to the running castguard daemon over its control socket.
type Client struct {
	socketPath string
}

type (
	// Status mirrors the engine status returned by the daemon.
	Status = control.EngineStatus
	// DecisionRecord mirrors a single decision history entry.
	DecisionRecord = control.DecisionRecord
	// MetricsSnapshot mirrors the daemon's local decision counters.
	MetricsSnapshot = control.MetricsSnapshot
)

// New creates a client that connects to the provided socket path. When path is
// empty, the default runtime path is used.
func New(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = control.DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Status retrieves the engine's live state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.do(ctx, control.Request{Action: control.ActionStatus}, &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// History retrieves the most recent decisions, oldest first.
func (c *Client) History(ctx context.Context) ([]DecisionRecord, error) {
	var result control.HistoryResult
	if err := c.do(ctx, control.Request{Action: control.ActionHistory}, &result); err != nil {
		return nil, err
	}
	return result.Decisions, nil
}

// Rules lists the blocked ids of every context.
func (c *Client) Rules(ctx context.Context) (map[string][]string, error) {
	var result control.RulesResult
	if err := c.do(ctx, control.Request{Action: control.ActionRulesList}, &result); err != nil {
		return nil, err
	}
	return result.Rules, nil
}

// Block adds label to the named context's rule set.
func (c *Client) Block(ctx context.Context, contextName, label string) (bool, error) {
	return c.toggleRule(ctx, control.ActionRulesBlock, contextName, label)
}

// Unblock removes label from the named context's rule set.
func (c *Client) Unblock(ctx context.Context, contextName, label string) (bool, error) {
	return c.toggleRule(ctx, control.ActionRulesUnblock, contextName, label)
}

func (c *Client) toggleRule(ctx context.Context, action, contextName, label string) (bool, error) {
	if contextName == "" {
		return false, errors.New("context cannot be empty")
	}
	if label == "" {
		return false, errors.New("label cannot be empty")
	}
	params := map[string]any{"context": contextName, "label": label}
	var result control.MutationResult
	if err := c.do(ctx, control.Request{Action: action, Params: params}, &result); err != nil {
		return false, err
	}
	return result.Changed, nil
}

// Triggers lists the custom trigger words.
func (c *Client) Triggers(ctx context.Context) ([]string, error) {
	var result control.TriggersResult
	if err := c.do(ctx, control.Request{Action: control.ActionTriggersList}, &result); err != nil {
		return nil, err
	}
	return result.Words, nil
}

// AddTrigger adds word to the trigger list.
func (c *Client) AddTrigger(ctx context.Context, word string) (bool, error) {
	return c.toggleTrigger(ctx, control.ActionTriggersAdd, word)
}

// RemoveTrigger removes word from the trigger list.
func (c *Client) RemoveTrigger(ctx context.Context, word string) (bool, error) {
	return c.toggleTrigger(ctx, control.ActionTriggersRemove, word)
}

func (c *Client) toggleTrigger(ctx context.Context, action, word string) (bool, error) {
	if word == "" {
		return false, errors.New("trigger word cannot be empty")
	}
	var result control.MutationResult
	if err := c.do(ctx, control.Request{Action: action, Params: map[string]any{"word": word}}, &result); err != nil {
		return false, err
	}
	return result.Changed, nil
}

// Reload asks the daemon to reload its configuration.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionReload}, nil)
}

// Metrics retrieves the daemon's local decision counters.
func (c *Client) Metrics(ctx context.Context) (MetricsSnapshot, error) {
	var snapshot MetricsSnapshot
	if err := c.do(ctx, control.Request{Action: control.ActionMetrics}, &snapshot); err != nil {
		return MetricsSnapshot{}, err
	}
	return snapshot, nil
}

func (c *Client) do(ctx context.Context, req control.Request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != control.StatusOK {
		if resp.Error == "" {
			resp.Error = "unknown control error"
		}
		return errors.New(resp.Error)
	}
	if out == nil || resp.Data == nil {
		return nil
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
