package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/castguard/castguard/internal/engine"
	"github.com/castguard/castguard/internal/metrics"
	"github.com/castguard/castguard/internal/util"
)

// Engine is the subset of the decision engine exposed over the control socket.
type Engine interface {
	Now() time.Time
	Status(now time.Time) engine.Status
	History() []engine.DecisionRecord
	Rules() map[string][]string
	Block(ctx context.Context, name, label string) (bool, error)
	Unblock(ctx context.Context, name, label string) (bool, error)
	Triggers() []string
	AddTrigger(ctx context.Context, word string) (bool, error)
	RemoveTrigger(ctx context.Context, word string) (bool, error)
}

// Server hosts the castguard control socket and serves requests.
type Server struct {
	logger     *util.Logger
	collector  *metrics.Collector
	reload     func(reason string) error
	socketPath string

	mu       sync.Mutex
	engine   Engine
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates a new control server. An empty socketPath selects the
// default location.
func NewServer(eng Engine, collector *metrics.Collector, logger *util.Logger, reload func(reason string) error, socketPath string) (*Server, error) {
	if socketPath == "" {
		var err error
		socketPath, err = DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = util.NewNopLogger()
	}
	return &Server{
		engine:     eng,
		collector:  collector,
		logger:     logger,
		reload:     reload,
		socketPath: socketPath,
	}, nil
}

// SetEngine swaps the engine served after a restart.
func (s *Server) SetEngine(eng Engine) {
	s.mu.Lock()
	s.engine = eng
	s.mu.Unlock()
}

func (s *Server) currentEngine() Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Serve listens on the control socket until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.prepareSocket(); err != nil {
		return err
	}
	s.logger.Infof("control server listening on %s", s.socketPath)
	defer s.cleanup()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Errorf("control accept error: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil, context.Canceled
	}
	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (s *Server) prepareSocket() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *Server) cleanup() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	s.wg.Wait()
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnf("remove control socket: %v", err)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	dec := json.NewDecoder(conn)
	var req Request
	if err := dec.Decode(&req); err != nil {
		s.writeError(conn, fmt.Errorf("decode request: %w", err))
		return
	}
	eng := s.currentEngine()
	if eng == nil && req.Action != ActionReload && req.Action != ActionMetrics {
		s.writeError(conn, errors.New("engine not ready"))
		return
	}
	switch req.Action {
	case ActionStatus:
		s.writeOK(conn, eng.Status(eng.Now()))
	case ActionHistory:
		s.writeOK(conn, HistoryResult{Decisions: eng.History()})
	case ActionRulesList:
		s.writeOK(conn, RulesResult{Rules: eng.Rules()})
	case ActionRulesBlock, ActionRulesUnblock:
		s.handleRuleToggle(ctx, conn, eng, req)
	case ActionTriggersList:
		s.writeOK(conn, TriggersResult{Words: eng.Triggers()})
	case ActionTriggersAdd, ActionTriggersRemove:
		s.handleTriggerToggle(ctx, conn, eng, req)
	case ActionReload:
		s.handleReload(conn)
	case ActionMetrics:
		s.writeOK(conn, s.collector.Snapshot())
	default:
		s.writeError(conn, fmt.Errorf("unknown action %q", req.Action))
	}
}

func (s *Server) handleRuleToggle(ctx context.Context, conn net.Conn, eng Engine, req Request) {
	name, _ := req.Params["context"].(string)
	label, _ := req.Params["label"].(string)
	if name == "" || label == "" {
		s.writeError(conn, errors.New("context and label are required"))
		return
	}
	var (
		changed bool
		err     error
	)
	if req.Action == ActionRulesBlock {
		changed, err = eng.Block(ctx, name, label)
	} else {
		changed, err = eng.Unblock(ctx, name, label)
	}
	if err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, MutationResult{Changed: changed})
}

func (s *Server) handleTriggerToggle(ctx context.Context, conn net.Conn, eng Engine, req Request) {
	word, _ := req.Params["word"].(string)
	if word == "" {
		s.writeError(conn, errors.New("missing trigger word"))
		return
	}
	var (
		changed bool
		err     error
	)
	if req.Action == ActionTriggersAdd {
		changed, err = eng.AddTrigger(ctx, word)
	} else {
		changed, err = eng.RemoveTrigger(ctx, word)
	}
	if err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, MutationResult{Changed: changed})
}

func (s *Server) handleReload(conn net.Conn) {
	if s.reload == nil {
		s.writeError(conn, errors.New("reload not supported"))
		return
	}
	if err := s.reload("control request"); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

func (s *Server) writeOK(conn net.Conn, data any) {
	resp := Response{Status: StatusOK}
	if data != nil {
		resp.Data = data
	}
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) writeError(conn net.Conn, err error) {
	resp := Response{Status: StatusError}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = json.NewEncoder(conn).Encode(resp)
}
