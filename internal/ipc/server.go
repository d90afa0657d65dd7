package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/castguard/castguard/internal/engine"
	"github.com/castguard/castguard/internal/state"
	"github.com/castguard/castguard/internal/util"
)

// HookSocketFileName is the filename of the hook socket within the runtime dir.
const HookSocketFileName = "hook.sock"

// notifyWriteTimeout bounds each unsolicited message write.
const notifyWriteTimeout = 500 * time.Millisecond

// Engine is the subset of the decision engine the hook server drives.
type Engine interface {
	HandleAttempt(attempt engine.Attempt) engine.Verdict
	OnKey(key state.Key, pressed bool)
	OnAnimation(id int, local bool) bool
	ProposeMenuToggle(option, label string) engine.ToggleOffer
	AcceptToggle(ctx context.Context, option, label string) error
}

// Server accepts host connections on the hook socket. Lines from one
// connection are handled strictly in order and each gets exactly one reply.
type Server struct {
	engine     Engine
	host       *HostContext
	logger     *util.Logger
	socketPath string

	// notifyTimeout bounds unsolicited writes to each host.
	notifyTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    map[*hookConn]struct{}
	wg       sync.WaitGroup
}

type hookConn struct {
	conn net.Conn
	wmu  sync.Mutex
	w    *bufio.Writer
}

func (c *hookConn) writeLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.WriteString(line + "\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

// writeUnsolicited writes line with a deadline so a host that stopped
// reading cannot hold up the connection that triggered the broadcast.
func (c *hookConn) writeUnsolicited(line string, timeout time.Duration) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer c.conn.SetWriteDeadline(time.Time{})
	if _, err := c.w.WriteString(line + "\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

// NewServer creates a hook server bound to socketPath, or the default path
// when empty.
func NewServer(eng Engine, host *HostContext, logger *util.Logger, socketPath string) (*Server, error) {
	if socketPath == "" {
		var err error
		socketPath, err = DefaultHookSocketPath()
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = util.NewNopLogger()
	}
	return &Server{
		engine:        eng,
		host:          host,
		logger:        logger,
		socketPath:    socketPath,
		notifyTimeout: notifyWriteTimeout,
		conns:         make(map[*hookConn]struct{}),
	}, nil
}

// SetEngine swaps the engine new connections and lines are dispatched to.
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

// Serve listens until ctx is cancelled, then closes every host connection
// and waits for their handlers to return.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.prepareSocket(); err != nil {
		return err
	}
	s.logger.Infof("hook server listening on %s", s.socketPath)
	defer s.cleanup()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		s.closeAll()
	}()

	for {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener == nil {
			return nil
		}
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Errorf("hook accept error: %v", err)
			continue
		}
		hc := &hookConn{conn: conn, w: bufio.NewWriter(conn)}
		s.mu.Lock()
		s.conns[hc] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, hc)
		}()
	}
}

func (s *Server) prepareSocket() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create hook dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on hook socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod hook socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *Server) closeAll() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for hc := range s.conns {
		hc.conn.Close()
	}
	s.mu.Unlock()
}

func (s *Server) cleanup() {
	s.closeAll()
	s.wg.Wait()
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnf("remove hook socket: %v", err)
	}
}

func (s *Server) serveConn(ctx context.Context, hc *hookConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, hc)
		s.mu.Unlock()
		hc.conn.Close()
	}()
	s.logger.Debugf("host connected")
	scanner := bufio.NewScanner(hc.conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		reply := s.dispatch(ctx, ParseEvent(line))
		if err := hc.writeLine(reply.String()); err != nil {
			s.logger.Warnf("hook write failed: %v", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warnf("hook stream error: %v", err)
	}
	s.logger.Debugf("host disconnected")
}

func (s *Server) dispatch(ctx context.Context, ev Event) Event {
	eng := s.currentEngine()
	if eng == nil && ev.Kind != KindPing {
		return errorReply(errors.New("engine not ready"))
	}
	switch ev.Kind {
	case KindPing:
		return Event{Kind: ReplyPong}
	case KindKeyDown, KindKeyUp:
		key, err := state.ParseKey(ev.Payload)
		if err != nil {
			return errorReply(err)
		}
		eng.OnKey(key, ev.Kind == KindKeyDown)
		return Event{Kind: ReplyOK}
	case KindContext:
		if err := s.host.Report(ev.Payload); err != nil {
			return errorReply(err)
		}
		return Event{Kind: ReplyOK}
	case KindAttempt:
		attempt, err := ParseAttempt(ev.Payload)
		if err != nil {
			return errorReply(err)
		}
		v := eng.HandleAttempt(attempt)
		if v.Blocked() {
			return Event{Kind: ReplyBlock, Payload: sanitizeLine(v.Message)}
		}
		return Event{Kind: ReplyAllow}
	case KindMenu:
		option, label, err := ParseOptionLabel(ev.Payload)
		if err != nil {
			return errorReply(err)
		}
		offer := eng.ProposeMenuToggle(option, label)
		if offer == engine.ToggleNone {
			return Event{Kind: ReplyNone}
		}
		return Event{Kind: ReplyOffer, Payload: string(offer)}
	case KindAccept:
		option, label, err := ParseOptionLabel(ev.Payload)
		if err != nil {
			return errorReply(err)
		}
		if err := eng.AcceptToggle(ctx, option, label); err != nil {
			return errorReply(err)
		}
		return Event{Kind: ReplyOK}
	case KindAnimation:
		id, local, err := ParseAnimation(ev.Payload)
		if err != nil {
			return errorReply(err)
		}
		eng.OnAnimation(id, local)
		return Event{Kind: ReplyOK}
	default:
		return errorReply(fmt.Errorf("unknown event %q", ev.Kind))
	}
}

// HandleLine dispatches one hook line without a connection and returns the
// reply in wire form.
func (s *Server) HandleLine(ctx context.Context, line string) string {
	return s.dispatch(ctx, ParseEvent(line)).String()
}

func errorReply(err error) Event {
	return Event{Kind: ReplyError, Payload: sanitizeLine(err.Error())}
}

// Notify sends an unsolicited `message>>text` line to every connected host.
func (s *Server) Notify(message string) {
	line := Event{Kind: KindMessage, Payload: sanitizeLine(message)}.String()
	s.mu.Lock()
	conns := make([]*hookConn, 0, len(s.conns))
	for hc := range s.conns {
		conns = append(conns, hc)
	}
	s.mu.Unlock()
	for _, hc := range conns {
		if err := hc.writeUnsolicited(line, s.notifyTimeout); err != nil {
			s.logger.Warnf("dropping host that is not reading: %v", err)
			hc.conn.Close()
		}
	}
}

// DefaultHookSocketPath returns the expected location of the hook socket.
func DefaultHookSocketPath() (string, error) {
	if env := os.Getenv("CASTGUARD_HOOK_SOCKET"); env != "" {
		return env, nil
	}
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = os.TempDir()
		if base == "" {
			return "", errors.New("no runtime directory available")
		}
	}
	return filepath.Join(base, "castguard", HookSocketFileName), nil
}

var _ engine.Notifier = (*Server)(nil)
