package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udisondev/realmsync/internal/action"
	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
)

// Default connection limits. Overridden by Config values when set.
const (
	defaultSendQueueSize  = 256
	defaultWriteTimeout   = 5 * time.Second
	defaultReadTimeout    = 60 * time.Second
	defaultMaxMessageSize = 64 << 10
)

var (
	// ErrUnknownSubscription is returned for replace/unsubscribe of a sub the
	// connection does not hold.
	ErrUnknownSubscription = errors.New("unknown subscription")
	// ErrBadMessage is returned for malformed or unknown messages.
	ErrBadMessage = errors.New("bad message")
	// ErrSlowConsumer is returned when a connection's send queue is full.
	ErrSlowConsumer = errors.New("send queue full")
)

// Config configures the websocket server.
type Config struct {
	Path           string        `yaml:"path"`
	SendQueueSize  int           `yaml:"send_queue_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// DefaultConfig returns the default server limits.
func DefaultConfig() Config {
	return Config{
		Path:           "/ws",
		SendQueueSize:  defaultSendQueueSize,
		WriteTimeout:   defaultWriteTimeout,
		ReadTimeout:    defaultReadTimeout,
		MaxMessageSize: defaultMaxMessageSize,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
}

// Server accepts websocket connections. Each connection is one player:
// its identity is derived from the connection token, connecting marks the
// player online and closing the connection marks it offline.
type Server struct {
	cfg      Config
	store    *store.Store
	actions  *action.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[model.Identity]*session
	listener net.Listener
	closing  bool
	wg       sync.WaitGroup

	connected atomic.Int64
}

// NewServer creates a server over st and actions.
func NewServer(st *store.Store, actions *action.Service, cfg Config, logger *slog.Logger) *Server {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   st,
		actions: actions,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[model.Identity]*session),
	}
}

// ObserverCount returns the number of connected players.
func (s *Server) ObserverCount() int {
	return int(s.connected.Load())
}

// Addr returns the listening address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled, then closes
// every connection and waits for their teardown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	hs := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway started", "address", ln.Addr(), "path", s.cfg.Path)
		errCh <- hs.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving websocket: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
	s.closeAll()
	s.wg.Wait()
	s.logger.Info("gateway stopped")
	return nil
}

func (s *Server) closeAll() {
	s.mu.Lock()
	s.closing = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.closeAsync()
	}
}

// ServeHTTP upgrades the request. The token is read from the "token" query
// parameter or a bearer Authorization header; "name" is optional.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenFrom(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	id := model.IdentityFromToken([]byte(token))

	sess := newSession(s, id, s.cfg.SendQueueSize)
	if err := s.register(sess); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.unregister(sess)
		s.logger.Warn("upgrade failed", "player", id.Short(), "error", err)
		return
	}
	sess.attach(ws)

	ctx := r.Context()
	if _, err := s.actions.Connect(ctx, id, r.URL.Query().Get("name")); err != nil {
		s.logger.Error("connect player", "player", id.Short(), "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "connect failed"),
			time.Now().Add(s.cfg.WriteTimeout))
		ws.Close()
		s.unregister(sess)
		return
	}

	s.connected.Add(1)
	go sess.writePump()

	sess.readLoop(ctx)

	sess.teardown()
	s.connected.Add(-1)
	s.unregister(sess)

	// the request context may be gone; disconnect still has to persist
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.actions.Disconnect(dctx, id); err != nil {
		s.logger.Error("disconnect player", "player", id.Short(), "error", err)
	}
}

func (s *Server) register(sess *session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return errors.New("server shutting down")
	}
	if _, ok := s.sessions[sess.id]; ok {
		return errors.New("identity already connected")
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	return nil
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.id] == sess {
		delete(s.sessions, sess.id)
	}
}

func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
