package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/msgrouter/internal/message"
	"github.com/rickgao/msgrouter/internal/router"
	"github.com/rickgao/msgrouter/internal/transport"
)

// Errors
var (
	ErrServerClosed = errors.New("server closed")
)

// Config holds server settings.
type Config struct {
	InstanceID      string
	ListenAddr      string
	WSPath          string
	HealthPath      string
	StatsPath       string
	AllowedOrigins  []string // Empty allows any origin
	ShutdownTimeout time.Duration

	Transport transport.Config
	WebSocket transport.WebSocketConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		WSPath:          "/ws",
		HealthPath:      "/health",
		StatsPath:       "/debug/stats",
		ShutdownTimeout: 10 * time.Second,
		Transport:       transport.DefaultConfig(),
		WebSocket:       transport.DefaultWebSocketConfig(),
	}
}

// Pinger is a dependency whose reachability is part of the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a component to the health check. A failing component
// marks the server unhealthy.
func WithHealthCheck(name string, p Pinger) Option {
	return func(s *Server) {
		s.checks[name] = p
	}
}

// WithStats adds a section to the stats endpoint.
func WithStats(name string, fn func() any) Option {
	return func(s *Server) {
		s.stats[name] = fn
	}
}

// Server accepts WebSocket clients and attaches them to a router.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	router   router.Router
	upgrader websocket.Upgrader
	checks   map[string]Pinger
	stats    map[string]func() any

	httpServer *http.Server
	listener   net.Listener
	serveDone  chan struct{}

	// Lifecycle of attached connections
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	conns  map[string]*transport.Conn
	wg     sync.WaitGroup
}

// New creates a server for r. Nothing listens until Start.
func New(cfg Config, r router.Router, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Transport.Handshake = true

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: r,
		checks: make(map[string]Pinger),
		stats:  make(map[string]func() any),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*transport.Conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler serving the WebSocket, health and stats
// endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WSPath, s.serveWS)
	if s.cfg.HealthPath != "" {
		mux.HandleFunc(s.cfg.HealthPath, s.serveHealth)
	}
	if s.cfg.StatsPath != "" {
		mux.HandleFunc(s.cfg.StatsPath, s.serveStats)
	}
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}

	s.listener = l
	s.serveDone = make(chan struct{})
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer close(s.serveDone)
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("server listening",
		"addr", l.Addr().String(),
		"ws_path", s.cfg.WSPath,
	)
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener, closes every attached connection after flushing
// what is already queued, and waits for them or for ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.router.Close()
	s.cancel()

	var err error
	if s.httpServer != nil {
		if serr := s.httpServer.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("http shutdown: %w", serr)
		}
		<-s.serveDone
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("connections still open at shutdown", "count", s.ConnectionCount())
		return errors.Join(err, fmt.Errorf("wait for connections: %w", ctx.Err()))
	}

	s.logger.Info("server stopped")
	return err
}

// ConnectionCount returns the number of attached sockets, connected or not.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Connections returns a snapshot of every attached connection.
func (s *Server) Connections() []transport.Stats {
	s.mu.Lock()
	conns := make([]*transport.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	out := make([]transport.Stats, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Stats())
	}
	slices.SortFunc(out, func(a, b transport.Stats) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	socket := transport.NewWebSocket(ws, s.cfg.WebSocket, s.logger)
	conn := transport.NewConn(socket, transport.HandlerFuncs{
		OnMessage: s.handleMessage,
		OnClose:   s.handleClose,
	}, s.cfg.Transport, s.logger)

	if !s.track(conn) {
		conn.Send(&message.ErrorMessage{
			Name:    message.NameConnectionClosed,
			Message: ErrServerClosed.Error(),
		})
		conn.Start(context.Background())
		conn.Close()
		return
	}

	s.logger.Debug("client attached", "conn_id", conn.ID(), "remote", r.RemoteAddr)
	conn.Start(s.ctx)
}

func (s *Server) handleMessage(c *transport.Conn, m message.Message) {
	s.router.Handle(c, m)
}

func (s *Server) handleClose(c *transport.Conn) {
	s.router.Disconnect(c)
}

// track registers conn until it is done. It reports false once the server is
// stopping.
func (s *Server) track(conn *transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	s.conns[conn.ID()] = conn
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-conn.Done()
		s.mu.Lock()
		delete(s.conns, conn.ID())
		s.mu.Unlock()
	}()
	return true
}
