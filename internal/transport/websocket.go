package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// webSocket adapts a gorilla connection to Socket and keeps it alive with
// pings.
type webSocket struct {
	conn   *websocket.Conn
	cfg    WebSocketConfig
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps an established connection. When cfg.PongWait is set the
// socket pings the peer every cfg.PingPeriod and fails the next read if no
// pong arrives within cfg.PongWait.
func NewWebSocket(conn *websocket.Conn, cfg WebSocketConfig, logger *slog.Logger) Socket {
	if logger == nil {
		logger = slog.Default()
	}

	s := &webSocket{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}

	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}
	if cfg.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		})
		if cfg.PingPeriod > 0 {
			go s.keepalive()
		}
	}

	return s
}

// Dial opens a websocket to url and wraps it.
func Dial(ctx context.Context, url string, header http.Header, cfg WebSocketConfig, logger *slog.Logger) (Socket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, cfg, logger), nil
}

func (s *webSocket) NextReader() (io.Reader, error) {
	for {
		mt, r, err := s.conn.NextReader()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return r, nil
		}
	}
}

func (s *webSocket) WriteMessage(data []byte) error {
	if s.cfg.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection.
func (s *webSocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *webSocket) keepalive() {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if s.cfg.WriteTimeout <= 0 {
				deadline = time.Now().Add(time.Second)
			}
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// IsNormalClose reports whether err is the ordinary end of a connection
// rather than a fault worth logging.
func IsNormalClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, ErrClosed)
}
