package transport

import (
	"errors"
	"io"
	"time"

	"github.com/rickgao/msgrouter/internal/message"
	"github.com/rickgao/msgrouter/internal/queue"
)

// Errors
var (
	ErrClosed = errors.New("connection closed")
)

// State is the lifecycle position of a Conn. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Socket is a message-oriented duplex stream. Each reader returned by
// NextReader yields exactly one logical message; WriteMessage sends one.
//
// NextReader is only called from the receive loop and WriteMessage only from
// the send loop, so implementations need not serialize either against itself.
// Close must unblock a pending NextReader.
type Socket interface {
	NextReader() (io.Reader, error)
	WriteMessage(data []byte) error
	Close() error
}

// Handler receives the decoded traffic of a Conn.
//
// HandleMessage is called from the receive loop, one message at a time and in
// arrival order. HandleClose is called exactly once when the connection
// starts closing, before the socket is closed, and never concurrently with
// HandleMessage. No HandleMessage call follows it.
type Handler interface {
	HandleMessage(c *Conn, m message.Message)
	HandleClose(c *Conn)
}

// HandlerFuncs adapts two functions to Handler. Nil members are no-ops.
type HandlerFuncs struct {
	OnMessage func(c *Conn, m message.Message)
	OnClose   func(c *Conn)
}

func (h HandlerFuncs) HandleMessage(c *Conn, m message.Message) {
	if h.OnMessage != nil {
		h.OnMessage(c, m)
	}
}

func (h HandlerFuncs) HandleClose(c *Conn) {
	if h.OnClose != nil {
		h.OnClose(c)
	}
}

// Config configures a Conn.
type Config struct {
	// Handshake makes the connection start in StateConnecting and refuse
	// everything but a connect message until one arrives. Clients leave it
	// off and start open.
	Handshake bool

	// QueueCapacity is the initial size of the outbound queue. The queue
	// grows without limit.
	QueueCapacity int

	// MaxRetainedBuffer caps the receive buffer kept between messages.
	// A larger message is still read, but its buffer is released afterwards.
	MaxRetainedBuffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:     64,
		MaxRetainedBuffer: 1 << 20,
	}
}

// WebSocketConfig configures the gorilla/websocket adapter.
type WebSocketConfig struct {
	ReadLimit    int64         // Max bytes per inbound message, 0 for none
	WriteTimeout time.Duration // Deadline per outbound write, 0 for none
	PongWait     time.Duration // Read deadline extended by each pong, 0 disables keepalive
	PingPeriod   time.Duration // Interval between pings, must be below PongWait
}

// DefaultWebSocketConfig returns sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		ReadLimit:    16 << 20,
		WriteTimeout: 10 * time.Second,
		PongWait:     60 * time.Second,
		PingPeriod:   30 * time.Second,
	}
}

// Stats is a snapshot of one connection.
type Stats struct {
	ID           string      `json:"id"`
	State        string      `json:"state"`
	FramesIn     int64       `json:"frames_in"`
	MessagesIn   int64       `json:"messages_in"`
	MessagesOut  int64       `json:"messages_out"`
	DecodeErrors int64       `json:"decode_errors"`
	Queue        queue.Stats `json:"queue"`
}
