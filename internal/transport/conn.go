package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/msgrouter/internal/codec"
	"github.com/rickgao/msgrouter/internal/message"
	"github.com/rickgao/msgrouter/internal/queue"
)

// Conn runs one peer connection: a receive loop that decodes inbound frames
// into messages for the Handler, and a send loop that drains the outbound
// queue onto the socket. Both loops share one cancellation; cancelling it
// closes the queue, the send loop drains what is left and closes the socket,
// and the closed socket ends the receive loop.
type Conn struct {
	id      string
	cfg     Config
	socket  Socket
	handler Handler
	logger  *slog.Logger

	out   *queue.Queue[message.Message]
	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	start  sync.Once
	done   chan struct{}

	// handleMu orders HandleMessage against HandleClose.
	handleMu  sync.Mutex
	closeOnce sync.Once

	socketOnce sync.Once

	framesIn     atomic.Int64
	messagesIn   atomic.Int64
	messagesOut  atomic.Int64
	decodeErrors atomic.Int64
}

// NewConn creates a connection over socket with a fresh UUID. Nothing is read
// or written until Start.
func NewConn(socket Socket, handler Handler, cfg Config, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	id := uuid.NewString()
	c := &Conn{
		id:      id,
		cfg:     cfg,
		socket:  socket,
		handler: handler,
		logger:  logger.With("conn_id", id),
		out:     queue.New[message.Message](cfg.QueueCapacity),
		done:    make(chan struct{}),
	}
	if !cfg.Handshake {
		c.state.Store(int32(StateOpen))
	}
	return c
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Done is closed once both loops have exited and the socket is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Start launches the receive and send loops. The connection closes when ctx
// is cancelled. Later calls do nothing.
func (c *Conn) Start(ctx context.Context) {
	c.start.Do(func() {
		c.ctx, c.cancel = context.WithCancel(ctx)
		stop := context.AfterFunc(c.ctx, c.shutdown)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.receiveLoop()
		}()
		go func() {
			defer wg.Done()
			c.sendLoop()
		}()

		go func() {
			wg.Wait()
			stop()
			c.state.Store(int32(StateClosed))
			c.logger.Debug("connection closed",
				"messages_in", c.messagesIn.Load(),
				"messages_out", c.messagesOut.Load(),
			)
			close(c.done)
		}()
	})
}

// Send queues m for delivery and reports whether it was accepted. It never
// blocks; once the connection is closing every send is refused.
func (c *Conn) Send(m message.Message) bool {
	if m == nil {
		return false
	}
	return c.out.Send(m)
}

// Close starts closing the connection. Messages already queued are still
// written. It does not wait; use Done for that.
func (c *Conn) Close() {
	c.start.Do(func() {
		// Never started: there are no loops to stop.
		c.shutdown()
		c.closeSocket()
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
	if c.cancel != nil {
		c.cancel()
	}
}

// Stats returns a snapshot of the connection counters.
func (c *Conn) Stats() Stats {
	return Stats{
		ID:           c.id,
		State:        c.State().String(),
		FramesIn:     c.framesIn.Load(),
		MessagesIn:   c.messagesIn.Load(),
		MessagesOut:  c.messagesOut.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		Queue:        c.out.Stats(),
	}
}

// shutdown moves to Closing, tells the handler, and closes the queue. It runs
// once, before the socket is closed.
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.handleMu.Lock()
		c.state.Store(int32(StateClosing))
		c.handler.HandleClose(c)
		c.handleMu.Unlock()

		c.out.Close()
	})
}

func (c *Conn) closeSocket() {
	c.socketOnce.Do(func() {
		if err := c.socket.Close(); err != nil && !IsNormalClose(err) {
			c.logger.Debug("socket close failed", "error", err)
		}
	})
}

func (c *Conn) receiveLoop() {
	defer c.cancel()

	var buf bytes.Buffer
	for {
		r, err := c.socket.NextReader()
		if err != nil {
			c.logReadEnd(err)
			return
		}

		buf.Reset()
		if _, err := buf.ReadFrom(r); err != nil {
			c.logReadEnd(err)
			return
		}
		c.framesIn.Add(1)

		c.dispatch(buf.Bytes())

		if c.cfg.MaxRetainedBuffer > 0 && buf.Cap() > c.cfg.MaxRetainedBuffer {
			buf = bytes.Buffer{}
		}
	}
}

func (c *Conn) logReadEnd(err error) {
	if c.ctx.Err() != nil || IsNormalClose(err) {
		c.logger.Debug("receive loop stopped", "error", err)
		return
	}
	c.logger.Warn("receive failed", "error", err)
}

// dispatch decodes every message in one frame. A malformed message is
// answered with an error message; if the frame cannot be realigned after it,
// the rest of the frame is dropped.
func (c *Conn) dispatch(frame []byte) {
	err := codec.DecodeAll(frame, func(m message.Message, err error) {
		if err != nil {
			c.rejectFrame(err)
			return
		}
		c.messagesIn.Add(1)
		c.deliver(m)
	})
	if err != nil {
		c.rejectFrame(err)
	}
}

func (c *Conn) rejectFrame(err error) {
	c.decodeErrors.Add(1)
	c.logger.Warn("dropping malformed message", "error", err)

	name := message.NameInvalidMessage
	if errors.Is(err, codec.ErrUnknownMessageType) {
		name = message.NameUnknownMessageType
	}
	c.Send(&message.ErrorMessage{Name: name, Message: err.Error()})
}

func (c *Conn) deliver(m message.Message) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	switch c.State() {
	case StateClosing, StateClosed:
		return
	case StateConnecting:
		if _, ok := m.(*message.Connect); !ok {
			c.logger.Debug("message before connect", "kind", m.Kind())
			c.Send(&message.ErrorMessage{
				Name:    message.NameNotConnected,
				Message: "connect must precede " + string(m.Kind()),
			})
			return
		}
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
	}

	c.handler.HandleMessage(c, m)
}

func (c *Conn) sendLoop() {
	defer c.closeSocket()

	var buf []byte
	for {
		m, ok := c.out.Receive()
		if !ok {
			return
		}

		var err error
		buf, err = codec.Append(buf[:0], m)
		if err != nil {
			c.logger.Error("encode failed", "kind", m.Kind(), "error", err)
			continue
		}

		if err := c.socket.WriteMessage(buf); err != nil {
			if !IsNormalClose(err) {
				c.logger.Warn("send failed", "error", err)
			}
			// The handler must hear about the close before the deferred
			// closeSocket runs.
			c.cancel()
			c.shutdown()
			return
		}
		c.messagesOut.Add(1)
	}
}
