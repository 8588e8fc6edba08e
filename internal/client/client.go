package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/msgrouter/internal/message"
	"github.com/rickgao/msgrouter/internal/transport"
)

// Errors returned by the client. They match the wire errors of the same name
// with errors.Is.
var (
	ErrServiceNotFound      = message.ErrServiceNotFound
	ErrDuplicateServiceName = message.ErrDuplicateServiceName
	ErrConnectionClosed     = message.ErrConnectionClosed
)

// Config holds client settings.
type Config struct {
	URL       string
	Header    http.Header
	WebSocket transport.WebSocketConfig
	Transport transport.Config
}

// DefaultConfig returns defaults for a router at url.
func DefaultConfig(url string) Config {
	return Config{
		URL:       url,
		WebSocket: transport.DefaultWebSocketConfig(),
		Transport: transport.DefaultConfig(),
	}
}

// TopicHandler receives publications. It runs on the receive loop and must
// not block; in particular it must not call Invoke.
type TopicHandler func(t *message.Topic)

// ServiceHandler serves one invocation. It runs on its own goroutine; ctx is
// cancelled when the client closes. A returned *message.Error reaches the
// caller unchanged, any other error is sent as serviceError.
type ServiceHandler func(ctx context.Context, inv *message.Invoke) (message.Buffer, error)

// Subscription is one local handler for a topic.
type Subscription struct {
	topic   string
	handler TopicHandler
}

// Topic returns the canonical topic name.
func (s *Subscription) Topic() string { return s.topic }

// Registration is a service owned by this client.
type Registration struct {
	name    string
	handler ServiceHandler
}

// Name returns the canonical service name.
func (r *Registration) Name() string { return r.name }

// Client is a connection to a router.
type Client struct {
	logger *slog.Logger
	conn   *transport.Conn
	id     string

	connected   chan struct{}
	connectOnce sync.Once
	connectErr  error

	// Service handler lifetime
	ctx      context.Context
	cancel   context.CancelFunc
	handlers sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	calls    map[string]chan message.Message
	subs     map[string][]*Subscription
	services map[string]*Registration
}

// Dial connects to the router and completes the connect handshake.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	socket, err := transport.Dial(ctx, cfg.URL, cfg.Header, cfg.WebSocket, logger)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	hctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		logger:    logger,
		connected: make(chan struct{}),
		ctx:       hctx,
		cancel:    cancel,
		calls:     make(map[string]chan message.Message),
		subs:      make(map[string][]*Subscription),
		services:  make(map[string]*Registration),
	}

	cfg.Transport.Handshake = false
	c.conn = transport.NewConn(socket, transport.HandlerFuncs{
		OnMessage: c.handleMessage,
		OnClose:   c.handleClose,
	}, cfg.Transport, logger)
	c.conn.Start(context.Background())
	c.conn.Send(&message.Connect{})

	select {
	case <-c.connected:
	case <-c.conn.Done():
		c.Close()
		return nil, fmt.Errorf("connect: %w", ErrConnectionClosed)
	case <-ctx.Done():
		c.Close()
		return nil, fmt.Errorf("connect: %w", ctx.Err())
	}

	if c.connectErr != nil {
		c.Close()
		return nil, fmt.Errorf("connect: %w", c.connectErr)
	}

	logger.Info("connected to router", "url", cfg.URL, "client_id", c.id)
	return c, nil
}

// ID returns the client id assigned by the router.
func (c *Client) ID() string { return c.id }

// Done is closed once the connection has shut down.
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

// Stats returns the underlying connection's counters.
func (c *Client) Stats() transport.Stats { return c.conn.Stats() }

// Publish sends payload to every subscriber of topic.
func (c *Client) Publish(topic string, payload message.Buffer) error {
	if !c.conn.Send(&message.Topic{Topic: topic, Payload: payload}) {
		return ErrConnectionClosed
	}
	return nil
}

// Subscribe calls handler for every publication on topic. The router is only
// told about the first local handler for a topic.
func (c *Client) Subscribe(topic string, handler TopicHandler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("subscribe: nil handler")
	}
	sub := &Subscription{topic: message.CanonicalName(topic), handler: handler}

	// The wire message is queued under mu so subscribe and unsubscribe reach
	// the router in the order the local table changed.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	if len(c.subs[sub.topic]) == 0 && !c.conn.Send(&message.Subscribe{Topic: sub.topic}) {
		return nil, ErrConnectionClosed
	}
	c.subs[sub.topic] = append(c.subs[sub.topic], sub)
	return sub, nil
}

// Unsubscribe removes sub. The router is told once no local handler remains.
// Unsubscribing twice is a no-op.
func (c *Client) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.removeSubscriptionLocked(sub) {
		return nil
	}
	if !c.conn.Send(&message.Unsubscribe{Topic: sub.topic}) {
		return ErrConnectionClosed
	}
	return nil
}

// removeSubscriptionLocked drops sub and reports whether it was the last
// handler for its topic. c.mu must be held.
func (c *Client) removeSubscriptionLocked(sub *Subscription) bool {

	subs := c.subs[sub.topic]
	for i, s := range subs {
		if s != sub {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(c.subs, sub.topic)
			return true
		}
		c.subs[sub.topic] = subs
		return false
	}
	return false
}

// Invoke calls service and waits for its response.
//
// The router's error messages carry no correlation id, so a request it
// rejects outright is not failed here; bound the wait with ctx.
func (c *Client) Invoke(ctx context.Context, service string, payload message.Buffer) (message.Buffer, error) {
	id := uuid.NewString()
	reply, err := c.call(ctx, id, &message.Invoke{
		CorrelationID: id,
		ServiceName:   service,
		Payload:       payload,
	})
	if err != nil {
		return message.Buffer{}, err
	}

	resp, ok := reply.(*message.InvokeResponse)
	if !ok {
		return message.Buffer{}, fmt.Errorf("invoke %s: unexpected %s reply", service, reply.Kind())
	}
	if resp.Error != nil {
		return message.Buffer{}, resp.Error
	}
	return resp.Payload, nil
}

// RegisterService claims name and serves its invocations with handler. Like
// Invoke, it waits on ctx if the router rejects the request with an error
// message.
func (c *Client) RegisterService(ctx context.Context, name string, handler ServiceHandler) (*Registration, error) {
	if handler == nil {
		return nil, errors.New("register service: nil handler")
	}
	reg := &Registration{name: message.CanonicalName(name), handler: handler}

	// The handler is installed before the request so an invoke racing the
	// response is served.
	c.mu.Lock()
	if _, ok := c.services[reg.name]; ok {
		c.mu.Unlock()
		return nil, message.NewError(message.NameDuplicateServiceName, "%s is already registered by this client", reg.name)
	}
	c.services[reg.name] = reg
	c.mu.Unlock()

	id := uuid.NewString()
	reply, err := c.call(ctx, id, &message.RegisterService{CorrelationID: id, ServiceName: reg.name})
	if err == nil {
		if resp, ok := reply.(*message.RegisterServiceResponse); !ok {
			err = fmt.Errorf("register %s: unexpected %s reply", reg.name, reply.Kind())
		} else if resp.Error != nil {
			err = resp.Error
		}
	}
	if err != nil {
		c.dropService(reg)
		return nil, err
	}

	c.logger.Debug("service registered", "service", reg.name)
	return reg, nil
}

// UnregisterService releases reg. Invocations already running finish.
func (c *Client) UnregisterService(ctx context.Context, reg *Registration) error {
	if reg == nil || !c.dropService(reg) {
		return nil
	}

	id := uuid.NewString()
	reply, err := c.call(ctx, id, &message.UnregisterService{CorrelationID: id, ServiceName: reg.name})
	if err != nil {
		return err
	}
	resp, ok := reply.(*message.UnregisterServiceResponse)
	if !ok {
		return fmt.Errorf("unregister %s: unexpected %s reply", reg.name, reply.Kind())
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

func (c *Client) dropService(reg *Registration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.services[reg.name] != reg {
		return false
	}
	delete(c.services, reg.name)
	return true
}

// Close closes the connection, fails pending calls with ErrConnectionClosed
// and waits for running service handlers.
func (c *Client) Close() error {
	c.conn.Close()
	<-c.conn.Done()
	c.cancel()
	c.handlers.Wait()
	return nil
}

// call sends req and waits for the reply carrying id.
func (c *Client) call(ctx context.Context, id string, req message.Message) (message.Message, error) {
	ch := make(chan message.Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.calls[id] = ch
	c.mu.Unlock()

	if !c.conn.Send(req) {
		c.forget(id)
		return nil, ErrConnectionClosed
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.calls, id)
	c.mu.Unlock()
}

func (c *Client) complete(id string, m message.Message) {
	c.mu.Lock()
	ch, ok := c.calls[id]
	delete(c.calls, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("reply without pending call", "kind", m.Kind(), "correlation_id", id)
		return
	}
	ch <- m
}

func (c *Client) handleMessage(_ *transport.Conn, m message.Message) {
	switch v := m.(type) {
	case *message.ConnectResponse:
		c.connectOnce.Do(func() {
			c.id = v.ClientID
			if v.Error != nil {
				c.connectErr = v.Error
			}
			close(c.connected)
		})
	case *message.Topic:
		c.deliver(v)
	case *message.Invoke:
		c.serve(v)
	case *message.InvokeResponse, *message.RegisterServiceResponse, *message.UnregisterServiceResponse:
		c.complete(message.CorrelationOf(m), m)
	case *message.ErrorMessage:
		c.logger.Warn("router reported error", "name", v.Name, "message", v.Message)
	default:
		c.logger.Debug("ignoring message", "kind", m.Kind())
	}
}

func (c *Client) deliver(t *message.Topic) {
	c.mu.Lock()
	subs := append([]*Subscription(nil), c.subs[message.CanonicalName(t.Topic)]...)
	c.mu.Unlock()

	for _, s := range subs {
		s.handler(t)
	}
}

func (c *Client) serve(inv *message.Invoke) {
	c.mu.Lock()
	reg := c.services[message.CanonicalName(inv.ServiceName)]
	c.mu.Unlock()

	if reg == nil {
		c.conn.Send(&message.InvokeResponse{
			CorrelationID: inv.CorrelationID,
			Error:         message.NewError(message.NameServiceNotFound, "%s is not registered by this client", inv.ServiceName),
		})
		return
	}

	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()

		resp := &message.InvokeResponse{CorrelationID: inv.CorrelationID}
		payload, err := reg.handler(c.ctx, inv)
		if err != nil {
			var werr *message.Error
			if !errors.As(err, &werr) {
				werr = &message.Error{Name: message.NameServiceError, Message: err.Error()}
			}
			resp.Error = werr
		} else {
			resp.Payload = payload
		}

		if !c.conn.Send(resp) {
			c.logger.Debug("dropping invoke response", "service", reg.name, "correlation_id", inv.CorrelationID)
		}
	}()
}

// handleClose fails every pending call and cancels service handlers.
func (c *Client) handleClose(_ *transport.Conn) {
	c.mu.Lock()
	c.closed = true
	calls := c.calls
	c.calls = make(map[string]chan message.Message)
	c.mu.Unlock()

	for _, ch := range calls {
		close(ch)
	}
	c.cancel()
}
