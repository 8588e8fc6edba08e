package router

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/msgrouter/internal/message"
)

// Router owns the broker tables: attached clients, topic subscriptions,
// service ownership and invokes awaiting a response. It is safe for
// concurrent use by every connection's receive loop.
type Router interface {
	// Handle processes one message from ep. Messages from one endpoint must
	// be handled in the order they arrived.
	Handle(ep Endpoint, m message.Message)

	// Disconnect removes ep from every table and fails the invokes it was
	// serving. It must not be followed by Handle for the same endpoint.
	Disconnect(ep Endpoint)

	// Close refuses new clients and closes every attached endpoint that
	// supports it.
	Close()

	// Stats returns current router statistics.
	Stats() Stats
}

// router is the internal implementation.
type router struct {
	cfg      Config
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	closed   atomic.Bool

	connMu sync.Mutex
	conns  map[string]Endpoint

	// topic -> client id -> endpoint, plus the reverse index for cleanup.
	subMu       sync.Mutex
	subscribers map[string]map[string]Endpoint
	subscribed  map[string]map[string]struct{}

	// service -> owner, plus the services each client owns.
	svcMu    sync.Mutex
	services map[string]Endpoint
	owned    map[string]map[string]struct{}

	pendMu  sync.Mutex
	pending map[string]*pendingInvoke
	nextID  atomic.Uint64

	handled            atomic.Int64
	publications       atomic.Int64
	deliveries         atomic.Int64
	invokesForwarded   atomic.Int64
	serviceNotFound    atomic.Int64
	responsesRouted    atomic.Int64
	responsesDropped   atomic.Int64
	duplicateRegisters atomic.Int64
	closedInvokes      atomic.Int64
}

// New creates a router.
func New(cfg Config, logger *slog.Logger, opts ...Option) Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &router{
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		conns:       make(map[string]Endpoint),
		subscribers: make(map[string]map[string]Endpoint),
		subscribed:  make(map[string]map[string]struct{}),
		services:    make(map[string]Endpoint),
		owned:       make(map[string]map[string]struct{}),
		pending:     make(map[string]*pendingInvoke),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle dispatches m by kind.
func (r *router) Handle(ep Endpoint, m message.Message) {
	r.handled.Add(1)

	if c, ok := m.(*message.Connect); ok {
		r.connect(ep, c)
		return
	}
	if !r.isConnected(ep) {
		r.logger.Debug("message from unknown client", "client_id", ep.ID(), "kind", m.Kind())
		ep.Send(&message.ErrorMessage{
			Name:    message.NameNotConnected,
			Message: "connect must precede " + string(m.Kind()),
		})
		return
	}

	switch v := m.(type) {
	case *message.Subscribe:
		r.subscribe(ep, v.Topic)
	case *message.Unsubscribe:
		r.unsubscribe(ep, v.Topic)
	case *message.Topic:
		r.publish(ep, v)
	case *message.Invoke:
		r.invoke(ep, v)
	case *message.InvokeResponse:
		r.respond(ep, v)
	case *message.RegisterService:
		r.register(ep, v)
	case *message.UnregisterService:
		r.unregister(ep, v)
	case *message.ErrorMessage:
		r.logger.Warn("client reported error",
			"client_id", ep.ID(),
			"name", v.Name,
			"message", v.Message,
		)
	default:
		ep.Send(&message.ErrorMessage{
			Name:    message.NameInvalidMessage,
			Message: string(m.Kind()) + " is not accepted by the router",
		})
	}
}

func (r *router) isConnected(ep Endpoint) bool {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	_, ok := r.conns[ep.ID()]
	return ok
}

func (r *router) connect(ep Endpoint, _ *message.Connect) {
	if r.closed.Load() {
		ep.Send(&message.ConnectResponse{
			Error: message.NewError(message.NameConnectionClosed, "router is shutting down"),
		})
		return
	}

	r.connMu.Lock()
	_, existed := r.conns[ep.ID()]
	r.conns[ep.ID()] = ep
	r.connMu.Unlock()

	ep.Send(&message.ConnectResponse{ClientID: ep.ID()})
	if existed {
		return
	}

	r.logger.Info("client connected", "client_id", ep.ID())
	r.emit(EventConnected, ep.ID(), "")
}

// subscribe is idempotent: a second subscribe to the same topic changes
// nothing.
func (r *router) subscribe(ep Endpoint, topic string) {
	key := message.CanonicalName(topic)
	id := ep.ID()

	r.subMu.Lock()
	defer r.subMu.Unlock()

	subs := r.subscribers[key]
	if subs == nil {
		subs = make(map[string]Endpoint)
		r.subscribers[key] = subs
	}
	subs[id] = ep

	topics := r.subscribed[id]
	if topics == nil {
		topics = make(map[string]struct{})
		r.subscribed[id] = topics
	}
	topics[key] = struct{}{}
}

func (r *router) unsubscribe(ep Endpoint, topic string) {
	key := message.CanonicalName(topic)

	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.removeSubscriptionLocked(ep.ID(), key)
}

func (r *router) removeSubscriptionLocked(id, key string) {
	if subs := r.subscribers[key]; subs != nil {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.subscribers, key)
		}
	}
	if topics := r.subscribed[id]; topics != nil {
		delete(topics, key)
		if len(topics) == 0 {
			delete(r.subscribed, id)
		}
	}
}

// publish fans t out to every subscriber. The routed message is shared by
// all recipients and must not be modified.
func (r *router) publish(ep Endpoint, t *message.Topic) {
	key := message.CanonicalName(t.Topic)
	r.publications.Add(1)

	r.subMu.Lock()
	targets := make([]Endpoint, 0, len(r.subscribers[key]))
	for id, sub := range r.subscribers[key] {
		if id == ep.ID() && !r.cfg.DeliverToPublisher {
			continue
		}
		targets = append(targets, sub)
	}
	r.subMu.Unlock()

	if len(targets) == 0 {
		return
	}

	out := &message.Topic{
		Topic:         t.Topic,
		Payload:       t.Payload,
		SourceID:      ep.ID(),
		CorrelationID: t.CorrelationID,
	}
	for _, sub := range targets {
		if sub.Send(out) {
			r.deliveries.Add(1)
		}
	}
}

func (r *router) register(ep Endpoint, req *message.RegisterService) {
	key := message.CanonicalName(req.ServiceName)
	id := ep.ID()

	r.svcMu.Lock()
	owner, taken := r.services[key]
	if taken && owner.ID() != id {
		r.svcMu.Unlock()

		r.duplicateRegisters.Add(1)
		r.logger.Debug("duplicate service registration",
			"client_id", id,
			"service", req.ServiceName,
			"owner_id", owner.ID(),
		)
		ep.Send(&message.RegisterServiceResponse{
			CorrelationID: req.CorrelationID,
			Error:         message.NewError(message.NameDuplicateServiceName, "service %q is already registered", req.ServiceName),
		})
		return
	}

	r.services[key] = ep
	names := r.owned[id]
	if names == nil {
		names = make(map[string]struct{})
		r.owned[id] = names
	}
	names[key] = struct{}{}
	r.svcMu.Unlock()

	ep.Send(&message.RegisterServiceResponse{CorrelationID: req.CorrelationID})
	if taken {
		return
	}

	r.logger.Info("service registered", "client_id", id, "service", req.ServiceName)
	r.emit(EventServiceRegistered, id, key)
}

// unregister removes ownership only for the owner. The reply is a success
// either way.
func (r *router) unregister(ep Endpoint, req *message.UnregisterService) {
	key := message.CanonicalName(req.ServiceName)
	id := ep.ID()

	r.svcMu.Lock()
	owner, ok := r.services[key]
	removed := ok && owner.ID() == id
	if removed {
		delete(r.services, key)
		if names := r.owned[id]; names != nil {
			delete(names, key)
			if len(names) == 0 {
				delete(r.owned, id)
			}
		}
	}
	r.svcMu.Unlock()

	ep.Send(&message.UnregisterServiceResponse{CorrelationID: req.CorrelationID})
	if !removed {
		return
	}

	r.logger.Info("service unregistered", "client_id", id, "service", req.ServiceName)
	r.emit(EventServiceUnregistered, id, key)
}

// invoke forwards req to the service owner under a router-assigned
// correlation id, so concurrent callers may reuse the same ids.
func (r *router) invoke(ep Endpoint, req *message.Invoke) {
	key := message.CanonicalName(req.ServiceName)

	r.svcMu.Lock()
	owner, ok := r.services[key]
	r.svcMu.Unlock()

	if !ok {
		r.serviceNotFound.Add(1)
		ep.Send(&message.InvokeResponse{
			CorrelationID: req.CorrelationID,
			Error:         message.NewError(message.NameServiceNotFound, "service %q is not registered", req.ServiceName),
		})
		return
	}

	id := strconv.FormatUint(r.nextID.Add(1), 10)
	p := &pendingInvoke{
		caller:       ep,
		callerCorrID: req.CorrelationID,
		callee:       owner,
		service:      req.ServiceName,
		forwardedAt:  r.now(),
	}

	r.pendMu.Lock()
	r.pending[id] = p
	r.pendMu.Unlock()

	// The owner may have disconnected after the lookup; its cleanup has then
	// already scanned the pending table without seeing this entry.
	if !r.isConnected(owner) || !owner.Send(&message.Invoke{
		CorrelationID: id,
		ServiceName:   req.ServiceName,
		Payload:       req.Payload,
		Context: &message.InvokeContext{
			SourceID:      ep.ID(),
			CorrelationID: req.CorrelationID,
		},
	}) {
		if p := r.takePending(id); p != nil {
			r.failPending(p)
		}
		return
	}

	r.invokesForwarded.Add(1)
	r.logger.Debug("invoke forwarded",
		"client_id", ep.ID(),
		"service", req.ServiceName,
		"owner_id", owner.ID(),
		"invoke_id", id,
	)
}

// respond routes an invoke response back to its caller. Only the endpoint
// the invoke was forwarded to may answer it.
func (r *router) respond(ep Endpoint, resp *message.InvokeResponse) {
	r.pendMu.Lock()
	p, ok := r.pending[resp.CorrelationID]
	if ok && p.callee.ID() != ep.ID() {
		ok = false
	}
	if ok {
		delete(r.pending, resp.CorrelationID)
	}
	r.pendMu.Unlock()

	if !ok {
		r.responsesDropped.Add(1)
		r.logger.Debug("dropping unmatched invoke response",
			"client_id", ep.ID(),
			"correlation_id", resp.CorrelationID,
		)
		return
	}

	delivered := p.caller.Send(&message.InvokeResponse{
		CorrelationID: p.callerCorrID,
		Payload:       resp.Payload,
		Error:         resp.Error,
	})
	if !delivered {
		r.responsesDropped.Add(1)
		return
	}
	r.responsesRouted.Add(1)
	r.logger.Debug("invoke completed",
		"client_id", p.caller.ID(),
		"service", p.service,
		"duration", r.now().Sub(p.forwardedAt),
	)
}

func (r *router) takePending(id string) *pendingInvoke {
	r.pendMu.Lock()
	defer r.pendMu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return p
}

// failPending completes p with a connectionClosed error.
func (r *router) failPending(p *pendingInvoke) {
	r.closedInvokes.Add(1)
	p.caller.Send(&message.InvokeResponse{
		CorrelationID: p.callerCorrID,
		Error:         message.NewError(message.NameConnectionClosed, "service %q closed before responding", p.service),
	})
}

// Disconnect releases everything ep held.
func (r *router) Disconnect(ep Endpoint) {
	id := ep.ID()

	r.connMu.Lock()
	_, known := r.conns[id]
	delete(r.conns, id)
	r.connMu.Unlock()

	r.subMu.Lock()
	for key := range r.subscribed[id] {
		r.removeSubscriptionLocked(id, key)
	}
	r.subMu.Unlock()

	r.svcMu.Lock()
	var released []string
	for key := range r.owned[id] {
		if owner, ok := r.services[key]; ok && owner.ID() == id {
			delete(r.services, key)
			released = append(released, key)
		}
	}
	delete(r.owned, id)
	r.svcMu.Unlock()

	var orphaned []*pendingInvoke
	r.pendMu.Lock()
	for pid, p := range r.pending {
		switch {
		case p.callee.ID() == id:
			orphaned = append(orphaned, p)
			delete(r.pending, pid)
		case p.caller.ID() == id:
			delete(r.pending, pid)
		}
	}
	r.pendMu.Unlock()

	for _, p := range orphaned {
		r.failPending(p)
	}

	for _, key := range released {
		r.emit(EventServiceUnregistered, id, key)
	}
	if known {
		r.logger.Info("client disconnected",
			"client_id", id,
			"services_released", len(released),
			"invokes_failed", len(orphaned),
		)
		r.emit(EventDisconnected, id, "")
	}
}

// Close closes every attached endpoint. Their disconnects arrive through the
// normal path.
func (r *router) Close() {
	r.closed.Store(true)

	r.connMu.Lock()
	eps := make([]Endpoint, 0, len(r.conns))
	for _, ep := range r.conns {
		eps = append(eps, ep)
	}
	r.connMu.Unlock()

	for _, ep := range eps {
		if c, ok := ep.(closer); ok {
			c.Close()
		}
	}
	r.logger.Info("router closed", "clients", len(eps))
}

// Stats returns current router statistics.
func (r *router) Stats() Stats {
	var s Stats

	r.connMu.Lock()
	s.Connections = len(r.conns)
	r.connMu.Unlock()

	r.subMu.Lock()
	s.Topics = len(r.subscribers)
	for _, subs := range r.subscribers {
		s.Subscriptions += len(subs)
	}
	r.subMu.Unlock()

	r.svcMu.Lock()
	s.Services = len(r.services)
	r.svcMu.Unlock()

	r.pendMu.Lock()
	s.Pending = len(r.pending)
	r.pendMu.Unlock()

	s.MessagesHandled = r.handled.Load()
	s.Publications = r.publications.Load()
	s.Deliveries = r.deliveries.Load()
	s.InvokesForwarded = r.invokesForwarded.Load()
	s.ServiceNotFound = r.serviceNotFound.Load()
	s.ResponsesRouted = r.responsesRouted.Load()
	s.ResponsesDropped = r.responsesDropped.Load()
	s.DuplicateRegisters = r.duplicateRegisters.Load()
	s.ClosedInvokes = r.closedInvokes.Load()
	return s
}

func (r *router) emit(kind EventKind, clientID, service string) {
	if r.observer == nil {
		return
	}
	r.observer.Observe(Event{
		Kind:        kind,
		ClientID:    clientID,
		ServiceName: service,
		At:          r.now(),
	})
}
