package router

import (
	"time"

	"github.com/rickgao/msgrouter/internal/message"
)

// Endpoint is one attached client as the router sees it.
type Endpoint interface {
	// ID returns the client id assigned at connect time.
	ID() string

	// Send queues a message for the client without blocking. It returns
	// false once the client is closing.
	Send(m message.Message) bool
}

// closer is implemented by endpoints the router may close on shutdown.
type closer interface {
	Close()
}

// Config holds configuration for the router.
type Config struct {
	// DeliverToPublisher also delivers a publication to the publishing client
	// when it is subscribed to the topic.
	DeliverToPublisher bool
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{}
}

// EventKind names a lifecycle event.
type EventKind string

const (
	EventConnected           EventKind = "connected"
	EventDisconnected        EventKind = "disconnected"
	EventServiceRegistered   EventKind = "service_registered"
	EventServiceUnregistered EventKind = "service_unregistered"
)

// Event is a change in who is attached or which services they own.
type Event struct {
	Kind        EventKind
	ClientID    string
	ServiceName string // Empty for connect/disconnect
	At          time.Time
}

// Observer receives lifecycle events. Observe is called synchronously from
// message handling and must not block.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Option configures a router.
type Option func(*router)

// WithObserver installs an observer for lifecycle events.
func WithObserver(o Observer) Option {
	return func(r *router) {
		r.observer = o
	}
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(r *router) {
		r.now = now
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Connections   int `json:"connections"`
	Topics        int `json:"topics"`
	Subscriptions int `json:"subscriptions"`
	Services      int `json:"services"`
	Pending       int `json:"pending_invokes"`

	MessagesHandled    int64 `json:"messages_handled"`
	Publications       int64 `json:"publications"`
	Deliveries         int64 `json:"deliveries"`
	InvokesForwarded   int64 `json:"invokes_forwarded"`
	ServiceNotFound    int64 `json:"service_not_found"`
	ResponsesRouted    int64 `json:"responses_routed"`
	ResponsesDropped   int64 `json:"responses_dropped"`
	DuplicateRegisters int64 `json:"duplicate_registers"`
	ClosedInvokes      int64 `json:"closed_invokes"`
}

// pendingInvoke is an invoke forwarded to a service owner and not yet
// answered.
type pendingInvoke struct {
	caller       Endpoint
	callerCorrID string
	callee       Endpoint
	service      string
	forwardedAt  time.Time
}
