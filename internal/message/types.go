package message

// Kind is the message discriminator, serialized as the "type" property.
type Kind string

const (
	KindConnect                   Kind = "connect"
	KindConnectResponse           Kind = "connectResponse"
	KindSubscribe                 Kind = "subscribe"
	KindUnsubscribe               Kind = "unsubscribe"
	KindTopic                     Kind = "topic"
	KindInvoke                    Kind = "invoke"
	KindInvokeResponse            Kind = "invokeResponse"
	KindRegisterService           Kind = "registerService"
	KindRegisterServiceResponse   Kind = "registerServiceResponse"
	KindUnregisterService         Kind = "unregisterService"
	KindUnregisterServiceResponse Kind = "unregisterServiceResponse"
	KindError                     Kind = "error"
)

// Kinds lists every known discriminator.
var Kinds = []Kind{
	KindConnect,
	KindConnectResponse,
	KindSubscribe,
	KindUnsubscribe,
	KindTopic,
	KindInvoke,
	KindInvokeResponse,
	KindRegisterService,
	KindRegisterServiceResponse,
	KindUnregisterService,
	KindUnregisterServiceResponse,
	KindError,
}

// Message is a decoded wire message. The set of implementations is closed.
type Message interface {
	Kind() Kind
	isMessage()
}

// Connect is the first message a client sends.
type Connect struct{}

// ConnectResponse carries the id assigned to the client.
type ConnectResponse struct {
	ClientID string
	Error    *Error
}

// Subscribe adds the sender to the subscribers of Topic.
type Subscribe struct {
	Topic string
}

// Unsubscribe removes the sender from the subscribers of Topic.
type Unsubscribe struct {
	Topic string
}

// Topic is a publication. Clients send it to publish, the router delivers it
// to subscribers with SourceID set to the publisher.
type Topic struct {
	Topic         string
	Payload       Buffer
	SourceID      string
	CorrelationID string
}

// InvokeContext describes where an invocation came from.
type InvokeContext struct {
	SourceID      string
	CorrelationID string
}

// Invoke calls the service named ServiceName.
type Invoke struct {
	CorrelationID string
	ServiceName   string
	Payload       Buffer
	Context       *InvokeContext
}

// InvokeResponse completes an Invoke with either a payload or an error.
type InvokeResponse struct {
	CorrelationID string
	Payload       Buffer
	Error         *Error
}

// RegisterService claims ownership of ServiceName.
type RegisterService struct {
	CorrelationID string
	ServiceName   string
}

// RegisterServiceResponse completes a RegisterService.
type RegisterServiceResponse struct {
	CorrelationID string
	Error         *Error
}

// UnregisterService releases ownership of ServiceName.
type UnregisterService struct {
	CorrelationID string
	ServiceName   string
}

// UnregisterServiceResponse completes an UnregisterService.
type UnregisterServiceResponse struct {
	CorrelationID string
	Error         *Error
}

// ErrorMessage reports a protocol failure that is not tied to a request.
type ErrorMessage struct {
	Name    string
	Message string
}

func (*Connect) Kind() Kind                   { return KindConnect }
func (*ConnectResponse) Kind() Kind           { return KindConnectResponse }
func (*Subscribe) Kind() Kind                 { return KindSubscribe }
func (*Unsubscribe) Kind() Kind               { return KindUnsubscribe }
func (*Topic) Kind() Kind                     { return KindTopic }
func (*Invoke) Kind() Kind                    { return KindInvoke }
func (*InvokeResponse) Kind() Kind            { return KindInvokeResponse }
func (*RegisterService) Kind() Kind           { return KindRegisterService }
func (*RegisterServiceResponse) Kind() Kind   { return KindRegisterServiceResponse }
func (*UnregisterService) Kind() Kind         { return KindUnregisterService }
func (*UnregisterServiceResponse) Kind() Kind { return KindUnregisterServiceResponse }
func (*ErrorMessage) Kind() Kind              { return KindError }

func (*Connect) isMessage()                   {}
func (*ConnectResponse) isMessage()           {}
func (*Subscribe) isMessage()                 {}
func (*Unsubscribe) isMessage()               {}
func (*Topic) isMessage()                     {}
func (*Invoke) isMessage()                    {}
func (*InvokeResponse) isMessage()            {}
func (*RegisterService) isMessage()           {}
func (*RegisterServiceResponse) isMessage()   {}
func (*UnregisterService) isMessage()         {}
func (*UnregisterServiceResponse) isMessage() {}
func (*ErrorMessage) isMessage()              {}

// CorrelationOf returns the correlation id of request and response variants,
// or "" for messages that do not carry one.
func CorrelationOf(m Message) string {
	switch v := m.(type) {
	case *Invoke:
		return v.CorrelationID
	case *InvokeResponse:
		return v.CorrelationID
	case *RegisterService:
		return v.CorrelationID
	case *RegisterServiceResponse:
		return v.CorrelationID
	case *UnregisterService:
		return v.CorrelationID
	case *UnregisterServiceResponse:
		return v.CorrelationID
	case *Topic:
		return v.CorrelationID
	}
	return ""
}
