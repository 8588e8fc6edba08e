package message

import "fmt"

// Error names carried in Error.Name.
const (
	NameServiceNotFound      = "serviceNotFound"
	NameDuplicateServiceName = "duplicateServiceName"
	NameConnectionClosed     = "connectionClosed"
	NameUnknownMessageType   = "unknownMessageType"
	NameInvalidMessage       = "invalidMessage"
	NameNotConnected         = "notConnected"
	NameServiceError         = "serviceError" // Callee failed without a typed error
)

// Error is an application error carried on the wire.
type Error struct {
	Name    string
	Message string
}

// Sentinels for errors.Is. Matching compares names only.
var (
	ErrServiceNotFound      = &Error{Name: NameServiceNotFound, Message: "service not found"}
	ErrDuplicateServiceName = &Error{Name: NameDuplicateServiceName, Message: "service name already registered"}
	ErrConnectionClosed     = &Error{Name: NameConnectionClosed, Message: "connection closed"}
)

// NewError builds an Error with a formatted message.
func NewError(name, format string, args ...any) *Error {
	return &Error{Name: name, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Is matches another *Error with the same name.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Name == t.Name
}
