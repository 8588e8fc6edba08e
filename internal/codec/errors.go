package codec

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrUnknownMessageType     = errors.New("unknown message type")
	ErrMissingType            = errors.New("missing type property")
	ErrInvalidUnicodeSequence = errors.New("invalid unicode sequence")
	ErrInvalidEscape          = errors.New("invalid escape sequence")
	ErrDestinationTooShort    = errors.New("destination too short")
	ErrStringExpected         = errors.New("string expected")
	ErrUnexpectedToken        = errors.New("unexpected token")
	ErrSyntax                 = errors.New("invalid json")
	ErrUnexpectedEnd          = errors.New("unexpected end of input")
	ErrNilMessage             = errors.New("nil message")
)

// DecodeError describes where in the input decoding failed.
type DecodeError struct {
	Offset int
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode field %q at offset %d: %v", e.Field, e.Offset, e.Err)
	}
	return fmt.Sprintf("decode at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Recoverable reports whether decoding can resume after the failed message.
// Syntax errors and truncated input leave the byte position unknown.
func Recoverable(err error) bool {
	if err == nil {
		return true
	}
	return !errors.Is(err, ErrSyntax) && !errors.Is(err, ErrUnexpectedEnd)
}
