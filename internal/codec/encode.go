package codec

import (
	"fmt"
	"unicode/utf8"

	"github.com/rickgao/msgrouter/internal/message"
)

const hexDigits = "0123456789abcdef"

// Encode returns the JSON encoding of m.
func Encode(m message.Message) ([]byte, error) {
	return Append(make([]byte, 0, 128), m)
}

// Append appends the JSON encoding of m to dst.
func Append(dst []byte, m message.Message) ([]byte, error) {
	if m == nil {
		return dst, ErrNilMessage
	}

	e := encoder{buf: dst}
	e.begin(m.Kind())

	switch v := m.(type) {
	case *message.Connect:
	case *message.ConnectResponse:
		e.str("clientId", v.ClientID)
		e.errorObject("error", v.Error)
	case *message.Subscribe:
		e.str("topic", v.Topic)
	case *message.Unsubscribe:
		e.str("topic", v.Topic)
	case *message.Topic:
		e.str("topic", v.Topic)
		e.buffer("payload", v.Payload)
		e.optStr("sourceId", v.SourceID)
		e.optStr("correlationId", v.CorrelationID)
	case *message.Invoke:
		e.str("correlationId", v.CorrelationID)
		e.str("serviceName", v.ServiceName)
		e.buffer("payload", v.Payload)
		if v.Context != nil {
			e.key("context")
			e.buf = append(e.buf, '{')
			e.first = true
			e.optStr("sourceId", v.Context.SourceID)
			e.optStr("correlationId", v.Context.CorrelationID)
			e.buf = append(e.buf, '}')
			e.first = false
		}
	case *message.InvokeResponse:
		e.str("correlationId", v.CorrelationID)
		e.buffer("payload", v.Payload)
		e.errorObject("error", v.Error)
	case *message.RegisterService:
		e.str("correlationId", v.CorrelationID)
		e.str("serviceName", v.ServiceName)
	case *message.RegisterServiceResponse:
		e.str("correlationId", v.CorrelationID)
		e.errorObject("error", v.Error)
	case *message.UnregisterService:
		e.str("correlationId", v.CorrelationID)
		e.str("serviceName", v.ServiceName)
	case *message.UnregisterServiceResponse:
		e.str("correlationId", v.CorrelationID)
		e.errorObject("error", v.Error)
	case *message.ErrorMessage:
		e.str("name", v.Name)
		e.str("message", v.Message)
	default:
		return dst, fmt.Errorf("%w: %T", ErrUnknownMessageType, m)
	}

	e.buf = append(e.buf, '}')
	return e.buf, nil
}

// encoder appends JSON object members to buf.
type encoder struct {
	buf   []byte
	first bool
}

func (e *encoder) begin(kind message.Kind) {
	e.buf = append(e.buf, `{"type":`...)
	e.buf = appendString(e.buf, string(kind))
}

func (e *encoder) key(k string) {
	if !e.first {
		e.buf = append(e.buf, ',')
	}
	e.first = false
	e.buf = append(e.buf, '"')
	e.buf = append(e.buf, k...)
	e.buf = append(e.buf, '"', ':')
}

func (e *encoder) str(k, v string) {
	e.key(k)
	e.buf = appendString(e.buf, v)
}

func (e *encoder) optStr(k, v string) {
	if v != "" {
		e.str(k, v)
	}
}

func (e *encoder) buffer(k string, b message.Buffer) {
	if b.IsZero() {
		return
	}
	e.key(k)
	e.buf = appendBytes(e.buf, b.AppendTo(nil))
}

func (e *encoder) errorObject(k string, err *message.Error) {
	if err == nil {
		return
	}
	e.key(k)
	e.buf = append(e.buf, `{"name":`...)
	e.buf = appendString(e.buf, err.Name)
	e.buf = append(e.buf, `,"message":`...)
	e.buf = appendString(e.buf, err.Message)
	e.buf = append(e.buf, '}')
}

func appendString(dst []byte, s string) []byte {
	return appendBytes(dst, []byte(s))
}

// appendBytes writes src as a quoted JSON string. Invalid UTF-8 is replaced
// with U+FFFD.
func appendBytes(dst, src []byte) []byte {
	dst = append(dst, '"')
	start := 0
	for i := 0; i < len(src); {
		c := src[i]
		if c < utf8.RuneSelf {
			if c >= 0x20 && c != '"' && c != '\\' {
				i++
				continue
			}
			dst = append(dst, src[start:i]...)
			switch c {
			case '"', '\\':
				dst = append(dst, '\\', c)
			case '\b':
				dst = append(dst, '\\', 'b')
			case '\f':
				dst = append(dst, '\\', 'f')
			case '\n':
				dst = append(dst, '\\', 'n')
			case '\r':
				dst = append(dst, '\\', 'r')
			case '\t':
				dst = append(dst, '\\', 't')
			default:
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRune(src[i:])
		if r == utf8.RuneError && size == 1 {
			dst = append(dst, src[start:i]...)
			dst = append(dst, `\ufffd`...)
			i += size
			start = i
			continue
		}
		i += size
	}
	dst = append(dst, src[start:]...)
	return append(dst, '"')
}
