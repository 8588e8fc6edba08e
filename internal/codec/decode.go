package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rickgao/msgrouter/internal/message"
)

type decodeFunc func(d *decoder) (message.Message, error)

// decoders maps each discriminator to the decoder of its variant.
var decoders = map[message.Kind]decodeFunc{
	message.KindConnect:                   decodeConnect,
	message.KindConnectResponse:           decodeConnectResponse,
	message.KindSubscribe:                 decodeSubscribe,
	message.KindUnsubscribe:               decodeUnsubscribe,
	message.KindTopic:                     decodeTopic,
	message.KindInvoke:                    decodeInvoke,
	message.KindInvokeResponse:            decodeInvokeResponse,
	message.KindRegisterService:           decodeRegisterService,
	message.KindRegisterServiceResponse:   decodeRegisterServiceResponse,
	message.KindUnregisterService:         decodeUnregisterService,
	message.KindUnregisterServiceResponse: decodeUnregisterServiceResponse,
	message.KindError:                     decodeErrorMessage,
}

// errTypeFound stops the property scan once the discriminator is known.
var errTypeFound = errors.New("type found")

// Decode decodes the first message in data and returns it with the number of
// bytes consumed, trailing whitespace included.
//
// When the failure is confined to one message (unknown type, wrong field
// type, bad escape) the returned count still covers that message so the
// caller can continue with the next one. A zero count means the input is
// malformed or truncated and the rest of data cannot be aligned.
func Decode(data []byte) (message.Message, int, error) {
	d := &decoder{data: data}
	d.skipWS()
	start := d.pos

	kind, err := d.peekKind()
	if err != nil {
		n, err := d.resume(start, err)
		return nil, n, err
	}

	dec, ok := decoders[kind]
	if !ok {
		derr := &DecodeError{Offset: start, Field: "type", Err: fmt.Errorf("%w: %q", ErrUnknownMessageType, kind)}
		n, err := d.resume(start, derr)
		return nil, n, err
	}

	d.pos = start
	d.field = ""
	m, err := dec(d)
	if err != nil {
		n, err := d.resume(start, err)
		return nil, n, err
	}
	d.skipWS()
	return m, d.pos, nil
}

// DecodeSegments decodes one message from a sequence that may be split
// across several reads. The count is relative to the concatenation.
func DecodeSegments(segs ...[]byte) (message.Message, int, error) {
	switch len(segs) {
	case 0:
		return nil, 0, &DecodeError{Err: ErrUnexpectedEnd}
	case 1:
		return Decode(segs[0])
	}
	return Decode(bytes.Join(segs, nil))
}

// DecodeAll decodes every message in data in order. fn is called once per
// message; frames that failed to decode but could be skipped are reported to
// fn with a nil message. The returned error means the remainder of data was
// abandoned.
func DecodeAll(data []byte, fn func(message.Message, error)) error {
	off := 0
	for {
		for off < len(data) && isSpace(data[off]) {
			off++
		}
		if off >= len(data) {
			return nil
		}

		m, n, err := Decode(data[off:])
		if err != nil {
			if n == 0 {
				return offsetBy(err, off)
			}
			fn(nil, offsetBy(err, off))
		} else {
			fn(m, nil)
		}
		off += n
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func offsetBy(err error, off int) error {
	var de *DecodeError
	if errors.As(err, &de) {
		de.Offset += off
	}
	return err
}

// resume skips the message starting at start after a failure inside it.
func (d *decoder) resume(start int, cause error) (int, error) {
	if !Recoverable(cause) {
		return 0, cause
	}
	d.pos = start
	d.field = ""
	if err := d.skipValue(0); err != nil {
		return 0, err
	}
	d.skipWS()
	return d.pos, cause
}

// peekKind scans properties until it finds "type", skipping the values of
// any properties before it.
func (d *decoder) peekKind() (message.Kind, error) {
	c, err := d.peek()
	if err != nil {
		return "", err
	}
	if c != '{' {
		return "", d.fail(ErrUnexpectedToken)
	}

	var kind string
	err = d.object(0, func(key string) error {
		if key != "type" {
			return d.skipValue(1)
		}
		s, err := d.str()
		if err != nil {
			return err
		}
		kind = s
		return errTypeFound
	})
	switch {
	case err == errTypeFound:
		return message.Kind(kind), nil
	case err != nil:
		return "", err
	}
	return "", &DecodeError{Offset: d.pos, Err: ErrMissingType}
}

func (d *decoder) errorObject() (*message.Error, error) {
	if null, err := d.isNull(); null || err != nil {
		return nil, err
	}
	if c, _ := d.peek(); c != '{' {
		return nil, d.mismatch()
	}
	e := &message.Error{}
	err := d.object(1, func(key string) (err error) {
		switch key {
		case "name":
			e.Name, err = d.str()
		case "message":
			e.Message, err = d.str()
		default:
			err = d.skipValue(2)
		}
		return err
	})
	return e, err
}

func (d *decoder) invokeContext() (*message.InvokeContext, error) {
	if null, err := d.isNull(); null || err != nil {
		return nil, err
	}
	if c, _ := d.peek(); c != '{' {
		return nil, d.mismatch()
	}
	ctx := &message.InvokeContext{}
	err := d.object(1, func(key string) (err error) {
		switch key {
		case "sourceId":
			ctx.SourceID, err = d.str()
		case "correlationId":
			ctx.CorrelationID, err = d.str()
		default:
			err = d.skipValue(2)
		}
		return err
	})
	return ctx, err
}

func decodeConnect(d *decoder) (message.Message, error) {
	err := d.object(0, func(string) error { return d.skipValue(1) })
	return &message.Connect{}, err
}

func decodeConnectResponse(d *decoder) (message.Message, error) {
	m := &message.ConnectResponse{}
	err := d.object(0, func(key string) (err error) {
		switch key {
		case "clientId":
			m.ClientID, err = d.str()
		case "error":
			m.Error, err = d.errorObject()
		default:
			err = d.skipValue(1)
		}
		return err
	})
	return m, err
}

func decodeSubscribe(d *decoder) (message.Message, error) {
	m := &message.Subscribe{}
	err := d.object(0, func(key string) (err error) {
		if key == "topic" {
			m.Topic, err = d.str()
			return err
		}
		return d.skipValue(1)
	})
	return m, err
}

func decodeUnsubscribe(d *decoder) (message.Message, error) {
	m := &message.Unsubscribe{}
	err := d.object(0, func(key string) (err error) {
		if key == "topic" {
			m.Topic, err = d.str()
			return err
		}
		return d.skipValue(1)
	})
	return m, err
}

func decodeTopic(d *decoder) (message.Message, error) {
	m := &message.Topic{}
	err := d.object(0, func(key string) (err error) {
		switch key {
		case "topic":
			m.Topic, err = d.str()
		case "payload":
			m.Payload, err = d.buffer()
		case "sourceId":
			m.SourceID, err = d.str()
		case "correlationId":
			m.CorrelationID, err = d.str()
		default:
			err = d.skipValue(1)
		}
		return err
	})
	return m, err
}

func decodeInvoke(d *decoder) (message.Message, error) {
	m := &message.Invoke{}
	err := d.object(0, func(key string) (err error) {
		switch key {
		case "correlationId":
			m.CorrelationID, err = d.str()
		case "serviceName":
			m.ServiceName, err = d.str()
		case "payload":
			m.Payload, err = d.buffer()
		case "context":
			m.Context, err = d.invokeContext()
		default:
			err = d.skipValue(1)
		}
		return err
	})
	return m, err
}

func decodeInvokeResponse(d *decoder) (message.Message, error) {
	m := &message.InvokeResponse{}
	err := d.object(0, func(key string) (err error) {
		switch key {
		case "correlationId":
			m.CorrelationID, err = d.str()
		case "payload":
			m.Payload, err = d.buffer()
		case "error":
			m.Error, err = d.errorObject()
		default:
			err = d.skipValue(1)
		}
		return err
	})
	return m, err
}

func decodeRegisterService(d *decoder) (message.Message, error) {
	m := &message.RegisterService{}
	err := d.object(0, func(key string) (err error) {
		switch key {
		case "correlationId":
			m.CorrelationID, err = d.str()
		case "serviceName":
			m.ServiceName, err = d.str()
		default:
			err = d.skipValue(1)
		}
		return err
	})
	return m, err
}

func decodeRegisterServiceResponse(d *decoder) (message.Message, error) {
	m := &message.RegisterServiceResponse{}
	err := d.object(0, func(key string) (err error) {
		switch key {
		case "correlationId":
			m.CorrelationID, err = d.str()
		case "error":
			m.Error, err = d.errorObject()
		default:
			err = d.skipValue(1)
		}
		return err
	})
	return m, err
}

func decodeUnregisterService(d *decoder) (message.Message, error) {
	m := &message.UnregisterService{}
	err := d.object(0, func(key string) (err error) {
		switch key {
		case "correlationId":
			m.CorrelationID, err = d.str()
		case "serviceName":
			m.ServiceName, err = d.str()
		default:
			err = d.skipValue(1)
		}
		return err
	})
	return m, err
}

func decodeUnregisterServiceResponse(d *decoder) (message.Message, error) {
	m := &message.UnregisterServiceResponse{}
	err := d.object(0, func(key string) (err error) {
		switch key {
		case "correlationId":
			m.CorrelationID, err = d.str()
		case "error":
			m.Error, err = d.errorObject()
		default:
			err = d.skipValue(1)
		}
		return err
	})
	return m, err
}

func decodeErrorMessage(d *decoder) (message.Message, error) {
	m := &message.ErrorMessage{}
	err := d.object(0, func(key string) (err error) {
		switch key {
		case "name":
			m.Name, err = d.str()
		case "message":
			m.Message, err = d.str()
		default:
			err = d.skipValue(1)
		}
		return err
	})
	return m, err
}
