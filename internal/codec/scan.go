package codec

import (
	"bytes"

	"github.com/rickgao/msgrouter/internal/message"
)

const maxDepth = 512

var (
	litTrue  = []byte("true")
	litFalse = []byte("false")
	litNull  = []byte("null")
)

// decoder is a cursor over one JSON object.
type decoder struct {
	data  []byte
	pos   int
	field string // current property, for error reporting
}

func (d *decoder) fail(err error) error {
	return &DecodeError{Offset: d.pos, Field: d.field, Err: err}
}

func (d *decoder) skipWS() {
	for d.pos < len(d.data) {
		switch d.data[d.pos] {
		case ' ', '\t', '\n', '\r':
			d.pos++
		default:
			return
		}
	}
}

// peek returns the next non-whitespace byte without consuming it.
func (d *decoder) peek() (byte, error) {
	d.skipWS()
	if d.pos >= len(d.data) {
		return 0, d.fail(ErrUnexpectedEnd)
	}
	return d.data[d.pos], nil
}

func (d *decoder) expect(c byte) error {
	got, err := d.peek()
	if err != nil {
		return err
	}
	if got != c {
		return d.fail(ErrSyntax)
	}
	d.pos++
	return nil
}

// stringSpan consumes a string token and returns its body without quotes.
// Escapes are validated later by Unescape.
func (d *decoder) stringSpan() ([]byte, error) {
	if err := d.expect('"'); err != nil {
		return nil, err
	}
	start := d.pos
	for d.pos < len(d.data) {
		c := d.data[d.pos]
		switch {
		case c == '"':
			span := d.data[start:d.pos]
			d.pos++
			return span, nil
		case c == '\\':
			d.pos += 2
		case c < 0x20:
			return nil, d.fail(ErrSyntax)
		default:
			d.pos++
		}
	}
	d.pos = len(d.data)
	return nil, d.fail(ErrUnexpectedEnd)
}

// isNull consumes a null literal if one is next.
func (d *decoder) isNull() (bool, error) {
	c, err := d.peek()
	if err != nil {
		return false, err
	}
	if c != 'n' {
		return false, nil
	}
	return true, d.literal(litNull)
}

func (d *decoder) literal(lit []byte) error {
	if len(d.data)-d.pos < len(lit) {
		if bytes.HasPrefix(lit, d.data[d.pos:]) {
			d.pos = len(d.data)
			return d.fail(ErrUnexpectedEnd)
		}
		return d.fail(ErrSyntax)
	}
	if !bytes.Equal(d.data[d.pos:d.pos+len(lit)], lit) {
		return d.fail(ErrSyntax)
	}
	d.pos += len(lit)
	return nil
}

// str reads a string property value. null decodes as "".
func (d *decoder) str() (string, error) {
	c, err := d.peek()
	if err != nil {
		return "", err
	}
	switch c {
	case '"':
	case 'n':
		return "", d.literal(litNull)
	default:
		return "", d.mismatch()
	}
	raw, err := d.stringSpan()
	if err != nil {
		return "", err
	}
	s, err := decodeString(raw)
	if err != nil {
		return "", d.fail(err)
	}
	return s, nil
}

// buffer reads a payload property value. null decodes as the zero Buffer.
func (d *decoder) buffer() (message.Buffer, error) {
	c, err := d.peek()
	if err != nil {
		return message.Buffer{}, err
	}
	switch c {
	case '"':
	case 'n':
		return message.Buffer{}, d.literal(litNull)
	default:
		return message.Buffer{}, d.mismatch()
	}
	raw, err := d.stringSpan()
	if err != nil {
		return message.Buffer{}, err
	}
	b, err := decodeBytes(raw)
	if err != nil {
		return message.Buffer{}, d.fail(err)
	}
	return message.TakeBuffer(b), nil
}

// mismatch reports a value of the wrong JSON type for the current property.
func (d *decoder) mismatch() error {
	return d.fail(ErrUnexpectedToken)
}

// object iterates the properties of an object, calling fn with the cursor
// positioned on each value. fn must consume the value.
func (d *decoder) object(depth int, fn func(key string) error) error {
	if depth > maxDepth {
		return d.fail(ErrSyntax)
	}
	if err := d.expect('{'); err != nil {
		return err
	}
	c, err := d.peek()
	if err != nil {
		return err
	}
	if c == '}' {
		d.pos++
		return nil
	}
	for {
		raw, err := d.stringSpan()
		if err != nil {
			return err
		}
		key, err := decodeString(raw)
		if err != nil {
			return d.fail(err)
		}
		if err := d.expect(':'); err != nil {
			return err
		}
		d.field = key
		if err := fn(key); err != nil {
			return err
		}
		c, err := d.peek()
		if err != nil {
			return err
		}
		d.pos++
		switch c {
		case ',':
		case '}':
			return nil
		default:
			d.pos--
			return d.fail(ErrSyntax)
		}
	}
}

// skipValue consumes any JSON value.
func (d *decoder) skipValue(depth int) error {
	if depth > maxDepth {
		return d.fail(ErrSyntax)
	}
	c, err := d.peek()
	if err != nil {
		return err
	}
	switch {
	case c == '"':
		_, err := d.stringSpan()
		return err
	case c == '{':
		return d.object(depth+1, func(string) error { return d.skipValue(depth + 1) })
	case c == '[':
		return d.array(depth + 1)
	case c == 't':
		return d.literal(litTrue)
	case c == 'f':
		return d.literal(litFalse)
	case c == 'n':
		return d.literal(litNull)
	case c == '-' || (c >= '0' && c <= '9'):
		return d.number()
	}
	return d.fail(ErrSyntax)
}

func (d *decoder) array(depth int) error {
	if err := d.expect('['); err != nil {
		return err
	}
	c, err := d.peek()
	if err != nil {
		return err
	}
	if c == ']' {
		d.pos++
		return nil
	}
	for {
		if err := d.skipValue(depth); err != nil {
			return err
		}
		c, err := d.peek()
		if err != nil {
			return err
		}
		d.pos++
		switch c {
		case ',':
		case ']':
			return nil
		default:
			d.pos--
			return d.fail(ErrSyntax)
		}
	}
}

// number consumes a JSON number: -?int frac? exp?
func (d *decoder) number() error {
	if d.data[d.pos] == '-' {
		d.pos++
	}
	if !d.digits() {
		return d.numberEnd()
	}
	if d.pos < len(d.data) && d.data[d.pos] == '.' {
		d.pos++
		if !d.digits() {
			return d.numberEnd()
		}
	}
	if d.pos < len(d.data) && (d.data[d.pos] == 'e' || d.data[d.pos] == 'E') {
		d.pos++
		if d.pos < len(d.data) && (d.data[d.pos] == '+' || d.data[d.pos] == '-') {
			d.pos++
		}
		if !d.digits() {
			return d.numberEnd()
		}
	}
	return nil
}

func (d *decoder) digits() bool {
	start := d.pos
	for d.pos < len(d.data) && d.data[d.pos] >= '0' && d.data[d.pos] <= '9' {
		d.pos++
	}
	return d.pos > start
}

func (d *decoder) numberEnd() error {
	if d.pos >= len(d.data) {
		return d.fail(ErrUnexpectedEnd)
	}
	return d.fail(ErrSyntax)
}
