package codec

import (
	"bytes"
	"unicode/utf8"
)

const (
	highSurrogateMin = 0xD800
	highSurrogateMax = 0xDBFF
	lowSurrogateMin  = 0xDC00
	lowSurrogateMax  = 0xDFFF
)

// Unescape writes the unescaped form of the JSON string body src (without the
// surrounding quotes) into dst and returns the number of bytes written.
//
// The output is never longer than src, so a dst of len(src) always suffices.
func Unescape(dst, src []byte) (int, error) {
	r, w := 0, 0
	for {
		i := bytes.IndexByte(src[r:], '\\')
		if i < 0 {
			tail := src[r:]
			if w+len(tail) > len(dst) {
				return w, ErrDestinationTooShort
			}
			w += copy(dst[w:], tail)
			return w, nil
		}

		if w+i > len(dst) {
			return w, ErrDestinationTooShort
		}
		w += copy(dst[w:], src[r:r+i])
		r += i + 1 // escape character

		if r >= len(src) {
			return w, ErrInvalidEscape
		}

		if src[r] == 'u' {
			cu, ok := parseHex4(src[r+1:])
			if !ok {
				return w, ErrInvalidUnicodeSequence
			}
			r += 5

			var cp rune
			switch {
			case cu >= lowSurrogateMin && cu <= lowSurrogateMax:
				return w, ErrInvalidUnicodeSequence
			case cu >= highSurrogateMin && cu <= highSurrogateMax:
				if len(src)-r < 6 || src[r] != '\\' || src[r+1] != 'u' {
					return w, ErrInvalidUnicodeSequence
				}
				lo, ok := parseHex4(src[r+2:])
				if !ok || lo < lowSurrogateMin || lo > lowSurrogateMax {
					return w, ErrInvalidUnicodeSequence
				}
				r += 6
				cp = 0x10000 + (cu-highSurrogateMin)*0x400 + (lo - lowSurrogateMin)
			default:
				cp = cu
			}

			if w+utf8.RuneLen(cp) > len(dst) {
				return w, ErrDestinationTooShort
			}
			w += utf8.EncodeRune(dst[w:], cp)
			continue
		}

		b, ok := simpleEscape(src[r])
		if !ok {
			return w, ErrInvalidEscape
		}
		if w >= len(dst) {
			return w, ErrDestinationTooShort
		}
		dst[w] = b
		w++
		r++
	}
}

// UnescapeToken unescapes a complete JSON string token, quotes included.
func UnescapeToken(dst, token []byte) (int, error) {
	if len(token) < 2 || token[0] != '"' || token[len(token)-1] != '"' {
		return 0, ErrStringExpected
	}
	return Unescape(dst, token[1:len(token)-1])
}

func simpleEscape(c byte) (byte, bool) {
	switch c {
	case '\\', '"', '/':
		return c, true
	case 'b':
		return '\b', true
	case 'f':
		return '\f', true
	case 'n':
		return '\n', true
	case 'r':
		return '\r', true
	case 't':
		return '\t', true
	}
	return 0, false
}

func parseHex4(p []byte) (rune, bool) {
	if len(p) < 4 {
		return 0, false
	}
	var v rune
	for _, c := range p[:4] {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= rune(c - '0')
		case c >= 'a' && c <= 'f':
			v |= rune(c - 'a' + 10)
		case c >= 'A' && c <= 'F':
			v |= rune(c - 'A' + 10)
		default:
			return 0, false
		}
	}
	return v, true
}

// decodeString returns the Go string for a raw string body.
func decodeString(raw []byte) (string, error) {
	if bytes.IndexByte(raw, '\\') < 0 {
		return string(raw), nil
	}
	dst := make([]byte, len(raw))
	n, err := Unescape(dst, raw)
	if err != nil {
		return "", err
	}
	return string(dst[:n]), nil
}

// decodeBytes returns a freshly allocated copy of a raw string body, unescaped.
func decodeBytes(raw []byte) ([]byte, error) {
	dst := make([]byte, len(raw))
	if bytes.IndexByte(raw, '\\') < 0 {
		copy(dst, raw)
		return dst, nil
	}
	n, err := Unescape(dst, raw)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}
