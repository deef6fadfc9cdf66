// Package wire holds the shared byte-level JSON helpers used by the event,
// filter and tag packages to parse and render nostr's minified JSON without
// going through encoding/json.
package wire

import (
	"encoding/hex"

	"codeberg.org/nostrcore/relaysdk/errorf"
)

// IsWhitespace reports whether b is JSON-insignificant whitespace.
func IsWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// JSONKey appends a quoted JSON object key followed by a colon.
func JSONKey(dst, key []byte) []byte {
	dst = append(dst, '"')
	dst = append(dst, key...)
	dst = append(dst, '"', ':')
	return dst
}

// Escaper renders raw bytes into a quoted JSON string body, without the
// surrounding quotes.
type Escaper func(dst, src []byte) []byte

// HexAppend is an Escaper that hex-encodes src, for id/pubkey/sig fields.
func HexAppend(dst, src []byte) []byte {
	n := len(dst)
	dst = append(dst, make([]byte, hex.EncodedLen(len(src)))...)
	hex.Encode(dst[n:], src)
	return dst
}

// NostrEscape is an Escaper that applies the minimal JSON string escapes
// required by the canonical event form: the seven named escapes, plus
// \u00XX for any other control byte, everything else passed through raw.
func NostrEscape(dst, src []byte) []byte {
	for _, c := range src {
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		default:
			if c < 0x20 {
				dst = append(dst, '\\', 'u', '0', '0')
				dst = append(dst, hexDigit(c>>4), hexDigit(c&0xf))
			} else {
				dst = append(dst, c)
			}
		}
	}
	return dst
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + n - 10
}

// AppendQuote wraps src in double quotes, passing it through esc first.
func AppendQuote(dst, src []byte, esc Escaper) []byte {
	dst = append(dst, '"')
	dst = esc(dst, src)
	dst = append(dst, '"')
	return dst
}

// UnmarshalHex reads a quoted hex string starting at r[0] == '"' and returns
// the decoded bytes plus the remaining input.
func UnmarshalHex(r []byte) (out, rem []byte, err error) {
	var raw []byte
	if raw, rem, err = UnmarshalQuoted(r); err != nil {
		return
	}
	out = make([]byte, hex.DecodedLen(len(raw)))
	if _, err = hex.Decode(out, raw); err != nil {
		err = errorf.E("codec: invalid hex string: %w", err)
		return
	}
	return
}

// UnmarshalQuoted reads a JSON-quoted string starting at r[0] == '"',
// un-escaping it, and returns the raw bytes plus the remaining input.
func UnmarshalQuoted(r []byte) (out, rem []byte, err error) {
	if len(r) == 0 || r[0] != '"' {
		err = errorf.E("codec: expected '\"', got '%s'", preview(r))
		return
	}
	r = r[1:]
	for i := 0; i < len(r); i++ {
		switch r[i] {
		case '"':
			rem = r[i+1:]
			return
		case '\\':
			if i+1 >= len(r) {
				err = errorf.E("codec: truncated escape sequence")
				return
			}
			i++
			switch r[i] {
			case '"':
				out = append(out, '"')
			case '\\':
				out = append(out, '\\')
			case '/':
				out = append(out, '/')
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case 'u':
				if i+4 >= len(r) {
					err = errorf.E("codec: truncated unicode escape")
					return
				}
				var v [2]byte
				if _, err = hex.Decode(v[:], r[i+1:i+5]); err != nil {
					err = errorf.E("codec: invalid unicode escape: %w", err)
					return
				}
				cp := rune(v[0])<<8 | rune(v[1])
				out = appendRune(out, cp)
				i += 4
			default:
				err = errorf.E("codec: invalid escape '\\%c'", r[i])
				return
			}
		default:
			out = append(out, r[i])
		}
	}
	err = errorf.E("codec: unterminated string")
	return
}

func appendRune(dst []byte, r rune) []byte {
	if r < 0x80 {
		return append(dst, byte(r))
	}
	var buf [4]byte
	n := encodeRuneUTF8(buf[:], r)
	return append(dst, buf[:n]...)
}

// encodeRuneUTF8 is a small local UTF-8 encoder so this package doesn't need
// to import unicode/utf8 just for \u00XX escapes outside the ASCII range.
func encodeRuneUTF8(buf []byte, r rune) int {
	switch {
	case r <= 0x7F:
		buf[0] = byte(r)
		return 1
	case r <= 0x7FF:
		buf[0] = 0xC0 | byte(r>>6)
		buf[1] = 0x80 | byte(r&0x3F)
		return 2
	default:
		buf[0] = 0xE0 | byte(r>>12)
		buf[1] = 0x80 | byte((r>>6)&0x3F)
		buf[2] = 0x80 | byte(r&0x3F)
		return 3
	}
}

func preview(b []byte) string {
	if len(b) > 16 {
		b = b[:16]
	}
	return string(b)
}
