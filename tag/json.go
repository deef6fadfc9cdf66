package tag

import "codeberg.org/nostrcore/relaysdk/wire"

// Marshal renders the tag as a minified JSON array of strings.
func (t *T) Marshal(dst []byte) []byte {
	dst = append(dst, '[')
	for i, f := range t.Field {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = wire.AppendQuote(dst, f, wire.NostrEscape)
	}
	dst = append(dst, ']')
	return dst
}

// Unmarshal reads a JSON array of strings starting at r[0] == '[' into the
// tag and returns the remainder.
func (t *T) Unmarshal(r []byte) (rem []byte, err error) {
	for len(r) > 0 && wire.IsWhitespace(r[0]) {
		r = r[1:]
	}
	if len(r) == 0 || r[0] != '[' {
		return r, errTag("tag: expected '['")
	}
	r = r[1:]
	for {
		for len(r) > 0 && wire.IsWhitespace(r[0]) {
			r = r[1:]
		}
		if len(r) == 0 {
			return r, errTag("tag: unterminated array")
		}
		if r[0] == ']' {
			rem = r[1:]
			return
		}
		var elem []byte
		if elem, r, err = wire.UnmarshalQuoted(r); err != nil {
			return r, err
		}
		t.Field = append(t.Field, elem)
		for len(r) > 0 && wire.IsWhitespace(r[0]) {
			r = r[1:]
		}
		if len(r) > 0 && r[0] == ',' {
			r = r[1:]
			continue
		}
	}
}

type errTag string

func (e errTag) Error() string { return string(e) }
