package tags

import (
	"codeberg.org/nostrcore/relaysdk/wire"
	"codeberg.org/nostrcore/relaysdk/tag"
)

// Marshal renders the tag list as a minified JSON array of arrays.
func (t *T) Marshal(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tg := range t.Tag {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = tg.Marshal(dst)
	}
	dst = append(dst, ']')
	return dst
}

// MarshalWithWhitespace renders the tag list with a newline and tab of
// indentation between entries, for human-readable output.
func (t *T) MarshalWithWhitespace(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tg := range t.Tag {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '\n', '\t', '\t')
		dst = tg.Marshal(dst)
	}
	if len(t.Tag) > 0 {
		dst = append(dst, '\n', '\t')
	}
	dst = append(dst, ']')
	return dst
}

// Unmarshal reads a JSON array of tag arrays starting at r[0] == '[' and
// returns the remainder.
func (t *T) Unmarshal(r []byte) (rem []byte, err error) {
	for len(r) > 0 && wire.IsWhitespace(r[0]) {
		r = r[1:]
	}
	if len(r) == 0 || r[0] != '[' {
		return r, errTags("tags: expected '['")
	}
	r = r[1:]
	for {
		for len(r) > 0 && wire.IsWhitespace(r[0]) {
			r = r[1:]
		}
		if len(r) == 0 {
			return r, errTags("tags: unterminated array")
		}
		if r[0] == ']' {
			rem = r[1:]
			return
		}
		tg := &tag.T{}
		if r, err = tg.Unmarshal(r); err != nil {
			return r, err
		}
		t.Tag = append(t.Tag, tg)
		for len(r) > 0 && wire.IsWhitespace(r[0]) {
			r = r[1:]
		}
		if len(r) > 0 && r[0] == ',' {
			r = r[1:]
			continue
		}
	}
}

// ToStringsSlice returns the tag list as a slice of slice of strings, for
// interop with plain JSON-marshaled forms.
func (t *T) ToStringsSlice() [][]string {
	if t == nil {
		return nil
	}
	out := make([][]string, len(t.Tag))
	for i, tg := range t.Tag {
		out[i] = tg.ToStrings()
	}
	return out
}

type errTags string

func (e errTags) Error() string { return string(e) }
