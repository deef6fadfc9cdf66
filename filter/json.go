package filter

import (
	"encoding/binary"
	sha256 "github.com/minio/sha256-simd"

	"codeberg.org/nostrcore/relaysdk/chk"
	"codeberg.org/nostrcore/relaysdk/errorf"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/tag"
	"codeberg.org/nostrcore/relaysdk/timestamp"
	"codeberg.org/nostrcore/relaysdk/wire"
)

var (
	jIds     = []byte("ids")
	jKinds   = []byte("kinds")
	jAuthors = []byte("authors")
	jSince   = []byte("since")
	jUntil   = []byte("until")
	jLimit   = []byte("limit")
	jSearch  = []byte("search")
)

func marshalHexArray(dst []byte, vals [][]byte) []byte {
	dst = append(dst, '[')
	for i, v := range vals {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = wire.AppendQuote(dst, v, wire.HexAppend)
	}
	dst = append(dst, ']')
	return dst
}

// Marshal renders the filter as minified JSON. The filter is sorted first
// so identical filter content always produces identical bytes.
func (f *F) Marshal(dst []byte) []byte {
	f.Sort()
	first := false
	dst = append(dst, '{')
	if f.Ids.Len() > 0 {
		dst = wire.JSONKey(dst, jIds)
		dst = marshalHexArray(dst, f.Ids.ToSliceOfBytes())
		first = true
	}
	if f.Kinds.Len() > 0 {
		if first {
			dst = append(dst, ',')
		}
		dst = wire.JSONKey(dst, jKinds)
		dst = f.Kinds.Marshal(dst)
		first = true
	}
	if f.Authors.Len() > 0 {
		if first {
			dst = append(dst, ',')
		}
		dst = wire.JSONKey(dst, jAuthors)
		dst = marshalHexArray(dst, f.Authors.ToSliceOfBytes())
		first = true
	}
	for _, tg := range f.Tags.ToSliceOfTags() {
		if tg.Len() < 2 || len(tg.Key()) != 2 || tg.Key()[0] != '#' {
			continue
		}
		if first {
			dst = append(dst, ',')
		}
		dst = append(dst, '"', tg.Key()[0], tg.Key()[1], '"', ':', '[')
		for i := 1; i < tg.Len(); i++ {
			if i > 1 {
				dst = append(dst, ',')
			}
			dst = wire.AppendQuote(dst, tg.B(i), wire.NostrEscape)
		}
		dst = append(dst, ']')
		first = true
	}
	if f.Since.I64() != 0 {
		if first {
			dst = append(dst, ',')
		}
		dst = wire.JSONKey(dst, jSince)
		dst = f.Since.Marshal(dst)
		first = true
	}
	if f.Until.I64() != 0 {
		if first {
			dst = append(dst, ',')
		}
		dst = wire.JSONKey(dst, jUntil)
		dst = f.Until.Marshal(dst)
		first = true
	}
	if len(f.Search) > 0 {
		if first {
			dst = append(dst, ',')
		}
		dst = wire.JSONKey(dst, jSearch)
		dst = wire.AppendQuote(dst, f.Search, wire.NostrEscape)
		first = true
	}
	if f.Limit != nil {
		if first {
			dst = append(dst, ',')
		}
		dst = wire.JSONKey(dst, jLimit)
		dst = appendUint(dst, uint64(*f.Limit))
	}
	dst = append(dst, '}')
	return dst
}

func appendUint(dst []byte, v uint64) []byte {
	var tmp [20]byte
	i := len(tmp)
	if v == 0 {
		return append(dst, '0')
	}
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(dst, tmp[i:]...)
}

func parseUint(r []byte) (v uint64, rem []byte, err error) {
	i := 0
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		v = v*10 + uint64(r[i]-'0')
		i++
	}
	if i == 0 {
		return 0, r, errorf.E("filter: expected digits")
	}
	return v, r[i:], nil
}

// Unmarshal reads a minified JSON filter object from b and returns the
// remainder.
func (f *F) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	for len(r) > 0 && wire.IsWhitespace(r[0]) {
		r = r[1:]
	}
	if len(r) == 0 || r[0] != '{' {
		return r, errorf.E("filter: expected '{'")
	}
	r = r[1:]
	for {
		for len(r) > 0 && wire.IsWhitespace(r[0]) {
			r = r[1:]
		}
		if len(r) == 0 {
			return r, errorf.E("filter: unterminated object")
		}
		if r[0] == '}' {
			r = r[1:]
			return r, nil
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		if r[0] != '"' {
			return r, errorf.E("filter: expected key near '%s'", preview(r))
		}
		var key []byte
		if key, r, err = wire.UnmarshalQuoted(r); chk.E(err) {
			return
		}
		for len(r) > 0 && wire.IsWhitespace(r[0]) {
			r = r[1:]
		}
		if len(r) == 0 || r[0] != ':' {
			return r, errorf.E("filter: expected ':' after key")
		}
		r = r[1:]
		for len(r) > 0 && wire.IsWhitespace(r[0]) {
			r = r[1:]
		}
		ks := string(key)
		switch {
		case ks == "ids":
			var ff [][]byte
			if ff, r, err = unmarshalHexArray(r, 32); chk.E(err) {
				return
			}
			f.Ids = tag.FromBytesSlice(ff...)
		case ks == "authors":
			var ff [][]byte
			if ff, r, err = unmarshalHexArray(r, 32); chk.E(err) {
				return
			}
			f.Authors = tag.FromBytesSlice(ff...)
		case ks == "kinds":
			f.Kinds = kind.NewSet(0)
			if r, err = f.Kinds.Unmarshal(r); chk.E(err) {
				return
			}
		case ks == "since":
			var v uint64
			if v, r, err = parseUint(r); chk.E(err) {
				return
			}
			f.Since = timestamp.New(v)
		case ks == "until":
			var v uint64
			if v, r, err = parseUint(r); chk.E(err) {
				return
			}
			f.Until = timestamp.New(v)
		case ks == "limit":
			var v uint64
			if v, r, err = parseUint(r); chk.E(err) {
				return
			}
			lim := uint(v)
			f.Limit = &lim
		case ks == "search":
			if f.Search, r, err = wire.UnmarshalQuoted(r); chk.E(err) {
				return
			}
		case len(ks) == 2 && ks[0] == '#':
			var vals []string
			if vals, r, err = unmarshalStringArray(r); chk.E(err) {
				return
			}
			elems := make([][]byte, 0, len(vals)+1)
			elems = append(elems, []byte(ks))
			for _, v := range vals {
				elems = append(elems, []byte(v))
			}
			f.Tags = f.Tags.AppendTags(tag.FromBytesSlice(elems...))
		default:
			return r, errorf.E("filter: unknown key '%s'", ks)
		}
	}
}

func unmarshalHexArray(r []byte, size int) (out [][]byte, rem []byte, err error) {
	for len(r) > 0 && wire.IsWhitespace(r[0]) {
		r = r[1:]
	}
	if len(r) == 0 || r[0] != '[' {
		return nil, r, errorf.E("filter: expected '['")
	}
	r = r[1:]
	for {
		for len(r) > 0 && wire.IsWhitespace(r[0]) {
			r = r[1:]
		}
		if len(r) == 0 {
			return nil, r, errorf.E("filter: unterminated array")
		}
		if r[0] == ']' {
			return out, r[1:], nil
		}
		var hx []byte
		if hx, r, err = wire.UnmarshalHex(r); err != nil {
			return nil, r, err
		}
		if size > 0 && len(hx) != size {
			return nil, r, errorf.E("filter: expected %d byte value, got %d", size, len(hx))
		}
		out = append(out, hx)
		for len(r) > 0 && wire.IsWhitespace(r[0]) {
			r = r[1:]
		}
		if len(r) > 0 && r[0] == ',' {
			r = r[1:]
		}
	}
}

func unmarshalStringArray(r []byte) (out []string, rem []byte, err error) {
	for len(r) > 0 && wire.IsWhitespace(r[0]) {
		r = r[1:]
	}
	if len(r) == 0 || r[0] != '[' {
		return nil, r, errorf.E("filter: expected '['")
	}
	r = r[1:]
	for {
		for len(r) > 0 && wire.IsWhitespace(r[0]) {
			r = r[1:]
		}
		if len(r) == 0 {
			return nil, r, errorf.E("filter: unterminated array")
		}
		if r[0] == ']' {
			return out, r[1:], nil
		}
		var s []byte
		if s, r, err = wire.UnmarshalQuoted(r); err != nil {
			return nil, r, err
		}
		out = append(out, string(s))
		for len(r) > 0 && wire.IsWhitespace(r[0]) {
			r = r[1:]
		}
		if len(r) > 0 && r[0] == ',' {
			r = r[1:]
		}
	}
}

func preview(b []byte) []byte {
	if len(b) > 24 {
		return b[:24]
	}
	return b
}

// Fingerprint returns an 8-byte truncated SHA256 hash of the filter's
// canonical JSON with Limit stripped, used to decide whether two result
// sets queried with "the same filter" may merge with a preserved limit.
func (f *F) Fingerprint() uint64 {
	lim := f.Limit
	f.Limit = nil
	b := f.Marshal(nil)
	f.Limit = lim
	h := sha256.Sum256(b)
	return binary.LittleEndian.Uint64(h[:8])
}
