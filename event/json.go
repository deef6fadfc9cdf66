package event

import (
	"bytes"
	"io"

	"codeberg.org/nostrcore/relaysdk/chk"
	"codeberg.org/nostrcore/relaysdk/errorf"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/tags"
	"codeberg.org/nostrcore/relaysdk/timestamp"
	"codeberg.org/nostrcore/relaysdk/wire"
)

var (
	jId        = []byte("id")
	jPubkey    = []byte("pubkey")
	jCreatedAt = []byte("created_at")
	jKind      = []byte("kind")
	jTags      = []byte("tags")
	jContent   = []byte("content")
	jSig       = []byte("sig")
)

// Marshal appends the event's minified JSON wire form to dst.
func (ev *E) Marshal(dst []byte) []byte {
	return ev.MarshalWithWhitespace(dst, false)
}

// MarshalWithWhitespace is Marshal, with newlines and tabs added for human
// readability when on is true.
func (ev *E) MarshalWithWhitespace(dst []byte, on bool) []byte {
	dst = append(dst, '{')
	if on {
		dst = append(dst, '\n', '\t')
	}
	dst = wire.JSONKey(dst, jId)
	if on {
		dst = append(dst, ' ')
	}
	dst = wire.AppendQuote(dst, ev.Id, wire.HexAppend)
	dst = append(dst, ',')
	if on {
		dst = append(dst, '\n', '\t')
	}
	dst = wire.JSONKey(dst, jPubkey)
	if on {
		dst = append(dst, ' ')
	}
	dst = wire.AppendQuote(dst, ev.Pubkey, wire.HexAppend)
	dst = append(dst, ',')
	if on {
		dst = append(dst, '\n', '\t')
	}
	dst = wire.JSONKey(dst, jCreatedAt)
	if on {
		dst = append(dst, ' ')
	}
	dst = ev.CreatedAt.Marshal(dst)
	dst = append(dst, ',')
	if on {
		dst = append(dst, '\n', '\t')
	}
	dst = wire.JSONKey(dst, jKind)
	if on {
		dst = append(dst, ' ')
	}
	dst = ev.Kind.Marshal(dst)
	dst = append(dst, ',')
	if on {
		dst = append(dst, '\n', '\t')
	}
	dst = wire.JSONKey(dst, jTags)
	if on {
		dst = append(dst, ' ')
	}
	if on {
		dst = ev.Tags.MarshalWithWhitespace(dst)
	} else {
		dst = ev.Tags.Marshal(dst)
	}
	dst = append(dst, ',')
	if on {
		dst = append(dst, '\n', '\t')
	}
	dst = wire.JSONKey(dst, jContent)
	if on {
		dst = append(dst, ' ')
	}
	dst = wire.AppendQuote(dst, ev.Content, wire.NostrEscape)
	dst = append(dst, ',')
	if on {
		dst = append(dst, '\n', '\t')
	}
	dst = wire.JSONKey(dst, jSig)
	if on {
		dst = append(dst, ' ')
	}
	dst = wire.AppendQuote(dst, ev.Sig, wire.HexAppend)
	if on {
		dst = append(dst, '\n')
	}
	dst = append(dst, '}')
	return dst
}

// Unmarshal reads an event's JSON wire form from b, minified or
// whitespace-formatted, and returns the unconsumed remainder.
func (ev *E) Unmarshal(b []byte) (r []byte, err error) {
	key := make([]byte, 0, 9)
	r = b
	for ; len(r) > 0; r = r[1:] {
		if wire.IsWhitespace(r[0]) {
			continue
		}
		if r[0] == '{' {
			r = r[1:]
			goto BetweenKeys
		}
	}
	goto eof
BetweenKeys:
	for ; len(r) > 0; r = r[1:] {
		if wire.IsWhitespace(r[0]) {
			continue
		}
		if r[0] == '"' {
			r = r[1:]
			goto InKey
		}
	}
	goto eof
InKey:
	for ; len(r) > 0; r = r[1:] {
		if r[0] == '"' {
			r = r[1:]
			goto InKV
		}
		key = append(key, r[0])
	}
	goto eof
InKV:
	for ; len(r) > 0; r = r[1:] {
		if wire.IsWhitespace(r[0]) {
			continue
		}
		if r[0] == ':' {
			r = r[1:]
			goto InVal
		}
	}
	goto eof
InVal:
	for len(r) > 0 && wire.IsWhitespace(r[0]) {
		r = r[1:]
	}
	if len(key) == 0 {
		goto invalid
	}
	switch key[0] {
	case jId[0]:
		if !bytes.Equal(jId, key) {
			goto invalid
		}
		var id []byte
		if id, r, err = wire.UnmarshalHex(r); chk.E(err) {
			return
		}
		if len(id) != 32 {
			err = errorf.E("event: invalid id, require 32 got %d", len(id))
			return
		}
		ev.Id = id
		goto BetweenKV
	case jPubkey[0]:
		if !bytes.Equal(jPubkey, key) {
			goto invalid
		}
		var pk []byte
		if pk, r, err = wire.UnmarshalHex(r); chk.E(err) {
			return
		}
		if len(pk) != 32 {
			err = errorf.E("event: invalid pubkey, require 32 got %d", len(pk))
			return
		}
		ev.Pubkey = pk
		goto BetweenKV
	case jKind[0]:
		if !bytes.Equal(jKind, key) {
			goto invalid
		}
		ev.Kind = kind.New(0)
		if r, err = ev.Kind.Unmarshal(r); chk.E(err) {
			return
		}
		goto BetweenKV
	case jTags[0]:
		if !bytes.Equal(jTags, key) {
			goto invalid
		}
		ev.Tags = tags.New()
		if r, err = ev.Tags.Unmarshal(r); chk.E(err) {
			return
		}
		goto BetweenKV
	case jSig[0]:
		if !bytes.Equal(jSig, key) {
			goto invalid
		}
		var sig []byte
		if sig, r, err = wire.UnmarshalHex(r); chk.E(err) {
			return
		}
		if len(sig) != 64 {
			err = errorf.E("event: invalid sig, require 64 got %d", len(sig))
			return
		}
		ev.Sig = sig
		goto BetweenKV
	case jContent[0]:
		if len(key) > 1 && key[1] == jContent[1] {
			if !bytes.Equal(jContent, key) {
				goto invalid
			}
			if ev.Content, r, err = wire.UnmarshalQuoted(r); chk.T(err) {
				return
			}
			goto BetweenKV
		} else if len(key) > 1 && key[1] == jCreatedAt[1] {
			if !bytes.Equal(jCreatedAt, key) {
				goto invalid
			}
			ev.CreatedAt = timestamp.New(0)
			if r, err = ev.CreatedAt.Unmarshal(r); chk.T(err) {
				return
			}
			goto BetweenKV
		}
		goto invalid
	default:
		goto invalid
	}
BetweenKV:
	key = key[:0]
	for ; len(r) > 0; r = r[1:] {
		if wire.IsWhitespace(r[0]) {
			continue
		}
		switch r[0] {
		case '}':
			r = r[1:]
			goto AfterClose
		case ',':
			r = r[1:]
			goto BetweenKeys
		case '"':
			r = r[1:]
			goto InKey
		}
	}
	goto eof
AfterClose:
	for len(r) > 0 && wire.IsWhitespace(r[0]) {
		r = r[1:]
	}
	return
invalid:
	err = errorf.E("event: invalid key near '%s'", string(truncate(r, 24)))
	return
eof:
	err = io.EOF
	return
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
