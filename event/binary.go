package event

import (
	"bufio"
	"io"

	"codeberg.org/nostrcore/relaysdk/chk"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/tag"
	"codeberg.org/nostrcore/relaysdk/tags"
	"codeberg.org/nostrcore/relaysdk/timestamp"
	"codeberg.org/nostrcore/relaysdk/wire"
)

// MarshalBinary writes a compact binary encoding of an event, used by the
// store to persist events without carrying JSON's field-name overhead.
//
// [ 32 bytes Id ]
// [ 32 bytes Pubkey ]
// [ varint CreatedAt ]
// [ varint Kind ]
// [ varint Tags length ]
//
//	[ varint tag length ]
//	  [ varint tag element length ]
//	  [ tag element data ]
//	...
//
// [ varint Content length ]
// [ Content bytes ]
// [ 64 bytes Sig ]
func (ev *E) MarshalBinary(w io.Writer) {
	_, _ = w.Write(ev.Id)
	_, _ = w.Write(ev.Pubkey)
	wire.EncodeVarint(w, ev.CreatedAt.U64())
	wire.EncodeVarint(w, uint64(ev.Kind.K))
	wire.EncodeVarint(w, uint64(ev.Tags.Len()))
	for _, x := range ev.Tags.ToSliceOfTags() {
		wire.EncodeVarint(w, uint64(x.Len()))
		for _, y := range x.ToSliceOfBytes() {
			wire.EncodeVarint(w, uint64(len(y)))
			_, _ = w.Write(y)
		}
	}
	wire.EncodeVarint(w, uint64(len(ev.Content)))
	_, _ = w.Write(ev.Content)
	_, _ = w.Write(ev.Sig)
}

// UnmarshalBinary reads the form MarshalBinary writes.
func (ev *E) UnmarshalBinary(r io.Reader) (err error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	ev.Id = make([]byte, 32)
	if _, err = io.ReadFull(br, ev.Id); chk.E(err) {
		return
	}
	ev.Pubkey = make([]byte, 32)
	if _, err = io.ReadFull(br, ev.Pubkey); chk.E(err) {
		return
	}
	var ca uint64
	if ca, err = wire.DecodeVarint(br); chk.E(err) {
		return
	}
	ev.CreatedAt = timestamp.New(ca)
	var k uint64
	if k, err = wire.DecodeVarint(br); chk.E(err) {
		return
	}
	ev.Kind = kind.New(k)
	var nTags uint64
	if nTags, err = wire.DecodeVarint(br); chk.E(err) {
		return
	}
	ev.Tags = tags.NewWithCap(int(nTags))
	for i := uint64(0); i < nTags; i++ {
		var nField uint64
		if nField, err = wire.DecodeVarint(br); chk.E(err) {
			return
		}
		t := tag.NewWithCap(nField)
		for j := uint64(0); j < nField; j++ {
			var lenField uint64
			if lenField, err = wire.DecodeVarint(br); chk.E(err) {
				return
			}
			field := make([]byte, lenField)
			if _, err = io.ReadFull(br, field); chk.E(err) {
				return
			}
			t = t.Append(field)
		}
		ev.Tags.AppendTags(t)
	}
	var cLen uint64
	if cLen, err = wire.DecodeVarint(br); chk.E(err) {
		return
	}
	ev.Content = make([]byte, cLen)
	if _, err = io.ReadFull(br, ev.Content); chk.E(err) {
		return
	}
	ev.Sig = make([]byte, 64)
	if _, err = io.ReadFull(br, ev.Sig); chk.E(err) {
		return
	}
	return
}
