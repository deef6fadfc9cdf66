package wire

import (
	"encoding/binary"
	"io"
)

// EncodeVarint writes v to w as an unsigned LEB128 varint, the length
// prefix used throughout the event and filter binary forms.
func EncodeVarint(w io.Writer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, _ = w.Write(buf[:n])
}

// DecodeVarint reads an unsigned LEB128 varint from r.
func DecodeVarint(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}
