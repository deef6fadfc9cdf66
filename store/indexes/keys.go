// Package indexes builds the binary lookup keys the store writes alongside
// each event. Every key begins with a 3-byte ASCII prefix naming the index,
// followed by fixed-width fields ordered so that a byte-lexicographic walk
// of the index visits rows in the order the index is meant to serve:
// selector fields first, then created_at descending (stored as the bitwise
// complement of a big-endian uint64, since badger iterates ascending), then
// the event's serial number as a final tiebreaker.
package indexes

import (
	"encoding/binary"

	sha256 "github.com/minio/sha256-simd"
)

const (
	Event              = "evt" // evt | serial -> binary event
	Id                 = "eid" // eid | idhash | serial
	CreatedAt          = "cat" // cat | ~created_at | serial
	PubkeyCreatedAt    = "pca" // pca | pubhash | ~created_at | serial
	PubkeyTagCreatedAt = "ptc" // ptc | pubhash | letter | ident | ~created_at | serial
	TagCreatedAt       = "itc" // itc | letter | ident | ~created_at | serial
	Kind               = "kin" // kin | kind | ~created_at | serial
	KindPubkey         = "kpk" // kpk | kind | pubhash | ~created_at | serial
	KindCreatedAt      = "kca" // kca | kind | ~created_at | serial (alias of Kind, kept distinct per component)
	KindTag            = "ikt" // ikt | kind | letter | ident | ~created_at | serial
	KindTagCreatedAt   = "ktc" // ktc | kind | letter | ident | ~created_at | serial
	Addressable        = "adr" // adr | pubhash | kind | ident(d-tag) -> created_at | serial, for replaceable/addressable lookup
	DeletedId          = "del" // del | idhash -> nothing, tombstone of a deleted event id
	DeletedCoordinate  = "dco" // dco | pubhash | kind | ident(d-tag) -> created_at of the deletion marker
)

const (
	IdHashLen  = 8
	PubHashLen = 8
	IdentLen   = 8
)

// IdHash truncates a 32-byte event id to its first 8 bytes. Two ids sharing
// those 8 bytes share an index prefix; lookups take the first matching row
// and do not compare the full id.
func IdHash(id []byte) []byte {
	h := make([]byte, IdHashLen)
	copy(h, id)
	return h
}

// PubHash hashes a 32-byte pubkey down to 8 bytes so index keys stay small.
func PubHash(pubkey []byte) []byte {
	sum := sha256.Sum256(pubkey)
	h := make([]byte, PubHashLen)
	copy(h, sum[:])
	return h
}

// Ident hashes an arbitrary tag value (the second element of a tag) down to
// 8 bytes for use in tag-indexed keys.
func Ident(value []byte) []byte {
	sum := sha256.Sum256(value)
	h := make([]byte, IdentLen)
	copy(h, sum[:])
	return h
}

// Serial encodes a badger sequence value as a big-endian uint40 (5 bytes),
// matching the expected cardinality of a single store (under 2^40 events).
func Serial(serial uint64) []byte {
	b := make([]byte, 5)
	b[0] = byte(serial >> 32)
	binary.BigEndian.PutUint32(b[1:], uint32(serial))
	return b
}

func DecodeSerial(b []byte) uint64 {
	if len(b) < 5 {
		return 0
	}
	return uint64(b[0])<<32 | uint64(binary.BigEndian.Uint32(b[1:5]))
}

// InvertedTimestamp encodes a unix timestamp so that descending chronological
// order corresponds to ascending byte order, which is the only order badger
// walks efficiently.
func InvertedTimestamp(createdAt int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ^uint64(createdAt))
	return b
}

func DecodeInvertedTimestamp(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(^binary.BigEndian.Uint64(b))
}

func KindBytes(k uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, k)
	return b
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func EventKey(serial uint64) []byte {
	return concat([]byte(Event), Serial(serial))
}

func IdKey(id []byte, serial uint64) []byte {
	return concat([]byte(Id), IdHash(id), Serial(serial))
}

func IdPrefix(id []byte) []byte {
	return concat([]byte(Id), IdHash(id))
}

func CreatedAtKey(createdAt int64, serial uint64) []byte {
	return concat([]byte(CreatedAt), InvertedTimestamp(createdAt), Serial(serial))
}

func PubkeyCreatedAtKey(pubkey []byte, createdAt int64, serial uint64) []byte {
	return concat([]byte(PubkeyCreatedAt), PubHash(pubkey), InvertedTimestamp(createdAt), Serial(serial))
}

func PubkeyCreatedAtPrefix(pubkey []byte) []byte {
	return concat([]byte(PubkeyCreatedAt), PubHash(pubkey))
}

func PubkeyTagCreatedAtKey(pubkey []byte, letter byte, value []byte, createdAt int64, serial uint64) []byte {
	return concat([]byte(PubkeyTagCreatedAt), PubHash(pubkey), []byte{letter}, Ident(value), InvertedTimestamp(createdAt), Serial(serial))
}

func TagCreatedAtKey(letter byte, value []byte, createdAt int64, serial uint64) []byte {
	return concat([]byte(TagCreatedAt), []byte{letter}, Ident(value), InvertedTimestamp(createdAt), Serial(serial))
}

func TagCreatedAtPrefix(letter byte, value []byte) []byte {
	return concat([]byte(TagCreatedAt), []byte{letter}, Ident(value))
}

func KindKey(k uint16, createdAt int64, serial uint64) []byte {
	return concat([]byte(Kind), KindBytes(k), InvertedTimestamp(createdAt), Serial(serial))
}

func KindPrefix(k uint16) []byte {
	return concat([]byte(Kind), KindBytes(k))
}

func KindPubkeyKey(k uint16, pubkey []byte, createdAt int64, serial uint64) []byte {
	return concat([]byte(KindPubkey), KindBytes(k), PubHash(pubkey), InvertedTimestamp(createdAt), Serial(serial))
}

func KindPubkeyPrefix(k uint16, pubkey []byte) []byte {
	return concat([]byte(KindPubkey), KindBytes(k), PubHash(pubkey))
}

func KindTagKey(k uint16, letter byte, value []byte, createdAt int64, serial uint64) []byte {
	return concat([]byte(KindTag), KindBytes(k), []byte{letter}, Ident(value), InvertedTimestamp(createdAt), Serial(serial))
}

func KindTagPrefix(k uint16, letter byte, value []byte) []byte {
	return concat([]byte(KindTag), KindBytes(k), []byte{letter}, Ident(value))
}

// AddressableKey locates the single stored row for a replaceable or
// addressable event by (pubkey, kind, d-tag). dtag is empty for plain
// replaceable kinds.
func AddressableKey(pubkey []byte, k uint16, dtag string) []byte {
	return concat([]byte(Addressable), PubHash(pubkey), KindBytes(k), Ident([]byte(dtag)))
}

func DeletedIdKey(id []byte) []byte {
	return concat([]byte(DeletedId), IdHash(id))
}

func DeletedCoordinateKey(pubkey []byte, k uint16, dtag string) []byte {
	return concat([]byte(DeletedCoordinate), PubHash(pubkey), KindBytes(k), Ident([]byte(dtag)))
}
