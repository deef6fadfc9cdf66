// Package store is the local event database: badger-backed persistence,
// a selective index catalog, and the insertion algorithm that enforces
// nostr's replaceable/addressable/deletion semantics. The design and its
// index-key scheme are grounded in the same badger usage as the relay
// database this module borrows its storage idiom from, adapted here for a
// client-side cache rather than a relay's primary store.
package store

import (
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
)

// SaveStatus reports what Save actually did with an incoming event.
type SaveStatus int

const (
	// Accepted means the event was new and is now persisted.
	Accepted SaveStatus = iota
	// Duplicate means an event with this id was already stored; a no-op.
	Duplicate
	// Deleted means the event was rejected because a deletion event for
	// this id, or a later deletion marker for its addressable coordinate,
	// already exists.
	Deleted
	// Replaced means the event was rejected because a replaceable/addressable
	// event with the same selector and an equal or later created_at is
	// already stored.
	Replaced
	// InvalidDelete means a kind-5 deletion event referenced an id or
	// coordinate it does not have the authority to delete; no part of the
	// deletion event's effect was applied.
	InvalidDelete
	// Ephemeral means the event's kind is never persisted.
	Ephemeral
)

func (s SaveStatus) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Deleted:
		return "deleted"
	case Replaced:
		return "replaced"
	case InvalidDelete:
		return "invalid_delete"
	case Ephemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// NegentropyItem is the (id, created_at) pair the reconciliation protocol
// operates over; it never needs the full event body.
type NegentropyItem struct {
	Id        []byte
	CreatedAt int64
}

// I is the event store every pool and gossip component is built against.
// The badger-backed D is the implementation in this package; callers with no
// persistence pass a nil I, which pool.New accepts.
type I interface {
	Save(ev *event.E) (SaveStatus, error)
	Has(id []byte) (bool, error)
	Get(id []byte) (*event.E, error)
	Query(f *filter.F) (event.S, error)
	Count(f *filter.F) (int, error)
	NegentropyItems(f *filter.F) ([]NegentropyItem, error)
	Delete(id []byte) error
	Wipe() error
	Close() error
}
