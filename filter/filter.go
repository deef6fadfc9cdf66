// Package filter is the query form a client sends a relay in a REQ, and the
// predicate a local store evaluates against candidate events. A filter is a
// conjunction of optional predicates; an absent predicate always passes.
package filter

import (
	"bytes"
	"sort"

	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/tag"
	"codeberg.org/nostrcore/relaysdk/tags"
	"codeberg.org/nostrcore/relaysdk/timestamp"
)

// F is a nostr filter. Field ordering is not protocol-significant, but
// Marshal always sorts the contents of each predicate first so two filters
// built from the same set of values produce byte-identical JSON, which is
// what Fingerprint relies on.
type F struct {
	Ids     *tag.T
	Kinds   *kind.S
	Authors *tag.T
	Tags    *tags.T
	Since   *timestamp.T
	Until   *timestamp.T
	Search  []byte
	Limit   *uint
}

// New returns an empty, ready-to-populate filter.
func New() *F {
	return &F{
		Ids:     tag.NewWithCap(0),
		Kinds:   kind.NewSet(0),
		Authors: tag.NewWithCap(0),
		Tags:    tags.New(),
	}
}

// IsEmpty reports whether no predicate is set. An empty filter is legal on
// a REQ but the SDK itself must never construct one implicitly.
func (f *F) IsEmpty() bool {
	return f.Ids.Len() == 0 && f.Kinds.Len() == 0 && f.Authors.Len() == 0 &&
		f.Tags.Len() == 0 && f.Since.I64() == 0 && f.Until.I64() == 0 &&
		len(f.Search) == 0 && f.Limit == nil
}

// Clone deep-copies a filter. The clone's Limit, if any, is preserved as-is;
// callers that use Limit as a subscription reference count set it
// themselves after cloning.
func (f *F) Clone() *F {
	c := &F{
		Ids:     tag.FromBytesSlice(append([][]byte(nil), f.Ids.ToSliceOfBytes()...)...),
		Kinds:   kind.NewSet(f.Kinds.Len()),
		Authors: tag.FromBytesSlice(append([][]byte(nil), f.Authors.ToSliceOfBytes()...)...),
		Tags:    f.Tags.Clone(),
	}
	for _, k := range f.Kinds.ToUint16() {
		c.Kinds = c.Kinds.Append(k)
	}
	if f.Since != nil {
		c.Since = f.Since.Clone()
	}
	if f.Until != nil {
		c.Until = f.Until.Clone()
	}
	if f.Search != nil {
		c.Search = append([]byte(nil), f.Search...)
	}
	if f.Limit != nil {
		l := *f.Limit
		c.Limit = &l
	}
	return c
}

// Sort orders each predicate's contents canonically, so Marshal on two
// filters built from the same set of values always produces identical
// bytes. Call this before Fingerprint or Equal.
func (f *F) Sort() {
	if f.Ids != nil {
		sort.Sort(f.Ids)
	}
	if f.Kinds != nil {
		sort.Sort(f.Kinds)
	}
	if f.Authors != nil {
		sort.Sort(f.Authors)
	}
	if f.Tags != nil {
		sort.Sort(f.Tags)
	}
}

// Matches reports whether ev satisfies every predicate in f. Missing
// predicates are treated as passing.
func (f *F) Matches(ev *event.E) bool {
	if ev == nil {
		return false
	}
	if f.Ids.Len() > 0 && !f.Ids.Contains(ev.Id) {
		return false
	}
	if f.Kinds.Len() > 0 && !f.Kinds.Contains(ev.Kind) {
		return false
	}
	if f.Authors.Len() > 0 && !f.Authors.Contains(ev.Pubkey) {
		return false
	}
	if f.Tags.Len() > 0 && !ev.Tags.MatchesFilterTags(f.Tags) {
		return false
	}
	if f.Since.I64() != 0 && ev.CreatedAt.I64() < f.Since.I64() {
		return false
	}
	if f.Until.I64() != 0 && ev.CreatedAt.I64() > f.Until.I64() {
		return false
	}
	if len(f.Search) > 0 && !f.MatchesSearch(ev) {
		return false
	}
	return true
}

func arePtrEqual[V comparable](a, b *V) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// Equal reports whether f and o carry the same predicate content. Both
// receivers are sorted first.
func (f *F) Equal(o *F) bool {
	f.Sort()
	o.Sort()
	return f.Kinds.Equals(o.Kinds) &&
		f.Ids.Equal(o.Ids) &&
		f.Authors.Equal(o.Authors) &&
		f.Tags.Equal(o.Tags) &&
		arePtrEqual(f.Since, o.Since) &&
		arePtrEqual(f.Until, o.Until) &&
		bytes.Equal(f.Search, o.Search)
}
