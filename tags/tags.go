// Package tags implements an ordered list of nostr tags, as found in the
// tags field of an event and the #-prefixed filters that query on them.
package tags

import "codeberg.org/nostrcore/relaysdk/tag"

// T is an ordered list of tags.
type T struct{ Tag []*tag.T }

// New builds a tag list from individual tags.
func New(t ...*tag.T) *T { return &T{Tag: t} }

// NewWithCap creates an empty tag list with room for n entries.
func NewWithCap(n int) *T { return &T{Tag: make([]*tag.T, 0, n)} }

// Len returns the number of tags.
func (t *T) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Tag)
}

// GetByIndex returns tag i, or nil if out of range.
func (t *T) GetByIndex(i int) *tag.T {
	if t == nil || i < 0 || i >= len(t.Tag) {
		return nil
	}
	return t.Tag[i]
}

// Append adds a tag and returns the (possibly new) receiver.
func (t *T) Append(tg *tag.T) *T {
	if t == nil {
		t = NewWithCap(1)
	}
	t.Tag = append(t.Tag, tg)
	return t
}

// AppendTags adds one or more tags and returns the (possibly new) receiver.
func (t *T) AppendTags(tg ...*tag.T) *T {
	if t == nil {
		t = NewWithCap(len(tg))
	}
	t.Tag = append(t.Tag, tg...)
	return t
}

// ToSliceOfTags returns the underlying slice.
func (t *T) ToSliceOfTags() []*tag.T {
	if t == nil {
		return nil
	}
	return t.Tag
}

// GetFirst returns the first tag whose key matches name, or nil.
func (t *T) GetFirst(name string) *tag.T {
	if t == nil {
		return nil
	}
	for _, tg := range t.Tag {
		if tg.Key() == name {
			return tg
		}
	}
	return nil
}

// GetAll returns every tag whose key matches name.
func (t *T) GetAll(name string) []*tag.T {
	if t == nil {
		return nil
	}
	var out []*tag.T
	for _, tg := range t.Tag {
		if tg.Key() == name {
			out = append(out, tg)
		}
	}
	return out
}

// GetD returns the value of the first "d" tag, the identifier used to form
// the coordinate of an addressable event. Absent tags behave as "".
func (t *T) GetD() string {
	d := t.GetFirst("d")
	if d == nil || d.Len() < 2 {
		return ""
	}
	return d.S(1)
}

// Intersects reports whether any tag in t matches key/value against any
// entry in values, the predicate behind filter #-tag matching.
func (t *T) Intersects(key string, values []string) bool {
	if t == nil {
		return false
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	for _, tg := range t.Tag {
		if tg.Len() < 2 || tg.S(0) != key {
			continue
		}
		if _, ok := set[tg.S(1)]; ok {
			return true
		}
	}
	return false
}

// MatchesFilterTags reports whether t satisfies every indexed-tag predicate
// in filterTags: for each predicate tag ("#e", v1, v2, ...), t must carry at
// least one tag named by the predicate's single-letter key whose value is
// among the predicate's values. An empty filterTags always matches.
func (t *T) MatchesFilterTags(filterTags *T) bool {
	if filterTags.Len() == 0 {
		return true
	}
	for _, pred := range filterTags.Tag {
		if pred.Len() < 2 {
			continue
		}
		key := pred.S(0)
		if len(key) != 2 || key[0] != '#' {
			continue
		}
		name := key[1:]
		values := pred.ToStrings()[1:]
		if !t.Intersects(name, values) {
			return false
		}
	}
	return true
}

// Less and Swap let a tag list satisfy sort.Interface, ordering by each
// tag's marshaled JSON form so Sort produces a stable canonical order.
func (t *T) Less(i, j int) bool {
	return string(t.Tag[i].Marshal(nil)) < string(t.Tag[j].Marshal(nil))
}
func (t *T) Swap(i, j int) { t.Tag[i], t.Tag[j] = t.Tag[j], t.Tag[i] }

// Clone makes a deep copy of the tag list.
func (t *T) Clone() *T {
	if t == nil {
		return nil
	}
	c := NewWithCap(len(t.Tag))
	for _, tg := range t.Tag {
		c.Tag = append(c.Tag, tg.Clone())
	}
	return c
}

// Equal compares two tag lists element-wise, in order.
func (t *T) Equal(o *T) bool {
	if t.Len() != o.Len() {
		return false
	}
	for i, tg := range t.Tag {
		if !tg.Equal(o.Tag[i]) {
			return false
		}
	}
	return true
}
