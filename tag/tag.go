// Package tag implements a single nostr tag: an ordered list of UTF-8
// elements whose first element is the tag name.
package tag

import "bytes"

// T is a single tag: an ordered sequence of byte-string elements.
type T struct{ Field [][]byte }

// New creates a tag from string elements.
func New(fields ...string) *T {
	t := &T{Field: make([][]byte, len(fields))}
	for i, f := range fields {
		t.Field[i] = []byte(f)
	}
	return t
}

// NewWithCap creates an empty tag with room for n elements.
func NewWithCap(n uint64) *T { return &T{Field: make([][]byte, 0, n)} }

// FromBytesSlice wraps a pre-built slice of byte-string elements.
func FromBytesSlice(fields ...[]byte) *T { return &T{Field: fields} }

// Append adds a raw element and returns the receiver.
func (t *T) Append(b []byte) *T {
	t.Field = append(t.Field, b)
	return t
}

// Len returns the number of elements.
func (t *T) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Field)
}

// S returns element i as a string.
func (t *T) S(i int) string {
	if t == nil || i >= len(t.Field) {
		return ""
	}
	return string(t.Field[i])
}

// B returns element i as raw bytes.
func (t *T) B(i int) []byte {
	if t == nil || i >= len(t.Field) {
		return nil
	}
	return t.Field[i]
}

// Key returns the tag name (element 0) as a string.
func (t *T) Key() string { return t.S(0) }

// Less and Swap let a tag.T used as a flat value set (filter Ids/Authors)
// satisfy sort.Interface, ordering elements bytewise.
func (t *T) Less(i, j int) bool { return bytes.Compare(t.Field[i], t.Field[j]) < 0 }
func (t *T) Swap(i, j int)      { t.Field[i], t.Field[j] = t.Field[j], t.Field[i] }

// ToSliceOfBytes returns all elements as a slice of byte slices.
func (t *T) ToSliceOfBytes() [][]byte {
	if t == nil {
		return nil
	}
	return t.Field
}

// ToStrings returns all elements as strings.
func (t *T) ToStrings() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.Field))
	for i, f := range t.Field {
		out[i] = string(f)
	}
	return out
}

// Contains reports whether b is one of this tag's raw elements, used when a
// tag.T holds a flat set of values (filter Ids/Authors) rather than a
// structured single tag.
func (t *T) Contains(b []byte) bool {
	if t == nil {
		return false
	}
	for _, f := range t.Field {
		if bytes.Equal(f, b) {
			return true
		}
	}
	return false
}

// Equal compares two tags element-wise.
func (t *T) Equal(o *T) bool {
	if t.Len() != o.Len() {
		return false
	}
	for i := range t.Field {
		if !bytes.Equal(t.Field[i], o.Field[i]) {
			return false
		}
	}
	return true
}

// IsIndexable reports whether this tag's name is a single letter, the only
// tags the store's per-tag index tracks (per NIP-01's indexable tag
// convention).
func (t *T) IsIndexable() bool {
	return t.Len() >= 2 && len(t.Field[0]) == 1
}

// Clone makes a deep copy.
func (t *T) Clone() *T {
	if t == nil {
		return nil
	}
	c := &T{Field: make([][]byte, len(t.Field))}
	for i, f := range t.Field {
		b := make([]byte, len(f))
		copy(b, f)
		c.Field[i] = b
	}
	return c
}
