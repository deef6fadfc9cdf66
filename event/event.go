// Package event is the nostr event datatype: JSON wire codec, canonical
// hashing form, binary storage form, and signing/verification.
package event

import (
	"encoding/hex"

	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/tag"
	"codeberg.org/nostrcore/relaysdk/tags"
	"codeberg.org/nostrcore/relaysdk/timestamp"
)

// E is the primary datatype of nostr: an immutable, signed, timestamped
// record identified by the hash of its canonical form.
type E struct {
	// Id is the SHA256 hash of the canonical encoding of the event.
	Id []byte
	// Pubkey is the 32-byte x-only public key of the event's author.
	Pubkey []byte
	// CreatedAt is the author-supplied creation timestamp.
	CreatedAt *timestamp.T
	// Kind selects the event's semantic family.
	Kind *kind.T
	// Tags are the event's ordered tag list.
	Tags *tags.T
	// Content is an arbitrary, kind-dependent UTF-8 string.
	Content []byte
	// Sig is the 64-byte Schnorr signature over Id.
	Sig []byte
}

// New returns an empty event ready for population.
func New() *E { return &E{Tags: tags.New()} }

// S is a slice of events that sorts into the canonical event order: newest
// created_at first, ties broken by ascending id.
type S []*E

func (s S) Len() int      { return len(s) }
func (s S) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s S) Less(i, j int) bool {
	ci, cj := s[i].CreatedAt.I64(), s[j].CreatedAt.I64()
	if ci != cj {
		return ci > cj
	}
	return bytesLess(s[i].Id, s[j].Id)
}

func bytesLess(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// IdHex returns the event id as a lowercase hex string.
func (ev *E) IdHex() string { return hex.EncodeToString(ev.Id) }

// PubkeyHex returns the author's pubkey as a lowercase hex string.
func (ev *E) PubkeyHex() string { return hex.EncodeToString(ev.Pubkey) }

// SigHex returns the signature as a lowercase hex string.
func (ev *E) SigHex() string { return hex.EncodeToString(ev.Sig) }

// ContentString returns Content as a string.
func (ev *E) ContentString() string { return string(ev.Content) }

// IsReplaceable reports whether (Pubkey, Kind) determines storage identity.
func (ev *E) IsReplaceable() bool { return ev.Kind.IsReplaceable() }

// IsAddressable reports whether (Pubkey, Kind, d-tag) determines storage
// identity.
func (ev *E) IsAddressable() bool { return ev.Kind.IsAddressable() }

// IsEphemeral reports whether the event is never stored.
func (ev *E) IsEphemeral() bool { return ev.Kind.IsEphemeral() }

// DTag returns the value of the event's "d" tag, "" if absent.
func (ev *E) DTag() string {
	if ev.Tags == nil {
		return ""
	}
	return ev.Tags.GetD()
}

// Clone returns a deep copy of the event.
func (ev *E) Clone() *E {
	if ev == nil {
		return nil
	}
	return &E{
		Id:        append([]byte(nil), ev.Id...),
		Pubkey:    append([]byte(nil), ev.Pubkey...),
		CreatedAt: ev.CreatedAt.Clone(),
		Kind:      &kind.T{K: ev.Kind.K},
		Tags:      ev.Tags.Clone(),
		Content:   append([]byte(nil), ev.Content...),
		Sig:       append([]byte(nil), ev.Sig...),
	}
}

// TagsFromStrings loads Tags from a slice of slice of strings, the shape
// used by interop JSON forms and test fixtures.
func (ev *E) TagsFromStrings(s ...[]string) {
	ev.Tags = tags.NewWithCap(len(s))
	for _, t := range s {
		ev.Tags.AppendTags(tag.New(t...))
	}
}
