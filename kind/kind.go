// Package kind classifies nostr event kinds into the regular, replaceable,
// addressable and ephemeral families defined by NIP-01 and NIP-33.
package kind

// T wraps a nostr event kind number.
type T struct{ K uint16 }

// New wraps a raw kind value.
func New(k uint64) *T { return &T{K: uint16(k)} }

// Well-known kinds referenced directly by the core (auth, deletion, relay
// lists, DM-inbox list).
const (
	Metadata             uint16 = 0
	TextNote             uint16 = 1
	RecommendServer      uint16 = 2
	FollowList           uint16 = 3
	Deletion             uint16 = 5
	Repost               uint16 = 6
	Reaction             uint16 = 7
	ClientAuthentication uint16 = 22242
	RelayListMetadata    uint16 = 10002
	DMRelayListMetadata  uint16 = 10050
)

// IsReplaceable reports whether kind is replaceable: the pair (pubkey, kind)
// may have at most one stored event, newest created_at wins.
func (t *T) IsReplaceable() bool {
	if t == nil {
		return false
	}
	k := t.K
	if k == Metadata || k == FollowList || k == RecommendServer {
		return true
	}
	return k >= 10000 && k < 20000
}

// IsAddressable reports whether kind is parameterized-replaceable: the triple
// (pubkey, kind, d-tag) may have at most one stored event.
func (t *T) IsAddressable() bool {
	if t == nil {
		return false
	}
	return t.K >= 30000 && t.K < 40000
}

// IsEphemeral reports whether kind is never stored.
func (t *T) IsEphemeral() bool {
	if t == nil {
		return false
	}
	return t.K >= 20000 && t.K < 30000
}

// IsRegular reports whether kind is none of the above special families.
func (t *T) IsRegular() bool {
	if t == nil {
		return true
	}
	return !t.IsReplaceable() && !t.IsAddressable() && !t.IsEphemeral()
}

// Equal reports whether two kinds carry the same numeric value.
func (t *T) Equal(o *T) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.K == o.K
}

// S is a set of kinds, order-preserving, used by filter.F.Kinds.
type S struct{ K []*T }

// NewSet creates an empty kind set with room for n entries.
func NewSet(n int) *S { return &S{K: make([]*T, 0, n)} }

// Len returns the number of kinds in the set.
func (s *S) Len() int {
	if s == nil {
		return 0
	}
	return len(s.K)
}

// Contains reports whether k is a member of the set.
func (s *S) Contains(k *T) bool {
	if s == nil || k == nil {
		return false
	}
	for _, x := range s.K {
		if x.K == k.K {
			return true
		}
	}
	return false
}

// Append adds a kind value to the set and returns the (possibly new) set.
func (s *S) Append(k uint16) *S {
	if s == nil {
		s = NewSet(1)
	}
	s.K = append(s.K, &T{K: k})
	return s
}

// ToUint16 returns the raw kind values in the set.
func (s *S) ToUint16() []uint16 {
	if s == nil {
		return nil
	}
	out := make([]uint16, len(s.K))
	for i, k := range s.K {
		out[i] = k.K
	}
	return out
}

// Less and Swap, with Len above, implement sort.Interface.
func (s *S) Less(i, j int) bool { return s.K[i].K < s.K[j].K }
func (s *S) Swap(i, j int)      { s.K[i], s.K[j] = s.K[j], s.K[i] }
