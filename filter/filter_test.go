package filter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/signer"
	"codeberg.org/nostrcore/relaysdk/tag"
	"codeberg.org/nostrcore/relaysdk/tags"
	"codeberg.org/nostrcore/relaysdk/timestamp"
)

func newEvent(t *testing.T, k uint16, content string, tg ...*tag.T) *event.E {
	t.Helper()
	s := &signer.Secp256k1{}
	require.NoError(t, s.Generate())
	ev := &event.E{
		Kind:      kind.New(uint64(k)),
		CreatedAt: timestamp.Now(),
		Tags:      tags.New(tg...),
		Content:   []byte(content),
	}
	require.NoError(t, ev.Sign(s))
	return ev
}

func TestMatchesKindAndAuthor(t *testing.T) {
	ev := newEvent(t, kind.TextNote, "hi")
	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	require.True(t, f.Matches(ev))

	f2 := filter.New()
	f2.Kinds = f2.Kinds.Append(kind.Metadata)
	require.False(t, f2.Matches(ev))

	f3 := filter.New()
	f3.Authors = f3.Authors.Append(ev.Pubkey)
	require.True(t, f3.Matches(ev))
}

func TestMatchesTagPredicate(t *testing.T) {
	ev := newEvent(t, kind.TextNote, "hi", tag.New("e", "deadbeef"))
	f := filter.New()
	f.Tags = f.Tags.AppendTags(tag.New("#e", "deadbeef"))
	require.True(t, f.Matches(ev))

	f2 := filter.New()
	f2.Tags = f2.Tags.AppendTags(tag.New("#e", "otherid"))
	require.False(t, f2.Matches(ev))
}

func TestMatchesSinceUntil(t *testing.T) {
	ev := newEvent(t, kind.TextNote, "hi")
	f := filter.New()
	f.Since = timestamp.FromUnix(ev.CreatedAt.I64() - 10)
	f.Until = timestamp.FromUnix(ev.CreatedAt.I64() + 10)
	require.True(t, f.Matches(ev))

	f.Until = timestamp.FromUnix(ev.CreatedAt.I64() - 1)
	require.False(t, f.Matches(ev))
}

func TestMatchesSearch(t *testing.T) {
	ev := newEvent(t, kind.TextNote, "the quick brown fox")
	f := filter.New()
	f.Search = []byte("+quick -lazy")
	require.True(t, f.Matches(ev))

	f.Search = []byte("+quick +lazy")
	require.False(t, f.Matches(ev))

	f.Search = []byte(`"brown fox"`)
	require.True(t, f.Matches(ev))

	f.Search = []byte("")
	require.True(t, f.Matches(ev))
}

func TestFingerprintStableUnderFieldOrder(t *testing.T) {
	f1 := filter.New()
	f1.Authors = f1.Authors.Append([]byte{1, 2, 3})
	f1.Kinds = f1.Kinds.Append(kind.TextNote)
	lim := uint(10)
	f1.Limit = &lim

	f2 := filter.New()
	f2.Kinds = f2.Kinds.Append(kind.TextNote)
	f2.Authors = f2.Authors.Append([]byte{1, 2, 3})
	lim2 := uint(50)
	f2.Limit = &lim2

	require.Equal(t, f1.Fingerprint(), f2.Fingerprint())
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	f := filter.New()
	f.Ids = f.Ids.Append(make([]byte, 32))
	f.Kinds = f.Kinds.Append(kind.TextNote)
	f.Authors = f.Authors.Append(make([]byte, 32))
	f.Tags = f.Tags.AppendTags(tag.New("#p", "abc"))
	f.Since = timestamp.FromUnix(100)
	f.Until = timestamp.FromUnix(200)
	f.Search = []byte("hello")
	lim := uint(5)
	f.Limit = &lim

	b := f.Marshal(nil)
	out := filter.New()
	rem, err := out.Unmarshal(b)
	require.NoError(t, err)
	require.Empty(t, rem)
	require.True(t, f.Equal(out))
}
