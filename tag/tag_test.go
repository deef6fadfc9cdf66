package tag_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/tag"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	tg := tag.New("e", "deadbeef", "wss://relay.example")
	b := tg.Marshal(nil)
	require.Equal(t, `["e","deadbeef","wss://relay.example"]`, string(b))

	out := tag.NewWithCap(0)
	rem, err := out.Unmarshal(b)
	require.NoError(t, err)
	require.Empty(t, rem)
	require.True(t, tg.Equal(out))
}

func TestKeyAndAccessors(t *testing.T) {
	tg := tag.New("p", "abc123")
	require.Equal(t, "p", tg.Key())
	require.Equal(t, "abc123", tg.S(1))
	require.Equal(t, []byte("abc123"), tg.B(1))
	require.Equal(t, "", tg.S(5))
}

func TestContains(t *testing.T) {
	tg := tag.FromBytesSlice([]byte("e"), []byte("id1"), []byte("id2"))
	require.True(t, tg.Contains([]byte("id1")))
	require.False(t, tg.Contains([]byte("id3")))
}

func TestIsIndexable(t *testing.T) {
	require.True(t, tag.New("e", "deadbeef").IsIndexable())
	require.False(t, tag.New("relay", "wss://x").IsIndexable())
	require.False(t, tag.New("e").IsIndexable())
}

func TestClone(t *testing.T) {
	tg := tag.New("e", "deadbeef")
	c := tg.Clone()
	require.True(t, tg.Equal(c))
	c.Field[1][0] = 'X'
	require.False(t, tg.Equal(c))
}
