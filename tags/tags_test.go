package tags_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/tag"
	"codeberg.org/nostrcore/relaysdk/tags"
)

func TestGetFirstAndGetAll(t *testing.T) {
	ts := tags.New(
		tag.New("e", "id1"),
		tag.New("p", "pub1"),
		tag.New("e", "id2"),
	)
	require.Equal(t, "id1", ts.GetFirst("e").S(1))
	require.Len(t, ts.GetAll("e"), 2)
	require.Nil(t, ts.GetFirst("relay"))
}

func TestGetD(t *testing.T) {
	ts := tags.New(tag.New("d", "my-identifier"))
	require.Equal(t, "my-identifier", ts.GetD())
	require.Equal(t, "", tags.New().GetD())
}

func TestIntersectsAndMatchesFilterTags(t *testing.T) {
	ts := tags.New(tag.New("e", "id1"), tag.New("p", "pub1"))
	require.True(t, ts.Intersects("e", []string{"id1", "id2"}))
	require.False(t, ts.Intersects("e", []string{"id9"}))

	pred := tags.New(tag.New("#e", "id1"))
	require.True(t, ts.MatchesFilterTags(pred))

	predMiss := tags.New(tag.New("#e", "idNope"))
	require.False(t, ts.MatchesFilterTags(predMiss))

	require.True(t, ts.MatchesFilterTags(tags.New()))
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	ts := tags.New(tag.New("e", "id1", "wss://relay"), tag.New("p", "pub1"))
	b := ts.Marshal(nil)
	require.Equal(t, `[["e","id1","wss://relay"],["p","pub1"]]`, string(b))

	out := tags.NewWithCap(0)
	rem, err := out.Unmarshal(b)
	require.NoError(t, err)
	require.Empty(t, rem)
	require.True(t, ts.Equal(out))
}

func TestCloneIsIndependent(t *testing.T) {
	ts := tags.New(tag.New("e", "id1"))
	c := ts.Clone()
	require.True(t, ts.Equal(c))
	c.Tag[0].Field[1][0] = 'X'
	require.False(t, ts.Equal(c))
}

func TestAppendOnNil(t *testing.T) {
	var ts *tags.T
	ts = ts.Append(tag.New("e", "id1"))
	require.Equal(t, 1, ts.Len())
}
