package kind_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/kind"
)

func TestFamilyClassification(t *testing.T) {
	require.True(t, kind.New(uint64(kind.Metadata)).IsReplaceable())
	require.True(t, kind.New(10005).IsReplaceable())
	require.True(t, kind.New(30023).IsAddressable())
	require.True(t, kind.New(20000).IsEphemeral())
	require.True(t, kind.New(uint64(kind.TextNote)).IsRegular())
	require.False(t, kind.New(uint64(kind.TextNote)).IsReplaceable())
}

func TestNilReceiverIsSafe(t *testing.T) {
	var k *kind.T
	require.False(t, k.IsReplaceable())
	require.False(t, k.IsAddressable())
	require.False(t, k.IsEphemeral())
	require.True(t, k.IsRegular())
}

func TestEqual(t *testing.T) {
	a := kind.New(1)
	b := kind.New(1)
	c := kind.New(2)
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestSetAppendContainsLen(t *testing.T) {
	s := kind.NewSet(0)
	require.Equal(t, 0, s.Len())
	s = s.Append(kind.TextNote)
	s = s.Append(kind.Reaction)
	require.Equal(t, 2, s.Len())
	require.True(t, s.Contains(kind.New(uint64(kind.TextNote))))
	require.False(t, s.Contains(kind.New(uint64(kind.Repost))))
	require.Equal(t, []uint16{kind.TextNote, kind.Reaction}, s.ToUint16())
}
