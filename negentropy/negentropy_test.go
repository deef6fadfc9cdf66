package negentropy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/store"
)

func TestBuildRangesBucketsByDay(t *testing.T) {
	items := []store.NegentropyItem{
		{Id: []byte{1}, CreatedAt: 0},
		{Id: []byte{2}, CreatedAt: dayWidth - 1},
		{Id: []byte{3}, CreatedAt: dayWidth},
	}
	ranges := buildRanges(items, dayWidth)
	require.Len(t, ranges, 2)
	total := 0
	for _, r := range ranges {
		total += len(r.IDs)
	}
	require.Equal(t, 3, total)
}

func TestBuildRangesEmpty(t *testing.T) {
	require.Nil(t, buildRanges(nil, dayWidth))
}

func TestEncodeDecodeFrameRoundTripsSmall(t *testing.T) {
	f := frame{Ranges: []idRange{{LowerBound: 0, UpperBound: dayWidth, IDs: [][]byte{{1, 2, 3}}}}, Done: true}
	out, err := encodeFrame(f)
	require.NoError(t, err)
	require.Equal(t, frameRaw, out[0])

	got, err := decodeFrame(out)
	require.NoError(t, err)
	require.True(t, got.Done)
	require.Equal(t, f.Ranges, got.Ranges)
}

func TestEncodeDecodeFrameRoundTripsCompressed(t *testing.T) {
	// 4000 three-byte ids encode to about 20 KB of msgpack, over the 16 KiB
	// compressThreshold
	ids := make([][]byte, 0, 4000)
	for i := 0; i < 4000; i++ {
		ids = append(ids, []byte{byte(i), byte(i >> 8), byte(i >> 16)})
	}
	f := frame{Ranges: []idRange{{LowerBound: 0, UpperBound: dayWidth, IDs: ids}}, Done: false}
	out, err := encodeFrame(f)
	require.NoError(t, err)
	require.Equal(t, frameCompressed, out[0])

	got, err := decodeFrame(out)
	require.NoError(t, err)
	require.False(t, got.Done)
	require.Len(t, got.Ranges[0].IDs, len(ids))
}

func TestFrameToJSONIsHexQuoted(t *testing.T) {
	out := frameToJSON([]byte{0xde, 0xad, 0xbe, 0xef})
	require.Equal(t, `"deadbeef"`, string(out))
}
