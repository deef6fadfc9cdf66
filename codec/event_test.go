package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/codec"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/signer"
	"codeberg.org/nostrcore/relaysdk/tag"
	"codeberg.org/nostrcore/relaysdk/tags"
	"codeberg.org/nostrcore/relaysdk/timestamp"
)

func signedEvent(t *testing.T, content string) *event.E {
	t.Helper()
	s := &signer.Secp256k1{}
	require.NoError(t, s.Generate())
	ev := &event.E{
		Kind:      kind.New(uint64(kind.TextNote)),
		CreatedAt: timestamp.Now(),
		Tags:      tags.New(tag.New("t", "test")),
		Content:   []byte(content),
	}
	require.NoError(t, ev.Sign(s))
	return ev
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ev := signedEvent(t, "codec round trip with \"quotes\"\nand a newline")
	wireForm := codec.EncodeWire(ev)

	out, err := codec.DecodeWire(wireForm, true)
	require.NoError(t, err)
	require.Equal(t, ev.Id, out.Id)
	require.Equal(t, ev.Pubkey, out.Pubkey)
	require.Equal(t, ev.CreatedAt.I64(), out.CreatedAt.I64())
	require.Equal(t, ev.Kind.K, out.Kind.K)
	require.Equal(t, ev.Content, out.Content)
	require.Equal(t, ev.Sig, out.Sig)
	require.Equal(t, wireForm, codec.EncodeWire(out))
}

func TestComputeIdMatchesSignedId(t *testing.T) {
	ev := signedEvent(t, "id check")
	require.Equal(t, ev.Id, codec.ComputeId(ev))
}

func TestCanonicalizeHasNoInsignificantWhitespace(t *testing.T) {
	ev := signedEvent(t, "canonical")
	c := codec.Canonicalize(ev)
	require.NotContains(t, string(c), ", ")
	require.NotContains(t, string(c), ": ")
	require.Equal(t, byte('['), c[0])
	require.Equal(t, byte(']'), c[len(c)-1])
}

func TestDecodeWireRejectsTamperedEvent(t *testing.T) {
	ev := signedEvent(t, "honest")
	ev.Content = []byte("forged")
	_, err := codec.DecodeWire(codec.EncodeWire(ev), true)
	require.Error(t, err)
}

func TestDecodeWireTrustedSkipsVerification(t *testing.T) {
	ev := signedEvent(t, "honest")
	ev.Content = []byte("forged")
	out, err := codec.DecodeWire(codec.EncodeWire(ev), false)
	require.NoError(t, err)
	require.Equal(t, []byte("forged"), out.Content)
}

func TestVerifyNeverPanicsOnZeroValue(t *testing.T) {
	ok, _ := codec.Verify(event.New())
	require.False(t, ok)
}
