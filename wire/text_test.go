package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNostrEscapeMinimalSet(t *testing.T) {
	in := []byte("a\"b\\c\nd\re\tf\bg\fh")
	out := NostrEscape(nil, in)
	require.Equal(t, `a\"b\\c\nd\re\tf\bg\fh`, string(out))
}

func TestNostrEscapeControlBytes(t *testing.T) {
	out := NostrEscape(nil, []byte{0x01, 0x1f})
	require.Equal(t, "\\u0001\\u001f", string(out))
}

func TestQuoteUnquoteRoundTrip(t *testing.T) {
	cases := []string{
		"plain",
		"",
		"with \"quotes\" inside",
		"newline\nand tab\t",
		"unicode snowman ☃ stays raw",
		"back\\slash",
	}
	for _, c := range cases {
		quoted := AppendQuote(nil, []byte(c), NostrEscape)
		out, rem, err := UnmarshalQuoted(quoted)
		require.NoError(t, err, c)
		require.Empty(t, rem, c)
		require.Equal(t, c, string(out), c)
	}
}

func TestUnmarshalQuotedLeavesRemainder(t *testing.T) {
	out, rem, err := UnmarshalQuoted([]byte(`"abc",123]`))
	require.NoError(t, err)
	require.Equal(t, "abc", string(out))
	require.Equal(t, ",123]", string(rem))
}

func TestUnmarshalQuotedRejectsUnterminated(t *testing.T) {
	_, _, err := UnmarshalQuoted([]byte(`"never ends`))
	require.Error(t, err)
}

func TestHexRoundTrip(t *testing.T) {
	src := []byte{0x00, 0x01, 0xab, 0xcd, 0xef, 0xff}
	h := HexAppend(nil, src)
	require.Equal(t, "0001abcdefff", string(h))

	out, rem, err := UnmarshalHex(append([]byte(`"0001abcdefff"`), "rest"...))
	require.NoError(t, err)
	require.Equal(t, src, out)
	require.Equal(t, "rest", string(rem))
}

func TestUnmarshalHexRejectsOddLength(t *testing.T) {
	_, _, err := UnmarshalHex([]byte(`"abc"`))
	require.Error(t, err)
}
