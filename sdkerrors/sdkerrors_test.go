package sdkerrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/sdkerrors"
)

func TestFromRelayMessageClassifiesKnownPrefixes(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"auth-required: please authenticate", sdkerrors.ErrAuthRequired},
		{"pow: 20 bits required", sdkerrors.ErrInsufficientPow},
		{"duplicate: already have this event", sdkerrors.ErrDuplicate},
		{"blocked: pubkey is blocked", sdkerrors.ErrBlocked},
		{"rate-limited: slow down", sdkerrors.ErrRateLimited},
		{"invalid: bad signature", sdkerrors.ErrInvalidEvent},
		{"error: something broke", sdkerrors.ErrRelayRejected},
		{"no prefix at all", sdkerrors.ErrRelayRejected},
	}
	for _, c := range cases {
		got := sdkerrors.FromRelayMessage(c.msg)
		require.ErrorIs(t, got, c.want, "message %q", c.msg)
	}
}

func TestClassifyTagsKnownSentinels(t *testing.T) {
	got := sdkerrors.Classify(sdkerrors.ErrAuthRequired)
	require.Equal(t, sdkerrors.CodeAuth, got.Code)

	got = sdkerrors.Classify(sdkerrors.ErrTimeout)
	require.Equal(t, sdkerrors.CodeTimeout, got.Code)

	got = sdkerrors.Classify(sdkerrors.ErrSendQueueFull)
	require.Equal(t, sdkerrors.CodeBackpressure, got.Code)
}

func TestClassifyUnknownErrorIsOther(t *testing.T) {
	got := sdkerrors.Classify(errors.New("some unrelated failure"))
	require.Equal(t, sdkerrors.CodeOther, got.Code)
}

func TestErrorUnwrap(t *testing.T) {
	e := sdkerrors.Classify(sdkerrors.ErrNotConnected)
	require.ErrorIs(t, e, sdkerrors.ErrNotConnected)
	require.Contains(t, e.Error(), sdkerrors.ErrNotConnected.Error())
}
