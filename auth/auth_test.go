package auth_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/auth"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/signer"
)

func TestComposeSetsRelayAndChallengeTags(t *testing.T) {
	ev := auth.Compose("wss://relay.example", "xyz123")
	require.Equal(t, "wss://relay.example", ev.Tags.GetFirst("relay").S(1))
	require.Equal(t, "xyz123", ev.Tags.GetFirst("challenge").S(1))
}

func TestRespondWithoutChallengeFails(t *testing.T) {
	s := &signer.Secp256k1{}
	require.NoError(t, s.Generate())
	e := auth.New(s)
	_, err := e.Respond("wss://relay.example")
	require.ErrorIs(t, err, sdkerrors.ErrAuthRequired)
}

func TestRespondWithoutSignerFails(t *testing.T) {
	e := auth.New(nil)
	e.Challenge("wss://relay.example", "xyz123")
	_, err := e.Respond("wss://relay.example")
	require.ErrorIs(t, err, sdkerrors.ErrAuthRequired)
}

func TestChallengeThenRespondProducesSignedEvent(t *testing.T) {
	s := &signer.Secp256k1{}
	require.NoError(t, s.Generate())
	e := auth.New(s)

	require.False(t, e.Pending("wss://relay.example"))
	e.Challenge("wss://relay.example", "xyz123")
	require.True(t, e.Pending("wss://relay.example"))

	ev, err := e.Respond("wss://relay.example")
	require.NoError(t, err)
	require.False(t, e.Pending("wss://relay.example"))

	valid, err := ev.Verify()
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, "xyz123", ev.Tags.GetFirst("challenge").S(1))
}

func TestRespondConsumesChallengeOnce(t *testing.T) {
	s := &signer.Secp256k1{}
	require.NoError(t, s.Generate())
	e := auth.New(s)
	e.Challenge("wss://relay.example", "xyz123")

	_, err := e.Respond("wss://relay.example")
	require.NoError(t, err)

	_, err = e.Respond("wss://relay.example")
	require.ErrorIs(t, err, sdkerrors.ErrAuthRequired)
}
