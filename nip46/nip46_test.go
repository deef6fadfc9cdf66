package nip46_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/nip46"
)

func TestParseBunkerURI(t *testing.T) {
	pk := strings.Repeat("ab", 32)
	uri := "bunker://" + pk + "?relay=wss://relay.one&relay=wss://relay.two&secret=shhh"

	p, err := nip46.ParseBunkerURI(uri)
	require.NoError(t, err)
	require.Equal(t, pk, hex.EncodeToString(p.RemotePubkey))
	require.Equal(t, []string{"wss://relay.one", "wss://relay.two"}, p.Relays)
	require.Equal(t, "shhh", p.Secret)
}

func TestParseBunkerURIRejectsWrongScheme(t *testing.T) {
	_, err := nip46.ParseBunkerURI("nostrconnect://abc")
	require.Error(t, err)
}

func TestParseBunkerURIRejectsBadPubkey(t *testing.T) {
	_, err := nip46.ParseBunkerURI("bunker://not-hex")
	require.Error(t, err)
}
