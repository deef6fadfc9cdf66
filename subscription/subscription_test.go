package subscription_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/subscription"
	"codeberg.org/nostrcore/relaysdk/tags"
	"codeberg.org/nostrcore/relaysdk/timestamp"
)

func textNote(k uint16) *event.E {
	return &event.E{
		Kind:      kind.New(uint64(k)),
		CreatedAt: timestamp.Now(),
		Tags:      tags.New(),
		Content:   []byte("hi"),
	}
}

func TestSubscribeReturnsREQFrame(t *testing.T) {
	m := subscription.NewManager(0)
	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	frame, st, err := m.Subscribe("sub1", []*filter.F{f}, subscription.Options{}, false)
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Contains(t, string(frame), `"REQ"`)
	require.Contains(t, string(frame), `"sub1"`)
	require.Equal(t, 1, m.Len())
}

func TestSubscribeEnforcesCap(t *testing.T) {
	m := subscription.NewManager(1)
	f := filter.New()
	_, _, err := m.Subscribe("a", []*filter.F{f}, subscription.Options{}, false)
	require.NoError(t, err)

	_, st, err := m.Subscribe("b", []*filter.F{f}, subscription.Options{}, false)
	require.ErrorIs(t, err, sdkerrors.ErrMaxSubscriptionsExceeded)
	require.Nil(t, st)
	require.Equal(t, 1, m.Len())
}

func TestUnsubscribeRemovesAndReturnsCLOSE(t *testing.T) {
	m := subscription.NewManager(0)
	f := filter.New()
	_, _, err := m.Subscribe("sub1", []*filter.F{f}, subscription.Options{}, false)
	require.NoError(t, err)
	frame := m.Unsubscribe("sub1")
	require.Contains(t, string(frame), `"CLOSE"`)
	require.Equal(t, 0, m.Len())
}

func TestValidateEventUnknownSubscription(t *testing.T) {
	m := subscription.NewManager(0)
	valid, shouldBan := m.ValidateEvent("missing", textNote(kind.TextNote))
	require.False(t, valid)
	require.False(t, shouldBan)
}

func TestValidateEventMismatchSignalsBan(t *testing.T) {
	m := subscription.NewManager(0)
	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	_, _, err := m.Subscribe("sub1", []*filter.F{f}, subscription.Options{
		VerifySubscriptions: true,
		BanOnMismatch:       true,
	}, false)
	require.NoError(t, err)

	valid, shouldBan := m.ValidateEvent("sub1", textNote(kind.Reaction))
	require.False(t, valid)
	require.True(t, shouldBan)
}

func TestValidateEventMatchIncrementsCount(t *testing.T) {
	m := subscription.NewManager(0)
	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	_, st, err := m.Subscribe("sub1", []*filter.F{f}, subscription.Options{
		VerifySubscriptions: true,
		ExitPolicy:          subscription.WaitForEvents(1),
	}, true)
	require.NoError(t, err)
	require.False(t, st.Done())

	valid, shouldBan := m.ValidateEvent("sub1", textNote(kind.TextNote))
	require.True(t, valid)
	require.False(t, shouldBan)
	require.True(t, st.Done())
}

func TestExitOnEOSE(t *testing.T) {
	m := subscription.NewManager(0)
	f := filter.New()
	_, st, err := m.Subscribe("sub1", []*filter.F{f}, subscription.Options{
		ExitPolicy: subscription.ExitOnEOSE(),
	}, true)
	require.NoError(t, err)
	require.False(t, st.Done())
	m.HandleEOSE("sub1")
	require.True(t, st.Done())
}

func TestWaitDurationAfterEOSE(t *testing.T) {
	m := subscription.NewManager(0)
	f := filter.New()
	_, st, err := m.Subscribe("sub1", []*filter.F{f}, subscription.Options{
		ExitPolicy: subscription.WaitDurationAfterEOSE(10 * time.Millisecond),
	}, true)
	require.NoError(t, err)
	m.HandleEOSE("sub1")
	require.False(t, st.Done())
	time.Sleep(20 * time.Millisecond)
	require.True(t, st.Done())
}
