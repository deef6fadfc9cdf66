package relay

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/signer"
	"codeberg.org/nostrcore/relaysdk/tags"
	"codeberg.org/nostrcore/relaysdk/timestamp"
	"codeberg.org/nostrcore/relaysdk/transport"
)

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 32),
		out:    make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) WriteMessage(c context.T, data []byte) error {
	cp := append([]byte(nil), data...)
	select {
	case f.out <- cp:
		return nil
	case <-f.closed:
		return errors.New("connection closed")
	case <-c.Done():
		return c.Err()
	}
}

func (f *fakeConn) ReadMessage(c context.T, buf []byte) ([]byte, error) {
	select {
	case msg := <-f.in:
		return append(buf[:0], msg...), nil
	case <-f.closed:
		return nil, errors.New("connection closed")
	case <-c.Done():
		return nil, c.Err()
	}
}

func (f *fakeConn) Ping(context.T) error { return nil }

func (f *fakeConn) PongRTT() (time.Duration, bool) { return 5 * time.Millisecond, true }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  bool
}

func (d *fakeDialer) Dial(c context.T, url string, _ http.Header) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errors.New("dial refused")
	}
	fc := newFakeConn()
	d.conns = append(d.conns, fc)
	return fc, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func readFrame(t *testing.T, fc *fakeConn) []byte {
	t.Helper()
	select {
	case msg := <-fc.out:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no frame written before deadline")
		return nil
	}
}

func TestBackoffNeverExceedsCap(t *testing.T) {
	base := 100 * time.Millisecond
	cap := 2 * time.Second
	for attempt := 0; attempt < 30; attempt++ {
		d := jitteredBackoff(base, cap, attempt)
		require.LessOrEqual(t, d, cap)
		require.GreaterOrEqual(t, d, base)
	}
}

func TestBackoffGrowsWithAttempts(t *testing.T) {
	base := time.Second
	cap := time.Hour
	d := jitteredBackoff(base, cap, 5)
	require.Greater(t, d, 10*time.Second)
}

func TestConnectDisconnectLifecycle(t *testing.T) {
	d := &fakeDialer{}
	r := New("wss://relay.example", Options{Dialer: d})
	require.Equal(t, Initialized, r.State())

	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	r.Connect(ctx)
	waitFor(t, func() bool { return r.State() == Connected })

	r.Disconnect()
	require.Equal(t, Terminated, r.State())

	// terminal states are sticky
	r.Connect(ctx)
	require.Equal(t, Terminated, r.State())
}

func TestTryConnectSurfacesDialError(t *testing.T) {
	d := &fakeDialer{fail: true}
	r := New("wss://relay.example", Options{Dialer: d})
	err := r.TryConnect(context.Bg(), time.Second)
	require.Error(t, err)
	require.NotEqual(t, Connected, r.State())
}

func TestSendWhenNotConnected(t *testing.T) {
	r := New("wss://relay.example", Options{Dialer: &fakeDialer{}})
	err := r.Send(context.Bg(), []byte(`["CLOSE","x"]`))
	require.ErrorIs(t, err, sdkerrors.ErrNotConnected)
}

func TestBanIsTerminal(t *testing.T) {
	d := &fakeDialer{}
	r := New("wss://relay.example", Options{Dialer: d})
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	r.Connect(ctx)
	waitFor(t, func() bool { return r.State() == Connected })

	r.Ban("sent an event outside its subscription")
	require.Equal(t, Banned, r.State())
	r.Connect(ctx)
	require.Equal(t, Banned, r.State())
}

func TestDispatchOKResolvesAwait(t *testing.T) {
	r := New("wss://relay.example", Options{Dialer: &fakeDialer{}})
	wait := r.AwaitOK("abc123")
	r.dispatch(context.Bg(), []byte(`["OK","abc123",true,""]`))
	select {
	case res := <-wait:
		require.True(t, res.OK)
	case <-time.After(time.Second):
		t.Fatal("OK waiter never resolved")
	}
}

func TestDispatchOKFalseCarriesMessage(t *testing.T) {
	r := New("wss://relay.example", Options{Dialer: &fakeDialer{}})
	wait := r.AwaitOK("abc123")
	r.dispatch(context.Bg(), []byte(`["OK","abc123",false,"blocked: not today"]`))
	res := <-wait
	require.False(t, res.OK)
	require.Equal(t, "blocked: not today", res.Message)
}

func TestDispatchCountResolvesAwait(t *testing.T) {
	r := New("wss://relay.example", Options{Dialer: &fakeDialer{}})
	wait := r.AwaitCount("s1")
	r.dispatch(context.Bg(), []byte(`["COUNT","s1",{"count":42}]`))
	select {
	case res := <-wait:
		require.Equal(t, int64(42), res.Count)
	case <-time.After(time.Second):
		t.Fatal("COUNT waiter never resolved")
	}
}

func TestDispatchNegErrResolvesWaiter(t *testing.T) {
	r := New("wss://relay.example", Options{Dialer: &fakeDialer{}})
	wait := r.AwaitNeg("neg1")
	r.dispatch(context.Bg(), []byte(`["NEG-ERR","neg1","blocked: not supported"]`))
	res := <-wait
	require.Equal(t, "blocked: not supported", res.Err)
}

func TestAuthRequiredReplaysAfterChallenge(t *testing.T) {
	s := &signer.Secp256k1{}
	require.NoError(t, s.Generate())
	d := &fakeDialer{}
	r := New("wss://relay.example", Options{Dialer: d, Signer: s, AutoAuth: true})
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	r.Connect(ctx)
	waitFor(t, func() bool { return r.State() == Connected })
	fc := d.last()
	require.NotNil(t, fc)

	req := []byte(`["REQ","sub1",{"kinds":[0]}]`)
	r.RegisterPending("sub1", req)
	require.NoError(t, r.Send(ctx, req))
	require.Equal(t, string(req), string(readFrame(t, fc)))

	// the relay demands auth for the REQ, then issues a challenge
	fc.in <- []byte(`["CLOSED","sub1","auth-required: restricted"]`)
	fc.in <- []byte(`["AUTH","challenge-xyz"]`)

	authFrame := readFrame(t, fc)
	require.Contains(t, string(authFrame), `"AUTH"`)
	ev := event.New()
	_, err := ev.Unmarshal(authFrame[len(`["AUTH",`):])
	require.NoError(t, err)
	require.EqualValues(t, 22242, ev.Kind.K)
	valid, err := ev.Verify()
	require.NoError(t, err)
	require.True(t, valid)

	replayed := readFrame(t, fc)
	require.Equal(t, string(req), string(replayed))
}

func TestDispatchEventDropsBadSignature(t *testing.T) {
	s := &signer.Secp256k1{}
	require.NoError(t, s.Generate())
	ev := &event.E{
		Kind:      kind.New(uint64(kind.TextNote)),
		CreatedAt: timestamp.Now(),
		Tags:      tags.New(),
		Content:   []byte("legit"),
	}
	require.NoError(t, ev.Sign(s))
	ev.Content = []byte("tampered")

	r := New("wss://relay.example", Options{Dialer: &fakeDialer{}})
	frame := append([]byte(`["EVENT","sub1",`), ev.Marshal(nil)...)
	frame = append(frame, ']')
	r.dispatch(context.Bg(), frame)

	for {
		select {
		case n := <-r.Notifications():
			require.NotEqual(t, NotifyEvent, n.Kind)
		default:
			return
		}
	}
}

func TestFlagsHas(t *testing.T) {
	f := FlagRead | FlagWrite
	require.True(t, f.Has(FlagRead))
	require.True(t, f.Has(FlagRead|FlagWrite))
	require.False(t, f.Has(FlagDiscovery))
	require.Equal(t, DefaultFlags, FlagRead|FlagWrite|FlagPing)
}
