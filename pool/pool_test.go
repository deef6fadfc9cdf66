package pool_test

import (
	"bytes"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/pool"
	"codeberg.org/nostrcore/relaysdk/relay"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/signer"
	"codeberg.org/nostrcore/relaysdk/subscription"
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

func (f *fakeConn) PongRTT() (time.Duration, bool) { return time.Millisecond, true }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(map[string]*fakeConn)}
}

func (d *fakeDialer) Dial(c context.T, url string, _ http.Header) (transport.Conn, error) {
	fc := newFakeConn()
	d.mu.Lock()
	d.conns[url] = fc
	d.mu.Unlock()
	return fc, nil
}

func (d *fakeDialer) conn(url string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[url]
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

// subIDOf pulls the second quoted string out of a ["REQ"/"COUNT", id, ...]
// frame.
func subIDOf(t *testing.T, frame []byte) string {
	t.Helper()
	parts := bytes.Split(frame, []byte(`"`))
	require.GreaterOrEqual(t, len(parts), 4)
	return string(parts[3])
}

func signedNote(t *testing.T, k uint16, content string) *event.E {
	t.Helper()
	s := &signer.Secp256k1{}
	require.NoError(t, s.Generate())
	ev := &event.E{
		Kind:      kind.New(uint64(k)),
		CreatedAt: timestamp.Now(),
		Tags:      tags.New(),
		Content:   []byte(content),
	}
	require.NoError(t, ev.Sign(s))
	return ev
}

func connectedPool(t *testing.T, url string) (*pool.Pool, *fakeDialer, *fakeConn) {
	t.Helper()
	d := newFakeDialer()
	p := pool.New(pool.Options{RelayOptions: relay.Options{Dialer: d}}, nil)
	r := p.Add(url)
	ctx, cancel := context.Cancel(context.Bg())
	t.Cleanup(cancel)
	t.Cleanup(p.Shutdown)
	r.Connect(ctx)
	waitFor(t, func() bool { return r.State() == relay.Connected })
	fc := d.conn(pool.NormalizeURL(url))
	require.NotNil(t, fc)
	return p, d, fc
}

func TestNormalizeURL(t *testing.T) {
	require.Equal(t, "wss://relay.example", pool.NormalizeURL("WSS://Relay.Example/"))
	require.Equal(t, "wss://relay.example/sub", pool.NormalizeURL(" wss://relay.example/sub "))
	require.Equal(t, pool.NormalizeURL("wss://a.example"), pool.NormalizeURL("wss://A.example/"))
}

func TestAddDeduplicatesByNormalizedURL(t *testing.T) {
	p := pool.New(pool.Options{RelayOptions: relay.Options{Dialer: newFakeDialer()}}, nil)
	a := p.Add("wss://Relay.Example/")
	b := p.Add("wss://relay.example")
	require.Same(t, a, b)
	require.Len(t, p.URLs(), 1)
}

func TestRemoveForgetsRelay(t *testing.T) {
	p := pool.New(pool.Options{RelayOptions: relay.Options{Dialer: newFakeDialer()}}, nil)
	r := p.Add("wss://relay.example")
	p.Remove("wss://relay.example")
	require.Empty(t, p.URLs())
	require.Equal(t, relay.Terminated, r.State())
}

func TestSendEventToNoRelays(t *testing.T) {
	p := pool.New(pool.Options{RelayOptions: relay.Options{Dialer: newFakeDialer()}}, nil)
	results := p.SendEventTo(context.Bg(), signedNote(t, kind.TextNote, "hi"), nil)
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, sdkerrors.ErrNoRelays)
}

func TestSendEventAwaitsOK(t *testing.T) {
	p, _, fc := connectedPool(t, "wss://relay.example")
	ev := signedNote(t, kind.TextNote, "hello")

	go func() {
		frame := readFrame(t, fc)
		if !bytes.HasPrefix(frame, []byte(`["EVENT",`)) {
			return
		}
		fc.in <- []byte(`["OK","` + ev.IdHex() + `",true,""]`)
	}()

	results := p.SendEvent(context.Bg(), ev)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.True(t, results[0].OK)
}

func TestSendEventSurfacesRejection(t *testing.T) {
	p, _, fc := connectedPool(t, "wss://relay.example")
	ev := signedNote(t, kind.TextNote, "spam")

	go func() {
		readFrame(t, fc)
		fc.in <- []byte(`["OK","` + ev.IdHex() + `",false,"blocked: no spam"]`)
	}()

	results := p.SendEvent(context.Bg(), ev)
	require.Len(t, results, 1)
	require.False(t, results[0].OK)
	require.ErrorIs(t, results[0].Err, sdkerrors.ErrBlocked)
}

func TestFilterMismatchBansRelay(t *testing.T) {
	p, _, fc := connectedPool(t, "wss://relay.example")
	r, ok := p.Get("wss://relay.example")
	require.True(t, ok)

	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.Metadata)
	id := p.SubscribeTo(context.Bg(), []string{"wss://relay.example"}, []*filter.F{f},
		subscription.Options{VerifySubscriptions: true, BanOnMismatch: true})

	req := readFrame(t, fc)
	require.Contains(t, string(req), `"REQ"`)

	// the relay misbehaves: a kind-1 note on a kinds:[0] subscription
	ev := signedNote(t, kind.TextNote, "wrong kind")
	frame := append([]byte(`["EVENT","`+id+`",`), ev.Marshal(nil)...)
	frame = append(frame, ']')
	fc.in <- frame

	waitFor(t, func() bool { return r.State() == relay.Banned })
}

func TestFetchEventsCollectsUntilEOSE(t *testing.T) {
	p, _, fc := connectedPool(t, "wss://relay.example")
	ev := signedNote(t, kind.TextNote, "stored note")

	go func() {
		req := readFrame(t, fc)
		if !bytes.Contains(req, []byte(`"REQ"`)) {
			return
		}
		id := subIDOf(t, req)
		frame := append([]byte(`["EVENT","`+id+`",`), ev.Marshal(nil)...)
		frame = append(frame, ']')
		fc.in <- frame
		fc.in <- []byte(`["EOSE","` + id + `"]`)
	}()

	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	evs, err := p.Fetch(f).From("wss://relay.example").Timeout(5 * time.Second).Do(context.Bg())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, ev.Id, evs[0].Id)
}

func TestCountEvents(t *testing.T) {
	p, _, fc := connectedPool(t, "wss://relay.example")

	go func() {
		frame := readFrame(t, fc)
		if !bytes.HasPrefix(frame, []byte(`["COUNT",`)) {
			return
		}
		id := subIDOf(t, frame)
		fc.in <- []byte(`["COUNT","` + id + `",{"count":7}]`)
	}()

	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	n, err := p.CountEvents(context.Bg(), []*filter.F{f}, nil, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(7), n)
}

func TestWriteFlagGatesBroadcast(t *testing.T) {
	d := newFakeDialer()
	p := pool.New(pool.Options{RelayOptions: relay.Options{Dialer: d}}, nil)
	r := p.AddWithFlags("wss://readonly.example", relay.FlagRead|relay.FlagPing)
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	defer p.Shutdown()
	r.Connect(ctx)
	waitFor(t, func() bool { return r.State() == relay.Connected })

	results := p.SendEvent(ctx, signedNote(t, kind.TextNote, "nope"))
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, sdkerrors.ErrNoRelays)
}

func TestNotificationBusForwardsEvents(t *testing.T) {
	p, _, fc := connectedPool(t, "wss://relay.example")
	sub := p.Subscribe()

	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	id := p.SubscribeTo(context.Bg(), []string{"wss://relay.example"}, []*filter.F{f}, subscription.Options{})
	readFrame(t, fc)

	ev := signedNote(t, kind.TextNote, "bus me")
	frame := append([]byte(`["EVENT","`+id+`",`), ev.Marshal(nil)...)
	frame = append(frame, ']')
	fc.in <- frame

	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-sub:
			if n.Kind == relay.NotifyEvent && n.SubID == id {
				require.Equal(t, ev.Id, n.Event.Id)
				return
			}
		case <-deadline:
			t.Fatal("event never reached the bus")
		}
	}
}
