// Package relay is the per-relay connection state machine: dial, read and
// write loops, reconnect backoff, idle sleep, health-ban, and the NIP-42
// auth handshake. Three cooperative goroutines per relay (reader, writer,
// pinger) share one transport.Conn under a single cancellation context,
// the same shape as the teacher's per-connection task split, generalized
// here from a relay's accept-side connection to a client's dial-side one.
package relay

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"lukechampine.com/frand"

	"codeberg.org/nostrcore/relaysdk/auth"
	"codeberg.org/nostrcore/relaysdk/chk"
	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/errorf"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/log"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/signer"
	"codeberg.org/nostrcore/relaysdk/transport"
)

// State is a position in the connection FSM.
type State int

const (
	Initialized State = iota
	Pending
	Connecting
	Connected
	Sleeping
	Disconnected
	Terminated
	Banned
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Pending:
		return "pending"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Sleeping:
		return "sleeping"
	case Disconnected:
		return "disconnected"
	case Terminated:
		return "terminated"
	case Banned:
		return "banned"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool { return s == Terminated || s == Banned }

// Flags is the per-relay role bitset the pool consults to decide which
// relays participate in a broadcast send, a gossip discovery refresh, or a
// read fan-out, grounded on the service-flags concept the Rust original
// (rust-nostr) carries per pooled relay that spec.md's §3 "Relay connection"
// only mentions in passing as "flags (read, write, ping, gossip-discovery)".
type Flags uint8

const (
	FlagRead Flags = 1 << iota
	FlagWrite
	FlagPing
	FlagGossip
	FlagDiscovery
)

// Has reports whether every bit set in want is also set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }

// DefaultFlags is read+write+ping, the common case for a relay the caller
// both publishes to and subscribes on.
const DefaultFlags = FlagRead | FlagWrite | FlagPing

// Options configures a Relay's policy knobs. Zero value is usable; every
// field has a sane default applied by New.
type Options struct {
	Dialer                transport.Dialer
	Signer                signer.I
	AutoAuth              bool
	SleepWhenIdle         bool
	IdleTimeout           time.Duration
	BanOnMismatch         bool
	NotesPerMinute        float64
	MaxSubscriptions      int
	BaseBackoff           time.Duration
	MaxBackoff            time.Duration
	CleanSessionThreshold time.Duration
	PingInterval          time.Duration
}

func (o *Options) setDefaults() {
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.NotesPerMinute == 0 {
		o.NotesPerMinute = 60
	}
	if o.MaxSubscriptions == 0 {
		o.MaxSubscriptions = 500
	}
	if o.BaseBackoff == 0 {
		o.BaseBackoff = time.Second
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 2 * time.Minute
	}
	if o.CleanSessionThreshold == 0 {
		o.CleanSessionThreshold = 30 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 30 * time.Second
	}
}

// EffectiveMaxSubscriptions returns o.MaxSubscriptions, applying the same
// default setDefaults would, for callers (the pool, building a relay's
// subscription.Manager) that need the resolved value before a Relay exists.
func (o Options) EffectiveMaxSubscriptions() int {
	if o.MaxSubscriptions == 0 {
		return 500
	}
	return o.MaxSubscriptions
}

// Notification is one event the pool's bus forwards to consumers.
type Notification struct {
	Kind  NotificationKind
	Relay string
	Raw   []byte
	SubID string
	Event *event.E
}

type NotificationKind int

const (
	NotifyStatusChange NotificationKind = iota
	NotifyMessage
	NotifyEvent
	NotifyAuthenticated
	NotifyOK
	NotifyEOSE
	NotifyClosed
	NotifyNotice
)

// Relay drives a single connection's lifecycle.
type Relay struct {
	URL   string
	Flags Flags
	opts  Options

	mu          sync.Mutex
	state       State
	conn        transport.Conn
	attempt     int
	connectedAt time.Time
	pendingAuth bool
	lastActive  time.Time
	lastRTT     time.Duration

	cancel        context.F
	outc          chan []byte
	notify        chan Notification
	awaits        map[string]chan OKResult
	negWaits      map[string]chan NegResult
	countWaits    map[string]chan CountResult
	authEngine    *auth.Engine
	authFailCount int
	pendingReplay map[string][]byte
	awaitingAuth  map[string]bool

	activityCheck func() bool
	limiter       *rate.Limiter
}

// OKResult is the outcome a relay's OK response to a submitted event
// carries: whether it was accepted, and the relay's free-form (optionally
// prefix-classified, see sdkerrors.FromRelayMessage) message.
type OKResult struct {
	OK      bool
	Message string
}

// NegResult is one round's answer to a NEG-OPEN/NEG-MSG frame: either a
// continuation payload (Msg) or a terminal NEG-ERR (Err).
type NegResult struct {
	Msg []byte
	Err string
}

// CountResult is a relay's answer to a NIP-45 COUNT request.
type CountResult struct {
	Count int64
}

// New creates a Relay in the Initialized state with DefaultFlags. Call
// Connect to start it. Use NewWithFlags to assign a non-default role.
func New(url string, opts Options) *Relay {
	return NewWithFlags(url, DefaultFlags, opts)
}

// NewWithFlags creates a Relay carrying the given role bitset, which the
// pool consults to decide whether this relay participates in a broadcast
// send, a gossip discovery refresh, or a read fan-out.
func NewWithFlags(url string, flags Flags, opts Options) *Relay {
	opts.setDefaults()
	var engine *auth.Engine
	if opts.Signer != nil {
		engine = auth.New(opts.Signer)
	}
	return &Relay{
		URL:           url,
		Flags:         flags,
		opts:          opts,
		state:         Initialized,
		outc:          make(chan []byte, 256),
		notify:        make(chan Notification, 256),
		awaits:        make(map[string]chan OKResult),
		negWaits:      make(map[string]chan NegResult),
		countWaits:    make(map[string]chan CountResult),
		authEngine:    engine,
		pendingReplay: make(map[string][]byte),
		awaitingAuth:  make(map[string]bool),
		limiter:       rate.NewLimiter(rate.Limit(opts.NotesPerMinute/60.0), int(opts.NotesPerMinute)),
	}
}

// Notifications returns the channel the pool drains for this relay's events.
func (r *Relay) Notifications() <-chan Notification { return r.notify }

// State returns the current FSM state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connect starts the worker loop in the background. A no-op on a terminal
// relay.
func (r *Relay) Connect(c context.T) {
	r.mu.Lock()
	if r.state.terminal() {
		r.mu.Unlock()
		return
	}
	r.state = Pending
	workerCtx, cancel := context.Cancel(c)
	r.cancel = cancel
	r.mu.Unlock()
	go r.worker(workerCtx)
}

// TryConnect connects and blocks until the first Connected transition or an
// error; on success the background worker keeps running, on failure it does
// not retry unless the caller calls Connect separately.
func (r *Relay) TryConnect(c context.T, timeout time.Duration) (err error) {
	ctx, cancel := context.Timeout(c, timeout)
	defer cancel()
	if err = r.dialOnce(ctx); err != nil {
		return err
	}
	r.Connect(c)
	return nil
}

// Disconnect moves the relay to Terminated. Idempotent.
func (r *Relay) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() {
		return
	}
	r.state = Terminated
	if r.cancel != nil {
		r.cancel()
	}
	if r.conn != nil {
		chk.E(r.conn.Close())
	}
	r.emitLocked(Notification{Kind: NotifyStatusChange, Relay: r.URL})
}

// Ban moves the relay to the terminal Banned state, distinct from a plain
// Disconnect: a banned relay is never redialed by the pool's reconnect
// supervisor, which is the point of banning one that misbehaved (sent an
// event violating a subscription filter it was subject to) rather than just
// dropping its current connection.
func (r *Relay) Ban(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log.W.F("relay %s banned: %s", r.URL, reason)
	r.state = Banned
	if r.cancel != nil {
		r.cancel()
	}
	if r.conn != nil {
		chk.E(r.conn.Close())
	}
	r.emitLocked(Notification{Kind: NotifyStatusChange, Relay: r.URL})
}

func (r *Relay) emitLocked(n Notification) {
	select {
	case r.notify <- n:
	default:
		log.D.F("relay %s notification channel full, dropping %v", r.URL, n.Kind)
	}
}

func (r *Relay) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.emitLocked(Notification{Kind: NotifyStatusChange, Relay: r.URL})
	r.mu.Unlock()
}

func (r *Relay) dialOnce(c context.T) error {
	r.setState(Connecting)
	conn, err := r.opts.Dialer.Dial(c, r.URL, http.Header{})
	if err != nil {
		return errorf.W("relay: dial %s: %w", r.URL, err)
	}
	r.mu.Lock()
	r.conn = conn
	r.connectedAt = time.Now()
	r.attempt = 0
	r.mu.Unlock()
	r.setState(Connected)
	return nil
}

// worker is the reconnect-with-backoff supervisor; reader/writer/pinger run
// underneath it for the lifetime of one successful connection.
func (r *Relay) worker(c context.T) {
	for {
		select {
		case <-c.Done():
			return
		default:
		}
		if err := r.dialOnce(c); err != nil {
			r.mu.Lock()
			r.attempt++
			n := r.attempt
			r.mu.Unlock()
			if chk.W(err) {
				r.setState(Pending)
			}
			backoff := jitteredBackoff(r.opts.BaseBackoff, r.opts.MaxBackoff, n)
			select {
			case <-c.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		sessionStart := time.Now()
		r.runSession(c)
		if time.Since(sessionStart) >= r.opts.CleanSessionThreshold {
			r.mu.Lock()
			r.attempt = 0
			r.mu.Unlock()
		}
		r.mu.Lock()
		terminal := r.state.terminal()
		r.mu.Unlock()
		if terminal {
			return
		}
		r.setState(Pending)
	}
}

// jitteredBackoff is min(base·2^attempt, cap) with ±20% jitter, clamped so
// the result never exceeds cap or drops below base.
func jitteredBackoff(base, cap time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < cap; i++ {
		d *= 2
	}
	if d > cap {
		d = cap
	}
	d += time.Duration(float64(d) * 0.2 * (2*frand.Float64() - 1))
	if d > cap {
		d = cap
	}
	if d < base {
		d = base
	}
	return d
}

// runSession multiplexes the reader, writer and pinger over one connection
// until any of them errors or the relay is disconnected.
func (r *Relay) runSession(c context.T) {
	sessCtx, cancel := context.Cancel(c)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); r.readLoop(sessCtx, cancel) }()
	go func() { defer wg.Done(); r.writeLoop(sessCtx) }()
	go func() { defer wg.Done(); r.pingLoop(sessCtx) }()
	wg.Wait()
}

func (r *Relay) readLoop(c context.T, stop context.F) {
	buf := make([]byte, 0, 4096)
	for {
		select {
		case <-c.Done():
			return
		default:
		}
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn == nil {
			return
		}
		msg, err := conn.ReadMessage(c, buf)
		if err != nil {
			chk.D(err)
			stop()
			return
		}
		r.mu.Lock()
		r.lastActive = time.Now()
		r.mu.Unlock()
		if !r.limiter.Allow() {
			log.D.F("relay %s rate limit exceeded, dropping message", r.URL)
			continue
		}
		r.dispatch(c, msg)
	}
}

func (r *Relay) writeLoop(c context.T) {
	for {
		select {
		case <-c.Done():
			return
		case msg := <-r.outc:
			r.mu.Lock()
			conn := r.conn
			r.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(c, msg); chk.E(err) {
				return
			}
		}
	}
}

func (r *Relay) pingLoop(c context.T) {
	t := time.NewTicker(r.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.Done():
			return
		case <-t.C:
			r.mu.Lock()
			idleFor := time.Since(r.lastActive)
			conn := r.conn
			r.mu.Unlock()
			if r.opts.SleepWhenIdle && idleFor >= r.opts.IdleTimeout && !r.hasActiveWork() {
				r.sleep()
				return
			}
			if conn == nil {
				continue
			}
			if rtt, ok := conn.PongRTT(); ok {
				r.mu.Lock()
				if r.lastRTT == 0 {
					r.lastRTT = rtt
				} else {
					// EWMA with alpha 1/8, same smoothing weight as TCP's
					// SRTT estimator
					r.lastRTT = (r.lastRTT*7 + rtt) / 8
				}
				r.mu.Unlock()
			}
			if err := conn.Ping(c); chk.D(err) {
				continue
			}
		}
	}
}

// RTT returns the smoothed round-trip latency over this session's answered
// pings, and false if no pong has been observed yet.
func (r *Relay) RTT() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRTT, r.lastRTT != 0
}

// hasActiveWork is overridden by composition from the subscription layer
// in practice; here it is a hook the pool wires through SetActivityCheck.
func (r *Relay) hasActiveWork() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activityCheck != nil && r.activityCheck()
}

// SetActivityCheck installs the callback idle-sleep consults before closing
// a connection with no outstanding subscriptions.
func (r *Relay) SetActivityCheck(f func() bool) {
	r.mu.Lock()
	r.activityCheck = f
	r.mu.Unlock()
}

func (r *Relay) sleep() {
	r.mu.Lock()
	if r.conn != nil {
		chk.E(r.conn.Close())
		r.conn = nil
	}
	r.state = Sleeping
	r.emitLocked(Notification{Kind: NotifyStatusChange, Relay: r.URL})
	r.mu.Unlock()
}

// Send enqueues a raw message for the writer loop. It never blocks: if the
// outbound buffer is saturated it returns sdkerrors.ErrSendQueueFull rather
// than applying back-pressure to the caller, and sdkerrors.ErrNotConnected
// if there is no active session.
func (r *Relay) Send(c context.T, msg []byte) error {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state != Connected {
		return sdkerrors.ErrNotConnected
	}
	select {
	case r.outc <- msg:
		return nil
	case <-c.Done():
		return c.Err()
	default:
		return sdkerrors.ErrSendQueueFull
	}
}

// AwaitOK registers a waiter for the OK response to eventID and returns the
// channel to receive it on; the reader loop resolves and removes it.
func (r *Relay) AwaitOK(eventID string) <-chan OKResult {
	ch := make(chan OKResult, 1)
	r.mu.Lock()
	r.awaits[eventID] = ch
	r.mu.Unlock()
	return ch
}

// AwaitNeg registers a waiter for the NEG-MSG/NEG-ERR response correlated to
// subID and returns the channel to receive it on.
func (r *Relay) AwaitNeg(subID string) <-chan NegResult {
	ch := make(chan NegResult, 1)
	r.mu.Lock()
	r.negWaits[subID] = ch
	r.mu.Unlock()
	return ch
}

// ForgetNeg drops a negentropy waiter once its round has been consumed or
// the reconciliation has ended.
func (r *Relay) ForgetNeg(subID string) {
	r.mu.Lock()
	delete(r.negWaits, subID)
	r.mu.Unlock()
}

// AwaitCount registers a waiter for the COUNT response correlated to subID
// and returns the channel to receive it on; the reader loop resolves and
// removes it.
func (r *Relay) AwaitCount(subID string) <-chan CountResult {
	ch := make(chan CountResult, 1)
	r.mu.Lock()
	r.countWaits[subID] = ch
	r.mu.Unlock()
	return ch
}

// ForgetCount drops a count waiter whose caller gave up on the response.
func (r *Relay) ForgetCount(subID string) {
	r.mu.Lock()
	delete(r.countWaits, subID)
	r.mu.Unlock()
}

// RegisterPending records msg as the frame to replay for id (a subscription
// or event id) if the relay answers auth-required and a successful re-auth
// follows. ForgetPending drops the entry once its outcome is known by any
// other means (the relay accepted it, the caller gave up, it was closed).
func (r *Relay) RegisterPending(id string, msg []byte) {
	r.mu.Lock()
	r.pendingReplay[id] = msg
	r.mu.Unlock()
}

func (r *Relay) ForgetPending(id string) {
	r.mu.Lock()
	delete(r.pendingReplay, id)
	delete(r.awaitingAuth, id)
	r.mu.Unlock()
}

func (r *Relay) markAuthRequired(id string) {
	r.mu.Lock()
	if _, has := r.pendingReplay[id]; has {
		r.awaitingAuth[id] = true
	}
	r.mu.Unlock()
}

func (r *Relay) recordAuthFailure() {
	r.mu.Lock()
	r.authFailCount++
	n := r.authFailCount
	r.mu.Unlock()
	if n >= 2 {
		log.E.F("relay %s: %v (%d consecutive failures)", r.URL, sdkerrors.ErrAuthFailed, n)
	}
}
