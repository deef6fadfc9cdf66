// Package pool is the multi-relay façade: a registry of relay.Relay
// connections keyed by normalized URL, broadcast and targeted sends,
// pool-wide subscribe/fetch/stream, and a bounded-ring notification bus
// that fans relay.Notification values out to every subscriber without
// letting a slow consumer apply back-pressure to the relays.
package pool

import (
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/errorf"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/log"
	"codeberg.org/nostrcore/relaysdk/negentropy"
	"codeberg.org/nostrcore/relaysdk/relay"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/signer"
	"codeberg.org/nostrcore/relaysdk/store"
	"codeberg.org/nostrcore/relaysdk/subscription"
	"codeberg.org/nostrcore/relaysdk/transport/gobwasws"
)

// sendFanoutLimit bounds how many relays a broadcast send or connect-all
// dials concurrently, so a pool with thousands of registered relays doesn't
// spawn thousands of goroutines at once.
const sendFanoutLimit = 32

// NormalizeURL lowercases the scheme/host and trims a trailing slash, the
// minimal normalization needed so "wss://Relay.Example/" and
// "wss://relay.example" key the same registry entry.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	u = strings.TrimSuffix(u, "/")
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return strings.ToLower(u)
	}
	host, path, hasPath := strings.Cut(rest, "/")
	u = strings.ToLower(scheme) + "://" + strings.ToLower(host)
	if hasPath {
		u += "/" + path
	}
	return u
}

// SendResult is one relay's outcome from a broadcast send_event call.
type SendResult struct {
	URL string
	OK  bool
	Err error
}

// Options configures every relay the pool creates.
type Options struct {
	RelayOptions  relay.Options
	BusBufferSize int
}

// Pool holds every known relay connection and fans out operations across
// them.
type Pool struct {
	relays    *xsync.MapOf[string, *entry]
	opts      Options
	store     store.I
	connected atomic.Int64

	busMu sync.Mutex
	bus   []chan relay.Notification
}

type entry struct {
	r            *relay.Relay
	subs         *subscription.Manager
	wasConnected bool
}

// ConnectedCount returns how many registered relays are currently in the
// Connected state, tracked off the status-change notifications pump
// already observes rather than polling every relay's state.
func (p *Pool) ConnectedCount() int64 { return p.connected.Load() }

// New creates an empty pool. store may be nil if the caller only needs
// relay fan-out without local persistence.
func New(opts Options, st store.I) *Pool {
	if opts.BusBufferSize == 0 {
		opts.BusBufferSize = 4096
	}
	if opts.RelayOptions.Dialer == nil {
		opts.RelayOptions.Dialer = &gobwasws.Dialer{}
	}
	return &Pool{
		relays: xsync.NewMapOf[string, *entry](),
		opts:   opts,
		store:  st,
	}
}

// Subscribe returns a channel of every notification the pool emits, up to
// BusBufferSize buffered; if the consumer falls behind, the oldest queued
// notification is dropped rather than blocking any relay.
func (p *Pool) Subscribe() <-chan relay.Notification {
	ch := make(chan relay.Notification, p.opts.BusBufferSize)
	p.busMu.Lock()
	p.bus = append(p.bus, ch)
	p.busMu.Unlock()
	return ch
}

func (p *Pool) publish(n relay.Notification) {
	p.busMu.Lock()
	defer p.busMu.Unlock()
	for _, ch := range p.bus {
		select {
		case ch <- n:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- n:
			default:
			}
		}
	}
}

// Add registers a relay with relay.DefaultFlags without connecting it.
func (p *Pool) Add(url string) *relay.Relay {
	return p.AddWithFlags(url, relay.DefaultFlags)
}

// AddWithFlags registers a relay carrying an explicit role bitset (read,
// write, ping, gossip, discovery) without connecting it. Broadcast send and
// gossip discovery refreshes filter relays by these flags.
func (p *Pool) AddWithFlags(url string, flags relay.Flags) *relay.Relay {
	url = NormalizeURL(url)
	if e, ok := p.relays.Load(url); ok {
		return e.r
	}
	r := relay.NewWithFlags(url, flags, p.opts.RelayOptions)
	e := &entry{r: r, subs: subscription.NewManager(p.opts.RelayOptions.EffectiveMaxSubscriptions())}
	r.SetActivityCheck(func() bool { return e.subs.Len() > 0 })
	p.relays.Store(url, e)
	go p.pump(r)
	return r
}

// DiscoveryURLs returns the normalized URLs of every relay flagged for
// gossip discovery, the set gossip.Store.Refresh targets.
func (p *Pool) DiscoveryURLs() []string {
	var out []string
	p.relays.Range(func(url string, e *entry) bool {
		if e.r.Flags.Has(relay.FlagDiscovery) {
			out = append(out, url)
		}
		return true
	})
	return out
}

// pump forwards one relay's notifications onto the shared bus and applies
// subscription validation / health-ban side effects as it goes.
func (p *Pool) pump(r *relay.Relay) {
	for n := range r.Notifications() {
		if n.Kind == relay.NotifyStatusChange {
			if e, ok := p.relays.Load(NormalizeURL(r.URL)); ok {
				nowConnected := r.State() == relay.Connected
				if nowConnected && !e.wasConnected {
					p.connected.Inc()
				} else if !nowConnected && e.wasConnected {
					p.connected.Dec()
				}
				e.wasConnected = nowConnected
			}
		}
		if n.Kind == relay.NotifyEvent && n.Event != nil {
			if e, ok := p.relays.Load(NormalizeURL(r.URL)); ok {
				valid, shouldBan := e.subs.ValidateEvent(n.SubID, n.Event)
				if !valid {
					if shouldBan {
						r.Ban("event did not satisfy any filter of subscription " + n.SubID)
					}
					continue
				}
			}
			if p.store != nil {
				if _, err := p.store.Save(n.Event); err != nil {
					log.D.F("pool: store save failed for %s: %v", r.URL, err)
				}
			}
		}
		if n.Kind == relay.NotifyEOSE {
			if e, ok := p.relays.Load(NormalizeURL(r.URL)); ok {
				e.subs.HandleEOSE(n.SubID)
			}
		}
		p.publish(n)
	}
}

// Remove tears down and forgets a relay.
func (p *Pool) Remove(url string) {
	url = NormalizeURL(url)
	if e, ok := p.relays.LoadAndDelete(url); ok {
		e.r.Disconnect()
	}
}

func (p *Pool) Get(url string) (*relay.Relay, bool) {
	e, ok := p.relays.Load(NormalizeURL(url))
	if !ok {
		return nil, false
	}
	return e.r, true
}

func (p *Pool) URLs() []string {
	var out []string
	p.relays.Range(func(url string, _ *entry) bool {
		out = append(out, url)
		return true
	})
	return out
}

// ConnectAll starts every registered relay's connection worker.
func (p *Pool) ConnectAll(c context.T) {
	p.relays.Range(func(_ string, e *entry) bool {
		e.r.Connect(c)
		return true
	})
}

// TryConnectAll dials every registered relay and blocks until each has
// either connected or failed, returning the first dial error encountered
// (the rest are logged); relays that succeed keep running under their own
// background worker same as ConnectAll. Fan-out is capped at
// sendFanoutLimit concurrent dials.
func (p *Pool) TryConnectAll(c context.T, timeout time.Duration) error {
	var eg errgroup.Group
	eg.SetLimit(sendFanoutLimit)
	p.relays.Range(func(url string, e *entry) bool {
		eg.Go(func() error {
			if err := e.r.TryConnect(c, timeout); err != nil {
				log.D.F("pool: connect to %s failed: %v", url, err)
				return err
			}
			return nil
		})
		return true
	})
	return eg.Wait()
}

// DisconnectAll terminates every relay without removing them from the
// registry.
func (p *Pool) DisconnectAll() {
	p.relays.Range(func(_ string, e *entry) bool {
		e.r.Disconnect()
		return true
	})
}

// Shutdown disconnects every relay and notifies bus consumers.
func (p *Pool) Shutdown() {
	p.DisconnectAll()
	p.publish(relay.Notification{Kind: relay.NotifyStatusChange})
}

func (p *Pool) signedFrame(ev *event.E) []byte {
	out := append([]byte(`["EVENT",`), ev.Marshal(nil)...)
	return append(out, ']')
}

// SendEvent broadcasts ev to every connected, write-flagged relay,
// collecting each relay's OK/error outcome.
func (p *Pool) SendEvent(c context.T, ev *event.E) []SendResult {
	var urls []string
	p.relays.Range(func(url string, e *entry) bool {
		if e.r.State() == relay.Connected && e.r.Flags.Has(relay.FlagWrite) {
			urls = append(urls, url)
		}
		return true
	})
	return p.SendEventTo(c, ev, urls)
}

// SendEventTo broadcasts ev to exactly the given relay URLs, fanning out at
// most sendFanoutLimit sends concurrently.
func (p *Pool) SendEventTo(c context.T, ev *event.E, urls []string) []SendResult {
	if len(urls) == 0 {
		return []SendResult{{Err: sdkerrors.ErrNoRelays}}
	}
	results := make([]SendResult, len(urls))
	frame := p.signedFrame(ev)
	eventID := ev.IdHex()
	var eg errgroup.Group
	eg.SetLimit(sendFanoutLimit)
	for i, url := range urls {
		i, url := i, url
		eg.Go(func() error {
			results[i].URL = url
			e, ok := p.relays.Load(NormalizeURL(url))
			if !ok {
				results[i].Err = sdkerrors.ErrNotConnected
				return results[i].Err
			}
			wait := e.r.AwaitOK(eventID)
			e.r.RegisterPending(eventID, frame)
			if err := e.r.Send(c, frame); err != nil {
				e.r.ForgetPending(eventID)
				results[i].Err = err
				return err
			}
			select {
			case res := <-wait:
				results[i].OK = res.OK
				if !res.OK && res.Message != "" {
					results[i].Err = sdkerrors.FromRelayMessage(res.Message)
				}
			case <-c.Done():
				results[i].Err = sdkerrors.ErrTimeout
			case <-time.After(10 * time.Second):
				e.r.ForgetPending(eventID)
				results[i].Err = sdkerrors.ErrTimeout
			}
			return results[i].Err
		})
	}
	_ = eg.Wait()
	return results
}

// SubscribeAll opens a subscription on every connected relay, returning the
// subscription id shared across all of them.
func (p *Pool) SubscribeAll(c context.T, filters []*filter.F, opts subscription.Options) string {
	id := subscription.NewID()
	p.relays.Range(func(url string, e *entry) bool {
		if e.r.State() != relay.Connected {
			return true
		}
		frame, _, err := e.subs.Subscribe(id, filters, opts, false)
		if err != nil {
			log.D.F("pool: subscribe on %s failed: %v", url, err)
			return true
		}
		e.r.RegisterPending(id, frame)
		_ = e.r.Send(c, frame)
		return true
	})
	return id
}

// SubscribeTo opens a subscription on exactly the given relay URLs.
func (p *Pool) SubscribeTo(c context.T, urls []string, filters []*filter.F, opts subscription.Options) string {
	id := subscription.NewID()
	for _, url := range urls {
		e, ok := p.relays.Load(NormalizeURL(url))
		if !ok {
			continue
		}
		frame, _, err := e.subs.Subscribe(id, filters, opts, false)
		if err != nil {
			log.D.F("pool: subscribe on %s failed: %v", url, err)
			continue
		}
		e.r.RegisterPending(id, frame)
		_ = e.r.Send(c, frame)
	}
	return id
}

// UnsubscribeAll closes id on every relay that has it open.
func (p *Pool) UnsubscribeAll(c context.T, id string) {
	p.relays.Range(func(_ string, e *entry) bool {
		if _, ok := e.subs.Get(id); ok {
			frame := e.subs.Unsubscribe(id)
			e.r.ForgetPending(id)
			_ = e.r.Send(c, frame)
		}
		return true
	})
}

// FetchEvents runs a bounded, auto-closing subscription across urls (or
// every connected relay when urls is nil) and collects events until the
// exit policy is satisfied or ctx expires.
func (p *Pool) FetchEvents(c context.T, filters []*filter.F, urls []string, policy subscription.ExitPolicy, timeout time.Duration) (event.S, error) {
	ctx, cancel := context.Timeout(c, timeout)
	defer cancel()

	if urls == nil {
		urls = p.URLs()
	}
	id := subscription.NewID()
	opts := subscription.Options{ExitPolicy: policy}
	var states []*subscription.State
	sub := p.Subscribe()
	for _, url := range urls {
		e, ok := p.relays.Load(NormalizeURL(url))
		if !ok || e.r.State() != relay.Connected {
			continue
		}
		frame, st, err := e.subs.Subscribe(id, filters, opts, true)
		if err != nil {
			log.D.F("pool: fetch_events subscribe on %s failed: %v", url, err)
			continue
		}
		states = append(states, st)
		e.r.RegisterPending(id, frame)
		if err = e.r.Send(ctx, frame); err != nil {
			log.D.F("pool: fetch_events send to %s failed: %v", url, err)
		}
	}
	if len(states) == 0 {
		return nil, sdkerrors.ErrNoRelays
	}

	var out event.S
	done := func() bool {
		for _, st := range states {
			if st.Done() {
				return true
			}
		}
		return false
	}
	for !done() {
		select {
		case <-ctx.Done():
			goto finish
		case n := <-sub:
			if n.Kind == relay.NotifyEvent && n.SubID == id && n.Event != nil {
				out = append(out, n.Event)
			}
		}
	}
finish:
	// collect events pump queued before the exit policy was met
	for drained := false; !drained; {
		select {
		case n := <-sub:
			if n.Kind == relay.NotifyEvent && n.SubID == id && n.Event != nil {
				out = append(out, n.Event)
			}
		default:
			drained = true
		}
	}
	for _, url := range urls {
		if e, ok := p.relays.Load(NormalizeURL(url)); ok {
			frame := e.subs.Unsubscribe(id)
			e.r.ForgetPending(id)
			_ = e.r.Send(c, frame)
		}
	}
	return out, nil
}

// StreamEvents is like FetchEvents but returns immediately with a channel
// the caller drains for as long as the subscription stays open; the caller
// is responsible for eventually calling UnsubscribeAll(id).
func (p *Pool) StreamEvents(c context.T, filters []*filter.F, urls []string, opts subscription.Options) (string, <-chan *event.E) {
	if urls == nil {
		urls = p.URLs()
	}
	id := subscription.NewID()
	for _, url := range urls {
		e, ok := p.relays.Load(NormalizeURL(url))
		if !ok || e.r.State() != relay.Connected {
			continue
		}
		frame, _, err := e.subs.Subscribe(id, filters, opts, false)
		if err != nil {
			log.D.F("pool: stream_events subscribe on %s failed: %v", url, err)
			continue
		}
		e.r.RegisterPending(id, frame)
		_ = e.r.Send(c, frame)
	}
	out := make(chan *event.E, 256)
	sub := p.Subscribe()
	go func() {
		defer close(out)
		for {
			select {
			case <-c.Done():
				return
			case n, ok := <-sub:
				if !ok {
					return
				}
				if n.Kind == relay.NotifyEvent && n.SubID == id && n.Event != nil {
					select {
					case out <- n.Event:
					default:
					}
				}
			}
		}
	}()
	return id, out
}

// Sync reconciles f against a single relay with the negentropy driver,
// using the pool's own store as the local side.
func (p *Pool) Sync(c context.T, url string, f *filter.F, dir negentropy.Direction) (negentropy.Result, error) {
	r, ok := p.Get(url)
	if !ok {
		return negentropy.Result{}, sdkerrors.ErrNotConnected
	}
	if p.store == nil {
		return negentropy.Result{}, errorf.E("pool: sync requires a store")
	}
	d := negentropy.NewDriver(p.store, r, dir)
	return d.Sync(c, f)
}

// Signer exposes the configured auth signer, used by callers assembling
// NIP-46/07 flows outside the relay FSM's own auto-auth path.
func (p *Pool) Signer() signer.I { return p.opts.RelayOptions.Signer }
