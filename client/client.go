// Package client is the user-facing façade: it owns a store, a pool, a
// gossip store, and an auth engine, and offers the handful of operations an
// application actually calls (connect, publish, fetch, subscribe, sync)
// without making the caller wire components A-I together by hand. Every
// method here is a thin dispatcher onto pool/gossip/store/negentropy; the
// façade itself holds no protocol logic.
package client

import (
	"time"

	"codeberg.org/nostrcore/relaysdk/config"
	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/errorf"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/gossip"
	"codeberg.org/nostrcore/relaysdk/negentropy"
	"codeberg.org/nostrcore/relaysdk/pool"
	"codeberg.org/nostrcore/relaysdk/relay"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/signer"
	"codeberg.org/nostrcore/relaysdk/store"
	"codeberg.org/nostrcore/relaysdk/subscription"
)

// Options configures a Client. Cfg supplies every numeric default; Store
// may be nil for a fan-out-only client with no local persistence; Signer
// enables publish/auth.
type Options struct {
	Cfg    *config.C
	Store  store.I
	Signer signer.I

	// UseGossip turns on NIP-65 relay-list-driven routing for Fetch and
	// Subscribe; Discovery is the relay set consulted for unknown/outdated
	// authors' lists when no relay in the pool carries relay.FlagDiscovery.
	UseGossip bool
	Discovery []string
}

// Client ties the relay pool, event store, gossip planner and auth engine
// together behind a small, application-facing API.
type Client struct {
	Pool   *pool.Pool
	Store  store.I
	Gossip *gossip.Store

	cfg    *config.C
	signer signer.I
}

// New builds a Client from opts. If opts.Cfg is nil, config.New()'s
// defaults are used.
func New(opts Options) *Client {
	cfg := opts.Cfg
	if cfg == nil {
		cfg = config.New()
	}
	relayOpts := relay.Options{
		Signer:                opts.Signer,
		AutoAuth:              opts.Signer != nil,
		SleepWhenIdle:         true,
		IdleTimeout:           cfg.IdleTimeout,
		BanOnMismatch:         true,
		NotesPerMinute:        cfg.NotesPerMinute,
		MaxSubscriptions:      cfg.MaxSubscriptions,
		BaseBackoff:           cfg.BaseBackoff,
		MaxBackoff:            cfg.MaxBackoff,
		CleanSessionThreshold: cfg.CleanSessionThreshold,
		PingInterval:          cfg.PingInterval,
	}
	p := pool.New(pool.Options{RelayOptions: relayOpts, BusBufferSize: cfg.BusBufferSize}, opts.Store)

	c := &Client{Pool: p, Store: opts.Store, cfg: cfg, signer: opts.Signer}
	if opts.UseGossip {
		c.Gossip = gossip.NewStore(p, opts.Discovery, gossip.Options{
			ReadRelaysPerUser:     cfg.ReadRelaysPerUser,
			WriteRelaysPerUser:    cfg.WriteRelaysPerUser,
			HintRelaysPerUser:     cfg.HintRelaysPerUser,
			MostUsedRelaysPerUser: cfg.MostUsedRelaysPerUser,
			Freshness:             cfg.GossipFreshness,
			RefreshTimeout:        cfg.GossipRefreshTimeout,
			RefreshBatch:          cfg.GossipRefreshBatch,
		})
	}
	return c
}

// AddRelay registers relayURL with the given role flags. Call Pool.ConnectAll
// or Relay.Connect separately to actually dial it.
func (c *Client) AddRelay(url string, flags relay.Flags) *relay.Relay {
	return c.Pool.AddWithFlags(url, flags)
}

// Connect starts every registered relay's background connection worker via
// Pool.ConnectAll and returns without waiting for any dial; the workers keep
// reconnecting until ctx is done or Shutdown is called.
func (c *Client) Connect(ctx context.T) {
	c.Pool.ConnectAll(ctx)
}

// Shutdown tears down every relay connection.
func (c *Client) Shutdown() {
	c.Pool.Shutdown()
}

// Publish signs ev with the configured signer (if not already signed) and
// broadcasts it, using the gossip planner's write-relay assignment when
// gossip is enabled and ev's author has a cached relay list, falling back
// to a plain pool-wide broadcast otherwise.
func (c *Client) Publish(ctx context.T, ev *event.E) ([]pool.SendResult, error) {
	if len(ev.Sig) == 0 {
		if c.signer == nil {
			return nil, sdkerrors.ErrNoSigner
		}
		if err := ev.Sign(c.signer); err != nil {
			return nil, err
		}
	}
	if c.Gossip != nil {
		f := filter.New()
		f.Authors = f.Authors.Append(ev.Pubkey)
		if plans := c.Gossip.PlanPublish(f); len(plans) > 0 {
			urls := make([]string, 0, len(plans))
			for _, p := range plans {
				urls = append(urls, p.Relay)
			}
			return c.Pool.SendEventTo(ctx, ev, urls), nil
		}
	}
	return c.Pool.SendEvent(ctx, ev), nil
}

// Fetch runs a bounded fetch for f, routed through the gossip planner (when
// enabled) or broadcast to every connected relay.
func (c *Client) Fetch(ctx context.T, f *filter.F, timeout time.Duration) (event.S, error) {
	if c.Gossip != nil {
		if plans := c.Gossip.PlanFetch(ctx, f); len(plans) > 0 {
			return c.fetchPlans(ctx, plans, timeout)
		}
	}
	return c.Pool.FetchEvents(ctx, []*filter.F{f}, nil, subscription.ExitOnEOSE(), timeout)
}

func (c *Client) fetchPlans(ctx context.T, plans []gossip.Plan, timeout time.Duration) (event.S, error) {
	ctx, cancel := context.Timeout(ctx, timeout)
	defer cancel()
	var merged filter.Results
	for i, p := range plans {
		evs, err := c.Pool.FetchEvents(ctx, []*filter.F{p.Filter}, []string{p.Relay}, subscription.ExitOnEOSE(), timeout)
		if err != nil {
			continue
		}
		res := filter.NewResults(p.Filter, evs)
		if i == 0 {
			merged = res
			continue
		}
		// sub-filters differ per relay, so the merge drops the limit and
		// only deduplicates
		merged = merged.Merge(res)
	}
	return merged.Events, nil
}

// Count asks the connected relays how many events match f, routed through
// gossip planning when enabled, and returns the largest count reported.
func (c *Client) Count(ctx context.T, f *filter.F, timeout time.Duration) (int64, error) {
	var urls []string
	if c.Gossip != nil {
		if plans := c.Gossip.PlanFetch(ctx, f); len(plans) > 0 {
			for _, p := range plans {
				urls = append(urls, p.Relay)
			}
		}
	}
	return c.Pool.CountEvents(ctx, []*filter.F{f}, urls, timeout)
}

// Subscribe opens a persistent subscription, routed through gossip planning
// when enabled. The caller must eventually call Unsubscribe.
func (c *Client) Subscribe(ctx context.T, f *filter.F) (string, <-chan *event.E) {
	if c.Gossip != nil {
		if plans := c.Gossip.PlanFetch(ctx, f); len(plans) > 0 {
			urls := make([]string, 0, len(plans))
			for _, p := range plans {
				urls = append(urls, p.Relay)
			}
			return c.Pool.StreamEvents(ctx, []*filter.F{f}, urls, subscription.Options{})
		}
	}
	return c.Pool.StreamEvents(ctx, []*filter.F{f}, nil, subscription.Options{})
}

// Unsubscribe closes a subscription opened by Subscribe or SubscribeAll.
func (c *Client) Unsubscribe(ctx context.T, id string) {
	c.Pool.UnsubscribeAll(ctx, id)
}

// Sync runs negentropy reconciliation for f against a single relay. When the
// relay doesn't support it, the driver's sdkerrors.ErrNegentropyUnsupported
// is returned as is; no plain fetch is made in its place.
func (c *Client) Sync(ctx context.T, relayURL string, f *filter.F, dir negentropy.Direction) (negentropy.Result, error) {
	r, ok := c.Pool.Get(relayURL)
	if !ok {
		return negentropy.Result{}, sdkerrors.ErrNotConnected
	}
	if c.Store == nil {
		return negentropy.Result{}, errorf.E("client: sync requires a local store")
	}
	d := negentropy.NewDriver(c.Store, r, dir)
	d.SetMaxFrame(c.cfg.NegentropyMaxFrameBytes)
	return d.Sync(ctx, f)
}

// RunGossipRefresher starts the gossip background refresher, ticking at
// interval until ctx is done. No-op if gossip wasn't enabled.
func (c *Client) RunGossipRefresher(ctx context.T, interval time.Duration) {
	if c.Gossip == nil {
		return
	}
	c.Gossip.RunBackgroundRefresh(ctx, interval)
}
