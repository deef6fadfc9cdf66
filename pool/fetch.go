package pool

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/log"
	"codeberg.org/nostrcore/relaysdk/relay"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/subscription"
)

// FetchBuilder configures a bounded fetch before running it: which relays
// to ask, how long to wait, and which exit policy decides "done". Zero
// configuration means every connected relay, ExitOnEOSE, 30 seconds.
type FetchBuilder struct {
	p       *Pool
	filters []*filter.F
	urls    []string
	policy  subscription.ExitPolicy
	timeout time.Duration
}

// Fetch starts building a bounded fetch over the given filters. Chain From,
// Timeout and Policy as needed, then call Do.
func (p *Pool) Fetch(filters ...*filter.F) *FetchBuilder {
	return &FetchBuilder{
		p:       p,
		filters: filters,
		policy:  subscription.ExitOnEOSE(),
		timeout: 30 * time.Second,
	}
}

// From restricts the fetch to the given relay URLs. Passing a single URL
// makes this the single-relay fetch primitive pool-wide fetches fan out
// over.
func (b *FetchBuilder) From(urls ...string) *FetchBuilder {
	b.urls = urls
	return b
}

// Timeout sets the outer deadline for the whole fetch.
func (b *FetchBuilder) Timeout(d time.Duration) *FetchBuilder {
	b.timeout = d
	return b
}

// Policy sets the exit policy that ends collection before the deadline.
func (b *FetchBuilder) Policy(pol subscription.ExitPolicy) *FetchBuilder {
	b.policy = pol
	return b
}

// Do runs the fetch and returns the collected events.
func (b *FetchBuilder) Do(c context.T) (event.S, error) {
	return b.p.FetchEvents(c, b.filters, b.urls, b.policy, b.timeout)
}

// CountEvents sends ["COUNT", id, filters...] to each of urls (or every
// connected read-flagged relay when urls is nil) and returns the largest
// count any relay reported. COUNT responses carry no ids, so counts from
// different relays cannot be deduplicated client-side; the maximum is the
// tightest lower bound on the number of distinct matching events.
func (p *Pool) CountEvents(c context.T, filters []*filter.F, urls []string, timeout time.Duration) (int64, error) {
	if urls == nil {
		p.relays.Range(func(url string, e *entry) bool {
			if e.r.State() == relay.Connected && e.r.Flags.Has(relay.FlagRead) {
				urls = append(urls, url)
			}
			return true
		})
	}
	if len(urls) == 0 {
		return 0, sdkerrors.ErrNoRelays
	}
	ctx, cancel := context.Timeout(c, timeout)
	defer cancel()

	id := subscription.NewID()
	frame := append([]byte(`["COUNT","`), id...)
	frame = append(frame, '"')
	for _, f := range filters {
		frame = append(frame, ',')
		frame = f.Marshal(frame)
	}
	frame = append(frame, ']')

	var mu sync.Mutex
	best := int64(-1)
	var eg errgroup.Group
	eg.SetLimit(sendFanoutLimit)
	for _, url := range urls {
		url := url
		eg.Go(func() error {
			e, ok := p.relays.Load(NormalizeURL(url))
			if !ok || e.r.State() != relay.Connected {
				return nil
			}
			wait := e.r.AwaitCount(id)
			if err := e.r.Send(ctx, frame); err != nil {
				e.r.ForgetCount(id)
				log.D.F("pool: count send to %s failed: %v", url, err)
				return nil
			}
			select {
			case res := <-wait:
				mu.Lock()
				if res.Count > best {
					best = res.Count
				}
				mu.Unlock()
			case <-ctx.Done():
				e.r.ForgetCount(id)
			}
			return nil
		})
	}
	_ = eg.Wait()
	if best < 0 {
		return 0, sdkerrors.ErrTimeout
	}
	return best, nil
}
