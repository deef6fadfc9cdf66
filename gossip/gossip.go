// Package gossip is the NIP-65 relay-list cache and the fan-out planner
// that uses it: given a filter's authors set, decide which relay gets which
// per-author sub-filter instead of blasting every relay with everything.
package gossip

import (
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/pool"
	"codeberg.org/nostrcore/relaysdk/subscription"
	"codeberg.org/nostrcore/relaysdk/tag"
)

// Status describes how fresh a pubkey's cached relay list is.
type Status int

const (
	Unknown Status = iota
	Outdated
	Updated
)

// Marker is the read/write/both marker a relay carries for a pubkey, per
// NIP-65's "r" tags.
type Marker int

const (
	MarkerBoth Marker = iota
	MarkerRead
	MarkerWrite
)

// RelayEntry is one relay in a pubkey's list.
type RelayEntry struct {
	URL    string
	Marker Marker
}

type relayList struct {
	entries     []RelayEntry
	dmInbox     []RelayEntry
	lastUpdated time.Time
}

// Options bounds how many relays the planner assigns per author for each
// role, and how long a cached list stays Updated before going Outdated.
type Options struct {
	ReadRelaysPerUser     int
	WriteRelaysPerUser    int
	HintRelaysPerUser     int
	MostUsedRelaysPerUser int
	Freshness             time.Duration
	RefreshTimeout        time.Duration
	RefreshBatch          int
}

func (o *Options) refreshBatch() int {
	if o.RefreshBatch <= 0 {
		return 25
	}
	return o.RefreshBatch
}

func (o *Options) setDefaults() {
	if o.ReadRelaysPerUser == 0 {
		o.ReadRelaysPerUser = 3
	}
	if o.WriteRelaysPerUser == 0 {
		o.WriteRelaysPerUser = 3
	}
	if o.HintRelaysPerUser == 0 {
		o.HintRelaysPerUser = 2
	}
	if o.MostUsedRelaysPerUser == 0 {
		o.MostUsedRelaysPerUser = 5
	}
	if o.Freshness == 0 {
		o.Freshness = time.Hour
	}
	if o.RefreshTimeout == 0 {
		o.RefreshTimeout = 5 * time.Second
	}
}

// Store holds per-pubkey relay lists and drives the background refresher.
type Store struct {
	mu   sync.Mutex
	data map[string]*relayList

	opts      Options
	pool      *pool.Pool
	discovery []string

	// outboxCursor and dmCursor are the round-robin positions the
	// background refresher advances independently, one per list kind, per
	// spec.md §4.G's "the rotation cursor is per list kind".
	outboxCursor int
	dmCursor     int
}

// NewStore creates a gossip store. discovery is the set of relay URLs used
// to look up unknown or outdated relay lists (kinds 10002/10050).
func NewStore(p *pool.Pool, discovery []string, opts Options) *Store {
	opts.setDefaults()
	return &Store{
		data:      make(map[string]*relayList),
		opts:      opts,
		pool:      p,
		discovery: discovery,
	}
}

// trackedPubkeys returns every pubkey this store has ever ingested a list
// for, in a stable order, so the round-robin window below advances
// deterministically.
func (s *Store) trackedPubkeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data))
	for pk := range s.data {
		out = append(out, pk)
	}
	sort.Strings(out)
	return out
}

// window returns up to n entries starting at cursor, wrapping around, and
// the cursor advanced by however many it returned (mod len(all)).
func window(all []string, cursor, n int) ([]string, int) {
	if len(all) == 0 {
		return nil, 0
	}
	if n > len(all) {
		n = len(all)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, all[(cursor+i)%len(all)])
	}
	return out, (cursor + n) % len(all)
}

// RefreshTick runs one round of the background refresher: it advances the
// outbox/inbox cursor by GossipRefreshBatch tracked pubkeys and refreshes
// them, then does the same for the DM-inbox cursor. Callers drive this from
// a ticker (see RunBackgroundRefresh); it is also safe to call directly from
// tests that want deterministic single-step control.
func (s *Store) RefreshTick(c context.T) {
	all := s.trackedPubkeys()
	if len(all) == 0 {
		return
	}
	batch := s.opts.refreshBatch()

	s.mu.Lock()
	outboxBatch, nextOutbox := window(all, s.outboxCursor, batch)
	s.outboxCursor = nextOutbox
	dmBatch, nextDM := window(all, s.dmCursor, batch)
	s.dmCursor = nextDM
	s.mu.Unlock()

	if len(outboxBatch) > 0 {
		s.Refresh(c, outboxBatch, false)
	}
	if len(dmBatch) > 0 {
		s.Refresh(c, dmBatch, true)
	}
}

// RunBackgroundRefresh ticks RefreshTick on interval until ctx is done. The
// caller typically runs this in its own goroutine alongside the pool's
// notification bus consumer.
func (s *Store) RunBackgroundRefresh(c context.T, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.Done():
			return
		case <-t.C:
			s.RefreshTick(c)
		}
	}
}

func (s *Store) statusLocked(pubkey string) Status {
	rl, ok := s.data[pubkey]
	if !ok {
		return Unknown
	}
	if time.Since(rl.lastUpdated) > s.opts.Freshness {
		return Outdated
	}
	return Updated
}

// Status reports the freshness of pubkey's cached relay list.
func (s *Store) Status(pubkey string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(pubkey)
}

// Ingest stores a relay-list or DM-relay-list event's "r"/"relay" tags for
// its author.
func (s *Store) Ingest(ev *event.E) {
	if ev == nil || ev.Kind == nil {
		return
	}
	var entries []RelayEntry
	for _, tg := range ev.Tags.ToSliceOfTags() {
		if (tg.Key() != "r" && tg.Key() != "relay") || tg.Len() < 2 {
			continue
		}
		marker := MarkerBoth
		if tg.Len() >= 3 {
			switch tg.S(2) {
			case "read":
				marker = MarkerRead
			case "write":
				marker = MarkerWrite
			}
		}
		entries = append(entries, RelayEntry{URL: tg.S(1), Marker: marker})
	}
	pubkey := ev.PubkeyHex()
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.data[pubkey]
	if !ok {
		rl = &relayList{}
		s.data[pubkey] = rl
	}
	switch ev.Kind.K {
	case kind.RelayListMetadata:
		rl.entries = entries
		rl.lastUpdated = time.Now()
	case kind.DMRelayListMetadata:
		rl.dmInbox = entries
		rl.lastUpdated = time.Now()
	}
}

// discoveryURLs returns the explicit discovery relay list if one was given
// to NewStore, otherwise every relay flagged relay.FlagDiscovery in the pool.
func (s *Store) discoveryURLs() []string {
	if len(s.discovery) > 0 {
		return s.discovery
	}
	if s.pool == nil {
		return nil
	}
	return s.pool.DiscoveryURLs()
}

// Refresh runs a bounded-time REQ against the discovery relays for the
// given authors' kind-10002 (and kind-10050 when needDM) lists.
func (s *Store) Refresh(c context.T, authors []string, needDM bool) {
	discovery := s.discoveryURLs()
	if len(discovery) == 0 || len(authors) == 0 {
		return
	}
	f := filter.New()
	for _, a := range authors {
		f.Authors = f.Authors.Append(hexDecode(a))
	}
	f.Kinds = f.Kinds.Append(kind.RelayListMetadata)
	if needDM {
		f.Kinds = f.Kinds.Append(kind.DMRelayListMetadata)
	}
	evs, err := s.pool.FetchEvents(c, []*filter.F{f}, discovery, subscription.WaitDurationAfterEOSE(0), s.opts.RefreshTimeout)
	if err != nil {
		return
	}
	for _, ev := range evs {
		s.Ingest(ev)
	}
}

// Plan assigns the filter's authors to relays: each relay in the result
// carries a sub-filter whose Authors set is restricted to the authors the
// planner assigned it, per the write-relay-for-write-intent,
// read-relay-for-read-intent rule.
type Plan struct {
	Relay  string
	Filter *filter.F
}

// PlanFetch plans a read: for each needed author consult the cache
// (refreshing outdated/unknown ones first), then distribute authors across
// each one's read relays (or DM-inbox relays, when the filter's kinds imply
// DMs), capped at ReadRelaysPerUser per author.
func (s *Store) PlanFetch(c context.T, f *filter.F) []Plan {
	authors := hexAuthors(f)
	if len(authors) == 0 {
		return nil
	}
	needDM := f.Kinds.Contains(kind.New(17))
	var needRefresh []string
	for _, a := range authors {
		if s.Status(a) != Updated {
			needRefresh = append(needRefresh, a)
		}
	}
	if len(needRefresh) > 0 {
		s.Refresh(c, needRefresh, needDM)
	}

	byRelay := make(map[string][]string)
	for _, a := range authors {
		s.mu.Lock()
		rl, ok := s.data[a]
		s.mu.Unlock()
		if !ok {
			continue
		}
		pool := rl.entries
		if needDM {
			pool = rl.dmInbox
		}
		cap := s.opts.ReadRelaysPerUser
		n := 0
		for _, e := range pool {
			if e.Marker == MarkerWrite {
				continue
			}
			byRelay[e.URL] = append(byRelay[e.URL], a)
			n++
			if n >= cap {
				break
			}
		}
	}
	return buildPlans(f, byRelay)
}

// PlanPublish is PlanFetch's write-side twin: it assigns each author's
// write relays for a send_event fan-out built from a filter-shaped author
// restriction (used by higher layers that want "send to this author's
// inbox").
func (s *Store) PlanPublish(f *filter.F) []Plan {
	authors := hexAuthors(f)
	byRelay := make(map[string][]string)
	for _, a := range authors {
		s.mu.Lock()
		rl, ok := s.data[a]
		s.mu.Unlock()
		if !ok {
			continue
		}
		cap := s.opts.WriteRelaysPerUser
		n := 0
		for _, e := range rl.entries {
			if e.Marker == MarkerRead {
				continue
			}
			byRelay[e.URL] = append(byRelay[e.URL], a)
			n++
			if n >= cap {
				break
			}
		}
	}
	return buildPlans(f, byRelay)
}

func buildPlans(base *filter.F, byRelay map[string][]string) []Plan {
	plans := make([]Plan, 0, len(byRelay))
	for relayURL, authors := range byRelay {
		f := base.Clone()
		f.Authors = tag.NewWithCap(uint64(len(authors)))
		for _, a := range authors {
			f.Authors = f.Authors.Append(hexDecode(a))
		}
		plans = append(plans, Plan{Relay: relayURL, Filter: f})
	}
	return plans
}

// hexAuthors renders the filter's raw author pubkeys as the hex strings the
// cache is keyed by.
func hexAuthors(f *filter.F) []string {
	raw := f.Authors.ToSliceOfBytes()
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		out = append(out, hex.EncodeToString(a))
	}
	return out
}

func hexDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
