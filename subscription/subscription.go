// Package subscription is the per-relay REQ/CLOSE bookkeeping: tracked
// subscription state, EOSE observation, and the exit policies bounded
// fetches use to decide when they're done collecting events.
package subscription

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
)

// ExitPolicy decides when a bounded fetch or auto-closing subscription is
// done collecting events.
type ExitPolicy struct {
	kind  exitKind
	n     int
	after time.Duration
}

type exitKind int

const (
	exitOnEOSE exitKind = iota
	waitForEvents
	waitForEventsAfterEOSE
	waitDurationAfterEOSE
)

func ExitOnEOSE() ExitPolicy                    { return ExitPolicy{kind: exitOnEOSE} }
func WaitForEvents(n int) ExitPolicy            { return ExitPolicy{kind: waitForEvents, n: n} }
func WaitForEventsAfterEOSE(n int) ExitPolicy    { return ExitPolicy{kind: waitForEventsAfterEOSE, n: n} }
func WaitDurationAfterEOSE(d time.Duration) ExitPolicy {
	return ExitPolicy{kind: waitDurationAfterEOSE, after: d}
}

// Options configures a single subscription.
type Options struct {
	ExitPolicy             ExitPolicy
	WaitForEventsAfterEOSE bool
	Timeout                time.Duration
	VerifySubscriptions    bool
	BanOnMismatch          bool
}

// State tracks one live subscription's bookkeeping.
type State struct {
	ID      string
	Filters []*filter.F
	Opts    Options

	mu           sync.Mutex
	eoseSeen     bool
	eoseAt       time.Time
	eventCount   int
	autoClose    bool
	closed       bool
}

// satisfiesAny reports whether ev matches at least one of the subscription's
// filters, the check verify_subscriptions gates.
func (s *State) satisfiesAny(ev *event.E) bool {
	for _, f := range s.Filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

// Done reports whether the exit policy condition has been met. Only
// meaningful for auto-closing subscriptions; a persistent subscription never
// reports done on its own.
func (s *State) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.autoClose {
		return false
	}
	switch s.Opts.ExitPolicy.kind {
	case exitOnEOSE:
		return s.eoseSeen
	case waitForEvents:
		return s.eventCount >= s.Opts.ExitPolicy.n
	case waitForEventsAfterEOSE:
		return s.eoseSeen && s.eventCount >= s.Opts.ExitPolicy.n
	case waitDurationAfterEOSE:
		return s.eoseSeen && time.Since(s.eoseAt) >= s.Opts.ExitPolicy.after
	default:
		return s.eoseSeen
	}
}

// Manager tracks the live subscriptions for one relay connection.
type Manager struct {
	mu      sync.Mutex
	subs    map[string]*State
	maxSubs int
}

// NewManager creates a Manager capping concurrent subscriptions at maxSubs;
// 0 means unbounded.
func NewManager(maxSubs int) *Manager {
	return &Manager{subs: make(map[string]*State), maxSubs: maxSubs}
}

// NewID returns a fresh subscription identifier.
func NewID() string { return uuid.NewString() }

// Subscribe registers subscription state and returns the REQ frame to send.
// Returns sdkerrors.ErrMaxSubscriptionsExceeded without registering anything
// if the manager's cap is already in use.
func (m *Manager) Subscribe(id string, filters []*filter.F, opts Options, autoClose bool) ([]byte, *State, error) {
	m.mu.Lock()
	if m.maxSubs > 0 && len(m.subs) >= m.maxSubs {
		m.mu.Unlock()
		return nil, nil, sdkerrors.ErrMaxSubscriptionsExceeded
	}
	st := &State{ID: id, Filters: filters, Opts: opts, autoClose: autoClose}
	m.subs[id] = st
	m.mu.Unlock()
	return buildREQ(id, filters), st, nil
}

// Unsubscribe removes subscription state and returns the CLOSE frame.
func (m *Manager) Unsubscribe(id string) []byte {
	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
	return buildCLOSE(id)
}

func (m *Manager) Get(id string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.subs[id]
	return st, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// HandleEOSE marks the subscription's EOSE flag. Auto-closing subscriptions
// whose exit policy is then satisfied are removed by the caller via Done.
func (m *Manager) HandleEOSE(id string) {
	m.mu.Lock()
	st, ok := m.subs[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.eoseSeen = true
	st.eoseAt = time.Now()
	st.mu.Unlock()
}

// ValidateEvent applies the NIP-01 EVENT-message validation: the subscription
// must be known, and if VerifySubscriptions is set the event must satisfy
// one of the subscription's filters. On failure the event is dropped; the
// bool result tells the caller whether the relay should be banned for the
// mismatch, per ban_relay_on_mismatch.
func (m *Manager) ValidateEvent(id string, ev *event.E) (valid bool, shouldBan bool) {
	m.mu.Lock()
	st, ok := m.subs[id]
	m.mu.Unlock()
	if !ok {
		return false, false
	}
	if st.Opts.VerifySubscriptions && !st.satisfiesAny(ev) {
		return false, st.Opts.BanOnMismatch
	}
	st.mu.Lock()
	st.eventCount++
	st.mu.Unlock()
	return true, false
}

func buildREQ(id string, filters []*filter.F) []byte {
	out := append([]byte(`["REQ",`), quoteJSON(id)...)
	for _, f := range filters {
		out = append(out, ',')
		out = f.Marshal(out)
	}
	out = append(out, ']')
	return out
}

func buildCLOSE(id string) []byte {
	out := append([]byte(`["CLOSE",`), quoteJSON(id)...)
	out = append(out, ']')
	return out
}

func quoteJSON(s string) []byte {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	out = append(out, []byte(s)...)
	out = append(out, '"')
	return out
}

// Wait calls poll once and then on every interval tick, returning true as
// soon as poll does, or false when ctx is done; used by fetch_events-style
// callers that don't want to poll Done in a busy loop.
func Wait(c context.T, poll func() bool, interval time.Duration) bool {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if poll() {
			return true
		}
		select {
		case <-c.Done():
			return false
		case <-t.C:
		}
	}
}
