// Package auth is the NIP-42 AUTH engine: composing and signing the
// kind-22242 challenge-response event through a pluggable signer.I, which
// may be in-process keys, a NIP-46 remote signer, or (conceptually) a
// browser-extension bridge. relay.Relay's auto-auth path already handles
// the common case inline; this package exists for callers that want to
// drive the handshake themselves (deferred signing, manual retry policy,
// auth against relays that were not configured with AutoAuth).
package auth

import (
	"sync"

	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/signer"
	"codeberg.org/nostrcore/relaysdk/tag"
	"codeberg.org/nostrcore/relaysdk/tags"
	"codeberg.org/nostrcore/relaysdk/timestamp"
)

// Compose builds the unsigned kind-22242 AUTH event template for relayURL
// and challenge, per NIP-42.
func Compose(relayURL, challenge string) *event.E {
	return &event.E{
		Kind:      kind.New(uint64(kind.ClientAuthentication)),
		CreatedAt: timestamp.Now(),
		Tags: tags.New(
			tag.New("relay", relayURL),
			tag.New("challenge", challenge),
		),
		Content: []byte{},
	}
}

// Engine tracks one pending-auth flag per relay and signs AUTH events on
// demand. It is stateless beyond that flag: no retry policy, no queueing.
type Engine struct {
	signer signer.I

	mu      sync.Mutex
	pending map[string]string // relay URL -> challenge awaiting a signature
}

func New(s signer.I) *Engine {
	return &Engine{signer: s, pending: make(map[string]string)}
}

// Challenge records relayURL's pending challenge, overwriting any prior one.
func (e *Engine) Challenge(relayURL, challenge string) {
	e.mu.Lock()
	e.pending[relayURL] = challenge
	e.mu.Unlock()
}

// Respond signs and returns the AUTH event for relayURL's currently pending
// challenge, clearing the flag. Returns sdkerrors.ErrAuthRequired if no
// signer is configured or no challenge is pending.
func (e *Engine) Respond(relayURL string) (*event.E, error) {
	e.mu.Lock()
	challenge, ok := e.pending[relayURL]
	if ok {
		delete(e.pending, relayURL)
	}
	e.mu.Unlock()
	if !ok || e.signer == nil {
		return nil, sdkerrors.ErrAuthRequired
	}
	ev := Compose(relayURL, challenge)
	if err := ev.Sign(e.signer); err != nil {
		return nil, err
	}
	return ev, nil
}

// Pending reports whether relayURL has an outstanding challenge.
func (e *Engine) Pending(relayURL string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[relayURL]
	return ok
}
