package relay

import (
	"bytes"
	"strings"

	"codeberg.org/nostrcore/relaysdk/chk"
	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/log"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/wire"
)

// dispatch decodes one NIP-01 wire frame and routes it: EVENT/OK/EOSE/NOTICE/
// CLOSED/AUTH. Unknown or malformed frames are logged and dropped, never
// treated as a protocol error that tears down the connection.
func (r *Relay) dispatch(c context.T, raw []byte) {
	b := raw
	for len(b) > 0 && wire.IsWhitespace(b[0]) {
		b = b[1:]
	}
	if len(b) == 0 || b[0] != '[' {
		return
	}
	b = b[1:]
	for len(b) > 0 && wire.IsWhitespace(b[0]) {
		b = b[1:]
	}
	label, rest, err := wire.UnmarshalQuoted(b)
	if chk.D(err) {
		return
	}
	r.emitLocked0(Notification{Kind: NotifyMessage, Relay: r.URL, Raw: raw})

	switch string(label) {
	case "EVENT":
		r.dispatchEvent(rest)
	case "OK":
		r.dispatchOK(rest)
	case "EOSE":
		r.dispatchEOSE(rest)
	case "NOTICE":
		r.dispatchNotice(rest)
	case "CLOSED":
		r.dispatchClosed(rest)
	case "AUTH":
		r.dispatchAuth(c, rest)
	case "COUNT":
		r.dispatchCount(rest)
	case "NEG-MSG":
		r.dispatchNegMsg(rest)
	case "NEG-ERR":
		r.dispatchNegErr(rest)
	default:
		log.D.F("relay %s: unknown frame label %q", r.URL, label)
	}
}

func (r *Relay) emitLocked0(n Notification) {
	select {
	case r.notify <- n:
	default:
	}
}

func skipComma(b []byte) []byte {
	for len(b) > 0 && (wire.IsWhitespace(b[0]) || b[0] == ',') {
		b = b[1:]
	}
	return b
}

func (r *Relay) dispatchEvent(b []byte) {
	b = skipComma(b)
	subID, rest, err := wire.UnmarshalQuoted(b)
	if chk.D(err) {
		return
	}
	rest = skipComma(rest)
	ev := event.New()
	if _, err = ev.Unmarshal(rest); chk.D(err) {
		return
	}
	if valid, verr := ev.Verify(); verr != nil || !valid {
		log.D.F("relay %s: dropping event %s: %v", r.URL, ev.IdHex(), sdkerrors.ErrInvalidEvent)
		return
	}
	r.emitLocked0(Notification{Kind: NotifyEvent, Relay: r.URL, SubID: string(subID), Event: ev})
}

func skipBool(b []byte) []byte {
	if len(b) >= 4 && string(b[:4]) == "true" {
		return b[4:]
	}
	if len(b) >= 5 && string(b[:5]) == "false" {
		return b[5:]
	}
	return b
}

func (r *Relay) dispatchOK(b []byte) {
	b = skipComma(b)
	id, rest, err := wire.UnmarshalQuoted(b)
	if chk.D(err) {
		return
	}
	rest = skipComma(rest)
	ok := len(rest) > 0 && rest[0] == 't'
	rest = skipBool(rest)
	rest = skipComma(rest)
	message, _, _ := wire.UnmarshalQuoted(rest)
	msg := string(message)

	r.mu.Lock()
	ch, found := r.awaits[string(id)]
	if found {
		delete(r.awaits, string(id))
	}
	r.mu.Unlock()
	if found {
		select {
		case ch <- OKResult{OK: ok, Message: msg}:
		default:
		}
	}
	if !ok && msg != "" {
		classified := sdkerrors.FromRelayMessage(msg)
		log.D.F("relay %s: OK false for %s: %v", r.URL, string(id), classified)
		if classified.Err == sdkerrors.ErrAuthRequired {
			r.markAuthRequired(string(id))
		}
	} else if ok {
		r.ForgetPending(string(id))
	}
	r.emitLocked0(Notification{Kind: NotifyOK, Relay: r.URL, SubID: string(id)})
}

func (r *Relay) dispatchEOSE(b []byte) {
	b = skipComma(b)
	subID, _, err := wire.UnmarshalQuoted(b)
	if chk.D(err) {
		return
	}
	r.emitLocked0(Notification{Kind: NotifyEOSE, Relay: r.URL, SubID: string(subID)})
}

func (r *Relay) dispatchNotice(b []byte) {
	b = skipComma(b)
	msg, _, err := wire.UnmarshalQuoted(b)
	if chk.D(err) {
		return
	}
	r.emitLocked0(Notification{Kind: NotifyNotice, Relay: r.URL, Raw: msg})
}

func (r *Relay) dispatchClosed(b []byte) {
	b = skipComma(b)
	subID, rest, err := wire.UnmarshalQuoted(b)
	if chk.D(err) {
		return
	}
	rest = skipComma(rest)
	reason, _, _ := wire.UnmarshalQuoted(rest)
	msg := string(reason)
	if strings.HasPrefix(msg, sdkerrors.PrefixAuthRequired) {
		r.markAuthRequired(string(subID))
	} else {
		r.ForgetPending(string(subID))
	}
	r.emitLocked0(Notification{Kind: NotifyClosed, Relay: r.URL, SubID: string(subID), Raw: reason})
}

// dispatchAuth handles an ["AUTH", challenge] push: if auto-auth is enabled
// and a signer is configured, sign and submit the kind-22242 auth event via
// the auth package's Engine, then replay whatever REQ/EVENT frames were
// deferred on an earlier auth-required response for this relay.
func (r *Relay) dispatchAuth(c context.T, b []byte) {
	b = skipComma(b)
	challenge, _, err := wire.UnmarshalQuoted(b)
	if chk.D(err) {
		return
	}
	if !r.opts.AutoAuth || r.authEngine == nil {
		return
	}
	r.authEngine.Challenge(r.URL, string(challenge))
	r.mu.Lock()
	r.pendingAuth = true
	r.mu.Unlock()

	authEv, err := r.authEngine.Respond(r.URL)
	if chk.E(err) {
		r.recordAuthFailure()
		return
	}
	frame := append([]byte(`["AUTH",`), authEv.Marshal(nil)...)
	frame = append(frame, ']')
	if err = r.Send(c, frame); chk.E(err) {
		r.recordAuthFailure()
		return
	}
	r.mu.Lock()
	r.pendingAuth = false
	r.authFailCount = 0
	replay := make(map[string][]byte, len(r.awaitingAuth))
	for id := range r.awaitingAuth {
		if msg, ok := r.pendingReplay[id]; ok {
			replay[id] = msg
		}
		delete(r.awaitingAuth, id)
	}
	r.mu.Unlock()
	for id, msg := range replay {
		if rerr := r.Send(c, msg); chk.E(rerr) {
			log.D.F("relay %s: replay of %s after re-auth failed: %v", r.URL, id, rerr)
		}
	}
	r.emitLocked0(Notification{Kind: NotifyAuthenticated, Relay: r.URL})
}

// dispatchCount resolves a ["COUNT", subId, {"count": n}] response to the
// waiter AwaitCount registered for subId. A count frame nobody is waiting
// for is dropped.
func (r *Relay) dispatchCount(b []byte) {
	b = skipComma(b)
	subID, rest, err := wire.UnmarshalQuoted(b)
	if chk.D(err) {
		return
	}
	rest = skipComma(rest)
	idx := bytes.Index(rest, []byte(`"count"`))
	if idx < 0 {
		return
	}
	rest = rest[idx+len(`"count"`):]
	for len(rest) > 0 && (rest[0] == ':' || wire.IsWhitespace(rest[0])) {
		rest = rest[1:]
	}
	var n int64
	for len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
		n = n*10 + int64(rest[0]-'0')
		rest = rest[1:]
	}
	r.mu.Lock()
	ch, found := r.countWaits[string(subID)]
	if found {
		delete(r.countWaits, string(subID))
	}
	r.mu.Unlock()
	if found {
		select {
		case ch <- CountResult{Count: n}:
		default:
		}
	}
}

// dispatchNegMsg routes a ["NEG-MSG", subId, payload] frame to whichever
// Driver is waiting on subId. A relay that never opened negentropy support
// for this subscription simply never produces one, which is why Sync treats
// a round timeout as unsupported rather than an error.
func (r *Relay) dispatchNegMsg(b []byte) {
	b = skipComma(b)
	subID, rest, err := wire.UnmarshalQuoted(b)
	if chk.D(err) {
		return
	}
	rest = skipComma(rest)
	payload, _, err := wire.UnmarshalQuoted(rest)
	if chk.D(err) {
		return
	}
	r.mu.Lock()
	ch, found := r.negWaits[string(subID)]
	r.mu.Unlock()
	if found {
		select {
		case ch <- NegResult{Msg: payload}:
		default:
		}
	}
}

// dispatchNegErr routes a ["NEG-ERR", subId, reason] frame the same way,
// letting Sync abort the round instead of waiting out the timeout.
func (r *Relay) dispatchNegErr(b []byte) {
	b = skipComma(b)
	subID, rest, err := wire.UnmarshalQuoted(b)
	if chk.D(err) {
		return
	}
	rest = skipComma(rest)
	reason, _, _ := wire.UnmarshalQuoted(rest)
	r.mu.Lock()
	ch, found := r.negWaits[string(subID)]
	r.mu.Unlock()
	if found {
		select {
		case ch <- NegResult{Err: string(reason)}:
		default:
		}
	}
}
