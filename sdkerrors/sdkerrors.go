// Package sdkerrors is the closed set of error variants callers can match
// against with errors.Is, distinct from the free-form errorf wrapping used
// for diagnostics that no caller branches on. Every sentinel below additionally
// carries a Code grouping it into a category, and relay-reported failures
// (an OK/CLOSED message's machine-readable prefix) are surfaced as an Error
// that wraps the sentinel it classifies to together with the relay's own
// text as Cause.
package sdkerrors

import (
	"errors"
	"strings"
)

// Code groups sentinels into the category a caller typically wants to
// branch on (retry, surface to a user, give up), independent of which
// specific sentinel triggered it.
type Code int

const (
	CodeOther Code = iota
	CodeTransport
	CodeProtocol
	CodeAuth
	CodeBackpressure
	CodeTimeout
)

func (c Code) String() string {
	switch c {
	case CodeTransport:
		return "transport"
	case CodeProtocol:
		return "protocol"
	case CodeAuth:
		return "auth"
	case CodeBackpressure:
		return "backpressure"
	case CodeTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// Error is a tagged error variant: Code classifies Err, and Cause, when
// present, is the underlying error or relay-supplied text Err was derived
// from.
type Error struct {
	Code  Code
	Err   error
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Err.Error() + ": " + e.Cause.Error()
	}
	return e.Err.Error()
}

// Unwrap lets errors.Is/errors.As see through to Err (and, transitively,
// the sentinel it wraps).
func (e *Error) Unwrap() error { return e.Err }

func tag(code Code, err error) *Error { return &Error{Code: code, Err: err} }

// wrap ties a sentinel to the concrete cause that produced it, for errors
// synthesized from another error or a relay's own text.
func wrap(code Code, err, cause error) *Error { return &Error{Code: code, Err: err, Cause: cause} }

var (
	// ErrRelayClosed reports a relay connection that has been closed; Classify
	// maps it to CodeConnection. Nothing in this module returns it: Send on a
	// relay after Shutdown or Disconnect returns ErrNotConnected.
	ErrRelayClosed = errors.New("relay connection closed")
	// ErrNotConnected is returned when an operation that requires an open
	// connection is attempted on a relay that is not currently connected.
	ErrNotConnected = errors.New("relay not connected")
	// ErrAuthRequired is returned when a relay rejected a request with
	// auth-required and no signer is configured to satisfy it.
	ErrAuthRequired = errors.New("relay requires authentication")
	// ErrAuthFailed is returned when a relay rejected the AUTH event itself,
	// or the handshake failed repeatedly.
	ErrAuthFailed = errors.New("relay authentication failed")
	// ErrNoSigner is returned when an operation needs a signature (publish
	// of an unsigned event, an AUTH challenge) and no signer is configured.
	ErrNoSigner = errors.New("no signer configured")
	// ErrSubscriptionClosed is returned by operations on a subscription the
	// relay or caller has already closed.
	ErrSubscriptionClosed = errors.New("subscription closed")
	// ErrTimeout is returned when an operation exceeded its deadline
	// without a definitive response from any relay.
	ErrTimeout = errors.New("operation timed out")
	// ErrNoRelays is returned when an operation has no relay to address:
	// an empty pool, or a gossip plan with no candidates for a pubkey.
	ErrNoRelays = errors.New("no relays available")
	// ErrInvalidEvent is returned when an event fails id or signature
	// verification before being sent or accepted into the store.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrNegentropyUnsupported is returned when a relay does not advertise
	// NIP-77 support and a sync is attempted anyway without a fallback.
	ErrNegentropyUnsupported = errors.New("relay does not support negentropy sync")
	// ErrSendQueueFull is returned by Relay.Send when the outbound buffer
	// is saturated; the caller is writing faster than the writer loop (or
	// the relay) can drain.
	ErrSendQueueFull = errors.New("relay send queue full")
	// ErrMaxSubscriptionsExceeded is returned by subscription.Manager.Subscribe
	// when the manager's configured cap (relay.Options.MaxSubscriptions for
	// pool-created managers) is already in use.
	ErrMaxSubscriptionsExceeded = errors.New("subscription limit exceeded")
	// ErrRelayRejected is the fallback classification for an OK/CLOSED
	// message carrying no recognized machine-readable prefix.
	ErrRelayRejected = errors.New("relay rejected request")
	// ErrDuplicate classifies a "duplicate:" OK message.
	ErrDuplicate = errors.New("relay reports duplicate event")
	// ErrBlocked classifies a "blocked:" OK/CLOSED message.
	ErrBlocked = errors.New("relay blocked request")
	// ErrRateLimited classifies a "rate-limited:" OK/CLOSED message.
	ErrRateLimited = errors.New("relay rate-limited request")
	// ErrInsufficientPow classifies a "pow:" OK message.
	ErrInsufficientPow = errors.New("relay requires more proof of work")
)

// Relay-reported machine-readable prefixes, per NIP-01's OK/CLOSED message
// convention.
const (
	PrefixAuthRequired = "auth-required:"
	PrefixPow          = "pow:"
	PrefixDuplicate    = "duplicate:"
	PrefixBlocked      = "blocked:"
	PrefixRateLimited  = "rate-limited:"
	PrefixInvalid      = "invalid:"
	PrefixError        = "error:"
)

// FromRelayMessage classifies an OK/CLOSED message's trailing text by its
// machine-readable prefix, wrapping the raw text as Cause so callers that
// only care about the category can errors.Is against the returned value
// while still being able to log the relay's own words.
func FromRelayMessage(msg string) *Error {
	cause := errors.New(msg)
	switch {
	case strings.HasPrefix(msg, PrefixAuthRequired):
		return wrap(CodeAuth, ErrAuthRequired, cause)
	case strings.HasPrefix(msg, PrefixRateLimited):
		return wrap(CodeBackpressure, ErrRateLimited, cause)
	case strings.HasPrefix(msg, PrefixBlocked):
		return wrap(CodeProtocol, ErrBlocked, cause)
	case strings.HasPrefix(msg, PrefixDuplicate):
		return wrap(CodeProtocol, ErrDuplicate, cause)
	case strings.HasPrefix(msg, PrefixPow):
		return wrap(CodeProtocol, ErrInsufficientPow, cause)
	case strings.HasPrefix(msg, PrefixInvalid):
		return wrap(CodeProtocol, ErrInvalidEvent, cause)
	case strings.HasPrefix(msg, PrefixError):
		return wrap(CodeOther, ErrRelayRejected, cause)
	default:
		return wrap(CodeOther, ErrRelayRejected, cause)
	}
}

// classify associates every sentinel above with its Code, for callers that
// have a bare sentinel (not one already produced by FromRelayMessage) and
// want to know its category, e.g. after errors.Is matching against a value
// returned from elsewhere in the SDK.
func classify(err error) Code {
	switch {
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrRelayClosed):
		return CodeTransport
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrAuthFailed):
		return CodeAuth
	case errors.Is(err, ErrSendQueueFull), errors.Is(err, ErrRateLimited), errors.Is(err, ErrMaxSubscriptionsExceeded):
		return CodeBackpressure
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrDuplicate), errors.Is(err, ErrBlocked),
		errors.Is(err, ErrInsufficientPow), errors.Is(err, ErrSubscriptionClosed), errors.Is(err, ErrNegentropyUnsupported):
		return CodeProtocol
	default:
		return CodeOther
	}
}

// Classify wraps err as a tagged Error under its category, for callers that
// want a Code out of a sentinel returned by some other part of the SDK
// without re-deriving the category themselves.
func Classify(err error) *Error {
	return tag(classify(err), err)
}
