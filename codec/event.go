package codec

import "codeberg.org/nostrcore/relaysdk/event"

// Canonicalize returns the canonical byte form of ev that ComputeId hashes.
func Canonicalize(ev *event.E) []byte { return ev.Canonicalize(nil) }

// ComputeId returns the content hash of ev's canonical form.
func ComputeId(ev *event.E) []byte { return ev.ComputeId() }

// Verify checks ev's id and signature, never panicking on malformed input.
func Verify(ev *event.E) (bool, error) { return ev.Verify() }

// EncodeWire renders ev as its minified JSON wire form.
func EncodeWire(ev *event.E) string { return string(ev.Marshal(nil)) }

// DecodeWire parses a JSON wire-form event. When verify is true, the
// decoded event's id and signature must both check out or decode fails;
// when false, the event is trusted as-is, for fast reload of already
// verified local storage.
func DecodeWire(s string, verify bool) (*event.E, error) {
	ev := event.New()
	if _, err := ev.Unmarshal([]byte(s)); err != nil {
		return nil, err
	}
	if verify {
		ok, err := ev.Verify()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errInvalid
		}
	}
	return ev, nil
}

var errInvalid = errVerify("codec: event failed id/signature verification")

type errVerify string

func (e errVerify) Error() string { return string(e) }
