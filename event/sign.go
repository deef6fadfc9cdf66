package event

import (
	"bytes"

	sha256 "github.com/minio/sha256-simd"

	"codeberg.org/nostrcore/relaysdk/chk"
	"codeberg.org/nostrcore/relaysdk/signer"
	"codeberg.org/nostrcore/relaysdk/wire"
)

// Canonicalize renders the array form `[0,pubkey,created_at,kind,tags,content]`
// that compute_id hashes. No insignificant whitespace; tags keep input
// order; strings use the same minimal escape set as the wire form.
func (ev *E) Canonicalize(dst []byte) []byte {
	dst = append(dst, '[', '0', ',')
	dst = wire.AppendQuote(dst, ev.Pubkey, wire.HexAppend)
	dst = append(dst, ',')
	dst = ev.CreatedAt.Marshal(dst)
	dst = append(dst, ',')
	dst = ev.Kind.Marshal(dst)
	dst = append(dst, ',')
	dst = ev.Tags.Marshal(dst)
	dst = append(dst, ',')
	dst = wire.AppendQuote(dst, ev.Content, wire.NostrEscape)
	dst = append(dst, ']')
	return dst
}

// ComputeId returns the SHA256 hash of the canonical form.
func (ev *E) ComputeId() []byte {
	h := sha256.Sum256(ev.Canonicalize(nil))
	return h[:]
}

// Sign populates Pubkey, Id and Sig from keys. CreatedAt, Kind, Tags and
// Content must already be set.
func (ev *E) Sign(keys signer.I) (err error) {
	ev.Pubkey = keys.Pub()
	ev.Id = ev.ComputeId()
	if ev.Sig, err = keys.Sign(ev.Id); chk.E(err) {
		return
	}
	return
}

// Verify recomputes Id from the event's fields, checks it matches the
// stored Id, and checks Sig verifies under Pubkey. It returns false, not an
// error, for any content-level mismatch; err is reserved for malformed key
// material.
func (ev *E) Verify() (valid bool, err error) {
	s := &signer.Secp256k1{}
	if err = s.InitPub(ev.Pubkey); chk.E(err) {
		return
	}
	id := ev.ComputeId()
	if !bytes.Equal(id, ev.Id) {
		return false, nil
	}
	if valid, err = s.Verify(ev.Id, ev.Sig); err != nil {
		chk.D(err)
		return false, nil
	}
	return
}
