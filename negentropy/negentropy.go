// Package negentropy drives NIP-77 set reconciliation: given a filter, it
// computes the local (id, created_at) set from the store, frames rounds of
// the negentropy range-diff protocol over a relay connection, and applies
// the resulting upload/download decisions. When a relay doesn't speak the
// protocol, Sync reports sdkerrors.ErrNegentropyUnsupported so the caller
// can choose a fallback; the driver itself sends no plain REQ in its place.
package negentropy

import (
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"codeberg.org/nostrcore/relaysdk/chk"
	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/errorf"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/log"
	"codeberg.org/nostrcore/relaysdk/relay"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/store"
)

// roundTimeout bounds how long Sync waits for a single NEG-MSG round before
// concluding the relay never opened negentropy support and falling back.
const roundTimeout = 8 * time.Second

// maxRounds caps the bisection loop so a relay that keeps reporting
// mismatches without ever converging can't hang a sync forever.
const maxRounds = 32

// MaxFrameSize is the soft cap on one reconciliation message; a round that
// would exceed it is logged, not split or truncated — truncating a
// msgpack-encoded frame produces garbage, not a smaller valid one.
const MaxFrameSize = 16 << 20

// compressThreshold is the point above which a frame is worth zstd's
// framing overhead; below it the id/range bucket payload is mostly
// incompressible 32-byte hashes anyway.
const compressThreshold = 16 * 1024

const (
	frameRaw        byte = 0x00
	frameCompressed byte = 0x01
)

// Direction selects which side of a mismatch the driver acts on.
type Direction int

const (
	Down Direction = iota
	Up
	Both
)

// Result summarizes one completed reconciliation.
type Result struct {
	StoredLocally  [][]byte
	MissingLocally [][]byte
	Sent           [][]byte
	Received       [][]byte
	SendFailures   map[string]error
}

// idRange is one bucket of the local set, the unit the wire frame carries:
// the list of every id whose created_at falls in [lowerBound, upperBound).
type idRange struct {
	LowerBound int64
	UpperBound int64
	IDs        [][]byte
}

func buildRanges(items []store.NegentropyItem, bucketWidth int64) []idRange {
	if len(items) == 0 {
		return nil
	}
	byBucket := make(map[int64][][]byte)
	for _, it := range items {
		b := it.CreatedAt / bucketWidth
		byBucket[b] = append(byBucket[b], it.Id)
	}
	var ranges []idRange
	for b, ids := range byBucket {
		ranges = append(ranges, idRange{
			LowerBound: b * bucketWidth,
			UpperBound: (b + 1) * bucketWidth,
			IDs:        ids,
		})
	}
	return ranges
}

// frame is the msgpack-encoded message exchanged each round.
type frame struct {
	Ranges []idRange
	Done   bool
}

func encodeFrame(f frame) ([]byte, error) {
	raw, err := msgpack.Marshal(f)
	if err != nil {
		return nil, err
	}
	if len(raw) < compressThreshold {
		return append([]byte{frameRaw}, raw...), nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw, nil)
	return append([]byte{frameCompressed}, compressed...), nil
}

func decodeFrame(b []byte) (frame, error) {
	var f frame
	if len(b) == 0 {
		return f, msgpack.Unmarshal(b, &f)
	}
	payload := b[1:]
	if b[0] == frameCompressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return f, err
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return f, err
		}
		payload = raw
	}
	err := msgpack.Unmarshal(payload, &f)
	return f, err
}

// Driver runs reconciliation against one relay for one filter.
type Driver struct {
	st        store.I
	r         *relay.Relay
	direction Direction
	maxFrame  int
}

func NewDriver(st store.I, r *relay.Relay, dir Direction) *Driver {
	return &Driver{st: st, r: r, direction: dir, maxFrame: MaxFrameSize}
}

// SetMaxFrame overrides the soft frame-size cap, still log-only.
func (d *Driver) SetMaxFrame(n int) {
	if n > 0 {
		d.maxFrame = n
	}
}

// bucketKey identifies one idRange bucket by its bounds, the unit a round
// either resolves (both sides agree) or flags as still mismatched.
type bucketKey struct{ lo, hi int64 }

func rangesByBucket(ranges []idRange) map[bucketKey][][]byte {
	out := make(map[bucketKey][][]byte, len(ranges))
	for _, rg := range ranges {
		out[bucketKey{rg.LowerBound, rg.UpperBound}] = rg.IDs
	}
	return out
}

// Sync performs the reconciliation: it opens a NEG-OPEN round with the local
// bucketed id set, then exchanges NEG-MSG rounds with the relay narrowing to
// the buckets that still disagree, until the relay reports Done or the
// round budget runs out. A relay that never answers the opening round (no
// NEG-MSG/NEG-ERR within roundTimeout) is treated as not speaking
// negentropy at all, and Sync returns sdkerrors.ErrNegentropyUnsupported so
// callers can fall back to a plain REQ/EVENT sync.
func (d *Driver) Sync(c context.T, f *filter.F) (res Result, err error) {
	res.SendFailures = make(map[string]error)
	items, err := d.st.NegentropyItems(f)
	if err != nil {
		return res, err
	}
	for _, it := range items {
		res.StoredLocally = append(res.StoredLocally, it.Id)
	}
	localByBucket := rangesByBucket(buildRanges(items, dayWidth))

	subID := uuid.NewString()
	wait := d.r.AwaitNeg(subID)
	defer d.r.ForgetNeg(subID)

	pending := make([]idRange, 0, len(localByBucket))
	for bk, ids := range localByBucket {
		pending = append(pending, idRange{LowerBound: bk.lo, UpperBound: bk.hi, IDs: ids})
	}

	missingLocally := map[string]bool{}
	missingRemotely := map[string]bool{}

	for round := 0; round < maxRounds; round++ {
		out, ferr := encodeFrame(frame{Ranges: pending})
		if ferr != nil {
			return res, ferr
		}
		if len(out) > d.maxFrame {
			log.W.F("negentropy: frame %d bytes exceeds soft cap %d, sending anyway", len(out), d.maxFrame)
		}
		var msg []byte
		if round == 0 {
			msg = append([]byte(`["NEG-OPEN",`), quoteJSONString(subID)...)
		} else {
			msg = append([]byte(`["NEG-MSG",`), quoteJSONString(subID)...)
		}
		msg = append(msg, ',')
		msg = append(msg, frameToJSON(out)...)
		msg = append(msg, ']')
		if err = d.r.Send(c, msg); chk.E(err) {
			return res, sdkerrors.ErrNegentropyUnsupported
		}

		var result relay.NegResult
		select {
		case result = <-wait:
		case <-time.After(roundTimeout):
			if round == 0 {
				return res, sdkerrors.ErrNegentropyUnsupported
			}
			// Later rounds time out mid-reconciliation: return what's been
			// resolved so far rather than discarding it.
			goto finish
		case <-c.Done():
			return res, c.Err()
		}
		if result.Err != "" {
			log.D.F("negentropy: relay reported NEG-ERR: %s", result.Err)
			if round == 0 {
				return res, sdkerrors.ErrNegentropyUnsupported
			}
			goto finish
		}

		payload, derr := hexDecode(result.Msg)
		if derr != nil {
			return res, derr
		}
		remote, derr := decodeFrame(payload)
		if derr != nil {
			return res, derr
		}

		remoteByBucket := rangesByBucket(remote.Ranges)
		var next []idRange
		for bk, remoteIDs := range remoteByBucket {
			localSet := map[string]bool{}
			for _, id := range localByBucket[bk] {
				localSet[string(id)] = true
			}
			remoteSet := map[string]bool{}
			for _, id := range remoteIDs {
				remoteSet[string(id)] = true
				if !localSet[string(id)] {
					missingLocally[string(id)] = true
				}
			}
			for _, id := range localByBucket[bk] {
				if !remoteSet[string(id)] {
					missingRemotely[string(id)] = true
				}
			}
		}
		if remote.Done || len(remoteByBucket) == 0 {
			break
		}
		for bk := range remoteByBucket {
			next = append(next, idRange{LowerBound: bk.lo, UpperBound: bk.hi, IDs: localByBucket[bk]})
		}
		pending = next
	}

finish:
	closeMsg := append([]byte(`["NEG-CLOSE",`), quoteJSONString(subID)...)
	closeMsg = append(closeMsg, ']')
	if cerr := d.r.Send(c, closeMsg); chk.D(cerr) {
		log.D.F("negentropy: NEG-CLOSE send failed: %v", cerr)
	}

	for id := range missingLocally {
		res.MissingLocally = append(res.MissingLocally, []byte(id))
	}
	if d.direction == Up || d.direction == Both {
		for id := range missingRemotely {
			ev, gerr := d.st.Get([]byte(id))
			if gerr != nil || ev == nil {
				continue
			}
			evMsg := append([]byte(`["EVENT",`), ev.Marshal(nil)...)
			evMsg = append(evMsg, ']')
			if serr := d.r.Send(c, evMsg); serr != nil {
				res.SendFailures[id] = serr
				continue
			}
			res.Sent = append(res.Sent, []byte(id))
		}
	}
	return res, nil
}

// Apply pushes ids the relay lacked (Up) or accepts ids the local store
// lacked (Down) through the normal event pipeline, depending on direction.
func (d *Driver) Apply(c context.T, res *Result, have map[string]*event.E) {
	if d.direction == Down || d.direction == Both {
		for _, id := range res.MissingLocally {
			ev, ok := have[string(id)]
			if !ok {
				continue
			}
			if _, err := d.st.Save(ev); err != nil {
				res.SendFailures[string(id)] = err
				continue
			}
			res.Received = append(res.Received, id)
		}
	}
}

const dayWidth = int64(24 * time.Hour / time.Second)

func frameToJSON(b []byte) []byte {
	out := make([]byte, 0, len(b)*2+2)
	out = append(out, '"')
	const hextable = "0123456789abcdef"
	for _, c := range b {
		out = append(out, hextable[c>>4], hextable[c&0x0f])
	}
	out = append(out, '"')
	return out
}

func quoteJSONString(s string) []byte {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	out = append(out, []byte(s)...)
	out = append(out, '"')
	return out
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// hexDecode inverts frameToJSON's hex encoding; b is the already-unquoted
// ascii hex payload a NEG-MSG/NEG-OPEN frame carries.
func hexDecode(b []byte) ([]byte, error) {
	if len(b)%2 != 0 {
		return nil, errorf.E("negentropy: odd-length hex frame (%d bytes)", len(b))
	}
	out := make([]byte, len(b)/2)
	for i := 0; i < len(out); i++ {
		hi, ok1 := hexNibble(b[2*i])
		lo, ok2 := hexNibble(b[2*i+1])
		if !ok1 || !ok2 {
			return nil, errorf.E("negentropy: invalid hex byte at offset %d", 2*i)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}
