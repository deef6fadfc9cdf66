package store

import (
	"bytes"
	"encoding/hex"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"codeberg.org/nostrcore/relaysdk/chk"
	"codeberg.org/nostrcore/relaysdk/errorf"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/log"
	"codeberg.org/nostrcore/relaysdk/store/indexes"
)

// D is the badger-backed implementation of I.
type D struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open creates or reopens a store at dir.
func Open(dir string) (d *D, err error) {
	if err = os.MkdirAll(dir, 0755); chk.E(err) {
		return
	}
	opts := badger.DefaultOptions(dir)
	d = &D{}
	if d.db, err = badger.Open(opts); chk.E(err) {
		return
	}
	if d.seq, err = d.db.GetSequence([]byte("events"), 200); chk.E(err) {
		return
	}
	return
}

func (d *D) Close() (err error) {
	if d.seq != nil {
		if err = d.seq.Release(); chk.E(err) {
			return
		}
	}
	return d.db.Close()
}

func (d *D) Wipe() (err error) {
	return d.db.DropAll()
}

func (d *D) Has(id []byte) (ok bool, err error) {
	err = d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := indexes.IdPrefix(id)
		it.Seek(prefix)
		ok = it.ValidForPrefix(prefix)
		return nil
	})
	return
}

func (d *D) serialForId(txn *badger.Txn, id []byte) (serial uint64, found bool, err error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	prefix := indexes.IdPrefix(id)
	it.Seek(prefix)
	if !it.ValidForPrefix(prefix) {
		return 0, false, nil
	}
	key := it.Item().KeyCopy(nil)
	serial = indexes.DecodeSerial(key[len(prefix):])
	return serial, true, nil
}

func (d *D) fetchBySerial(txn *badger.Txn, serial uint64) (ev *event.E, err error) {
	item, e := txn.Get(indexes.EventKey(serial))
	if e != nil {
		if e == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, e
	}
	ev = event.New()
	err = item.Value(func(val []byte) error {
		return ev.UnmarshalBinary(bytes.NewReader(val))
	})
	return
}

func (d *D) Get(id []byte) (ev *event.E, err error) {
	err = d.db.View(func(txn *badger.Txn) error {
		serial, found, e := d.serialForId(txn, id)
		if e != nil || !found {
			return e
		}
		ev, e = d.fetchBySerial(txn, serial)
		return e
	})
	return
}

// Save applies the insertion algorithm: reject ephemeral, reject duplicates
// and tombstoned ids, enforce replaceable/addressable newest-wins, apply
// kind-5 deletions atomically, then persist the event and its index rows.
func (d *D) Save(ev *event.E) (status SaveStatus, err error) {
	if ev == nil || ev.Kind == nil {
		return Accepted, errorf.E("store: nil event")
	}
	if ev.Kind.IsEphemeral() {
		return Ephemeral, nil
	}
	var saveErr error
	err = d.db.Update(func(txn *badger.Txn) error {
		status, saveErr = d.saveTxn(txn, ev)
		if saveErr != nil || status != Accepted {
			// non-accept statuses abort too, so a rejected event leaves
			// no partial index rows behind
			return errAbort
		}
		return nil
	})
	if err == errAbort {
		err = nil
	}
	if saveErr != nil {
		err = saveErr
	}
	return
}

var errAbort = errorf.E("store: abort transaction, non-accept status")

func (d *D) saveTxn(txn *badger.Txn, ev *event.E) (SaveStatus, error) {
	if _, found, err := d.serialForId(txn, ev.Id); err != nil {
		return Accepted, err
	} else if found {
		return Duplicate, nil
	}
	if _, err := txn.Get(indexes.DeletedIdKey(ev.Id)); err == nil {
		return Deleted, nil
	} else if err != badger.ErrKeyNotFound {
		return Accepted, err
	}

	isAddr := ev.Kind.IsAddressable()
	isRepl := ev.Kind.IsReplaceable()
	dtag := ""
	if isAddr {
		dtag = ev.DTag()
	}

	if isAddr || isRepl {
		coordKey := indexes.DeletedCoordinateKey(ev.Pubkey, ev.Kind.K, dtag)
		if item, err := txn.Get(coordKey); err == nil {
			var markerTs int64
			if verr := item.Value(func(val []byte) error {
				if len(val) >= 8 {
					markerTs = int64(beUint64(val))
				}
				return nil
			}); verr != nil {
				return Accepted, verr
			}
			if markerTs >= ev.CreatedAt.I64() {
				return Deleted, nil
			}
		} else if err != badger.ErrKeyNotFound {
			return Accepted, err
		}

		addrKey := indexes.AddressableKey(ev.Pubkey, ev.Kind.K, dtag)
		if item, err := txn.Get(addrKey); err == nil {
			var existingTs int64
			var existingSerial uint64
			if verr := item.Value(func(val []byte) error {
				if len(val) >= 13 {
					existingTs = int64(beUint64(val[:8]))
					existingSerial = indexes.DecodeSerial(val[8:13])
				}
				return nil
			}); verr != nil {
				return Accepted, verr
			}
			if existingTs >= ev.CreatedAt.I64() {
				return Replaced, nil
			}
			if existing, ferr := d.fetchBySerial(txn, existingSerial); ferr == nil && existing != nil {
				if derr := d.deleteTxn(txn, existing, existingSerial); derr != nil {
					return Accepted, derr
				}
			}
		} else if err != badger.ErrKeyNotFound {
			return Accepted, err
		}
	}

	if ev.Kind.K == 5 {
		if status, err := d.applyDeletion(txn, ev); err != nil || status != Accepted {
			return status, err
		}
	}

	serial, err := d.seq.Next()
	if err != nil {
		return Accepted, err
	}
	if err := d.persist(txn, ev, serial); err != nil {
		return Accepted, err
	}
	if isAddr || isRepl {
		addrKey := indexes.AddressableKey(ev.Pubkey, ev.Kind.K, dtag)
		val := make([]byte, 13)
		putUint64(val[:8], uint64(ev.CreatedAt.I64()))
		copy(val[8:], indexes.Serial(serial))
		if err := txn.Set(addrKey, val); err != nil {
			return Accepted, err
		}
	}
	return Accepted, nil
}

// applyDeletion validates and applies a kind-5 deletion event's effect. Any
// invalid reference aborts before any deletion is written, so the whole
// event's effect is all-or-nothing.
func (d *D) applyDeletion(txn *badger.Txn, ev *event.E) (SaveStatus, error) {
	type pendingCoord struct {
		pub  []byte
		kind uint16
		dtag string
		ts   int64
	}
	var toDeleteIds [][]byte
	var coords []pendingCoord

	for _, tg := range ev.Tags.ToSliceOfTags() {
		if tg.Key() != "e" || tg.Len() < 2 {
			continue
		}
		id, err := hex.DecodeString(tg.S(1))
		if err != nil || len(id) != 32 {
			continue
		}
		serial, found, err := d.serialForId(txn, id)
		if err != nil {
			return Accepted, err
		}
		if found {
			target, ferr := d.fetchBySerial(txn, serial)
			if ferr != nil {
				return Accepted, ferr
			}
			if target != nil && string(target.Pubkey) != string(ev.Pubkey) {
				return InvalidDelete, nil
			}
		}
		// An id never seen still gets a deletion marker, so a late
		// arrival of the target is rejected at save time.
		toDeleteIds = append(toDeleteIds, id)
	}

	for _, tg := range ev.Tags.ToSliceOfTags() {
		if tg.Key() != "a" || tg.Len() < 2 {
			continue
		}
		parts := strings.SplitN(tg.S(1), ":", 3)
		if len(parts) != 3 {
			continue
		}
		kNum, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil {
			continue
		}
		pub, err := hex.DecodeString(parts[1])
		if err != nil || len(pub) != 32 {
			continue
		}
		if string(pub) != string(ev.Pubkey) {
			return InvalidDelete, nil
		}
		coords = append(coords, pendingCoord{
			pub:  pub,
			kind: uint16(kNum),
			dtag: parts[2],
			ts:   ev.CreatedAt.I64(),
		})
	}

	for _, id := range toDeleteIds {
		serial, found, err := d.serialForId(txn, id)
		if err != nil {
			return Accepted, err
		}
		if found {
			target, ferr := d.fetchBySerial(txn, serial)
			if ferr != nil {
				return Accepted, ferr
			}
			if target != nil {
				if derr := d.deleteTxn(txn, target, serial); derr != nil {
					return Accepted, derr
				}
			}
		}
		if err := txn.Set(indexes.DeletedIdKey(id), nil); err != nil {
			return Accepted, err
		}
	}
	for _, c := range coords {
		markerKey := indexes.DeletedCoordinateKey(c.pub, c.kind, c.dtag)
		existingTs := int64(0)
		if item, err := txn.Get(markerKey); err == nil {
			_ = item.Value(func(val []byte) error {
				if len(val) >= 8 {
					existingTs = int64(beUint64(val))
				}
				return nil
			})
		} else if err != badger.ErrKeyNotFound {
			return Accepted, err
		}
		if c.ts > existingTs {
			val := make([]byte, 8)
			putUint64(val, uint64(c.ts))
			if err := txn.Set(markerKey, val); err != nil {
				return Accepted, err
			}
		}

		// remove the stored event holding this coordinate, if it is not
		// newer than the deletion
		addrKey := indexes.AddressableKey(c.pub, c.kind, c.dtag)
		item, err := txn.Get(addrKey)
		if err == badger.ErrKeyNotFound {
			continue
		} else if err != nil {
			return Accepted, err
		}
		var storedTs int64
		var storedSerial uint64
		if verr := item.Value(func(val []byte) error {
			if len(val) >= 13 {
				storedTs = int64(beUint64(val[:8]))
				storedSerial = indexes.DecodeSerial(val[8:13])
			}
			return nil
		}); verr != nil {
			return Accepted, verr
		}
		if storedTs > c.ts {
			continue
		}
		target, ferr := d.fetchBySerial(txn, storedSerial)
		if ferr != nil {
			return Accepted, ferr
		}
		if target != nil {
			if derr := d.deleteTxn(txn, target, storedSerial); derr != nil {
				return Accepted, derr
			}
		}
		if derr := txn.Delete(addrKey); derr != nil {
			return Accepted, derr
		}
	}
	return Accepted, nil
}

func (d *D) persist(txn *badger.Txn, ev *event.E, serial uint64) error {
	var buf bytes.Buffer
	ev.MarshalBinary(&buf)
	if err := txn.Set(indexes.EventKey(serial), buf.Bytes()); err != nil {
		return err
	}
	keys := d.indexKeysFor(ev, serial)
	for _, k := range keys {
		if err := txn.Set(k, nil); err != nil {
			return err
		}
	}
	log.D.F("store: saved event %x at serial %d with %d index rows", ev.Id, serial, len(keys))
	return nil
}

func (d *D) indexKeysFor(ev *event.E, serial uint64) [][]byte {
	ts := ev.CreatedAt.I64()
	keys := [][]byte{
		indexes.IdKey(ev.Id, serial),
		indexes.CreatedAtKey(ts, serial),
		indexes.PubkeyCreatedAtKey(ev.Pubkey, ts, serial),
		indexes.KindKey(ev.Kind.K, ts, serial),
		indexes.KindPubkeyKey(ev.Kind.K, ev.Pubkey, ts, serial),
	}
	for _, tg := range ev.Tags.ToSliceOfTags() {
		if !tg.IsIndexable() {
			continue
		}
		letter := tg.B(0)[0]
		val := tg.B(1)
		keys = append(keys,
			indexes.TagCreatedAtKey(letter, val, ts, serial),
			indexes.PubkeyTagCreatedAtKey(ev.Pubkey, letter, val, ts, serial),
			indexes.KindTagKey(ev.Kind.K, letter, val, ts, serial),
		)
	}
	return keys
}

func (d *D) deleteTxn(txn *badger.Txn, ev *event.E, serial uint64) error {
	if err := txn.Delete(indexes.EventKey(serial)); err != nil {
		return err
	}
	for _, k := range d.indexKeysFor(ev, serial) {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (d *D) Delete(id []byte) (err error) {
	return d.db.Update(func(txn *badger.Txn) error {
		serial, found, err := d.serialForId(txn, id)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		ev, err := d.fetchBySerial(txn, serial)
		if err != nil || ev == nil {
			return err
		}
		return d.deleteTxn(txn, ev, serial)
	})
}

// Query selects the most selective available index for f and walks it in
// descending created_at order, capping the result at f.Limit (when set) and
// applying every remaining predicate as a post-filter.
func (d *D) Query(f *filter.F) (out event.S, err error) {
	limit := -1
	if f.Limit != nil {
		limit = int(*f.Limit)
	}
	err = d.db.View(func(txn *badger.Txn) error {
		serials, serr := d.selectCandidates(txn, f)
		if serr != nil {
			return serr
		}
		seen := make(map[uint64]bool, len(serials))
		for _, serial := range serials {
			if seen[serial] {
				continue
			}
			seen[serial] = true
			ev, ferr := d.fetchBySerial(txn, serial)
			if ferr != nil {
				return ferr
			}
			if ev == nil || !f.Matches(ev) {
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	sort.Sort(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return
}

func (d *D) Count(f *filter.F) (n int, err error) {
	evs, err := d.Query(f)
	return len(evs), err
}

// NegentropyItems returns the (id, created_at) pairs matching f in the
// negentropy convention's order: created_at ascending, id ascending.
func (d *D) NegentropyItems(f *filter.F) (items []NegentropyItem, err error) {
	evs, err := d.Query(f)
	if err != nil {
		return nil, err
	}
	items = make([]NegentropyItem, len(evs))
	for i, ev := range evs {
		items[i] = NegentropyItem{Id: ev.Id, CreatedAt: ev.CreatedAt.I64()}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt < items[j].CreatedAt
		}
		return bytes.Compare(items[i].Id, items[j].Id) < 0
	})
	return
}

// selectCandidates picks the most selective index available for f: ids,
// then author+kind, then kind, then a single tag predicate, falling back to
// a full created_at scan. It returns candidate serials in descending serial
// (insertion) order; Query re-sorts the matches by created_at, and callers
// re-check every predicate since the chosen index covers only part of f.
func (d *D) selectCandidates(txn *badger.Txn, f *filter.F) (serials []uint64, err error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = false

	walk := func(prefix []byte) {
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			serials = append(serials, indexes.DecodeSerial(key[len(key)-5:]))
		}
	}

	switch {
	case f.Ids.Len() > 0:
		for _, id := range f.Ids.ToSliceOfBytes() {
			walk(indexes.IdPrefix(id))
		}
	case f.Authors.Len() == 1 && f.Kinds.Len() >= 1:
		for _, k := range f.Kinds.ToUint16() {
			walk(indexes.KindPubkeyPrefix(k, f.Authors.ToSliceOfBytes()[0]))
		}
	case f.Kinds.Len() >= 1:
		for _, k := range f.Kinds.ToUint16() {
			walk(indexes.KindPrefix(k))
		}
	case f.Tags.Len() > 0:
		for _, tg := range f.Tags.ToSliceOfTags() {
			if tg.Len() < 2 || len(tg.Key()) != 2 || tg.Key()[0] != '#' {
				continue
			}
			letter := tg.Key()[1]
			for i := 1; i < tg.Len(); i++ {
				walk(indexes.TagCreatedAtPrefix(letter, tg.B(i)))
			}
		}
	default:
		walk([]byte(indexes.CreatedAt))
	}

	sort.Slice(serials, func(i, j int) bool { return serials[i] > serials[j] })
	return
}

func beUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putUint64(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}
