package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/signer"
	"codeberg.org/nostrcore/relaysdk/store"
	"codeberg.org/nostrcore/relaysdk/tag"
	"codeberg.org/nostrcore/relaysdk/tags"
	"codeberg.org/nostrcore/relaysdk/timestamp"
)

func openStore(t *testing.T) *store.D {
	t.Helper()
	d, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func signedEvent(t *testing.T, s *signer.Secp256k1, k uint16, createdAt int64, content string, tg ...*tag.T) *event.E {
	t.Helper()
	ev := &event.E{
		Kind:      kind.New(uint64(k)),
		CreatedAt: timestamp.FromUnix(createdAt),
		Tags:      tags.New(tg...),
		Content:   []byte(content),
	}
	require.NoError(t, ev.Sign(s))
	return ev
}

func newSigner(t *testing.T) *signer.Secp256k1 {
	t.Helper()
	s := &signer.Secp256k1{}
	require.NoError(t, s.Generate())
	return s
}

func TestSaveAndGet(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)
	ev := signedEvent(t, s, kind.TextNote, 1000, "hello")

	status, err := d.Save(ev)
	require.NoError(t, err)
	require.Equal(t, store.Accepted, status)

	has, err := d.Has(ev.Id)
	require.NoError(t, err)
	require.True(t, has)

	got, err := d.Get(ev.Id)
	require.NoError(t, err)
	require.Equal(t, ev.Id, got.Id)
	require.Equal(t, ev.Content, got.Content)
}

func TestSaveDuplicateRejected(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)
	ev := signedEvent(t, s, kind.TextNote, 1000, "hello")

	_, err := d.Save(ev)
	require.NoError(t, err)
	status, err := d.Save(ev)
	require.NoError(t, err)
	require.Equal(t, store.Duplicate, status)
}

func TestSaveEphemeralNotStored(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)
	ev := signedEvent(t, s, 21000, 1000, "ephemeral")

	status, err := d.Save(ev)
	require.NoError(t, err)
	require.Equal(t, store.Ephemeral, status)

	has, err := d.Has(ev.Id)
	require.NoError(t, err)
	require.False(t, has)
}

func TestReplaceableNewestWins(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)
	older := signedEvent(t, s, kind.Metadata, 1000, `{"name":"old"}`)
	newer := signedEvent(t, s, kind.Metadata, 2000, `{"name":"new"}`)

	status, err := d.Save(older)
	require.NoError(t, err)
	require.Equal(t, store.Accepted, status)

	status, err = d.Save(newer)
	require.NoError(t, err)
	require.Equal(t, store.Accepted, status)

	has, err := d.Has(older.Id)
	require.NoError(t, err)
	require.False(t, has)

	got, err := d.Get(newer.Id)
	require.NoError(t, err)
	require.Equal(t, newer.Content, got.Content)

	// An older replaceable event arriving after the newer one is rejected.
	stale := signedEvent(t, s, kind.Metadata, 500, `{"name":"stale"}`)
	status, err = d.Save(stale)
	require.NoError(t, err)
	require.Equal(t, store.Replaced, status)
}

func TestAddressableKeyedByDTag(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)
	a1 := signedEvent(t, s, 30023, 1000, "draft", tag.New("d", "post-1"))
	a2 := signedEvent(t, s, 30023, 2000, "published", tag.New("d", "post-1"))
	other := signedEvent(t, s, 30023, 1500, "other article", tag.New("d", "post-2"))

	for _, ev := range []*event.E{a1, a2, other} {
		status, err := d.Save(ev)
		require.NoError(t, err)
		_ = status
	}

	has, err := d.Has(a1.Id)
	require.NoError(t, err)
	require.False(t, has, "older version of the same coordinate should be gone")

	has, err = d.Has(other.Id)
	require.NoError(t, err)
	require.True(t, has, "a different d-tag is a different coordinate")
}

func TestDeletionRemovesOwnedEvent(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)
	ev := signedEvent(t, s, kind.TextNote, 1000, "delete me")
	_, err := d.Save(ev)
	require.NoError(t, err)

	del := signedEvent(t, s, kind.Deletion, 2000, "", tag.New("e", hexID(ev.Id)))
	status, err := d.Save(del)
	require.NoError(t, err)
	require.Equal(t, store.Accepted, status)

	has, err := d.Has(ev.Id)
	require.NoError(t, err)
	require.False(t, has)
}

func TestDeletionRejectsWrongAuthor(t *testing.T) {
	d := openStore(t)
	owner := newSigner(t)
	attacker := newSigner(t)
	ev := signedEvent(t, owner, kind.TextNote, 1000, "mine")
	_, err := d.Save(ev)
	require.NoError(t, err)

	del := signedEvent(t, attacker, kind.Deletion, 2000, "", tag.New("e", hexID(ev.Id)))
	status, err := d.Save(del)
	require.NoError(t, err)
	require.Equal(t, store.InvalidDelete, status)

	has, err := d.Has(ev.Id)
	require.NoError(t, err)
	require.True(t, has, "event must survive a deletion it did not authorize")
}

func TestQueryByKindAndAuthor(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)
	a := signedEvent(t, s, kind.TextNote, 1000, "one")
	b := signedEvent(t, s, kind.TextNote, 2000, "two")
	other := newSigner(t)
	c := signedEvent(t, other, kind.TextNote, 1500, "someone else's")

	for _, ev := range []*event.E{a, b, c} {
		_, err := d.Save(ev)
		require.NoError(t, err)
	}

	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	f.Authors = f.Authors.Append(a.Pubkey)
	res, err := d.Query(f)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, b.Id, res[0].Id, "newest created_at first")
	require.Equal(t, a.Id, res[1].Id)
}

func TestQueryRespectsLimit(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)
	for i := int64(0); i < 5; i++ {
		ev := signedEvent(t, s, kind.TextNote, 1000+i, "n")
		_, err := d.Save(ev)
		require.NoError(t, err)
	}
	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	lim := uint(2)
	f.Limit = &lim
	res, err := d.Query(f)
	require.NoError(t, err)
	require.Len(t, res, 2)
}

func TestDeleteBeforeArrive(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)

	// the target exists only on the wire so far; the deletion gets here first
	ev := signedEvent(t, s, kind.TextNote, 400, "too late")
	del := signedEvent(t, s, kind.Deletion, 500, "", tag.New("e", hexID(ev.Id)))

	status, err := d.Save(del)
	require.NoError(t, err)
	require.Equal(t, store.Accepted, status)

	status, err = d.Save(ev)
	require.NoError(t, err)
	require.Equal(t, store.Deleted, status)

	has, err := d.Has(ev.Id)
	require.NoError(t, err)
	require.False(t, has)
}

func TestCoordinateDeletionRemovesStoredEvent(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)

	ev := signedEvent(t, s, 30023, 400, "published article", tag.New("d", "article"))
	status, err := d.Save(ev)
	require.NoError(t, err)
	require.Equal(t, store.Accepted, status)

	coord := "30023:" + hexID(s.Pub()) + ":article"
	del := signedEvent(t, s, kind.Deletion, 500, "", tag.New("a", coord))
	status, err = d.Save(del)
	require.NoError(t, err)
	require.Equal(t, store.Accepted, status)

	has, err := d.Has(ev.Id)
	require.NoError(t, err)
	require.False(t, has)

	f := filter.New()
	f.Kinds = f.Kinds.Append(30023)
	f.Authors = f.Authors.Append(ev.Pubkey)
	res, err := d.Query(f)
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestCoordinateDeletionSparesNewerEvent(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)

	ev := signedEvent(t, s, 30023, 600, "revised article", tag.New("d", "article"))
	_, err := d.Save(ev)
	require.NoError(t, err)

	coord := "30023:" + hexID(s.Pub()) + ":article"
	del := signedEvent(t, s, kind.Deletion, 500, "", tag.New("a", coord))
	status, err := d.Save(del)
	require.NoError(t, err)
	require.Equal(t, store.Accepted, status)

	has, err := d.Has(ev.Id)
	require.NoError(t, err)
	require.True(t, has, "an event newer than the deletion must survive")
}

func TestCoordinateDeletionRejectsOlderArrivals(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)

	coord := "30023:" + hexID(s.Pub()) + ":article"
	del := signedEvent(t, s, kind.Deletion, 500, "", tag.New("a", coord))
	status, err := d.Save(del)
	require.NoError(t, err)
	require.Equal(t, store.Accepted, status)

	older := signedEvent(t, s, 30023, 400, "stale draft", tag.New("d", "article"))
	status, err = d.Save(older)
	require.NoError(t, err)
	require.Equal(t, store.Deleted, status)

	newer := signedEvent(t, s, 30023, 600, "fresh revision", tag.New("d", "article"))
	status, err = d.Save(newer)
	require.NoError(t, err)
	require.Equal(t, store.Accepted, status)
}

func TestCountMatchesQuery(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)
	for i := int64(0); i < 4; i++ {
		_, err := d.Save(signedEvent(t, s, kind.TextNote, 1000+i, "n"))
		require.NoError(t, err)
	}
	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	n, err := d.Count(f)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestNegentropyItemsAscendingOrder(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)
	for _, ts := range []int64{50, 10, 30, 20, 40} {
		_, err := d.Save(signedEvent(t, s, kind.TextNote, ts, "n"))
		require.NoError(t, err)
	}
	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	items, err := d.NegentropyItems(f)
	require.NoError(t, err)
	require.Len(t, items, 5)
	for i := 1; i < len(items); i++ {
		require.LessOrEqual(t, items[i-1].CreatedAt, items[i].CreatedAt)
	}
}

func TestQueryLimitOrderingScenario(t *testing.T) {
	d := openStore(t)
	s := newSigner(t)
	byTs := make(map[int64]*event.E)
	for _, ts := range []int64{10, 20, 30, 40, 50} {
		ev := signedEvent(t, s, kind.TextNote, ts, "note")
		byTs[ts] = ev
		_, err := d.Save(ev)
		require.NoError(t, err)
	}
	f := filter.New()
	f.Kinds = f.Kinds.Append(kind.TextNote)
	lim := uint(3)
	f.Limit = &lim
	res, err := d.Query(f)
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, byTs[50].Id, res[0].Id)
	require.Equal(t, byTs[40].Id, res[1].Id)
	require.Equal(t, byTs[30].Id, res[2].Id)
}

func hexID(id []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(id)*2)
	for i, b := range id {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
