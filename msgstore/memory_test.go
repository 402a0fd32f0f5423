package msgstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhcomm/pypeman/message"
)

func storeN(t *testing.T, s Store, payloads ...string) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		msg := message.New(p)
		// spread timestamps so record ids are strictly ordered
		msg.Timestamp = msg.Timestamp.Add(time.Duration(len(ids)) * time.Millisecond)
		id, err := s.Store(ctx, msg)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}
	return ids
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryFactory().Store("orders")

	msg := message.New([]byte("payload"))
	msg.Meta["source"] = "test"
	id, err := s.Store(ctx, msg)
	require.NoError(t, err)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Pending, rec.Status)
	assert.Equal(t, msg.ID, rec.Message.ID)
	assert.Equal(t, "payload", rec.Message.PayloadString())
	assert.Equal(t, "test", rec.Message.Meta["source"])

	require.NoError(t, s.UpdateStatus(ctx, id, Processed))
	rec, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Processed, rec.Status)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryFactory().Store("orders")

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", Processed), ErrNotFound)
}

func TestMemoryStoreSearchOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryFactory().Store("orders")
	ids := storeN(t, s, "one", "two", "three")

	recs, err := s.Search(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// newest first
	assert.Equal(t, ids[2], recs[0].ID)
	assert.Equal(t, ids[0], recs[2].ID)

	recs, err = s.Search(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ids[2], recs[0].ID)

	// resume after the last record of the first page
	recs, err = s.Search(ctx, Query{StartID: recs[1].ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ids[0], recs[0].ID)
}

func TestMemoryStoreSearchCursorNotStored(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryFactory().Store("orders")
	ids := storeN(t, s, "one", "two", "three")

	// a cursor id between two stored ids still resumes strictly below it
	cursor := ids[1] + "0"
	recs, err := s.Search(ctx, Query{StartID: cursor})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ids[1], recs[0].ID)
	assert.Equal(t, ids[0], recs[1].ID)

	// a cursor below every stored id yields an empty page
	recs, err = s.Search(ctx, Query{StartID: "0"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMemoryStoreSearchFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryFactory().Store("orders")
	ids := storeN(t, s, "alpha result", "beta result", "gamma")
	require.NoError(t, s.UpdateStatus(ctx, ids[1], Error))

	recs, err := s.Search(ctx, Query{Status: Error})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ids[1], recs[0].ID)

	recs, err = s.Search(ctx, Query{Pattern: `^(alpha|beta)`})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = s.Search(ctx, Query{Pattern: `([`})
	assert.Error(t, err)

	n, err := s.Count(ctx, Query{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	n, err = s.Count(ctx, Query{Status: Pending})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = s.Count(ctx, Query{Pattern: "result"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestMemoryStoreTimeWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryFactory().Store("orders")

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		msg := message.New("x")
		msg.Timestamp = base.Add(time.Duration(i) * time.Hour)
		_, err := s.Store(ctx, msg)
		require.NoError(t, err)
	}

	recs, err := s.Search(ctx, Query{Start: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// end bound is exclusive
	recs, err = s.Search(ctx, Query{End: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRecordIDsSortByTime(t *testing.T) {
	s := NewMemoryFactory().Store("orders")
	ids := storeN(t, s, "a", "b", "c")
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])
}

func TestNullStore(t *testing.T) {
	ctx := context.Background()
	s := NullFactory{}.Store("anything")

	id, err := s.Store(ctx, message.New("x"))
	require.NoError(t, err)
	assert.Empty(t, id)

	assert.NoError(t, s.UpdateStatus(ctx, "whatever", Processed))
	_, err = s.Get(ctx, "whatever")
	assert.ErrorIs(t, err, ErrNotFound)

	recs, err := s.Search(ctx, Query{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestFactoryReturnsSameStorePerChannel(t *testing.T) {
	f := NewMemoryFactory()
	assert.Same(t, f.Store("a"), f.Store("a"))
	assert.NotSame(t, f.Store("a"), f.Store("b"))
}
