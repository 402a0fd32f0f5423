package persist

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNamespacing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Store(ctx, "orders.counter", "count", 3))
	require.NoError(t, m.Store(ctx, "billing.counter", "count", 9))

	v, err := m.Get(ctx, "orders.counter", "count")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = m.Get(ctx, "billing.counter", "count")
	require.NoError(t, err)
	assert.Equal(t, 9, v)

	_, err = m.Get(ctx, "orders.counter", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(ctx, "unknown", "count")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "nodedata.db"))
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	_, err = s.Get(ctx, "ns", "key")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Store(ctx, "ns", "key", map[string]any{"n": int64(1)}))
	v, err := s.Get(ctx, "ns", "key")
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, m["n"])

	// overwrite
	require.NoError(t, s.Store(ctx, "ns", "key", "replaced"))
	v, err = s.Get(ctx, "ns", "key")
	require.NoError(t, err)
	assert.Equal(t, "replaced", v)
}
