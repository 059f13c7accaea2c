package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type total struct {
	ID     string `json:"id"`
	Amount int    `json:"amount"`
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (failingStore) Delete(context.Context, ...string) error { return nil }

func countingLoader(calls *int) Loader[string, total] {
	return func(_ context.Context, id string) (total, error) {
		*calls++
		if id == "missing" {
			return total{}, errors.New("not found")
		}
		return total{ID: id, Amount: 1250}, nil
	}
}

func key(id string) string { return "total:" + id }

func TestReadThroughServesSecondCallFromCache(t *testing.T) {
	calls := 0
	load := ReadThrough(NewMemory(), time.Minute, key, countingLoader(&calls), nil)

	first, err := load(context.Background(), "shift-1")
	require.NoError(t, err)
	second, err := load(context.Background(), "shift-1")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, 1250, second.Amount)
}

func TestReadThroughDoesNotCacheErrors(t *testing.T) {
	calls := 0
	store := NewMemory()
	load := ReadThrough(store, time.Minute, key, countingLoader(&calls), nil)

	_, err := load(context.Background(), "missing")
	require.Error(t, err)
	_, err = load(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	_, ok, _ := store.Get(context.Background(), "total:missing")
	assert.False(t, ok)
}

func TestReadThroughDegradesWhenStoreFails(t *testing.T) {
	logger, hook := test.NewNullLogger()
	calls := 0
	load := ReadThrough[string, total](failingStore{}, time.Minute, key, countingLoader(&calls), logger)

	got, err := load(context.Background(), "shift-2")
	require.NoError(t, err)
	assert.Equal(t, "shift-2", got.ID)
	assert.Equal(t, 1, calls)
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "get", hook.AllEntries()[0].Data["op"])
	assert.Equal(t, "set", hook.AllEntries()[1].Data["op"])
}

func TestReadThroughWithNilStoreIsPassThrough(t *testing.T) {
	calls := 0
	load := ReadThrough[string, total](nil, time.Minute, key, countingLoader(&calls), nil)
	_, _ = load(context.Background(), "a")
	_, _ = load(context.Background(), "a")
	assert.Equal(t, 2, calls)
}

func TestMemoryExpiresEntries(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	raw, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(raw))

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "forever", []byte("x"), 0))
	require.NoError(t, m.Delete(ctx, "forever"))
	_, ok, _ = m.Get(ctx, "forever")
	assert.False(t, ok)
}
