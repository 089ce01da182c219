package kvstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock shared by the local backends
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backend struct {
	name    string
	store   Store
	advance func(time.Duration)
}

func backends(t *testing.T) []backend {
	t.Helper()

	memClock := &fakeClock{now: time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)}
	fileClock := &fakeClock{now: memClock.now}
	sqlClock := &fakeClock{now: memClock.now}

	file, err := NewFile(t.TempDir())
	require.NoError(t, err)

	sq, err := NewSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	mr := miniredis.RunT(t)
	rd, err := NewRedis("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { rd.Close() })

	return []backend{
		{"memory", NewMemory().WithClock(memClock.Now), memClock.Advance},
		{"file", file.WithClock(fileClock.Now), fileClock.Advance},
		{"sqlite", sq.WithClock(sqlClock.Now), sqlClock.Advance},
		{"redis", rd, mr.FastForward},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			_, ok, err := b.store.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.store.Set(ctx, "stock-log-005930", `[{"date":"2025-03-04"}]`, 0))
			v, ok, err := b.store.Get(ctx, "stock-log-005930")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `[{"date":"2025-03-04"}]`, v)

			// last writer wins
			require.NoError(t, b.store.Set(ctx, "stock-log-005930", `[]`, 0))
			v, _, err = b.store.Get(ctx, "stock-log-005930")
			require.NoError(t, err)
			assert.Equal(t, `[]`, v)

			require.NoError(t, b.store.Delete(ctx, "stock-log-005930"))
			_, ok, err = b.store.Get(ctx, "stock-log-005930")
			require.NoError(t, err)
			assert.False(t, ok)

			// deleting a missing key is not an error
			assert.NoError(t, b.store.Delete(ctx, "stock-log-005930"))
		})
	}
}

func TestStoreTTL(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			require.NoError(t, b.store.Set(ctx, "kis-access-token", "tok", time.Hour))
			require.NoError(t, b.store.Set(ctx, "forever", "v", 0))

			b.advance(59 * time.Minute)
			_, ok, err := b.store.Get(ctx, "kis-access-token")
			require.NoError(t, err)
			assert.True(t, ok, "value should survive before ttl")

			b.advance(2 * time.Minute)
			_, ok, err = b.store.Get(ctx, "kis-access-token")
			require.NoError(t, err)
			assert.False(t, ok, "value should expire after ttl")

			_, ok, err = b.store.Get(ctx, "forever")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestRedisReconnectsAfterClose(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rd, err := NewRedis("redis://" + mr.Addr())
	require.NoError(t, err)

	require.NoError(t, rd.Set(ctx, "k", "v", 0))
	require.NoError(t, rd.Close())

	v, ok, err := rd.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	require.NoError(t, rd.Close())
}

func TestOpen(t *testing.T) {
	s, err := Open(Options{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(Options{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)

	_, err = Open(Options{Backend: "consul"})
	assert.Error(t, err)
}
