package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anchel/voucher-seckill/lib/lock"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shop struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	return newTestClientWith(t, Options{NullTTL: 2 * time.Minute, RebuildWorkers: 4})
}

func newTestClientWith(t *testing.T, opts Options) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 128})
	t.Cleanup(func() { _ = rdb.Close() })
	c := New(rdb, lock.NewLocker(rdb), opts)
	t.Cleanup(c.Close)
	return mr, c
}

func countingLoader(calls *atomic.Int32, v *shop) Loader[shop] {
	return func(ctx context.Context) (*shop, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestGet_HitAfterLoad(t *testing.T) {
	mr, c := newTestClient(t)
	ctx := context.Background()
	var calls atomic.Int32
	load := countingLoader(&calls, &shop{ID: 1, Name: "noodles"})

	got, err := Get[shop](ctx, c, "cache:shop:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "noodles", got.Name)

	got, err = Get[shop](ctx, c, "cache:shop:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, int32(1), calls.Load())

	assert.True(t, mr.Exists("cache:shop:1"))
	assert.InDelta(t, time.Minute.Seconds(), mr.TTL("cache:shop:1").Seconds(), 1)
}

func TestGet_Penetration(t *testing.T) {
	mr, c := newTestClient(t)
	ctx := context.Background()
	var calls atomic.Int32
	load := countingLoader(&calls, nil)

	_, err := Get[shop](ctx, c, "cache:shop:404", time.Minute, load)
	assert.ErrorIs(t, err, ErrNotFound)

	val, gerr := mr.Get("cache:shop:404")
	require.NoError(t, gerr)
	assert.Equal(t, "", val)

	for range 10 {
		_, err = Get[shop](ctx, c, "cache:shop:404", time.Minute, load)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, int32(1), calls.Load(), "cached absence must not reach the loader")

	mr.FastForward(2*time.Minute + time.Second)
	_, err = Get[shop](ctx, c, "cache:shop:404", time.Minute, load)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_LoaderError(t *testing.T) {
	mr, c := newTestClient(t)
	boom := errors.New("db down")

	_, err := Get[shop](context.Background(), c, "cache:shop:2", time.Minute, func(ctx context.Context) (*shop, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("cache:shop:2"), "failures are not cached")
}

func TestGet_BackendDown(t *testing.T) {
	mr, c := newTestClient(t)
	mr.Close()

	var calls atomic.Int32
	_, err := Get[shop](context.Background(), c, "cache:shop:1", time.Minute, countingLoader(&calls, &shop{ID: 1}))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(0), calls.Load())
}

func TestGet_CollapsesConcurrentMisses(t *testing.T) {
	_, c := newTestClient(t)
	var calls atomic.Int32
	load := func(ctx context.Context) (*shop, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return &shop{ID: 7}, nil
	}

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Get[shop](context.Background(), c, "cache:shop:7", time.Minute, load)
			if assert.NoError(t, err) {
				assert.Equal(t, int64(7), got.ID)
			}
		}()
	}
	wg.Wait()
	assert.Less(t, calls.Load(), int32(50))
}

func TestGet_CancelledCallerDoesNotFailOthers(t *testing.T) {
	mr, c := newTestClient(t)
	var calls atomic.Int32
	started := make(chan struct{})
	load := func(ctx context.Context) (*shop, error) {
		calls.Add(1)
		close(started)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &shop{ID: 8, Name: "dumplings"}, nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := Get[shop](firstCtx, c, "cache:shop:8", time.Minute, load)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   *shop
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := Get[shop](context.Background(), c, "cache:shop:8", time.Minute, load)
		second <- result{v, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "dumplings", res.v.Name)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, mr.Exists("cache:shop:8"), "the shared load still fills the cache")
}

func TestInvalidate(t *testing.T) {
	mr, c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "cache:shop:3", shop{ID: 3}, time.Minute))
	require.NoError(t, c.Invalidate(ctx, "cache:shop:3"))
	assert.False(t, mr.Exists("cache:shop:3"))
}

func TestGetLogical_Fresh(t *testing.T) {
	mr, c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.PutLogical(ctx, "cache:shop:1", shop{ID: 1, Name: "tea"}, time.Hour))
	assert.Equal(t, time.Duration(0), mr.TTL("cache:shop:1"), "logical entries carry no store ttl")

	var calls atomic.Int32
	got, err := GetLogical[shop](ctx, c, "cache:shop:1", time.Hour, countingLoader(&calls, nil))
	require.NoError(t, err)
	assert.Equal(t, "tea", got.Name)

	c.Close()
	assert.Equal(t, int32(0), calls.Load())
}

func TestGetLogical_Missing(t *testing.T) {
	_, c := newTestClient(t)
	var calls atomic.Int32
	_, err := GetLogical[shop](context.Background(), c, "cache:shop:9", time.Hour, countingLoader(&calls, &shop{ID: 9}))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(0), calls.Load())
}

func putStale(t *testing.T, c *Client, key string, v shop) {
	t.Helper()
	c.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	require.NoError(t, c.PutLogical(context.Background(), key, v, time.Hour))
	c.now = time.Now
}

func TestGetLogical_Stampede(t *testing.T) {
	_, c := newTestClient(t)
	putStale(t, c, "cache:shop:1", shop{ID: 1, Name: "old"})

	var calls atomic.Int32
	load := func(ctx context.Context) (*shop, error) {
		calls.Add(1)
		time.Sleep(500 * time.Millisecond)
		return &shop{ID: 1, Name: "new"}, nil
	}

	var (
		wg      sync.WaitGroup
		slowest atomic.Int64
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			got, err := GetLogical[shop](context.Background(), c, "cache:shop:1", time.Hour, load)
			elapsed := time.Since(start)
			for {
				cur := slowest.Load()
				if int64(elapsed) <= cur || slowest.CompareAndSwap(cur, int64(elapsed)) {
					break
				}
			}
			if assert.NoError(t, err) {
				assert.Equal(t, int64(1), got.ID)
			}
		}()
	}
	wg.Wait()
	assert.Less(t, time.Duration(slowest.Load()), 500*time.Millisecond, "readers must not wait for the rebuild")

	c.Close()
	assert.Equal(t, int32(1), calls.Load())

	got, err := GetLogical[shop](context.Background(), c, "cache:shop:1", time.Hour, load)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)
}

func TestGetLogical_RebuildLockBusy(t *testing.T) {
	mr, c := newTestClient(t)
	putStale(t, c, "cache:shop:1", shop{ID: 1, Name: "old"})
	require.NoError(t, mr.Set(lock.Key("cache:shop:1"), "someone-else"))

	var calls atomic.Int32
	got, err := GetLogical[shop](context.Background(), c, "cache:shop:1", time.Hour, countingLoader(&calls, &shop{ID: 1, Name: "new"}))
	require.NoError(t, err)
	assert.Equal(t, "old", got.Name)

	c.Close()
	assert.Equal(t, int32(0), calls.Load())
	held, _ := mr.Get(lock.Key("cache:shop:1"))
	assert.Equal(t, "someone-else", held)
}

func TestGetLogical_RebuildFindsNothing(t *testing.T) {
	mr, c := newTestClient(t)
	putStale(t, c, "cache:shop:5", shop{ID: 5})

	var calls atomic.Int32
	got, err := GetLogical[shop](context.Background(), c, "cache:shop:5", time.Hour, countingLoader(&calls, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.ID)

	c.Close()
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, mr.Exists("cache:shop:5"))
	assert.False(t, mr.Exists(lock.Key("cache:shop:5")), "rebuild lock released")
}

func TestGetLogical_RebuildPoolFull(t *testing.T) {
	mr, c := newTestClientWith(t, Options{RebuildWorkers: 1})
	putStale(t, c, "cache:shop:1", shop{ID: 1, Name: "old"})
	c.sem <- struct{}{}

	var calls atomic.Int32
	got, err := GetLogical[shop](context.Background(), c, "cache:shop:1", time.Hour, countingLoader(&calls, &shop{ID: 1, Name: "new"}))
	require.NoError(t, err)
	assert.Equal(t, "old", got.Name)
	assert.False(t, mr.Exists(lock.Key("cache:shop:1")), "no lock is taken without a free slot")

	<-c.sem
	c.Close()
	assert.Equal(t, int32(0), calls.Load())
}

func TestGetLogical_NoRebuildAfterClose(t *testing.T) {
	mr, c := newTestClient(t)
	putStale(t, c, "cache:shop:1", shop{ID: 1, Name: "old"})
	c.Close()

	var calls atomic.Int32
	got, err := GetLogical[shop](context.Background(), c, "cache:shop:1", time.Hour, countingLoader(&calls, &shop{ID: 1, Name: "new"}))
	require.NoError(t, err)
	assert.Equal(t, "old", got.Name)

	c.Close()
	assert.Equal(t, int32(0), calls.Load())
	assert.False(t, mr.Exists(lock.Key("cache:shop:1")), "rebuild lock released")
	assert.Empty(t, c.sem)
}
