// Package cache is a read-through layer over Redis for data whose source of
// truth lives elsewhere.
//
// Get caches "not found" as an empty string with a short TTL so repeated
// lookups of missing ids do not reach the database. GetLogical serves entries
// that never expire in Redis; each carries its own expireTime and, once that
// passes, one caller triggers a background reload while everyone keeps
// receiving the stale value.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/anchel/voucher-seckill/lib/lock"
	"github.com/anchel/voucher-seckill/lib/redisop"
	"github.com/anchel/voucher-seckill/metrics"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const nullValue = ""

var ErrNotFound = errors.New("cache: not found")

// Loader fetches the authoritative value. A nil result with nil error means
// the entity does not exist.
type Loader[T any] func(ctx context.Context) (*T, error)

type Options struct {
	NullTTL time.Duration
	// LoadTimeout bounds a shared miss load; it runs detached from the
	// caller that started it.
	LoadTimeout    time.Duration
	RebuildWorkers int
	// RebuildLockTTL bounds how long one rebuild may hold "lock:<key>".
	RebuildLockTTL time.Duration
	RebuildTimeout time.Duration
}

func (o *Options) fill() {
	if o.NullTTL <= 0 {
		o.NullTTL = 2 * time.Minute
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 5 * time.Second
	}
	if o.RebuildWorkers <= 0 {
		o.RebuildWorkers = 10
	}
	if o.RebuildLockTTL <= 0 {
		o.RebuildLockTTL = 10 * time.Second
	}
	if o.RebuildTimeout <= 0 {
		o.RebuildTimeout = 5 * time.Second
	}
}

type Client struct {
	rdb    redis.Cmdable
	locker *lock.Locker
	opts   Options
	now    func() time.Time

	group singleflight.Group
	sem   chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex // guards closed and wg.Add
	closed bool
}

func New(rdb redis.Cmdable, locker *lock.Locker, opts Options) *Client {
	opts.fill()
	return &Client{
		rdb:    rdb,
		locker: locker,
		opts:   opts,
		now:    time.Now,
		sem:    make(chan struct{}, opts.RebuildWorkers),
	}
}

type logicalEntry struct {
	Data       json.RawMessage `json:"data"`
	ExpireTime time.Time       `json:"expireTime"`
}

// Get returns the cached value under key, loading and caching it on a miss.
// ErrNotFound is returned both when the loader reports absence and when a
// previous absence is still cached.
func Get[T any](ctx context.Context, c *Client, key string, ttl time.Duration, loader Loader[T]) (*T, error) {
	val, err := redisop.Get(ctx, c.rdb, key)
	switch {
	case err == nil && val == nullValue:
		metrics.CacheCounter.WithLabelValues("null_hit").Inc()
		return nil, ErrNotFound
	case err == nil:
		var v T
		uerr := json.Unmarshal([]byte(val), &v)
		if uerr == nil {
			metrics.CacheCounter.WithLabelValues("hit").Inc()
			return &v, nil
		}
		log.Warn("cache Get Unmarshal, reloading", "key", key, "err", uerr)
	case !errors.Is(err, redis.Nil):
		return nil, errors.Wrapf(err, "cache get %s", key)
	}

	metrics.CacheCounter.WithLabelValues("miss").Inc()
	ch := c.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.LoadTimeout)
		defer cancel()

		v, lerr := loader(lctx)
		if lerr != nil {
			return nil, lerr
		}
		if v == nil {
			if serr := redisop.Set(lctx, c.rdb, key, nullValue, c.opts.NullTTL); serr != nil {
				log.Error("cache Get Set null", "key", key, "err", serr)
			}
			return nil, ErrNotFound
		}
		if perr := c.Put(lctx, key, v, ttl); perr != nil {
			log.Error("cache Get Put", "key", key, "err", perr)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "cache get %s", key)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*T), nil
	}
}

// GetLogical reads a logically-expiring entry. It never calls loader on the
// caller's path: a missing entry is ErrNotFound (hot keys are pre-warmed with
// PutLogical) and an expired entry is returned as-is while at most one
// background rebuild per key refreshes it.
func GetLogical[T any](ctx context.Context, c *Client, key string, ttl time.Duration, loader Loader[T]) (*T, error) {
	val, err := redisop.Get(ctx, c.rdb, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheCounter.WithLabelValues("logical_miss").Inc()
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "cache get %s", key)
	}

	var entry logicalEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, errors.Wrapf(err, "decode logical entry %s", key)
	}
	var v T
	if err := json.Unmarshal(entry.Data, &v); err != nil {
		return nil, errors.Wrapf(err, "decode logical data %s", key)
	}

	if c.now().Before(entry.ExpireTime) {
		metrics.CacheCounter.WithLabelValues("hit").Inc()
		return &v, nil
	}

	metrics.CacheCounter.WithLabelValues("stale").Inc()
	c.tryRebuild(ctx, key, ttl, func(ctx context.Context) (any, error) {
		nv, err := loader(ctx)
		if err != nil || nv == nil {
			return nil, err
		}
		return nv, nil
	})
	return &v, nil
}

// tryRebuild starts a background reload when the rebuild lock for key is free.
// It never waits for the lock or for the reload.
func (c *Client) tryRebuild(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (any, error)) {
	// a slot is taken before the lock so the lock ttl only runs while loading
	select {
	case c.sem <- struct{}{}:
	default:
		log.Debug("cache tryRebuild pool full", "key", key)
		return
	}
	started := false
	defer func() {
		if !started {
			<-c.sem
		}
	}()

	token := lock.NewToken()
	ok, err := c.locker.TryAcquire(ctx, key, token, c.opts.RebuildLockTTL)
	if err != nil {
		log.Error("cache tryRebuild TryAcquire", "key", key, "err", err)
		return
	}
	if !ok {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if _, err := c.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			log.Error("cache tryRebuild Release", "key", key, "err", err)
		}
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	started = true
	go func() {
		defer c.wg.Done()
		defer func() { <-c.sem }()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RebuildTimeout)
		defer cancel()
		defer func() {
			if _, err := c.locker.Release(rctx, key, token); err != nil {
				log.Error("cache rebuild Release", "key", key, "err", err)
			}
		}()

		// another holder may have refreshed it between our read and our lock
		if c.fresh(rctx, key) {
			return
		}

		metrics.CacheCounter.WithLabelValues("rebuild").Inc()
		nv, err := load(rctx)
		if err != nil {
			log.Error("cache rebuild load", "key", key, "err", err)
			return
		}
		if nv == nil {
			if _, err := redisop.Del(rctx, c.rdb, key); err != nil {
				log.Error("cache rebuild Del", "key", key, "err", err)
			}
			return
		}
		if err := c.PutLogical(rctx, key, nv, ttl); err != nil {
			log.Error("cache rebuild PutLogical", "key", key, "err", err)
		}
	}()
}

func (c *Client) fresh(ctx context.Context, key string) bool {
	val, err := redisop.Get(ctx, c.rdb, key)
	if err != nil {
		return false
	}
	var entry logicalEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return false
	}
	return c.now().Before(entry.ExpireTime)
}

func (c *Client) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return redisop.Set(ctx, c.rdb, key, data, ttl)
}

// PutLogical writes value without a Redis TTL; it is considered stale after ttl.
func (c *Client) PutLogical(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	entry, err := json.Marshal(logicalEntry{Data: data, ExpireTime: c.now().Add(ttl)})
	if err != nil {
		return errors.Wrapf(err, "encode entry %s", key)
	}
	return redisop.Set(ctx, c.rdb, key, entry, 0)
}

func (c *Client) Invalidate(ctx context.Context, key string) error {
	_, err := redisop.Del(ctx, c.rdb, key)
	return err
}

// Close stops new rebuilds and waits for running ones.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}
