package idgen

import (
	"context"
	"time"

	"github.com/anchel/voucher-seckill/lib/redisop"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const (
	// EpochAnchor is 2023-09-01T00:00:00Z.
	EpochAnchor int64 = 1693526400
	CounterBits       = 32
)

// Generator hands out ids laid out as
//
//	| seconds since EpochAnchor | per-day counter (CounterBits) |
//
// The counter is an INCR on "icr:<sequence>:<yyyy:MM:dd>", so it is shared by
// every process using the same Redis and restarts each UTC day.
type Generator struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewGenerator(rdb redis.Cmdable) *Generator {
	return &Generator{rdb: rdb, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

func (g *Generator) Next(ctx context.Context, sequenceName string) (uint64, error) {
	now := g.now().UTC()
	ts := now.Unix() - EpochAnchor
	if ts < 0 {
		return 0, errors.Newf("clock %s is before id epoch", now)
	}

	count, err := redisop.Incr(ctx, g.rdb, CounterKey(sequenceName, now))
	if err != nil {
		return 0, errors.Wrapf(err, "next id for %s", sequenceName)
	}

	return uint64(ts)<<CounterBits | uint64(count), nil
}

func CounterKey(sequenceName string, day time.Time) string {
	return "icr:" + sequenceName + ":" + day.UTC().Format("2006:01:02")
}

// Split is the inverse of Next's layout.
func Split(id uint64) (issuedAt time.Time, counter uint32) {
	secs := int64(id>>CounterBits) + EpochAnchor
	return time.Unix(secs, 0).UTC(), uint32(id)
}
