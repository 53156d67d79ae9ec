package service

import (
	"context"
	"strconv"
	"time"

	"github.com/anchel/voucher-seckill/lib/cache"
	"github.com/anchel/voucher-seckill/lib/redisop"
	"github.com/anchel/voucher-seckill/mysqldb"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type ShopStore interface {
	QueryShopByID(ctx context.Context, id int64, nilIsError bool) (*mysqldb.EntityShop, error)
	UpdateShop(ctx context.Context, shop *mysqldb.EntityShop) error
}

// ShopService serves shop reads through the cache. Ordinary shops use the
// read-through path; shops pre-warmed with PrewarmShop are served from
// logically expiring entries.
type ShopService struct {
	rdb   redis.Cmdable
	cache *cache.Client
	store ShopStore
	ttl   time.Duration
}

func NewShopService(rdb redis.Cmdable, c *cache.Client, store ShopStore, ttl time.Duration) *ShopService {
	return &ShopService{rdb: rdb, cache: c, store: store, ttl: ttl}
}

func shopKey(id int64) string {
	return "cache:shop:" + strconv.FormatInt(id, 10)
}

func hotShopKey(id int64) string {
	return "cache:shop:hot:" + strconv.FormatInt(id, 10)
}

func (s *ShopService) loader(id int64) cache.Loader[mysqldb.EntityShop] {
	return func(ctx context.Context) (*mysqldb.EntityShop, error) {
		return s.store.QueryShopByID(ctx, id, false)
	}
}

func (s *ShopService) QueryShop(ctx context.Context, id int64) (*mysqldb.EntityShop, error) {
	shop, err := cache.Get(ctx, s.cache, shopKey(id), s.ttl, s.loader(id))
	return shop, cacheError(err, "query shop")
}

// QueryHotShop never waits for MySQL. A shop that was not pre-warmed is
// reported as ErrNotFound.
func (s *ShopService) QueryHotShop(ctx context.Context, id int64) (*mysqldb.EntityShop, error) {
	shop, err := cache.GetLogical(ctx, s.cache, hotShopKey(id), s.ttl, s.loader(id))
	return shop, cacheError(err, "query hot shop")
}

func (s *ShopService) PrewarmShop(ctx context.Context, id int64) error {
	shop, err := s.store.QueryShopByID(ctx, id, false)
	if err != nil {
		return unavailable(err, "load shop")
	}
	if shop == nil {
		return ErrNotFound
	}
	if err := s.cache.PutLogical(ctx, hotShopKey(id), shop, s.ttl); err != nil {
		return unavailable(err, "prewarm shop")
	}
	return nil
}

// UpdateShop writes MySQL first and then drops the cached copy.
func (s *ShopService) UpdateShop(ctx context.Context, shop *mysqldb.EntityShop) error {
	if shop.ID <= 0 {
		return errors.Wrap(ErrInvalidArgument, "shop id is required")
	}
	if err := s.store.UpdateShop(ctx, shop); err != nil {
		if errors.Is(err, mysqldb.ErrNoRows) {
			return ErrNotFound
		}
		return unavailable(err, "update shop")
	}

	if err := s.cache.Invalidate(ctx, shopKey(shop.ID)); err != nil {
		log.Error("UpdateShop Invalidate", "shopID", shop.ID, "err", err)
		return unavailable(err, "invalidate shop")
	}

	hot, err := redisop.Exists(ctx, s.rdb, hotShopKey(shop.ID))
	if err != nil {
		return unavailable(err, "check hot shop")
	}
	if hot {
		return s.PrewarmShop(ctx, shop.ID)
	}
	return nil
}

func cacheError(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cache.ErrNotFound):
		return ErrNotFound
	}
	return unavailable(err, msg)
}
