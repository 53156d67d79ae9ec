package mysqldb

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mysql container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcmysql.Run(ctx, "mysql:8.0", tcmysql.WithDatabase("seckill"))
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, container)

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	require.NoError(t, err)

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(20)
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(db)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func insertVoucher(t *testing.T, s *Store, stock int64) int64 {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	id, err := s.InsertVoucher(context.Background(), &EntityVoucher{
		ShopID:    1,
		Title:     "50 off 100",
		Stock:     stock,
		BeginTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	})
	require.NoError(t, err)
	return id
}

func TestStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("voucher round trip", func(t *testing.T) {
		id := insertVoucher(t, s, 3)
		v, err := s.LoadVoucher(ctx, id, false)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, int64(3), v.Stock)
		assert.True(t, v.Open(time.Now()))

		v, err = s.LoadVoucher(ctx, id+1000, false)
		assert.NoError(t, err)
		assert.Nil(t, v)

		_, err = s.LoadVoucher(ctx, id+1000, true)
		assert.ErrorIs(t, err, ErrNoRows)
	})

	t.Run("shop update", func(t *testing.T) {
		id, err := s.InsertShop(ctx, &EntityShop{Name: "tea house", Address: "1 main st"})
		require.NoError(t, err)

		require.NoError(t, s.UpdateShop(ctx, &EntityShop{ID: id, Name: "tea house 2", Address: "1 main st", Score: 45}))
		shop, err := s.QueryShopByID(ctx, id, true)
		require.NoError(t, err)
		assert.Equal(t, "tea house 2", shop.Name)

		// unchanged update is not a miss
		require.NoError(t, s.UpdateShop(ctx, shop))

		err = s.UpdateShop(ctx, &EntityShop{ID: id + 1000, Name: "ghost"})
		assert.ErrorIs(t, err, ErrNoRows)
	})

	t.Run("within persists order", func(t *testing.T) {
		vid := insertVoucher(t, s, 1)
		err := s.Within(ctx, func(ctx context.Context, tx Tx) error {
			n, err := tx.CountOrders(ctx, 7, vid)
			require.NoError(t, err)
			assert.Zero(t, n)

			ok, err := tx.DecrementStock(ctx, vid)
			require.NoError(t, err)
			assert.True(t, ok)
			return tx.InsertOrder(ctx, &EntityVoucherOrder{ID: 1001, UserID: 7, VoucherID: vid})
		})
		require.NoError(t, err)

		order, err := s.QueryOrder(ctx, 7, vid, true)
		require.NoError(t, err)
		assert.Equal(t, int64(1001), order.ID)

		v, err := s.LoadVoucher(ctx, vid, true)
		require.NoError(t, err)
		assert.Zero(t, v.Stock)
	})

	t.Run("within rolls back on error", func(t *testing.T) {
		vid := insertVoucher(t, s, 5)
		boom := errors.New("boom")
		err := s.Within(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.DecrementStock(ctx, vid)
			require.NoError(t, err)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		v, err := s.LoadVoucher(ctx, vid, true)
		require.NoError(t, err)
		assert.Equal(t, int64(5), v.Stock)
	})

	t.Run("duplicate order is marked", func(t *testing.T) {
		vid := insertVoucher(t, s, 5)
		insert := func(id int64) error {
			return s.Within(ctx, func(ctx context.Context, tx Tx) error {
				return tx.InsertOrder(ctx, &EntityVoucherOrder{ID: id, UserID: 9, VoucherID: vid})
			})
		}
		require.NoError(t, insert(2001))
		assert.ErrorIs(t, insert(2002), ErrDuplicateKey)
	})

	t.Run("decrement never goes negative", func(t *testing.T) {
		vid := insertVoucher(t, s, 10)
		var taken atomic.Int32
		var wg sync.WaitGroup
		for range 30 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Within(ctx, func(ctx context.Context, tx Tx) error {
					ok, err := tx.DecrementStock(ctx, vid)
					if ok {
						taken.Add(1)
					}
					return err
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(10), taken.Load())
		v, err := s.LoadVoucher(ctx, vid, true)
		require.NoError(t, err)
		assert.Zero(t, v.Stock)
	})
}
