package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anchel/voucher-seckill/lib/cache"
	"github.com/anchel/voucher-seckill/lib/lock"
	"github.com/anchel/voucher-seckill/mongodb"
	"github.com/anchel/voucher-seckill/mysqldb"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type orderKey struct{ userID, voucherID int64 }

// fakeStore is an in-memory VoucherStore and ShopStore. Within runs
// transactions one at a time and discards staged writes when fn fails.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	vouchers map[int64]*mysqldb.EntityVoucher
	orders   map[orderKey]*mysqldb.EntityVoucherOrder
	shops    map[int64]*mysqldb.EntityShop

	// withinErrs are returned, in order, by the next calls to Within
	withinErrs  []error
	withinCalls int

	shopLoads atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		vouchers: make(map[int64]*mysqldb.EntityVoucher),
		orders:   make(map[orderKey]*mysqldb.EntityVoucherOrder),
		shops:    make(map[int64]*mysqldb.EntityShop),
	}
}

func (f *fakeStore) LoadVoucher(ctx context.Context, id int64, nilIsError bool) (*mysqldb.EntityVoucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vouchers[id]
	if !ok {
		if nilIsError {
			return nil, mysqldb.ErrNoRows
		}
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (f *fakeStore) InsertVoucher(ctx context.Context, v *mysqldb.EntityVoucher) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *v
	cp.ID = f.nextID
	f.vouchers[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeStore) setStock(voucherID, stock int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vouchers[voucherID].Stock = stock
}

func (f *fakeStore) stock(voucherID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vouchers[voucherID].Stock
}

func (f *fakeStore) QueryOrder(ctx context.Context, userID, voucherID int64, nilIsError bool) (*mysqldb.EntityVoucherOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderKey{userID, voucherID}]
	if !ok {
		if nilIsError {
			return nil, mysqldb.ErrNoRows
		}
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeStore) failWithin(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withinErrs = append(f.withinErrs, errs...)
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.withinCalls
}

func (f *fakeStore) Within(ctx context.Context, fn func(ctx context.Context, tx mysqldb.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withinCalls++
	if len(f.withinErrs) > 0 {
		err := f.withinErrs[0]
		f.withinErrs = f.withinErrs[1:]
		if err != nil {
			return err
		}
	}

	tx := &fakeTx{f: f, taken: make(map[int64]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for vid, n := range tx.taken {
		f.vouchers[vid].Stock -= n
	}
	for _, o := range tx.inserted {
		f.orders[orderKey{o.UserID, o.VoucherID}] = o
	}
	return nil
}

type fakeTx struct {
	f        *fakeStore
	taken    map[int64]int64
	inserted []*mysqldb.EntityVoucherOrder
}

func (t *fakeTx) CountOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	var n int64
	if _, ok := t.f.orders[orderKey{userID, voucherID}]; ok {
		n++
	}
	for _, o := range t.inserted {
		if o.UserID == userID && o.VoucherID == voucherID {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	v, ok := t.f.vouchers[voucherID]
	if !ok || v.Stock-t.taken[voucherID] <= 0 {
		return false, nil
	}
	t.taken[voucherID]++
	return true, nil
}

func (t *fakeTx) InsertOrder(ctx context.Context, order *mysqldb.EntityVoucherOrder) error {
	if _, ok := t.f.orders[orderKey{order.UserID, order.VoucherID}]; ok {
		return errors.Mark(errors.New("Error 1062: Duplicate entry for key 'uk_user_voucher'"), mysqldb.ErrDuplicateKey)
	}
	cp := *order
	t.inserted = append(t.inserted, &cp)
	return nil
}

func (f *fakeStore) addShop(shop *mysqldb.EntityShop) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *shop
	f.shops[shop.ID] = &cp
}

func (f *fakeStore) QueryShopByID(ctx context.Context, id int64, nilIsError bool) (*mysqldb.EntityShop, error) {
	f.shopLoads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shops[id]
	if !ok {
		if nilIsError {
			return nil, mysqldb.ErrNoRows
		}
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) UpdateShop(ctx context.Context, shop *mysqldb.EntityShop) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.shops[shop.ID]; !ok {
		return mysqldb.ErrNoRows
	}
	cp := *shop
	f.shops[shop.ID] = &cp
	return nil
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	records []*mongodb.EntityDeadLetter
}

func (f *fakeDeadLetters) Record(ctx context.Context, dl *mongodb.EntityDeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, dl)
	return nil
}

func (f *fakeDeadLetters) all() []*mongodb.EntityDeadLetter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mongodb.EntityDeadLetter(nil), f.records...)
}

type harness struct {
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	cache *cache.Client
	store *fakeStore
	dl    *fakeDeadLetters
	svc   *SeckillService
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 100})
	t.Cleanup(func() { _ = rdb.Close() })

	c := cache.New(rdb, lock.NewLocker(rdb), cache.Options{})
	t.Cleanup(c.Close)

	if opts.RetryInitial == 0 {
		opts.RetryInitial = time.Millisecond
	}
	if opts.RetryMax == 0 {
		opts.RetryMax = 5 * time.Millisecond
	}

	store := newFakeStore()
	dl := &fakeDeadLetters{}
	return &harness{
		mr:    mr,
		rdb:   rdb,
		cache: c,
		store: store,
		dl:    dl,
		svc:   NewSeckillService(rdb, c, store, dl, opts),
	}
}

func (h *harness) createVoucher(t *testing.T, stock int64) int64 {
	t.Helper()
	now := time.Now()
	id, err := h.svc.CreateSeckillVoucher(context.Background(), &CreateVoucherRequest{
		ShopID:    1,
		Title:     "100 off 200",
		Stock:     stock,
		BeginTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	})
	require.NoError(t, err)
	return id
}

// runWorkers starts the persistence workers; the returned func shuts them
// down and waits for the queue to drain.
func (h *harness) runWorkers() func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.svc.StartReadJoinQueue(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}
