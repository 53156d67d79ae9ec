package service

import (
	"context"
	"time"

	"github.com/anchel/voucher-seckill/config"
	"github.com/anchel/voucher-seckill/lib/cache"
	"github.com/anchel/voucher-seckill/lib/idgen"
	"github.com/anchel/voucher-seckill/lib/lock"
	"github.com/anchel/voucher-seckill/lib/redisop"
	"github.com/anchel/voucher-seckill/metrics"
	"github.com/anchel/voucher-seckill/mysqldb"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const orderSequence = "order"

// VoucherStore is the durable voucher and order access the seckill flow needs.
type VoucherStore interface {
	mysqldb.UnitOfWork
	LoadVoucher(ctx context.Context, id int64, nilIsError bool) (*mysqldb.EntityVoucher, error)
	InsertVoucher(ctx context.Context, v *mysqldb.EntityVoucher) (int64, error)
	QueryOrder(ctx context.Context, userID, voucherID int64, nilIsError bool) (*mysqldb.EntityVoucherOrder, error)
}

type Options struct {
	QueueSize      int
	Workers        int
	EnqueueTimeout time.Duration
	LockTTL        time.Duration
	MaxAttempts    int
	RetryInitial   time.Duration
	RetryMax       time.Duration
	// DrainTimeout bounds how long workers keep persisting queued tasks
	// after shutdown starts.
	DrainTimeout time.Duration
	VoucherTTL   time.Duration
}

func OptionsFromConfig(c config.Seckill) Options {
	return Options{
		QueueSize:      c.QueueSize,
		Workers:        c.Workers,
		EnqueueTimeout: c.EnqueueTimeout,
		LockTTL:        c.LockTTL,
		MaxAttempts:    c.MaxAttempts,
	}
}

func (o *Options) fill() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = 50 * time.Millisecond
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 50 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 2 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 10 * time.Second
	}
	if o.VoucherTTL <= 0 {
		o.VoucherTTL = 30 * time.Minute
	}
}

type SeckillService struct {
	rdb         redis.Cmdable
	cache       *cache.Client
	locker      *lock.Locker
	ids         *idgen.Generator
	queue       *OrderQueue
	store       VoucherStore
	deadLetters DeadLetterSink
	windows     *VoucherWindowCache
	opts        Options
	now         func() time.Time
}

func NewSeckillService(rdb redis.Cmdable, c *cache.Client, store VoucherStore, deadLetters DeadLetterSink, opts Options) *SeckillService {
	opts.fill()
	return &SeckillService{
		rdb:         rdb,
		cache:       c,
		locker:      lock.NewLocker(rdb),
		ids:         idgen.NewGenerator(rdb),
		queue:       NewOrderQueue(opts.QueueSize, opts.EnqueueTimeout),
		store:       store,
		deadLetters: deadLetters,
		windows:     &VoucherWindowCache{},
		opts:        opts,
		now:         time.Now,
	}
}

func (s *SeckillService) Windows() *VoucherWindowCache {
	return s.windows
}

type CreateVoucherRequest struct {
	ShopID    int64
	Title     string
	Stock     int64
	BeginTime time.Time
	EndTime   time.Time
}

// CreateSeckillVoucher stores a voucher and seeds its Redis stock counter so
// admission can start as soon as the window opens.
func (s *SeckillService) CreateSeckillVoucher(ctx context.Context, req *CreateVoucherRequest) (int64, error) {
	if req.Stock <= 0 {
		return 0, errors.Wrapf(ErrInvalidArgument, "stock must be positive, got %d", req.Stock)
	}
	if !req.EndTime.After(req.BeginTime) {
		return 0, errors.Wrap(ErrInvalidArgument, "end_time must be after begin_time")
	}
	if !req.EndTime.After(s.now()) {
		return 0, errors.Wrap(ErrInvalidArgument, "end_time is in the past")
	}

	v := &mysqldb.EntityVoucher{
		ShopID:    req.ShopID,
		Title:     req.Title,
		Stock:     req.Stock,
		BeginTime: req.BeginTime,
		EndTime:   req.EndTime,
		CreatedAt: s.now(),
	}
	id, err := s.store.InsertVoucher(ctx, v)
	if err != nil {
		log.Error("CreateSeckillVoucher InsertVoucher", "err", err)
		return 0, unavailable(err, "insert voucher")
	}
	v.ID = id

	if err := redisop.Set(ctx, s.rdb, stockKey(id), req.Stock, 0); err != nil {
		log.Error("CreateSeckillVoucher redisop.Set", "voucherID", id, "err", err)
		return 0, unavailable(err, "seed stock")
	}
	if err := s.cache.Put(ctx, voucherKey(id), v, s.opts.VoucherTTL); err != nil {
		log.Warn("CreateSeckillVoucher cache.Put", "voucherID", id, "err", err)
	}
	return id, nil
}

// SeckillVoucher admits the current user for one unit of voucherID and returns
// the order id. The order is persisted asynchronously.
func (s *SeckillService) SeckillVoucher(ctx context.Context, voucherID int64) (int64, error) {
	userID, ok := UserFrom(ctx)
	if !ok {
		return 0, ErrNoUser
	}

	w, err := s.voucherWindow(ctx, voucherID)
	if err != nil {
		metrics.AdmissionCounter.WithLabelValues(resultLabel(err)).Inc()
		return 0, err
	}
	if !w.Open(s.now()) {
		metrics.AdmissionCounter.WithLabelValues("window_closed").Inc()
		return 0, ErrWindowClosed
	}

	keys := []string{stockKey(voucherID), orderSetKey(voucherID)}
	res, err := redisop.RunScript(ctx, s.rdb, admissionScript, keys, userID)
	if err != nil {
		log.Error("SeckillVoucher admissionScript", "voucherID", voucherID, "userID", userID, "err", err)
		metrics.AdmissionCounter.WithLabelValues("unavailable").Inc()
		return 0, unavailable(err, "admission script")
	}
	switch res {
	case admitNoStock:
		metrics.AdmissionCounter.WithLabelValues("no_stock").Inc()
		return 0, ErrNoStock
	case admitDuplicate:
		metrics.AdmissionCounter.WithLabelValues("duplicate").Inc()
		return 0, ErrDuplicateOrder
	case admitOK:
	default:
		return 0, errors.Newf("admission script returned %d", res)
	}

	id, err := s.ids.Next(ctx, orderSequence)
	if err != nil {
		log.Error("SeckillVoucher ids.Next", "err", err)
		s.rollbackAdmission(ctx, voucherID, userID)
		metrics.AdmissionCounter.WithLabelValues("unavailable").Inc()
		return 0, unavailable(err, "order id")
	}

	task := &OrderTask{
		OrderID:    int64(id),
		UserID:     userID,
		VoucherID:  voucherID,
		EnqueuedAt: s.now(),
	}
	if !s.queue.Enqueue(ctx, task) {
		log.Warn("SeckillVoucher queue full", "voucherID", voucherID, "userID", userID)
		s.rollbackAdmission(ctx, voucherID, userID)
		metrics.AdmissionCounter.WithLabelValues("queue_full").Inc()
		return 0, ErrQueueFull
	}

	metrics.AdmissionCounter.WithLabelValues("admitted").Inc()
	return task.OrderID, nil
}

func (s *SeckillService) rollbackAdmission(ctx context.Context, voucherID, userID int64) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	keys := []string{stockKey(voucherID), orderSetKey(voucherID)}
	if _, err := redisop.RunScript(rctx, s.rdb, rollbackScript, keys, userID); err != nil {
		log.Error("rollbackAdmission rollbackScript", "voucherID", voucherID, "userID", userID, "err", err)
	}
}

func (s *SeckillService) voucherWindow(ctx context.Context, voucherID int64) (*VoucherWindow, error) {
	if w, ok := s.windows.Load(voucherID); ok {
		return w, nil
	}

	v, err := cache.Get[mysqldb.EntityVoucher](ctx, s.cache, voucherKey(voucherID), s.opts.VoucherTTL, func(ctx context.Context) (*mysqldb.EntityVoucher, error) {
		v, err := s.store.LoadVoucher(ctx, voucherID, false)
		if err != nil || v == nil {
			return v, err
		}
		// Redis may have lost the counter; seed it from the durable stock
		if _, err := redisop.SetNX(ctx, s.rdb, stockKey(voucherID), v.Stock, 0); err != nil {
			log.Warn("voucherWindow seed stock", "voucherID", voucherID, "err", err)
		}
		return v, nil
	})
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error("voucherWindow cache.Get", "voucherID", voucherID, "err", err)
		return nil, unavailable(err, "load voucher")
	}

	w := &VoucherWindow{ID: v.ID, BeginTime: v.BeginTime, EndTime: v.EndTime}
	s.windows.Store(w)
	return w, nil
}

// CheckOrder returns the current user's persisted order for voucherID.
func (s *SeckillService) CheckOrder(ctx context.Context, voucherID int64) (*mysqldb.EntityVoucherOrder, error) {
	userID, ok := UserFrom(ctx)
	if !ok {
		return nil, ErrNoUser
	}
	order, err := s.store.QueryOrder(ctx, userID, voucherID, false)
	if err != nil {
		return nil, unavailable(err, "query order")
	}
	if order == nil {
		return nil, ErrNotFound
	}
	return order, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	}
	return "error"
}
