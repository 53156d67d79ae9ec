package service

import (
	"context"
	"sync"
	"time"

	"github.com/anchel/voucher-seckill/metrics"
	"github.com/anchel/voucher-seckill/mongodb"
	"github.com/anchel/voucher-seckill/mysqldb"
	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
)

var errDrainDeadline = errors.New("shutdown drain deadline exceeded")

type Outcome int

const (
	OutcomePersisted Outcome = iota
	// OutcomeDuplicate means the order already exists; nothing was written.
	OutcomeDuplicate
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomePersisted:
		return "persisted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// StartReadJoinQueue runs the persistence workers until ctx is done and the
// queue has been drained or DrainTimeout has passed.
func (s *SeckillService) StartReadJoinQueue(ctx context.Context) {
	wg := &sync.WaitGroup{}
	for range s.opts.Workers {
		wg.Add(1)
		go s.startReadQueue(ctx, wg)
	}
	wg.Wait()

	s.drainQueue()
}

func (s *SeckillService) startReadQueue(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	// a task already taken off the queue is finished even if shutdown starts
	taskCtx := context.WithoutCancel(ctx)
	for {
		task, ok := s.queue.Dequeue(ctx)
		if !ok {
			return
		}
		s.tryDoSeckill(taskCtx, task)
	}
}

func (s *SeckillService) drainQueue() {
	if s.queue.Len() == 0 {
		return
	}
	log.Info("drain order queue", "remaining", s.queue.Len())

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DrainTimeout)
	defer cancel()

	wg := &sync.WaitGroup{}
	for range s.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				task, ok := s.queue.TryDequeue()
				if !ok {
					return
				}
				s.tryDoSeckill(ctx, task)
			}
		}()
	}
	wg.Wait()

	// these users hold a provisional success; surface every one
	for {
		task, ok := s.queue.TryDequeue()
		if !ok {
			break
		}
		s.abandon(task, errDrainDeadline, 0)
	}
}

// tryDoSeckill persists one task, retrying transient failures with backoff.
// After MaxAttempts, or on a permanent failure, the task is dead-lettered.
func (s *SeckillService) tryDoSeckill(ctx context.Context, task *OrderTask) Outcome {
	attempts := 0
	op := func() (Outcome, error) {
		attempts++
		out, err := s.executeTransaction(ctx, task)
		if err != nil && (errors.Is(err, ErrStockExhausted) || !mysqldb.Retryable(err)) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.opts.RetryInitial
	exp.MaxInterval = s.opts.RetryMax
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.opts.MaxAttempts-1)), ctx)

	out, err := backoff.RetryNotifyWithData(op, b, func(err error, d time.Duration) {
		log.Warn("tryDoSeckill retry", "orderID", task.OrderID, "userID", task.UserID, "attempt", attempts, "wait", d, "err", err)
	})
	if err != nil {
		s.abandon(task, err, attempts)
		return OutcomeAbandoned
	}

	metrics.PersistCounter.WithLabelValues(out.String()).Inc()
	if out == OutcomeDuplicate {
		log.Info("tryDoSeckill order exists", "orderID", task.OrderID, "userID", task.UserID, "voucherID", task.VoucherID)
	}
	return out
}

func (s *SeckillService) abandon(task *OrderTask, cause error, attempts int) {
	metrics.PersistCounter.WithLabelValues(OutcomeAbandoned.String()).Inc()
	err := errors.Mark(cause, ErrPersistenceAbandoned)
	log.Error("tryDoSeckill abandon", "orderID", task.OrderID, "userID", task.UserID, "voucherID", task.VoucherID, "attempts", attempts, "err", err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dl := &mongodb.EntityDeadLetter{
		OrderID:    task.OrderID,
		UserID:     task.UserID,
		VoucherID:  task.VoucherID,
		Reason:     cause.Error(),
		Attempts:   attempts,
		EnqueuedAt: task.EnqueuedAt,
	}
	if derr := s.deadLetters.Record(ctx, dl); derr != nil {
		log.Error("tryDoSeckill dead letter lost", "orderID", task.OrderID, "userID", task.UserID, "voucherID", task.VoucherID, "reason", cause, "err", derr)
	}
}

// executeTransaction performs one persistence attempt under the user's lock.
func (s *SeckillService) executeTransaction(ctx context.Context, task *OrderTask) (Outcome, error) {
	var (
		out   = OutcomeAbandoned
		ran   bool
		txErr error
	)
	err := s.locker.TryWithLock(ctx, orderLockResource(task.UserID), s.opts.LockTTL, func(ctx context.Context) error {
		ran = true
		out, txErr = s.persistOrder(ctx, task)
		return txErr
	})
	switch {
	case !ran && errors.Is(err, ErrLockBusy):
		return OutcomeAbandoned, err
	case !ran:
		return OutcomeAbandoned, unavailable(err, "acquire order lock")
	}
	// a failed release after a commit is left to the lock ttl
	return out, txErr
}

func (s *SeckillService) persistOrder(ctx context.Context, task *OrderTask) (Outcome, error) {
	out := OutcomePersisted
	err := s.store.Within(ctx, func(ctx context.Context, tx mysqldb.Tx) error {
		n, err := tx.CountOrders(ctx, task.UserID, task.VoucherID)
		if err != nil {
			return err
		}
		if n > 0 {
			out = OutcomeDuplicate
			return nil
		}

		ok, err := tx.DecrementStock(ctx, task.VoucherID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrStockExhausted
		}

		return tx.InsertOrder(ctx, &mysqldb.EntityVoucherOrder{
			ID:        task.OrderID,
			UserID:    task.UserID,
			VoucherID: task.VoucherID,
		})
	})
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, mysqldb.ErrDuplicateKey):
		// lost a race with another writer for the same user; the decrement rolled back
		return OutcomeDuplicate, nil
	case errors.Is(err, ErrStockExhausted):
		return OutcomeAbandoned, err
	}
	return OutcomeAbandoned, unavailable(err, "persist order")
}
