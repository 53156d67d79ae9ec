package service

import (
	"context"
	"time"

	"github.com/anchel/voucher-seckill/metrics"
)

// OrderTask is an admitted order waiting to be written to MySQL.
type OrderTask struct {
	OrderID    int64     `json:"order_id"`
	UserID     int64     `json:"user_id"`
	VoucherID  int64     `json:"voucher_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// OrderQueue is a bounded in-process FIFO between admission and the
// persistence workers.
type OrderQueue struct {
	ch             chan *OrderTask
	enqueueTimeout time.Duration
}

func NewOrderQueue(size int, enqueueTimeout time.Duration) *OrderQueue {
	return &OrderQueue{
		ch:             make(chan *OrderTask, size),
		enqueueTimeout: enqueueTimeout,
	}
}

// Enqueue waits at most the configured timeout for room and reports whether
// the task was accepted.
func (q *OrderQueue) Enqueue(ctx context.Context, task *OrderTask) bool {
	select {
	case q.ch <- task:
		metrics.QueueDepth.Inc()
		return true
	default:
	}

	timer := time.NewTimer(q.enqueueTimeout)
	defer timer.Stop()

	select {
	case q.ch <- task:
		metrics.QueueDepth.Inc()
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Dequeue blocks until a task is available or ctx is done.
func (q *OrderQueue) Dequeue(ctx context.Context) (*OrderTask, bool) {
	select {
	case task := <-q.ch:
		metrics.QueueDepth.Dec()
		return task, true
	case <-ctx.Done():
		return nil, false
	}
}

func (q *OrderQueue) TryDequeue() (*OrderTask, bool) {
	select {
	case task := <-q.ch:
		metrics.QueueDepth.Dec()
		return task, true
	default:
		return nil, false
	}
}

func (q *OrderQueue) Len() int {
	return len(q.ch)
}
