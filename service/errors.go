package service

import (
	"github.com/anchel/voucher-seckill/lib/lock"
	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrWindowClosed    = errors.New("voucher is outside its sale window")
	ErrNoStock         = errors.New("voucher sold out")
	ErrDuplicateOrder  = errors.New("user already ordered this voucher")
	ErrQueueFull       = errors.New("order queue full")
	ErrNoUser          = errors.New("no current user")
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStoreUnavailable marks failures talking to Redis or MySQL. The
	// original error stays in the chain.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStockExhausted is the durable decrement finding no stock after the
	// cache admitted the order.
	ErrStockExhausted       = errors.New("durable stock exhausted")
	ErrPersistenceAbandoned = errors.New("order persistence abandoned")

	ErrLockBusy = lock.ErrLockBusy
)

func unavailable(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrStoreUnavailable)
}
