package service

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// VoucherWindow is the part of a voucher admission needs on every request.
type VoucherWindow struct {
	ID        int64
	BeginTime time.Time
	EndTime   time.Time
}

func (w *VoucherWindow) Open(t time.Time) bool {
	return !t.Before(w.BeginTime) && !t.After(w.EndTime)
}

// VoucherWindowCache keeps windows in process memory so hot vouchers skip
// Redis on the admission path.
type VoucherWindowCache struct {
	m sync.Map
}

func (c *VoucherWindowCache) Load(voucherID int64) (*VoucherWindow, bool) {
	v, ok := c.m.Load(voucherID)
	if !ok {
		return nil, false
	}
	return v.(*VoucherWindow), true
}

func (c *VoucherWindowCache) Store(w *VoucherWindow) {
	c.m.Store(w.ID, w)
}

func (c *VoucherWindowCache) Clear() {
	c.m.Clear()
}

// Run clears the cache every interval until ctx is done.
func (c *VoucherWindowCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("clear local voucher window cache")
			c.Clear()
		}
	}
}
