package mysqldb

import "time"

type EntityVoucher struct {
	ID        int64     `json:"id"`
	ShopID    int64     `json:"shop_id"`
	Title     string    `json:"title"`
	Stock     int64     `json:"stock"`
	BeginTime time.Time `json:"begin_time"`
	EndTime   time.Time `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
}

// Open reports whether t falls inside [BeginTime, EndTime].
func (v *EntityVoucher) Open(t time.Time) bool {
	return !t.Before(v.BeginTime) && !t.After(v.EndTime)
}

type EntityVoucherOrder struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	VoucherID int64     `json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}

type EntityShop struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	TypeID    int64     `json:"type_id"`
	Address   string    `json:"address"`
	AvgPrice  int64     `json:"avg_price"`
	Score     int32     `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}
