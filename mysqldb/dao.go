package mysqldb

import (
	"context"
	"database/sql"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
)

var ErrNoRows = errors.New("mysqldb: no rows")

func noRows(err error, nilIsError bool) bool {
	return errors.Is(err, sql.ErrNoRows) && !nilIsError
}

// LoadVoucher returns nil, nil for an unknown id unless nilIsError is set.
func (s *Store) LoadVoucher(ctx context.Context, id int64, nilIsError bool) (*EntityVoucher, error) {
	var v EntityVoucher
	err := s.db.QueryRowContext(ctx, "SELECT id, shop_id, title, stock, begin_time, end_time, created_at FROM seckill_voucher WHERE id = ?", id).
		Scan(&v.ID, &v.ShopID, &v.Title, &v.Stock, &v.BeginTime, &v.EndTime, &v.CreatedAt)
	if err != nil {
		if noRows(err, nilIsError) {
			return nil, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Mark(err, ErrNoRows)
		}
		log.Error("mysqldb dao LoadVoucher", "err", err)
		return nil, err
	}
	return &v, nil
}

func (s *Store) InsertVoucher(ctx context.Context, v *EntityVoucher) (int64, error) {
	result, err := s.db.ExecContext(ctx, "INSERT INTO seckill_voucher (shop_id, title, stock, begin_time, end_time) VALUES (?, ?, ?, ?, ?)",
		v.ShopID, v.Title, v.Stock, v.BeginTime, v.EndTime)
	if err != nil {
		log.Error("mysqldb dao InsertVoucher", "err", err)
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) QueryShopByID(ctx context.Context, id int64, nilIsError bool) (*EntityShop, error) {
	var shop EntityShop
	err := s.db.QueryRowContext(ctx, "SELECT id, name, type_id, address, avg_price, score, updated_at FROM shop WHERE id = ?", id).
		Scan(&shop.ID, &shop.Name, &shop.TypeID, &shop.Address, &shop.AvgPrice, &shop.Score, &shop.UpdatedAt)
	if err != nil {
		if noRows(err, nilIsError) {
			return nil, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Mark(err, ErrNoRows)
		}
		log.Error("mysqldb dao QueryShopByID", "err", err)
		return nil, err
	}
	return &shop, nil
}

func (s *Store) InsertShop(ctx context.Context, shop *EntityShop) (int64, error) {
	result, err := s.db.ExecContext(ctx, "INSERT INTO shop (name, type_id, address, avg_price, score) VALUES (?, ?, ?, ?, ?)",
		shop.Name, shop.TypeID, shop.Address, shop.AvgPrice, shop.Score)
	if err != nil {
		log.Error("mysqldb dao InsertShop", "err", err)
		return 0, err
	}
	return result.LastInsertId()
}

// UpdateShop reports ErrNoRows when no shop has shop.ID.
func (s *Store) UpdateShop(ctx context.Context, shop *EntityShop) error {
	result, err := s.db.ExecContext(ctx, "UPDATE shop SET name = ?, type_id = ?, address = ?, avg_price = ?, score = ? WHERE id = ?",
		shop.Name, shop.TypeID, shop.Address, shop.AvgPrice, shop.Score, shop.ID)
	if err != nil {
		log.Error("mysqldb dao UpdateShop", "err", err)
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports 0 for an unchanged row too; tell the two apart
		if _, err := s.QueryShopByID(ctx, shop.ID, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) QueryOrder(ctx context.Context, userID, voucherID int64, nilIsError bool) (*EntityVoucherOrder, error) {
	var order EntityVoucherOrder
	err := s.db.QueryRowContext(ctx, "SELECT id, user_id, voucher_id, created_at FROM voucher_order WHERE user_id = ? AND voucher_id = ?", userID, voucherID).
		Scan(&order.ID, &order.UserID, &order.VoucherID, &order.CreatedAt)
	if err != nil {
		if noRows(err, nilIsError) {
			return nil, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Mark(err, ErrNoRows)
		}
		log.Error("mysqldb dao QueryOrder", "err", err)
		return nil, err
	}
	return &order, nil
}
