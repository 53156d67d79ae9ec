package mysqldb

import (
	"context"
	"database/sql"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
)

const (
	mysqlErrDupEntry        = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

var (
	// ErrDuplicateKey marks inserts rejected by a unique key.
	ErrDuplicateKey = errors.New("mysqldb: duplicate key")
	// ErrRetryable marks failures that may succeed when the transaction is run again.
	ErrRetryable = errors.New("mysqldb: retryable")
)

// Tx is the set of writes an order persistence step performs atomically.
type Tx interface {
	CountOrders(ctx context.Context, userID, voucherID int64) (int64, error)
	// DecrementStock takes one unit if any remains and reports whether it did.
	DecrementStock(ctx context.Context, voucherID int64) (bool, error)
	InsertOrder(ctx context.Context, order *EntityVoucherOrder) error
}

type UnitOfWork interface {
	// Within commits when fn returns nil and rolls back otherwise.
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(errors.Wrap(err, "begin tx"))
	}

	err = fn(ctx, &orderTx{tx: sqlTx})
	if err == nil {
		if err = sqlTx.Commit(); err == nil {
			return nil
		}
		err = errors.Wrap(err, "commit tx")
	}

	if rerr := sqlTx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
		log.Warn("mysqldb Within Rollback", "err", rerr)
	}
	return classify(err)
}

func classify(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case mysqlErrDupEntry:
		return errors.Mark(err, ErrDuplicateKey)
	case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
		return errors.Mark(err, ErrRetryable)
	}
	return err
}

// Retryable reports whether running the transaction again may succeed.
// Connection failures carry no server error number and are retryable; of the
// server errors only deadlocks and lock wait timeouts are.
func Retryable(err error) bool {
	if errors.Is(err, ErrRetryable) {
		return true
	}
	var myErr *mysql.MySQLError
	return !errors.As(err, &myErr)
}

type orderTx struct {
	tx *sql.Tx
}

func (t *orderTx) CountOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM voucher_order WHERE user_id = ? AND voucher_id = ?", userID, voucherID).Scan(&n)
	if err != nil {
		log.Error("mysqldb tx CountOrders", "err", err)
		return 0, classify(err)
	}
	return n, nil
}

func (t *orderTx) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	result, err := t.tx.ExecContext(ctx, "UPDATE seckill_voucher SET stock = stock - 1 WHERE id = ? AND stock > 0", voucherID)
	if err != nil {
		log.Error("mysqldb tx DecrementStock", "err", err)
		return false, classify(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *orderTx) InsertOrder(ctx context.Context, order *EntityVoucherOrder) error {
	_, err := t.tx.ExecContext(ctx, "INSERT INTO voucher_order (id, user_id, voucher_id) VALUES (?, ?, ?)",
		order.ID, order.UserID, order.VoucherID)
	if err != nil {
		err = classify(err)
		if !errors.Is(err, ErrDuplicateKey) {
			log.Error("mysqldb tx InsertOrder", "err", err)
		}
		return err
	}
	return nil
}
