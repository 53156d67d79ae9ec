package mysqldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/anchel/voucher-seckill/config"
	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
)

func Open(ctx context.Context, c config.Mysql) (*sql.DB, error) {
	conf := mysql.NewConfig()
	conf.Addr = c.Host
	conf.User = c.User
	conf.Passwd = c.Password
	conf.DBName = c.DB
	conf.Net = "tcp"
	conf.Loc = time.UTC
	conf.ParseTime = true

	db, err := sql.Open("mysql", conf.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping mysql")
	}
	return db, nil
}

// Store is the durable side of the service: vouchers, their stock, orders and
// shops.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS seckill_voucher (
		id BIGINT NOT NULL AUTO_INCREMENT,
		shop_id BIGINT NOT NULL,
		title VARCHAR(255) NOT NULL DEFAULT '',
		stock INT NOT NULL,
		begin_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS voucher_order (
		id BIGINT UNSIGNED NOT NULL,
		user_id BIGINT NOT NULL,
		voucher_id BIGINT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		UNIQUE KEY uk_user_voucher (user_id, voucher_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS shop (
		id BIGINT NOT NULL AUTO_INCREMENT,
		name VARCHAR(128) NOT NULL,
		type_id BIGINT NOT NULL DEFAULT 0,
		address VARCHAR(255) NOT NULL DEFAULT '',
		avg_price BIGINT NOT NULL DEFAULT 0,
		score INT NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id)
	) ENGINE=InnoDB`,
}

// Migrate creates the tables the service needs if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
