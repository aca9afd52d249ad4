package model

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Wallet 对应 wallet 表，余额为最小货币单位，version 用于乐观锁
// status: 1=正常 0=冻结
type Wallet struct {
	UserID    int64 `db:"user_id" json:"user_id"`
	Balance   int64 `db:"balance" json:"balance"`
	Version   int64 `db:"version" json:"version"`
	Status    int8  `db:"status" json:"status"`
	CreatedAt int64 `db:"created_at" json:"-"`
	UpdatedAt int64 `db:"updated_at" json:"updated_at"`
}

const (
	WalletDisabled int8 = 0
	WalletActive   int8 = 1
)

func GetWallet(ctx context.Context, exec sqlx.ExtContext, userID int64, lock string) (*Wallet, error) {
	sqlStr := "SELECT user_id, balance, version, status, created_at, updated_at FROM wallet WHERE user_id = ?" + lockClause(lock)
	var w Wallet
	if err := sqlx.GetContext(ctx, exec, &w, sqlStr, userID); err != nil {
		return nil, err
	}
	return &w, nil
}

func InsertWallet(ctx context.Context, exec sqlx.ExtContext, w *Wallet) error {
	now := w.CreatedAt
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	sqlStr := "INSERT INTO wallet (user_id, balance, version, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)"
	if _, err := exec.ExecContext(ctx, sqlStr, w.UserID, w.Balance, w.Version, w.Status, now, now); err != nil {
		return err
	}
	w.CreatedAt, w.UpdatedAt = now, now
	return nil
}

// UpdateWalletBalance 条件写（version 匹配），返回影响行数；balance 列为 unsigned
func UpdateWalletBalance(ctx context.Context, exec sqlx.ExtContext, userID, balance, expectVersion, now int64) (int64, error) {
	sqlStr := "UPDATE wallet SET balance = ?, version = version + 1, updated_at = ? WHERE user_id = ? AND version = ?"
	res, err := exec.ExecContext(ctx, sqlStr, balance, now, userID, expectVersion)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
