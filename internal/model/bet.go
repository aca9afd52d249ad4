package model

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// 注单结果
const (
	OutcomePending int8 = 1
	OutcomeWon     int8 = 2
	OutcomeLost    int8 = 3
)

// Bet 对应 color_bet 表
// kind: color|number|size；multiplier 下注时锁定，结算不再查表
// idempotency_key 与 user_id 组成唯一索引，为空时入库为 NULL
type Bet struct {
	ID             int64  `db:"id" json:"-"`
	BetID          string `db:"bet_id" json:"bet_id"`
	RoundID        string `db:"round_id" json:"round_id"`
	Track          string `db:"track" json:"track"`
	UserID         int64  `db:"user_id" json:"user_id"`
	Kind           string `db:"kind" json:"kind"`
	Value          string `db:"value" json:"value"`
	Stake          int64  `db:"stake" json:"stake"`
	Multiplier     int64  `db:"multiplier" json:"multiplier"`
	Outcome        int8   `db:"outcome" json:"outcome"`
	Payout         int64  `db:"payout" json:"payout"`
	IdempotencyKey string `db:"idempotency_key" json:"idempotency_key,omitempty"`
	TraceID        string `db:"trace_id" json:"-"`
	PlacedAt       int64  `db:"placed_at" json:"placed_at"`
	SettledAt      int64  `db:"settled_at" json:"settled_at"`
	CreatedAt      int64  `db:"created_at" json:"-"`
	UpdatedAt      int64  `db:"updated_at" json:"-"`
}

func OutcomeName(c int8) string {
	switch c {
	case OutcomePending:
		return "pending"
	case OutcomeWon:
		return "won"
	case OutcomeLost:
		return "lost"
	}
	return ""
}

const betColumns = `id, bet_id, round_id, track, user_id, kind, value, stake, multiplier, outcome, payout,
	COALESCE(idempotency_key, '') AS idempotency_key, trace_id, placed_at, settled_at, created_at, updated_at`

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// InsertBet 插入注单
func InsertBet(ctx context.Context, exec sqlx.ExtContext, b *Bet) error {
	now := b.PlacedAt
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	sqlStr := `INSERT INTO color_bet (bet_id, round_id, track, user_id, kind, value, stake, multiplier, outcome, payout,
		idempotency_key, trace_id, placed_at, settled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, 0, ?, ?)`
	res, err := exec.ExecContext(ctx, sqlStr, b.BetID, b.RoundID, b.Track, b.UserID, b.Kind, b.Value, b.Stake, b.Multiplier,
		OutcomePending, nullable(b.IdempotencyKey), b.TraceID, now, now, now)
	if err != nil {
		return err
	}
	b.ID, _ = res.LastInsertId()
	b.Outcome = OutcomePending
	b.CreatedAt, b.UpdatedAt = now, now
	return nil
}

// GetBetByIdempotencyKey 幂等查询
func GetBetByIdempotencyKey(ctx context.Context, exec sqlx.ExtContext, userID int64, key string) (*Bet, error) {
	sqlStr := "SELECT " + betColumns + " FROM color_bet WHERE user_id = ? AND idempotency_key = ?"
	var b Bet
	if err := sqlx.GetContext(ctx, exec, &b, sqlStr, userID, key); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBetsByRound 按局号查询全部注单，结算时带 FOR UPDATE
func ListBetsByRound(ctx context.Context, exec sqlx.ExtContext, roundID, lock string) ([]Bet, error) {
	sqlStr := "SELECT " + betColumns + " FROM color_bet WHERE round_id = ? ORDER BY id ASC" + lockClause(lock)
	var list []Bet
	if err := sqlx.SelectContext(ctx, exec, &list, sqlStr, roundID); err != nil {
		return nil, err
	}
	return list, nil
}

// CountUserBets 同一局同一玩家同一选项的注单数（不叠加策略用）
func CountUserBets(ctx context.Context, exec sqlx.ExtContext, roundID string, userID int64, kind, value string) (int, error) {
	var n int
	sqlStr := "SELECT COUNT(1) FROM color_bet WHERE round_id = ? AND user_id = ? AND kind = ? AND value = ?"
	err := sqlx.GetContext(ctx, exec, &n, sqlStr, roundID, userID, kind, value)
	return n, err
}

// SettleBet 只更新待结算注单，返回影响行数
func SettleBet(ctx context.Context, exec sqlx.ExtContext, betID string, outcome int8, payout, settledAt int64) (int64, error) {
	sqlStr := "UPDATE color_bet SET outcome = ?, payout = ?, settled_at = ?, updated_at = ? WHERE bet_id = ? AND outcome = ?"
	res, err := exec.ExecContext(ctx, sqlStr, outcome, payout, settledAt, settledAt, betID, OutcomePending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RoundVolume 注单数与总下注额
func RoundVolume(ctx context.Context, exec sqlx.ExtContext, roundID string) (int64, int64, error) {
	var r struct {
		Count int64 `db:"cnt"`
		Stake int64 `db:"stake"`
	}
	sqlStr := "SELECT COUNT(1) AS cnt, COALESCE(SUM(stake), 0) AS stake FROM color_bet WHERE round_id = ?"
	if err := sqlx.GetContext(ctx, exec, &r, sqlStr, roundID); err != nil {
		return 0, 0, err
	}
	return r.Count, r.Stake, nil
}

// ListUserBets 玩家最近的注单
func ListUserBets(ctx context.Context, exec sqlx.ExtContext, userID int64, limit int) ([]Bet, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	sqlStr := "SELECT " + betColumns + " FROM color_bet WHERE user_id = ? ORDER BY id DESC LIMIT ?"
	var list []Bet
	if err := sqlx.SelectContext(ctx, exec, &list, sqlStr, userID, limit); err != nil {
		return nil, err
	}
	return list, nil
}
