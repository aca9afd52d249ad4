package model

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// SettlementLog 结算日志表，round_id 唯一索引防止重复结算
type SettlementLog struct {
	ID           int64  `db:"id" json:"id"`
	RoundID      string `db:"round_id" json:"round_id"`
	ResultNumber int8   `db:"result_number" json:"result_number"`
	TotalBets    int    `db:"total_bets" json:"total_bets"`
	Winners      int    `db:"winners" json:"winners"`
	TotalStake   int64  `db:"total_stake" json:"total_stake"`
	TotalPayout  int64  `db:"total_payout" json:"total_payout"`
	Operator     string `db:"operator" json:"operator"`
	TraceID      string `db:"trace_id" json:"trace_id"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
}

// CreateSettlementLog 唯一键冲突说明该局已经结算过
func CreateSettlementLog(ctx context.Context, exec sqlx.ExtContext, l *SettlementLog) error {
	if l.CreatedAt == 0 {
		l.CreatedAt = time.Now().UnixMilli()
	}
	sqlStr := `INSERT INTO settlement_log (round_id, result_number, total_bets, winners, total_stake, total_payout, operator, trace_id, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := exec.ExecContext(ctx, sqlStr, l.RoundID, l.ResultNumber, l.TotalBets, l.Winners, l.TotalStake, l.TotalPayout,
		l.Operator, l.TraceID, l.CreatedAt)
	if err != nil {
		return err
	}
	l.ID, _ = res.LastInsertId()
	return nil
}

// UpdateSettlementTotals 结算完成后回写汇总
func UpdateSettlementTotals(ctx context.Context, exec sqlx.ExtContext, l *SettlementLog) error {
	sqlStr := "UPDATE settlement_log SET total_bets = ?, winners = ?, total_stake = ?, total_payout = ? WHERE round_id = ?"
	_, err := exec.ExecContext(ctx, sqlStr, l.TotalBets, l.Winners, l.TotalStake, l.TotalPayout, l.RoundID)
	return err
}

func GetSettlementLog(ctx context.Context, exec sqlx.ExtContext, roundID string) (*SettlementLog, error) {
	sqlStr := `SELECT id, round_id, result_number, total_bets, winners, total_stake, total_payout, operator, trace_id, created_at
	           FROM settlement_log WHERE round_id = ? LIMIT 1`
	var l SettlementLog
	if err := sqlx.GetContext(ctx, exec, &l, sqlStr, roundID); err != nil {
		return nil, err
	}
	return &l, nil
}
