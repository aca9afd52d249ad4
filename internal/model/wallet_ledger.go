package model

import (
	"context"
	"time"

	"color-server/common"

	g "github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// 账本业务类型
const (
	BizBet    = 1
	BizSettle = 2
	BizAdjust = 4
)

// WalletLedger 对应 wallet_ledger 表（追加式账本，只插入不修改）
// amount 带符号：下注为负，派彩与加款为正
type WalletLedger struct {
	ID           int64  `db:"id" json:"id"`
	UserID       int64  `db:"user_id" json:"user_id"`
	BizType      int    `db:"biz_type" json:"biz_type"`
	BizTypeStr   string `db:"biz_type_str" json:"biz_type_str"`
	Amount       int64  `db:"amount" json:"amount"`
	BeforeAmount int64  `db:"before_amount" json:"before_amount"`
	AfterAmount  int64  `db:"after_amount" json:"after_amount"`
	BetID        string `db:"bet_id" json:"bet_id"`
	RoundID      string `db:"round_id" json:"round_id"`
	Remark       string `db:"remark" json:"remark"`
	TraceID      string `db:"trace_id" json:"-"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
}

func BizTypeName(code int) string {
	switch code {
	case BizBet:
		return "bet"
	case BizSettle:
		return "settle"
	case BizAdjust:
		return "adjust"
	}
	return ""
}

// InsertLedger 新增一条账本记录（biz_type 数值码与字符串双写）
func InsertLedger(ctx context.Context, exec sqlx.ExtContext, l *WalletLedger) error {
	if l.CreatedAt == 0 {
		l.CreatedAt = time.Now().UnixMilli()
	}
	if l.BizTypeStr == "" {
		l.BizTypeStr = BizTypeName(l.BizType)
	}
	res, err := common.InsertCtx(ctx, exec, "wallet_ledger", g.Record{
		"user_id":       l.UserID,
		"biz_type":      l.BizType,
		"biz_type_str":  l.BizTypeStr,
		"amount":        l.Amount,
		"before_amount": l.BeforeAmount,
		"after_amount":  l.AfterAmount,
		"bet_id":        l.BetID,
		"round_id":      l.RoundID,
		"remark":        l.Remark,
		"trace_id":      l.TraceID,
		"created_at":    l.CreatedAt,
	})
	if err != nil {
		return err
	}
	l.ID, _ = res.LastInsertId()
	return nil
}

// ListLedger 玩家最近的账变
func ListLedger(ctx context.Context, exec sqlx.ExtContext, userID int64, limit uint) ([]WalletLedger, error) {
	ds := common.Dialect().From("wallet_ledger").
		Select("id", "user_id", "biz_type", "biz_type_str", "amount", "before_amount", "after_amount",
			"bet_id", "round_id", "remark", "trace_id", "created_at").
		Where(g.C("user_id").Eq(userID)).
		Order(g.C("id").Desc()).
		Limit(limit)
	var list []WalletLedger
	if err := common.SelectCtx(ctx, exec, &list, ds); err != nil {
		return nil, err
	}
	return list, nil
}
