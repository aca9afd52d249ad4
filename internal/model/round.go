package model

import (
	"context"
	"time"

	"color-server/common"
	"color-server/internal/game"
	"color-server/internal/state"

	g "github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// Round 对应 color_round 表
// state: 1=下注中 2=已封盘 3=已开奖 4=已结算 5=已归档
// result_number: -1=未开奖；颜色、大小冗余存储便于查询
// lock_time 插入后不再更新
type Round struct {
	ID           int64  `db:"id" json:"-"`
	RoundID      string `db:"round_id" json:"round_id"`
	Track        string `db:"track" json:"track"`
	DurationMs   int64  `db:"duration_ms" json:"duration_ms"`
	Period       int64  `db:"period" json:"period"`
	OpenTime     int64  `db:"open_time" json:"open_time"`
	LockTime     int64  `db:"lock_time" json:"lock_time"`
	DrawTime     int64  `db:"draw_time" json:"draw_time"`
	SettleTime   int64  `db:"settle_time" json:"settle_time"`
	State        int8   `db:"state" json:"state"`
	ResultNumber int8   `db:"result_number" json:"result_number"`
	ResultColor  string `db:"result_color" json:"result_color"`
	ResultSize   string `db:"result_size" json:"result_size"`
	Flagged      int8   `db:"flagged" json:"flagged"`
	FlagReason   string `db:"flag_reason" json:"flag_reason"`
	Version      int64  `db:"version" json:"version"`
	TraceID      string `db:"trace_id" json:"-"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
	UpdatedAt    int64  `db:"updated_at" json:"updated_at"`
}

const NoResult int8 = -1

// HasResult 是否已写入开奖结果
func (r *Round) HasResult() bool { return r.ResultNumber >= 0 }

// Result 已开奖时返回结果
func (r *Round) Result() (game.Result, bool) {
	if !r.HasResult() {
		return game.Result{}, false
	}
	res, err := game.ResultOf(int(r.ResultNumber))
	return res, err == nil
}

// SetResult 写入开奖号码与推导值
func (r *Round) SetResult(res game.Result) {
	r.ResultNumber = int8(res.Number)
	r.ResultColor = res.Color
	r.ResultSize = res.Size
}

func (r *Round) StateName() string { return state.FromCode(r.State) }

const roundColumns = `id, round_id, track, duration_ms, period, open_time, lock_time, draw_time, settle_time,
	state, result_number, result_color, result_size, flagged, flag_reason, version, trace_id, created_at, updated_at`

// InsertRound 插入新局；(track, period) 与 round_id 均有唯一索引
func InsertRound(ctx context.Context, exec sqlx.ExtContext, r *Round) error {
	now := r.CreatedAt
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	sqlStr := `INSERT INTO color_round (round_id, track, duration_ms, period, open_time, lock_time, draw_time, settle_time,
		state, result_number, result_color, result_size, flagged, flag_reason, version, trace_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?, '', '', 0, '', ?, ?, ?, ?)`
	res, err := exec.ExecContext(ctx, sqlStr, r.RoundID, r.Track, r.DurationMs, r.Period, r.OpenTime, r.LockTime,
		r.State, NoResult, r.Version, r.TraceID, now, now)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	r.ResultNumber = NoResult
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

// lockClause 读锁后缀：投注持共享锁，状态推进持排他锁
func lockClause(lock string) string {
	switch lock {
	case "share":
		return " LOCK IN SHARE MODE"
	case "update":
		return " FOR UPDATE"
	}
	return ""
}

// GetRound 按局号读取，lock 取 ""/"share"/"update"
func GetRound(ctx context.Context, exec sqlx.ExtContext, roundID, lock string) (*Round, error) {
	sqlStr := "SELECT " + roundColumns + " FROM color_round WHERE round_id = ?" + lockClause(lock)
	var r Round
	if err := sqlx.GetContext(ctx, exec, &r, sqlStr, roundID); err != nil {
		return nil, err
	}
	return &r, nil
}

// FindOpenRound 查询赛道当前下注中的局
func FindOpenRound(ctx context.Context, exec sqlx.ExtContext, track, lock string) (*Round, error) {
	sqlStr := "SELECT " + roundColumns + " FROM color_round WHERE track = ? AND state = ? ORDER BY period DESC LIMIT 1" + lockClause(lock)
	var r Round
	if err := sqlx.GetContext(ctx, exec, &r, sqlStr, track, state.CodeOpen); err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestRound 赛道期号最大的一局
func LatestRound(ctx context.Context, exec sqlx.ExtContext, track string) (*Round, error) {
	sqlStr := "SELECT " + roundColumns + " FROM color_round WHERE track = ? ORDER BY period DESC LIMIT 1"
	var r Round
	if err := sqlx.GetContext(ctx, exec, &r, sqlStr, track); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListUnfinishedRounds 未归档的局，按期号升序（崩溃恢复用）
func ListUnfinishedRounds(ctx context.Context, exec sqlx.ExtContext, track string) ([]Round, error) {
	sqlStr := "SELECT " + roundColumns + " FROM color_round WHERE track = ? AND state < ? ORDER BY period ASC"
	var list []Round
	if err := sqlx.SelectContext(ctx, exec, &list, sqlStr, track, state.CodeArchived); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateRound 条件更新（version = expectVersion），返回影响行数
// lock_time/open_time/period 不在可更新字段内
func UpdateRound(ctx context.Context, exec sqlx.ExtContext, r *Round, expectVersion int64) (int64, error) {
	now := r.UpdatedAt
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	res, err := common.UpdateCtx(ctx, exec, "color_round", g.Record{
		"state":         r.State,
		"draw_time":     r.DrawTime,
		"settle_time":   r.SettleTime,
		"result_number": r.ResultNumber,
		"result_color":  r.ResultColor,
		"result_size":   r.ResultSize,
		"flagged":       r.Flagged,
		"flag_reason":   r.FlagReason,
		"version":       expectVersion + 1,
		"updated_at":    now,
	}, g.C("round_id").Eq(r.RoundID), g.C("version").Eq(expectVersion))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListRecentRounds 最近已开奖的局（历史走势），按期号倒序
func ListRecentRounds(ctx context.Context, exec sqlx.ExtContext, track string, limit uint) ([]Round, error) {
	ds := common.Dialect().From("color_round").
		Select(g.L(roundColumns)).
		Where(
			g.C("track").Eq(track),
			g.C("state").Gte(state.CodeDrawn),
			g.C("result_number").Gte(0),
		).
		Order(g.C("period").Desc()).
		Limit(limit)
	var list []Round
	if err := common.SelectCtx(ctx, exec, &list, ds); err != nil {
		return nil, err
	}
	return list, nil
}
