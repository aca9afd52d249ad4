package model

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// RoundEventAudit 对应 round_event_audit 表（状态机审计）
// prev_state/next_state 使用字符串快照，便于直观查询
type RoundEventAudit struct {
	ID        int64  `db:"id"`
	RoundID   string `db:"round_id"`
	Track     string `db:"track"`
	Event     string `db:"event"`
	PrevState string `db:"prev_state"`
	NextState string `db:"next_state"`
	Operator  string `db:"operator"` // system | admin
	Source    string `db:"source"`   // scheduler | force_end | retry_settle ...
	Payload   string `db:"payload"`
	TraceID   string `db:"trace_id"`
	CreatedAt int64  `db:"created_at"`
}

func InsertRoundEvent(ctx context.Context, exec sqlx.ExtContext, e *RoundEventAudit) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	sqlStr := "INSERT INTO round_event_audit (round_id, track, event, prev_state, next_state, operator, source, payload, trace_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	res, err := exec.ExecContext(ctx, sqlStr, e.RoundID, e.Track, e.Event, e.PrevState, e.NextState, e.Operator, e.Source, e.Payload, e.TraceID, e.CreatedAt)
	if err != nil {
		return err
	}
	e.ID, _ = res.LastInsertId()
	return nil
}
