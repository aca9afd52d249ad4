package model

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Outbox 对应 outbox 表（事务消息表），与业务写入同一事务
// status: 1=待发送 2=已发送 3=失败
type Outbox struct {
	ID         int64  `db:"id"`
	Topic      string `db:"topic"`
	BizKey     string `db:"biz_key"` // 业务键（消费端去重用）
	Payload    string `db:"payload"` // JSON
	Status     int8   `db:"status"`
	RetryCount int    `db:"retry_count"`
	LastError  string `db:"last_error"`
	CreatedAt  int64  `db:"created_at"`
	UpdatedAt  int64  `db:"updated_at"`
}

const (
	OutboxPending int8 = 1
	OutboxSent    int8 = 2
	OutboxFailed  int8 = 3

	// OutboxMaxRetry 达到后不再重试
	OutboxMaxRetry = 10
)

// InsertOutbox 插入一条 Outbox 记录（状态 1）
func InsertOutbox(ctx context.Context, exec sqlx.ExtContext, o *Outbox) error {
	now := o.CreatedAt
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	sqlStr := "INSERT INTO outbox (topic, biz_key, payload, status, retry_count, last_error, created_at, updated_at) VALUES (?, ?, ?, ?, 0, '', ?, ?)"
	res, err := exec.ExecContext(ctx, sqlStr, o.Topic, o.BizKey, o.Payload, OutboxPending, now, now)
	if err != nil {
		return err
	}
	o.ID, _ = res.LastInsertId()
	o.Status = OutboxPending
	o.CreatedAt, o.UpdatedAt = now, now
	return nil
}

// OutboxRow 是分发器扫描用的轻量投影
type OutboxRow struct {
	ID         int64  `db:"id"`
	Topic      string `db:"topic"`
	BizKey     string `db:"biz_key"`
	Payload    string `db:"payload"`
	RetryCount int    `db:"retry_count"`
}

// ListOutboxPending 查询 status=1 且 retry_count < 10 的记录
func ListOutboxPending(ctx context.Context, exec sqlx.ExtContext, limit int) ([]OutboxRow, error) {
	sqlStr := "SELECT id, topic, biz_key, payload, retry_count FROM outbox WHERE status = ? AND retry_count < ? ORDER BY id ASC LIMIT ?"
	var list []OutboxRow
	if err := sqlx.SelectContext(ctx, exec, &list, sqlStr, OutboxPending, OutboxMaxRetry, limit); err != nil {
		return nil, err
	}
	return list, nil
}

// MarkOutboxSent 标记为已发送
func MarkOutboxSent(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	sqlStr := "UPDATE outbox SET status = ?, updated_at = ? WHERE id = ?"
	_, err := exec.ExecContext(ctx, sqlStr, OutboxSent, time.Now().UnixMilli(), id)
	return err
}

// MarkOutboxFailed 记录失败；retry_count 达到上限时置为永久失败（status=3）
func MarkOutboxFailed(ctx context.Context, exec sqlx.ExtContext, id int64, lastError string) error {
	sqlStr := "UPDATE outbox SET status = CASE WHEN retry_count >= ? THEN ? ELSE ? END, last_error = ?, retry_count = retry_count + 1, updated_at = ? WHERE id = ?"
	_, err := exec.ExecContext(ctx, sqlStr, OutboxMaxRetry-1, OutboxFailed, OutboxPending, lastError, time.Now().UnixMilli(), id)
	return err
}
