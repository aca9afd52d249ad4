package common

import (
	"context"
	"database/sql"

	g "github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

var dialect = g.Dialect("mysql")

// Dialect 返回 mysql 方言的 goqu 构造器，供动态查询使用
func Dialect() g.DialectWrapper { return dialect }

// InsertCtx：在 sqlx.ExtContext 上执行 INSERT，保持 goqu 生成的占位符与 args
func InsertCtx(ctx context.Context, exec sqlx.ExtContext, table string, rows ...interface{}) (sql.Result, error) {
	query, args, err := dialect.Insert(table).Prepared(true).Rows(rows...).ToSQL()
	if err != nil {
		return nil, err
	}
	return exec.ExecContext(ctx, query, args...)
}

// UpdateCtx：在 sqlx.ExtContext 上执行 UPDATE
func UpdateCtx(ctx context.Context, exec sqlx.ExtContext, table string, record g.Record, ex ...exp.Expression) (sql.Result, error) {
	query, args, err := dialect.Update(table).Prepared(true).Set(record).Where(ex...).ToSQL()
	if err != nil {
		return nil, err
	}
	return exec.ExecContext(ctx, query, args...)
}

// SelectCtx：执行 goqu 构造的查询并扫描到 data（切片指针）
func SelectCtx(ctx context.Context, exec sqlx.ExtContext, data interface{}, ds *g.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, exec, data, query, args...)
}
