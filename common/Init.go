package common

import (
	"time"

	"color-server/common/logger"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// InitDB 初始化主库连接；DSN 需带 ?，如 user:pwd@tcp(127.0.0.1:3306)/color?charset=utf8mb4
func InitDB(dsn string, maxIdleConn, maxOpenConn int, connMaxLifetime time.Duration) *sqlx.DB {
	db, err := sqlx.Connect("mysql", dsn+"&parseTime=true&loc=Local")
	if err != nil {
		logger.Fatalf("InitDB sqlx.Connect", zap.Error(err))
	}

	// 连接池参数
	if maxOpenConn > 0 {
		db.SetMaxOpenConns(maxOpenConn)
	}
	if maxIdleConn > 0 {
		db.SetMaxIdleConns(maxIdleConn)
	}
	if connMaxLifetime <= 0 {
		connMaxLifetime = 2 * time.Minute
	}
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(1 * time.Minute)

	// 会话级超时，降低锁等待时长
	if _, err := db.Exec("SET SESSION innodb_lock_wait_timeout = ?", 5); err != nil {
		logger.Warn("SET innodb_lock_wait_timeout failed", zap.Error(err))
	}

	if err := db.Ping(); err != nil {
		logger.Fatalf("InitDB failed:", zap.Error(err))
	}
	return db
}
