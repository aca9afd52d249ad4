// Package store 持久化抽象：所有对局、注单、钱包、账本写入都在 WithTx 的事务内完成
package store

import (
	"context"
	"errors"

	"color-server/internal/model"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrDuplicate       = errors.New("store: duplicate key")
	ErrVersionConflict = errors.New("store: version conflict")
)

// LockMode 行锁模式
type LockMode int

const (
	LockNone   LockMode = iota
	LockShare           // LOCK IN SHARE MODE，投注期间持有
	LockUpdate          // FOR UPDATE，状态推进与结算持有
)

func (m LockMode) clause() string {
	switch m {
	case LockShare:
		return "share"
	case LockUpdate:
		return "update"
	}
	return ""
}

// Tx 单个事务内可用的操作
// 条件写在未命中时返回 ErrVersionConflict，唯一键冲突返回 ErrDuplicate
type Tx interface {
	InsertRound(ctx context.Context, r *model.Round) error
	GetRound(ctx context.Context, roundID string, lock LockMode) (*model.Round, error)
	FindOpenRound(ctx context.Context, track string, lock LockMode) (*model.Round, error)
	LatestRound(ctx context.Context, track string) (*model.Round, error)
	ListUnfinishedRounds(ctx context.Context, track string) ([]model.Round, error)
	UpdateRound(ctx context.Context, r *model.Round, expectVersion int64) error
	ListRecentRounds(ctx context.Context, track string, limit int) ([]model.Round, error)

	InsertBet(ctx context.Context, b *model.Bet) error
	GetBetByIdempotencyKey(ctx context.Context, userID int64, key string) (*model.Bet, error)
	ListBetsForRound(ctx context.Context, roundID string, lock LockMode) ([]model.Bet, error)
	CountUserBets(ctx context.Context, roundID string, userID int64, kind, value string) (int, error)
	SettleBet(ctx context.Context, betID string, outcome int8, payout, settledAt int64) error
	RoundVolume(ctx context.Context, roundID string) (count int64, stake int64, err error)
	ListUserBets(ctx context.Context, userID int64, limit int) ([]model.Bet, error)

	GetWallet(ctx context.Context, userID int64, lock LockMode) (*model.Wallet, error)
	InsertWallet(ctx context.Context, w *model.Wallet) error
	UpdateWalletBalance(ctx context.Context, userID, balance, expectVersion, now int64) error
	InsertLedger(ctx context.Context, l *model.WalletLedger) error
	ListLedger(ctx context.Context, userID int64, limit int) ([]model.WalletLedger, error)

	InsertSettlementLog(ctx context.Context, l *model.SettlementLog) error
	UpdateSettlementTotals(ctx context.Context, l *model.SettlementLog) error
	GetSettlementLog(ctx context.Context, roundID string) (*model.SettlementLog, error)

	InsertOutbox(ctx context.Context, o *model.Outbox) error
	ListOutboxPending(ctx context.Context, limit int) ([]model.OutboxRow, error)
	MarkOutboxSent(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, lastError string) error

	InsertRoundEvent(ctx context.Context, e *model.RoundEventAudit) error
}

// Store fn 返回错误时整个事务回滚
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// View 只读访问，不保证跨语句一致
	View(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
