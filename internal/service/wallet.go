package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"color-server/common/logger"
	"color-server/internal/model"
	"color-server/internal/store"

	"go.uber.org/zap"
)

// 钱包乐观锁冲突时整笔事务的重试次数
const walletRetryAttempts = 3

// WalletService 余额查询与运营调账；下注扣款、派彩入账在各自事务内调用 debit/credit
type WalletService struct {
	store store.Store
	opts  options
}

func NewWalletService(st store.Store, opts ...Option) *WalletService {
	return &WalletService{store: st, opts: buildOptions(opts)}
}

// Balance 钱包不存在时返回零余额（不落库）
func (s *WalletService) Balance(ctx context.Context, userID int64) (*model.Wallet, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id required", ErrValidation)
	}
	var w *model.Wallet
	err := s.store.View(ctx, func(tx store.Tx) error {
		got, err := tx.GetWallet(ctx, userID, store.LockNone)
		if errors.Is(err, store.ErrNotFound) {
			w = &model.Wallet{UserID: userID, Status: model.WalletActive}
			return nil
		}
		w = got
		return err
	})
	return w, storageErr(err)
}

// Ledger 最近账变
func (s *WalletService) Ledger(ctx context.Context, userID int64, limit int) ([]model.WalletLedger, error) {
	limit = clampLimit(limit)
	var out []model.WalletLedger
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListLedger(ctx, userID, limit)
		return err
	})
	return out, storageErr(err)
}

// Adjust 运营加/扣款，钱包不存在时自动开户；amount 为带符号的最小货币单位
func (s *WalletService) Adjust(ctx context.Context, userID, amount int64, remark, operator string) (*model.WalletLedger, error) {
	if userID <= 0 || amount == 0 {
		return nil, fmt.Errorf("%w: user_id and non-zero amount required", ErrValidation)
	}
	var entry *model.WalletLedger
	err := withVersionRetry(ctx, func() error {
		return s.store.WithTx(ctx, func(tx store.Tx) error {
			now := s.opts.nowMs()
			w, err := tx.GetWallet(ctx, userID, store.LockUpdate)
			if errors.Is(err, store.ErrNotFound) {
				w = &model.Wallet{UserID: userID, Status: model.WalletActive, CreatedAt: now}
				if err = tx.InsertWallet(ctx, w); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			if amount > 0 && w.Balance > math.MaxInt64-amount {
				return fmt.Errorf("%w: balance overflow", ErrValidation)
			}
			after := w.Balance + amount
			if after < 0 {
				return fmt.Errorf("%w: balance %d, adjust %d", ErrInsufficientFunds, w.Balance, amount)
			}
			if err := tx.UpdateWalletBalance(ctx, userID, after, w.Version, now); err != nil {
				return err
			}
			entry = &model.WalletLedger{
				UserID:       userID,
				BizType:      model.BizAdjust,
				BizTypeStr:   model.BizTypeName(model.BizAdjust),
				Amount:       amount,
				BeforeAmount: w.Balance,
				AfterAmount:  after,
				Remark:       remark,
				TraceID:      logger.GetTraceID(ctx),
				CreatedAt:    now,
			}
			return tx.InsertLedger(ctx, entry)
		})
	})
	if err != nil {
		return nil, storageErr(err)
	}
	logger.InfoCtx(ctx, "[Wallet] adjust",
		zap.Int64("user_id", userID), zap.Int64("amount", amount),
		zap.Int64("after", entry.AfterAmount), zap.String("operator", operator))
	return entry, nil
}

// debit 事务内扣款，返回扣款前后余额
func debit(ctx context.Context, tx store.Tx, userID, amount, now int64) (before, after int64, err error) {
	w, err := tx.GetWallet(ctx, userID, store.LockUpdate)
	if errors.Is(err, store.ErrNotFound) {
		return 0, 0, fmt.Errorf("%w: no wallet for user %d", ErrInsufficientFunds, userID)
	}
	if err != nil {
		return 0, 0, err
	}
	if w.Status != model.WalletActive {
		return 0, 0, fmt.Errorf("%w: wallet disabled", ErrValidation)
	}
	if w.Balance < amount {
		return 0, 0, fmt.Errorf("%w: balance %d, stake %d", ErrInsufficientFunds, w.Balance, amount)
	}
	after = w.Balance - amount
	if err := tx.UpdateWalletBalance(ctx, userID, after, w.Version, now); err != nil {
		return 0, 0, err
	}
	return w.Balance, after, nil
}

// credit 事务内入账，派彩时钱包必须存在
func credit(ctx context.Context, tx store.Tx, userID, amount, now int64) (before, after int64, err error) {
	w, err := tx.GetWallet(ctx, userID, store.LockUpdate)
	if errors.Is(err, store.ErrNotFound) {
		return 0, 0, fmt.Errorf("%w: no wallet for user %d", ErrLedger, userID)
	}
	if err != nil {
		return 0, 0, err
	}
	if amount > math.MaxInt64-w.Balance {
		return 0, 0, fmt.Errorf("%w: balance overflow for user %d", ErrLedger, userID)
	}
	after = w.Balance + amount
	if err := tx.UpdateWalletBalance(ctx, userID, after, w.Version, now); err != nil {
		return 0, 0, err
	}
	return w.Balance, after, nil
}

// withVersionRetry 乐观锁冲突时重跑整个事务
func withVersionRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < walletRetryAttempts; i++ {
		if err = fn(); !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		logger.DebugCtx(ctx, "[Wallet] version conflict, retrying", zap.Int("attempt", i+1))
	}
	return fmt.Errorf("%w: %w", ErrConflict, err)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	}
	return limit
}
