package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"color-server/common/logger"
	"color-server/internal/game"
	"color-server/internal/metrics"
	"color-server/internal/model"
	"color-server/internal/state"
	"color-server/internal/store"

	"go.uber.org/zap"
)

// SettleSummary 一局结算汇总
type SettleSummary struct {
	RoundID     string      `json:"round_id"`
	Track       string      `json:"track"`
	Result      game.Result `json:"result"`
	TotalBets   int         `json:"total_bets"`
	Winners     int         `json:"winners"`
	TotalStake  int64       `json:"total_stake"`
	TotalPayout int64       `json:"total_payout"`
}

// SettleService 结算引擎，每局只结算一次
type SettleService struct {
	store store.Store
	opts  options
}

func NewSettleService(st store.Store, opts ...Option) *SettleService {
	return &SettleService{store: st, opts: buildOptions(opts)}
}

// Settle 单事务内完成：锁对局 → 写结算日志（唯一键防重）→ 判定每笔待结算注单 →
// 按用户汇总派彩入账并逐笔记账 → 对局置为已结算 → outbox round_settled → 审计。
// 已结算或已归档返回 ErrAlreadySettled；任何错误整体回滚。
func (s *SettleService) Settle(ctx context.Context, roundID, operator string) (sum *SettleSummary, err error) {
	start := time.Now()
	track := ""
	defer func() {
		switch {
		case err == nil:
			metrics.RecordSettle(track, "success", start)
		case errors.Is(err, ErrAlreadySettled):
			metrics.RecordSettle(track, "already_settled", start)
		default:
			metrics.RecordSettle(track, "fail", start)
		}
	}()

	var won, lost int
	err = withVersionRetry(ctx, func() error {
		return s.store.WithTx(ctx, func(tx store.Tx) error {
			var err error
			sum, won, lost, err = s.settleInTx(ctx, tx, roundID, operator)
			if sum != nil {
				track = sum.Track
			}
			return err
		})
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadySettled) {
			logger.ErrorCtx(ctx, "[Settle] failed", zap.String("round_id", roundID), zap.Error(err))
		}
		return nil, storageErr(err)
	}

	metrics.AddSettled(sum.Track, won, lost, sum.TotalPayout)
	logger.InfoCtx(ctx, "[Settle] done",
		zap.String("round_id", roundID), zap.Int("result", sum.Result.Number),
		zap.Int("bets", sum.TotalBets), zap.Int("winners", sum.Winners),
		zap.Int64("stake", sum.TotalStake), zap.Int64("payout", sum.TotalPayout))
	return sum, nil
}

func (s *SettleService) settleInTx(ctx context.Context, tx store.Tx, roundID, operator string) (*SettleSummary, int, int, error) {
	r, err := tx.GetRound(ctx, roundID, store.LockUpdate)
	if err != nil {
		return nil, 0, 0, roundNotFound(err, roundID)
	}
	sum := &SettleSummary{RoundID: r.RoundID, Track: r.Track}
	if r.State >= state.CodeSettled {
		return sum, 0, 0, fmt.Errorf("%w: %s", ErrAlreadySettled, roundID)
	}
	res, ok := r.Result()
	if r.State != state.CodeDrawn || !ok {
		return sum, 0, 0, fmt.Errorf("%w: round %s is %s without result", ErrConflict, roundID, r.StateName())
	}
	sum.Result = res
	now := s.opts.nowMs()

	slog := &model.SettlementLog{
		RoundID:      r.RoundID,
		ResultNumber: r.ResultNumber,
		Operator:     operator,
		TraceID:      logger.GetTraceID(ctx),
		CreatedAt:    now,
	}
	if err := tx.InsertSettlementLog(ctx, slog); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return sum, 0, 0, fmt.Errorf("%w: %s", ErrAlreadySettled, roundID)
		}
		return sum, 0, 0, err
	}

	bets, err := tx.ListBetsForRound(ctx, roundID, store.LockUpdate)
	if err != nil {
		return sum, 0, 0, err
	}
	winners := make(map[int64][]model.Bet)
	var lost int
	for _, b := range bets {
		sum.TotalBets++
		sum.TotalStake += b.Stake
		if b.Outcome != model.OutcomePending {
			continue
		}
		outcome, payout := model.OutcomeLost, int64(0)
		if res.Wins(b.Kind, b.Value) {
			outcome, payout = model.OutcomeWon, b.Stake*b.Multiplier
		}
		if err := tx.SettleBet(ctx, b.BetID, outcome, payout, now); err != nil {
			return sum, 0, 0, err
		}
		if outcome == model.OutcomeLost {
			lost++
			continue
		}
		b.Payout = payout
		winners[b.UserID] = append(winners[b.UserID], b)
		sum.Winners++
		sum.TotalPayout += payout
	}

	// 固定用户顺序加锁，避免并发结算间死锁
	users := make([]int64, 0, len(winners))
	for uid := range winners {
		users = append(users, uid)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	for _, uid := range users {
		if err := payWinner(ctx, tx, uid, winners[uid], now); err != nil {
			return sum, 0, 0, err
		}
	}

	slog.TotalBets, slog.Winners = sum.TotalBets, sum.Winners
	slog.TotalStake, slog.TotalPayout = sum.TotalStake, sum.TotalPayout
	if err := tx.UpdateSettlementTotals(ctx, slog); err != nil {
		return sum, 0, 0, err
	}

	prev := r.StateName()
	r.State = state.CodeSettled
	r.SettleTime = now
	r.UpdatedAt = now
	if err := tx.UpdateRound(ctx, r, r.Version); err != nil {
		return sum, 0, 0, err
	}
	payload := roundPayload(r)
	payload["total_bets"] = sum.TotalBets
	payload["winners"] = sum.Winners
	payload["total_stake"] = sum.TotalStake
	payload["total_payout"] = sum.TotalPayout
	if err := emit(ctx, tx, TopicRoundSettled, r.RoundID, payload, now); err != nil {
		return sum, 0, 0, err
	}
	if err := audit(ctx, tx, r, state.EvtSettle, prev, operator, "settle", map[string]any{
		"winners": sum.Winners, "total_payout": sum.TotalPayout,
	}, now); err != nil {
		return sum, 0, 0, err
	}
	return sum, sum.Winners, lost, nil
}

// Summary 读取结算日志，未结算返回 nil
func (s *SettleService) Summary(ctx context.Context, roundID string) (*model.SettlementLog, error) {
	var out *model.SettlementLog
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.GetSettlementLog(ctx, roundID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return out, storageErr(err)
}

// payWinner 一个用户一次版本化入账，每笔中奖注单一条账本
func payWinner(ctx context.Context, tx store.Tx, userID int64, bets []model.Bet, now int64) error {
	var total int64
	for _, b := range bets {
		if b.Payout > math.MaxInt64-total {
			return fmt.Errorf("%w: payout overflow for user %d", ErrLedger, userID)
		}
		total += b.Payout
	}
	before, _, err := credit(ctx, tx, userID, total, now)
	if err != nil {
		return err
	}
	running := before
	for _, b := range bets {
		l := &model.WalletLedger{
			UserID:       userID,
			BizType:      model.BizSettle,
			BizTypeStr:   model.BizTypeName(model.BizSettle),
			Amount:       b.Payout,
			BeforeAmount: running,
			AfterAmount:  running + b.Payout,
			BetID:        b.BetID,
			RoundID:      b.RoundID,
			Remark:       "settle payout",
			TraceID:      logger.GetTraceID(ctx),
			CreatedAt:    now,
		}
		if err := tx.InsertLedger(ctx, l); err != nil {
			return fmt.Errorf("%w: %w", ErrLedger, err)
		}
		running = l.AfterAmount
	}
	return nil
}
