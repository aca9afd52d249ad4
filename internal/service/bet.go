package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"color-server/common"
	"color-server/common/helper"
	"color-server/common/logger"
	"color-server/internal/config"
	"color-server/internal/game"
	infrds "color-server/internal/infra/redis"
	"color-server/internal/metrics"
	"color-server/internal/model"
	"color-server/internal/state"
	"color-server/internal/store"

	"go.uber.org/zap"
)

const (
	// Redis 进行中锁 TTL，覆盖一次下注事务即可
	idemLockTTL = 15 * time.Second
	// 结果缓存 TTL：重复请求直接返回第一次成功结果
	idemResultTTL = time.Minute
)

// PlaceBetInput 下注参数；IdempotencyKey 可选
type PlaceBetInput struct {
	UserID         int64
	RoundID        string
	Kind           string
	Value          string
	Stake          int64
	IdempotencyKey string
}

type PlaceBetOutput struct {
	Bet     model.Bet `json:"bet"`
	Balance int64     `json:"balance"`
	// Replayed 为 true 表示命中幂等，返回的是首次下注结果
	Replayed bool `json:"replayed"`
}

// BetService 注单登记
type BetService struct {
	store store.Store
	opts  options
}

func NewBetService(st store.Store, opts ...Option) *BetService {
	return &BetService{store: st, opts: buildOptions(opts)}
}

// errIdemHit 事务内发现幂等键已存在，回滚后返回首单
var errIdemHit = errors.New("idempotency key already used")

// PlaceBet 下注主流程：
// 校验 → 幂等（Redis 锁 + 结果缓存，DB 唯一键兜底）→ 单事务内共享锁对局、扣款、记账、落注单、写 outbox
func (s *BetService) PlaceBet(ctx context.Context, in PlaceBetInput) (out *PlaceBetOutput, err error) {
	start := time.Now()
	in.Kind = strings.ToLower(strings.TrimSpace(in.Kind))
	in.Value = strings.ToLower(strings.TrimSpace(in.Value))
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	defer func() {
		if err != nil {
			metrics.RecordBet("fail", betFailReason(err), in.Kind, start)
			logger.WarnCtx(ctx, "[Bet] rejected",
				zap.Int64("user_id", in.UserID), zap.String("round_id", in.RoundID),
				zap.String("kind", in.Kind), zap.String("value", in.Value),
				zap.Int64("stake", in.Stake), zap.Error(err))
			return
		}
		metrics.RecordBet("success", "", in.Kind, start)
	}()

	cfg := s.opts.game()
	if err := validateBet(in, cfg); err != nil {
		return nil, err
	}

	if rdb := infrds.Client(); rdb != nil && in.IdempotencyKey != "" {
		if cached := s.cachedResult(ctx, in); cached != nil {
			return cached, nil
		}
		lock := infrds.NewLock(rdb, infrds.IdemLockKey(in.UserID, in.IdempotencyKey), idemLockTTL)
		ok, lerr := lock.TryAcquire(ctx)
		if lerr != nil {
			logger.WarnCtx(ctx, "[Bet] idempotency lock unavailable, falling back to db", zap.Error(lerr))
		} else if !ok {
			if cached := s.cachedResult(ctx, in); cached != nil {
				return cached, nil
			}
			return nil, ErrDuplicateInFlight
		} else {
			defer func() {
				if released, e := lock.Release(context.WithoutCancel(ctx)); e != nil || !released {
					logger.WarnCtx(ctx, "[Bet] idempotency lock release failed",
						zap.String("key", lock.Key()), zap.Bool("released", released), zap.Error(e))
				}
			}()
		}
	}

	if in.IdempotencyKey != "" {
		if prev, err := s.replay(ctx, in); err != nil || prev != nil {
			return prev, err
		}
	}

	// 预读对局，计算剩余时间并据此限定事务截止时间
	var round *model.Round
	if err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		round, err = tx.GetRound(ctx, in.RoundID, store.LockNone)
		return err
	}); err != nil {
		return nil, storageErr(roundNotFound(err, in.RoundID))
	}
	remaining, err := placementWindow(round, s.opts.nowMs(), cfg.PlacementBudgetMs)
	if err != nil {
		return nil, err
	}
	txCtx, cancel := context.WithTimeout(ctx, time.Duration(remaining)*time.Millisecond)
	defer cancel()

	var bet *model.Bet
	var balance int64
	err = withVersionRetry(txCtx, func() error {
		return s.store.WithTx(txCtx, func(tx store.Tx) error {
			var err error
			bet, balance, err = s.placeInTx(txCtx, tx, in, cfg)
			return err
		})
	})
	switch {
	case errors.Is(err, errIdemHit):
		prev, err := s.replay(ctx, in)
		if err == nil && prev == nil {
			err = fmt.Errorf("%w: idempotency key %s", ErrConflict, in.IdempotencyKey)
		}
		return prev, err
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, fmt.Errorf("%w: placement deadline reached", ErrRoundClosed)
	case err != nil:
		return nil, storageErr(err)
	}

	out = &PlaceBetOutput{Bet: *bet, Balance: balance}
	metrics.AddStake(bet.Track, bet.Kind, bet.Stake)
	logger.InfoCtx(ctx, "[Bet] placed",
		zap.String("bet_id", bet.BetID), zap.String("round_id", bet.RoundID),
		zap.Int64("user_id", bet.UserID), zap.String("kind", bet.Kind), zap.String("value", bet.Value),
		zap.Int64("stake", bet.Stake), zap.Int64("balance", balance))
	s.cacheResult(ctx, in, out)
	return out, nil
}

func (s *BetService) placeInTx(ctx context.Context, tx store.Tx, in PlaceBetInput, cfg config.GameConfig) (*model.Bet, int64, error) {
	// 共享锁持有到事务结束，封盘的排他写只能整体排在本次下注之前或之后
	round, err := tx.GetRound(ctx, in.RoundID, store.LockShare)
	if err != nil {
		return nil, 0, roundNotFound(err, in.RoundID)
	}
	now := s.opts.nowMs()
	if _, err := placementWindow(round, now, 0); err != nil {
		return nil, 0, err
	}

	if cfg.StakePolicy == config.StakePolicyReject {
		n, err := tx.CountUserBets(ctx, round.RoundID, in.UserID, in.Kind, in.Value)
		if err != nil {
			return nil, 0, err
		}
		if n > 0 {
			return nil, 0, fmt.Errorf("%w: already bet %s=%s in this round", ErrValidation, in.Kind, in.Value)
		}
	}

	if in.IdempotencyKey != "" {
		if _, err := tx.GetBetByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey); err == nil {
			return nil, 0, errIdemHit
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, 0, err
		}
	}

	mult, _ := game.Multiplier(in.Kind, in.Value)
	before, after, err := debit(ctx, tx, in.UserID, in.Stake, now)
	if err != nil {
		return nil, 0, err
	}

	bet := &model.Bet{
		BetID:          generateBetID(s.opts.now(), in.UserID),
		RoundID:        round.RoundID,
		Track:          round.Track,
		UserID:         in.UserID,
		Kind:           in.Kind,
		Value:          in.Value,
		Stake:          in.Stake,
		Multiplier:     mult,
		Outcome:        model.OutcomePending,
		IdempotencyKey: in.IdempotencyKey,
		TraceID:        logger.GetTraceID(ctx),
		PlacedAt:       now,
	}
	if err := tx.InsertLedger(ctx, &model.WalletLedger{
		UserID:       in.UserID,
		BizType:      model.BizBet,
		BizTypeStr:   model.BizTypeName(model.BizBet),
		Amount:       -in.Stake,
		BeforeAmount: before,
		AfterAmount:  after,
		BetID:        bet.BetID,
		RoundID:      round.RoundID,
		Remark:       "bet deduct",
		TraceID:      bet.TraceID,
		CreatedAt:    now,
	}); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrLedger, err)
	}
	if err := tx.InsertBet(ctx, bet); err != nil {
		// 注单号碰撞或并发占用同一幂等键：重跑事务，重跑时幂等检查会命中
		if errors.Is(err, store.ErrDuplicate) {
			return nil, 0, fmt.Errorf("%w: %w", store.ErrVersionConflict, err)
		}
		return nil, 0, err
	}
	if err := emit(ctx, tx, TopicBetPlaced, bet.BetID, map[string]any{
		"bet_id":     bet.BetID,
		"round_id":   bet.RoundID,
		"track":      bet.Track,
		"user_id":    bet.UserID,
		"kind":       bet.Kind,
		"value":      bet.Value,
		"stake":      bet.Stake,
		"multiplier": bet.Multiplier,
		"placed_at":  bet.PlacedAt,
	}, now); err != nil {
		return nil, 0, err
	}
	return bet, after, nil
}

// ListBetsForRound 某局全部注单
func (s *BetService) ListBetsForRound(ctx context.Context, roundID string) ([]model.Bet, error) {
	var out []model.Bet
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetRound(ctx, roundID, store.LockNone); err != nil {
			return roundNotFound(err, roundID)
		}
		var err error
		out, err = tx.ListBetsForRound(ctx, roundID, store.LockNone)
		return err
	})
	return out, storageErr(err)
}

// UserBets 用户最近注单
func (s *BetService) UserBets(ctx context.Context, userID int64, limit int) ([]model.Bet, error) {
	limit = clampLimit(limit)
	var out []model.Bet
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListUserBets(ctx, userID, limit)
		return err
	})
	return out, storageErr(err)
}

// replay 按幂等键回源首单；未找到返回 nil, nil
func (s *BetService) replay(ctx context.Context, in PlaceBetInput) (*PlaceBetOutput, error) {
	var out *PlaceBetOutput
	err := s.store.View(ctx, func(tx store.Tx) error {
		b, err := tx.GetBetByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = &PlaceBetOutput{Bet: *b, Replayed: true}
		if w, err := tx.GetWallet(ctx, in.UserID, store.LockNone); err == nil {
			out.Balance = w.Balance
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	if out != nil {
		logger.InfoCtx(ctx, "[Bet] idempotent replay",
			zap.String("bet_id", out.Bet.BetID), zap.String("idem_key", in.IdempotencyKey))
		s.cacheResult(ctx, in, out)
	}
	return out, nil
}

func (s *BetService) cachedResult(ctx context.Context, in PlaceBetInput) *PlaceBetOutput {
	bs, _ := infrds.Client().Get(ctx, infrds.IdemResultKey(in.UserID, in.IdempotencyKey)).Bytes()
	if len(bs) == 0 {
		return nil
	}
	var out PlaceBetOutput
	if common.JsonUnmarshal(bs, &out) != nil {
		return nil
	}
	out.Replayed = true
	return &out
}

// cacheResult 写 Redis 结果缓存（降级容错）
func (s *BetService) cacheResult(ctx context.Context, in PlaceBetInput, out *PlaceBetOutput) {
	rdb := infrds.Client()
	if rdb == nil || in.IdempotencyKey == "" {
		return
	}
	if b, err := common.JsonMarshal(out); err == nil {
		_ = rdb.Set(ctx, infrds.IdemResultKey(in.UserID, in.IdempotencyKey), b, idemResultTTL).Err()
	}
}

func validateBet(in PlaceBetInput, cfg config.GameConfig) error {
	switch {
	case in.UserID <= 0:
		return fmt.Errorf("%w: user_id required", ErrValidation)
	case in.RoundID == "":
		return fmt.Errorf("%w: round_id required", ErrValidation)
	case !game.IsLegal(in.Kind, in.Value):
		return fmt.Errorf("%w: illegal selection %s=%s", ErrValidation, in.Kind, in.Value)
	case in.Stake <= 0:
		return fmt.Errorf("%w: stake must be positive", ErrValidation)
	case in.Stake < cfg.MinStake:
		return fmt.Errorf("%w: stake below minimum %d", ErrValidation, cfg.MinStake)
	case cfg.MaxStake > 0 && in.Stake > cfg.MaxStake:
		return fmt.Errorf("%w: stake above maximum %d", ErrValidation, cfg.MaxStake)
	case in.Stake > game.MaxSafeStake():
		return fmt.Errorf("%w: stake above maximum %d", ErrValidation, game.MaxSafeStake())
	case len(in.IdempotencyKey) > 64:
		return fmt.Errorf("%w: idempotency_key too long", ErrValidation)
	}
	return nil
}

// placementWindow 返回距封盘的剩余毫秒；未开放、已到封盘时间或不足 budget 均视为已封盘
func placementWindow(r *model.Round, now, budgetMs int64) (int64, error) {
	if r.State != state.CodeOpen {
		return 0, fmt.Errorf("%w: round %s is %s", ErrRoundClosed, r.RoundID, r.StateName())
	}
	remaining := r.LockTime - now
	if remaining <= 0 || remaining < budgetMs {
		return 0, fmt.Errorf("%w: round %s locks in %dms", ErrRoundClosed, r.RoundID, remaining)
	}
	return remaining, nil
}

// generateBetID 生成可读注单号
// 格式：CG{yyyyMMddHHmmss}{user_id 后 4 位}{3 位随机十六进制}
func generateBetID(now time.Time, userID int64) string {
	return fmt.Sprintf("CG%s%04d%s", now.Format("20060102150405"), userID%10000, helper.RandHex(3))
}

func betFailReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRoundClosed):
		return "closed"
	case errors.Is(err, ErrInsufficientFunds):
		return "funds"
	case errors.Is(err, ErrRoundNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateInFlight):
		return "in_flight"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "storage"
}
