package service

import (
	"context"
	"fmt"
	"strings"

	"color-server/common/logger"
	"color-server/internal/model"
	"color-server/internal/state"
	"color-server/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminService 运营操作：强制封盘、结算重试、广播、调账
type AdminService struct {
	store    store.Store
	rounds   *RoundService
	pipeline *Pipeline
	wallets  *WalletService
	opts     options
	notify   func(track string)
}

func NewAdminService(st store.Store, rounds *RoundService, pipeline *Pipeline, wallets *WalletService, opts ...Option) *AdminService {
	return &AdminService{
		store:    st,
		rounds:   rounds,
		pipeline: pipeline,
		wallets:  wallets,
		opts:     buildOptions(opts),
		notify:   func(string) {},
	}
}

// SetNotifier 调度器注册唤醒回调，强制封盘、重试结算后立即唤醒对应赛道
func (s *AdminService) SetNotifier(fn func(track string)) {
	if fn != nil {
		s.notify = fn
	}
}

// ForceEndRound 立即封盘赛道当前局，后续开奖结算仍由调度器完成
// expectRoundID 非空时只作用于该局：已封盘或更靠后直接返回，不会误封调度器刚开的下一局；
// 为空时作用于当前下注中的对局，最新一局已封盘时幂等返回
func (s *AdminService) ForceEndRound(ctx context.Context, track, expectRoundID string) (*model.Round, error) {
	if _, ok := s.opts.game().Track(track); !ok {
		return nil, fmt.Errorf("%w: unknown track %q", ErrValidation, track)
	}
	var target *model.Round
	if expectRoundID != "" {
		r, err := s.rounds.Get(ctx, expectRoundID)
		if err != nil {
			return nil, err
		}
		if r.Track != track {
			return nil, fmt.Errorf("%w: round %s is not on track %s", ErrValidation, expectRoundID, track)
		}
		if r.State >= state.CodeLocked {
			return r, nil
		}
		target = r
	} else {
		open, err := s.rounds.OpenRound(ctx, track)
		if err != nil {
			return nil, err
		}
		if open == nil {
			last, err := s.rounds.Latest(ctx, track)
			if err != nil {
				return nil, err
			}
			if last != nil && last.State == state.CodeLocked {
				return last, nil
			}
			return nil, fmt.Errorf("%w: no open round on track %s", ErrConflict, track)
		}
		target = open
	}
	r, err := s.rounds.LockRound(ctx, target.RoundID, OperatorAdmin, "force_end")
	if err != nil {
		return nil, err
	}
	logger.InfoCtx(ctx, "[Admin] force end", zap.String("track", track), zap.String("round_id", r.RoundID))
	s.notify(track)
	return r, nil
}

// RetrySettlement 人工重试被标记的对局：流水线跑完后清除标记并恢复赛道
func (s *AdminService) RetrySettlement(ctx context.Context, roundID string) (*model.Round, error) {
	r, err := s.rounds.Get(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if r.State == state.CodeOpen {
		return nil, fmt.Errorf("%w: round %s is still open", ErrConflict, roundID)
	}
	if _, err := s.pipeline.Run(ctx, roundID, OperatorAdmin); err != nil {
		logger.ErrorCtx(ctx, "[Admin] retry settlement failed", zap.String("round_id", roundID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSettlementStalled, err)
	}
	if r, err = s.rounds.ClearFlag(ctx, roundID); err != nil {
		return nil, err
	}
	logger.InfoCtx(ctx, "[Admin] retry settlement done", zap.String("round_id", roundID))
	s.notify(r.Track)
	return r, nil
}

// Broadcast 透传给发布端（outbox topic broadcast）
func (s *AdminService) Broadcast(ctx context.Context, message string, data map[string]any) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("%w: message required", ErrValidation)
	}
	payload := map[string]any{"message": message}
	if len(data) > 0 {
		payload["data"] = data
	}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return emit(ctx, tx, TopicBroadcast, uuid.NewString(), payload, s.opts.nowMs())
	})
	return storageErr(err)
}

// AdjustWallet 运营调账
func (s *AdminService) AdjustWallet(ctx context.Context, userID, amount int64, remark string) (*model.WalletLedger, error) {
	return s.wallets.Adjust(ctx, userID, amount, remark, OperatorAdmin)
}
