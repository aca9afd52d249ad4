package service

import (
	"context"
	"errors"
	"fmt"

	"color-server/internal/model"
	"color-server/internal/state"
)

// 结算流水线阶段
const (
	StageDraw    = "draw"
	StageSettle  = "settle"
	StageArchive = "archive"
)

// Pipeline 封盘后的流水线：开奖 → 结算 → 归档
// 每一步都是幂等的，从库中当前状态继续执行
type Pipeline struct {
	rounds *RoundService
	settle *SettleService
}

func NewPipeline(rounds *RoundService, settle *SettleService) *Pipeline {
	return &Pipeline{rounds: rounds, settle: settle}
}

// Stage 对局下一步要执行的阶段，已归档返回空
func Stage(r *model.Round) string {
	switch r.State {
	case state.CodeLocked:
		return StageDraw
	case state.CodeDrawn:
		return StageSettle
	case state.CodeSettled:
		return StageArchive
	}
	return ""
}

// Run 从对局当前阶段推进到归档；失败时返回出错阶段的错误，已完成的阶段不回退
func (p *Pipeline) Run(ctx context.Context, roundID, operator string) (*model.Round, error) {
	r, err := p.rounds.Get(ctx, roundID)
	if err != nil {
		return nil, err
	}
	for {
		switch Stage(r) {
		case StageDraw:
			r, err = p.rounds.DrawRound(ctx, roundID, operator)
		case StageSettle:
			if _, err = p.settle.Settle(ctx, roundID, operator); err == nil || errors.Is(err, ErrAlreadySettled) {
				r, err = p.rounds.Get(ctx, roundID)
			}
		case StageArchive:
			r, err = p.rounds.ArchiveRound(ctx, roundID, operator)
		default:
			if state.Terminal(r.State) {
				return r, nil
			}
			return r, fmt.Errorf("%w: round %s is %s", ErrConflict, roundID, r.StateName())
		}
		if err != nil {
			return r, err
		}
	}
}
