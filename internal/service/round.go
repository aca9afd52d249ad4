package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"color-server/common"
	"color-server/common/logger"
	infrds "color-server/internal/infra/redis"
	"color-server/internal/metrics"
	"color-server/internal/model"
	"color-server/internal/state"
	"color-server/internal/store"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	// 快照缓存只缓存对局与投注量，剩余时间读取时计算
	snapshotL1TTL    = 300 * time.Millisecond
	snapshotRedisTTL = time.Second
	resultRedisTTL   = 10 * time.Minute
)

// 操作人
const (
	OperatorSystem = "system"
	OperatorAdmin  = "admin"
)

// Snapshot 赛道当前局快照
type Snapshot struct {
	RoundID     string `json:"round_id"`
	Track       string `json:"track"`
	Period      int64  `json:"period"`
	State       string `json:"state"`
	OpenTime    int64  `json:"open_time"`
	LockTime    int64  `json:"lock_time"`
	RemainingMs int64  `json:"remaining_ms"`
	BetCount    int64  `json:"bet_count"`
	BetVolume   int64  `json:"bet_volume"`
	Flagged     bool   `json:"flagged"`
}

// RoundService 对局生命周期：开局、封盘、开奖、归档、标记
type RoundService struct {
	store store.Store
	opts  options
	cache *gocache.Cache
}

func NewRoundService(st store.Store, opts ...Option) *RoundService {
	return &RoundService{
		store: st,
		opts:  buildOptions(opts),
		cache: gocache.New(snapshotL1TTL, time.Minute),
	}
}

// RoundID 形如 30s-00000042，赛道之间不会重复
func RoundID(track string, period int64) string { return fmt.Sprintf("%s-%08d", track, period) }

// OpenNextRound 赛道已有下注中的对局时返回 ErrConflict
func (s *RoundService) OpenNextRound(ctx context.Context, track string) (*model.Round, error) {
	tc, ok := s.opts.game().Track(track)
	if !ok {
		return nil, fmt.Errorf("%w: unknown track %q", ErrValidation, track)
	}
	start := time.Now()
	var r *model.Round
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if open, err := tx.FindOpenRound(ctx, track, store.LockUpdate); err == nil {
			return fmt.Errorf("%w: round %s still open", ErrConflict, open.RoundID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		var period int64 = 1
		if last, err := tx.LatestRound(ctx, track); err == nil {
			period = last.Period + 1
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		now := s.opts.nowMs()
		r = &model.Round{
			RoundID:      RoundID(track, period),
			Track:        track,
			DurationMs:   tc.DurationMs,
			Period:       period,
			OpenTime:     now,
			LockTime:     now + tc.DurationMs,
			State:        state.CodeOpen,
			ResultNumber: model.NoResult,
			Version:      1,
			TraceID:      logger.GetTraceID(ctx),
			CreatedAt:    now,
		}
		if err := tx.InsertRound(ctx, r); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("%w: round %s already exists", ErrConflict, r.RoundID)
			}
			return err
		}
		if err := emit(ctx, tx, TopicRoundOpened, r.RoundID, roundPayload(r), now); err != nil {
			return err
		}
		return audit(ctx, tx, r, evtOpen, "", OperatorSystem, "scheduler", nil, now)
	})
	metrics.RecordTransition(track, evtOpen, err, start)
	if err != nil {
		return nil, storageErr(err)
	}
	s.invalidate(ctx, track)
	logger.InfoCtx(ctx, "[Round] opened",
		zap.String("round_id", r.RoundID), zap.String("track", track),
		zap.Int64("period", r.Period), zap.Int64("lock_time", r.LockTime))
	return r, nil
}

// LockRound 封盘；已封盘或更靠后的状态直接返回（幂等）
func (s *RoundService) LockRound(ctx context.Context, roundID, operator, source string) (*model.Round, error) {
	return s.advance(ctx, roundID, state.EvtLock, operator, source, func(r *model.Round) (bool, error) {
		if r.State >= state.CodeLocked {
			return false, nil
		}
		return true, nil
	})
}

// DrawRound 开奖并持久化结果；已有结果时不重新开奖
func (s *RoundService) DrawRound(ctx context.Context, roundID, operator string) (*model.Round, error) {
	return s.advance(ctx, roundID, state.EvtDraw, operator, "scheduler", func(r *model.Round) (bool, error) {
		if r.State >= state.CodeDrawn || r.HasResult() {
			return false, nil
		}
		if r.State != state.CodeLocked {
			return false, fmt.Errorf("%w: round %s is %s", ErrConflict, r.RoundID, r.StateName())
		}
		res, err := s.opts.gen.Draw(ctx)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrDraw, err)
		}
		r.SetResult(res)
		r.DrawTime = s.opts.nowMs()
		return true, nil
	})
}

// ArchiveRound 已结算 → 已归档
func (s *RoundService) ArchiveRound(ctx context.Context, roundID, operator string) (*model.Round, error) {
	return s.advance(ctx, roundID, state.EvtArchive, operator, "scheduler", func(r *model.Round) (bool, error) {
		if r.State == state.CodeArchived {
			return false, nil
		}
		if r.State != state.CodeSettled {
			return false, fmt.Errorf("%w: round %s is %s", ErrConflict, r.RoundID, r.StateName())
		}
		return true, nil
	})
}

// advance 排他锁读取对局，prepare 返回 false 表示无需推进（幂等返回当前对局）
func (s *RoundService) advance(ctx context.Context, roundID, evt, operator, source string,
	prepare func(r *model.Round) (bool, error)) (*model.Round, error) {
	start := time.Now()
	var (
		r     *model.Round
		moved bool
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		r, err = tx.GetRound(ctx, roundID, store.LockUpdate)
		if err != nil {
			return roundNotFound(err, roundID)
		}
		if moved, err = prepare(r); err != nil || !moved {
			return err
		}
		prev := r.StateName()
		next, err := state.NextState(prev, evt)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		now := s.opts.nowMs()
		r.State = state.ToCode(next)
		r.UpdatedAt = now
		if err := tx.UpdateRound(ctx, r, r.Version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return fmt.Errorf("%w: round %s changed concurrently", ErrConflict, roundID)
			}
			return err
		}
		if topic, ok := eventTopic[evt]; ok {
			if err := emit(ctx, tx, topic, r.RoundID, roundPayload(r), now); err != nil {
				return err
			}
		}
		return audit(ctx, tx, r, evt, prev, operator, source, nil, now)
	})
	track := ""
	if r != nil {
		track = r.Track
	}
	if err != nil {
		metrics.RecordTransition(track, evt, err, start)
		return nil, storageErr(err)
	}
	if !moved {
		return r, nil
	}
	metrics.RecordTransition(track, evt, nil, start)
	s.invalidate(ctx, r.Track)
	if evt == state.EvtDraw {
		metrics.RecordDraw(r.Track, int(r.ResultNumber), r.ResultColor)
		s.cacheResult(ctx, r)
	}
	logger.InfoCtx(ctx, "[Round] "+evt,
		zap.String("round_id", r.RoundID), zap.String("state", r.StateName()),
		zap.String("operator", operator), zap.String("source", source))
	return r, nil
}

// FlagRound 结算重试耗尽，标记待人工处理
func (s *RoundService) FlagRound(ctx context.Context, roundID, reason string) (*model.Round, error) {
	return s.setFlag(ctx, roundID, 1, reason)
}

// ClearFlag 人工处理完成
func (s *RoundService) ClearFlag(ctx context.Context, roundID string) (*model.Round, error) {
	return s.setFlag(ctx, roundID, 0, "")
}

func (s *RoundService) setFlag(ctx context.Context, roundID string, flagged int8, reason string) (*model.Round, error) {
	if len(reason) > 255 {
		reason = reason[:255]
	}
	var r *model.Round
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		r, err = tx.GetRound(ctx, roundID, store.LockUpdate)
		if err != nil {
			return roundNotFound(err, roundID)
		}
		if r.Flagged == flagged {
			return nil
		}
		now := s.opts.nowMs()
		r.Flagged, r.FlagReason, r.UpdatedAt = flagged, reason, now
		if err := tx.UpdateRound(ctx, r, r.Version); err != nil {
			return err
		}
		evt := "flag"
		if flagged == 0 {
			evt = "unflag"
		}
		return audit(ctx, tx, r, evt, r.StateName(), OperatorSystem, "settle_pipeline", map[string]any{"reason": reason}, now)
	})
	if err != nil {
		return nil, storageErr(err)
	}
	s.invalidate(ctx, r.Track)
	return r, nil
}

// Get 查询单局
func (s *RoundService) Get(ctx context.Context, roundID string) (*model.Round, error) {
	var r *model.Round
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		r, err = tx.GetRound(ctx, roundID, store.LockNone)
		return roundNotFound(err, roundID)
	})
	return r, storageErr(err)
}

// OpenRound 赛道当前下注中的对局，没有时返回 nil
func (s *RoundService) OpenRound(ctx context.Context, track string) (*model.Round, error) {
	var r *model.Round
	err := s.store.View(ctx, func(tx store.Tx) error {
		got, err := tx.FindOpenRound(ctx, track, store.LockNone)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		r = got
		return err
	})
	return r, storageErr(err)
}

// Latest 赛道最新一局，没有时返回 nil
func (s *RoundService) Latest(ctx context.Context, track string) (*model.Round, error) {
	var r *model.Round
	err := s.store.View(ctx, func(tx store.Tx) error {
		got, err := tx.LatestRound(ctx, track)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		r = got
		return err
	})
	return r, storageErr(err)
}

// Unfinished 未归档的对局（按期号升序），用于崩溃恢复
func (s *RoundService) Unfinished(ctx context.Context, track string) ([]model.Round, error) {
	var out []model.Round
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListUnfinishedRounds(ctx, track)
		return err
	})
	return out, storageErr(err)
}

// History 最近已开奖结果
func (s *RoundService) History(ctx context.Context, track string, limit int) ([]model.Round, error) {
	if _, ok := s.opts.game().Track(track); !ok {
		return nil, fmt.Errorf("%w: unknown track %q", ErrValidation, track)
	}
	limit = clampLimit(limit)
	var out []model.Round
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListRecentRounds(ctx, track, limit)
		return err
	})
	return out, storageErr(err)
}

// Snapshot 每条赛道当前局：优先下注中的对局，否则最新一局
// 读取顺序：进程内缓存 → Redis → 存储；remaining_ms 每次按当前时间计算
func (s *RoundService) Snapshot(ctx context.Context) ([]Snapshot, error) {
	tracks := s.opts.game().Tracks
	out := make([]Snapshot, 0, len(tracks))
	now := s.opts.nowMs()
	for _, tc := range tracks {
		snap, err := s.trackSnapshot(ctx, tc.Name)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			out = append(out, Snapshot{Track: tc.Name})
			continue
		}
		if snap.State == state.StateOpen && snap.LockTime > now {
			snap.RemainingMs = snap.LockTime - now
		} else {
			snap.RemainingMs = 0
		}
		out = append(out, *snap)
	}
	return out, nil
}

func (s *RoundService) trackSnapshot(ctx context.Context, track string) (*Snapshot, error) {
	if v, ok := s.cache.Get(track); ok {
		snap := v.(Snapshot)
		return &snap, nil
	}
	rdb := infrds.Client()
	if rdb != nil {
		if bs, _ := rdb.Get(ctx, infrds.RoundSnapshotKey(track)).Bytes(); len(bs) > 0 {
			var snap Snapshot
			if common.JsonUnmarshal(bs, &snap) == nil {
				s.cache.SetDefault(track, snap)
				return &snap, nil
			}
		}
	}

	var snap *Snapshot
	err := s.store.View(ctx, func(tx store.Tx) error {
		r, err := tx.FindOpenRound(ctx, track, store.LockNone)
		if errors.Is(err, store.ErrNotFound) {
			r, err = tx.LatestRound(ctx, track)
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		count, volume, err := tx.RoundVolume(ctx, r.RoundID)
		if err != nil {
			return err
		}
		snap = &Snapshot{
			RoundID:   r.RoundID,
			Track:     r.Track,
			Period:    r.Period,
			State:     r.StateName(),
			OpenTime:  r.OpenTime,
			LockTime:  r.LockTime,
			BetCount:  count,
			BetVolume: volume,
			Flagged:   r.Flagged == 1,
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	if snap == nil {
		return nil, nil
	}
	s.cache.SetDefault(track, *snap)
	if rdb != nil {
		if b, err := common.JsonMarshal(snap); err == nil {
			_ = rdb.Set(ctx, infrds.RoundSnapshotKey(track), b, snapshotRedisTTL).Err()
		}
	}
	return snap, nil
}

// invalidate 状态变化后清理快照缓存
func (s *RoundService) invalidate(ctx context.Context, track string) {
	s.cache.Delete(track)
	if rdb := infrds.Client(); rdb != nil {
		if err := rdb.Del(ctx, infrds.RoundSnapshotKey(track)).Err(); err != nil {
			logger.WarnCtx(ctx, "[Round] snapshot invalidate failed", zap.String("track", track), zap.Error(err))
		}
	}
}

func (s *RoundService) cacheResult(ctx context.Context, r *model.Round) {
	rdb := infrds.Client()
	if rdb == nil {
		return
	}
	res, ok := r.Result()
	if !ok {
		return
	}
	if b, err := common.JsonMarshal(res); err == nil {
		_ = rdb.Set(ctx, infrds.RoundResultKey(r.RoundID), b, resultRedisTTL).Err()
	}
}
