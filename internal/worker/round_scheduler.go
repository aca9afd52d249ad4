package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"color-server/common/logger"
	"color-server/internal/config"
	infrds "color-server/internal/infra/redis"
	"color-server/internal/metrics"
	"color-server/internal/model"
	"color-server/internal/service"
	"color-server/internal/state"

	"go.uber.org/zap"
)

// leaser 赛道主节点租约，*infrds.Lock 实现
type leaser interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) (bool, error)
}

// RoundScheduler 每条赛道一个 runner：开局 → 等待封盘 → 封盘 → 后台流水线（开奖/结算/归档）→ 开下一局
type RoundScheduler struct {
	rounds   *service.RoundService
	pipeline *service.Pipeline
	game     func() config.GameConfig
	newLease func(track string, ttl time.Duration) leaser

	mu      sync.Mutex
	runners map[string]*trackRunner
	wg      sync.WaitGroup
}

func NewRoundScheduler(rounds *service.RoundService, pipeline *service.Pipeline, game func() config.GameConfig) *RoundScheduler {
	s := &RoundScheduler{
		rounds:   rounds,
		pipeline: pipeline,
		game:     game,
		runners:  make(map[string]*trackRunner),
	}
	if rdb := infrds.Client(); rdb != nil {
		s.newLease = func(track string, ttl time.Duration) leaser {
			return infrds.NewLock(rdb, infrds.SchedLeaderKey(track), ttl)
		}
	}
	return s
}

// Start 为每条配置的赛道启动 runner
func (s *RoundScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tc := range s.game().Tracks {
		if _, ok := s.runners[tc.Name]; ok {
			continue
		}
		r := &trackRunner{
			track:    tc.Name,
			s:        s,
			kick:     make(chan struct{}, 1),
			prevDone: closedChan(),
		}
		if s.newLease != nil {
			r.lease = s.newLease(tc.Name, time.Duration(s.game().LeaderLeaseSec)*time.Second)
		}
		s.runners[tc.Name] = r
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			r.run(ctx)
		}()
		logger.Info("[Scheduler] track started", zap.String("track", tc.Name), zap.Int64("duration_ms", tc.DurationMs))
	}
}

// Wait 等待所有 runner 及其后台流水线退出
func (s *RoundScheduler) Wait() { s.wg.Wait() }

// Kick 唤醒赛道（强制封盘、人工重试后调用）
func (s *RoundScheduler) Kick(track string) {
	s.mu.Lock()
	r := s.runners[track]
	s.mu.Unlock()
	if r == nil {
		return
	}
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

var (
	errLeaseLost = errors.New("scheduler: leader lease lost")
	errHalted    = errors.New("scheduler: track halted on flagged round")
)

type trackRunner struct {
	track string
	s     *RoundScheduler
	kick  chan struct{}
	lease leaser

	leading   bool
	renewedAt time.Time

	// prevDone 上一局流水线结束时关闭
	prevDone <-chan struct{}

	haltMu sync.Mutex
	halted string // 被标记的对局，非空时不再开新局
}

func closedChan() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

func (r *trackRunner) run(ctx context.Context) {
	defer func() {
		if r.lease != nil && r.leading {
			_, _ = r.lease.Release(context.WithoutCancel(ctx))
		}
	}()
	recovered := false
	for ctx.Err() == nil {
		if !r.holdLease(ctx) {
			recovered = false
			r.sleep(ctx, r.leaseRetry())
			continue
		}
		if !recovered || r.haltedRound() != "" {
			if err := r.resume(ctx); err != nil {
				if !errors.Is(err, errHalted) && ctx.Err() == nil {
					logger.Error("[Scheduler] recovery failed", zap.String("track", r.track), zap.Error(err))
				}
				r.sleep(ctx, r.poll())
				continue
			}
			recovered = true
		}
		if err := r.cycle(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, errLeaseLost) {
				logger.Warn("[Scheduler] lease lost", zap.String("track", r.track))
				continue
			}
			logger.Error("[Scheduler] cycle failed", zap.String("track", r.track), zap.Error(err))
			r.sleep(ctx, r.poll())
		}
	}
	<-r.prevDone
}

// cycle 一局：确保有下注中的对局 → 等待封盘 → 封盘 → 后台流水线
func (r *trackRunner) cycle(ctx context.Context) error {
	ctx, _ = logger.EnsureTraceID(ctx)
	round, err := r.s.rounds.OpenRound(ctx, r.track)
	if err != nil {
		return err
	}
	if round == nil {
		if round, err = r.s.rounds.OpenNextRound(ctx, r.track); err != nil {
			if errors.Is(err, service.ErrConflict) {
				return nil
			}
			return err
		}
	}

	if err := r.waitLock(ctx, round); err != nil {
		return err
	}
	locked, err := r.s.rounds.LockRound(ctx, round.RoundID, service.OperatorSystem, "scheduler")
	if err != nil {
		return err
	}

	// 同一赛道最多一局在结算中
	select {
	case <-r.prevDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.haltedRound() != "" {
		return nil
	}
	done := make(chan struct{})
	r.prevDone = done
	go func() {
		defer close(done)
		r.settleWithRetry(context.WithoutCancel(ctx), locked)
	}()
	return nil
}

// waitLock 定时器到封盘时间；轮询间隔重新读取对局，其他进程（运营强制封盘）已封盘时提前返回
func (r *trackRunner) waitLock(ctx context.Context, round *model.Round) error {
	timer := time.NewTimer(time.Until(time.UnixMilli(round.LockTime)))
	defer timer.Stop()
	ticker := time.NewTicker(r.poll())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ticker.C:
		case <-r.kick:
		}
		if !r.holdLease(ctx) {
			return errLeaseLost
		}
		cur, err := r.s.rounds.Get(ctx, round.RoundID)
		if err != nil {
			logger.Warn("[Scheduler] poll round failed", zap.String("round_id", round.RoundID), zap.Error(err))
			continue
		}
		if cur.State != state.CodeOpen {
			return nil
		}
	}
}

// settleWithRetry 流水线有界指数退避重试；开奖失败或重试耗尽时标记对局并暂停赛道
func (r *trackRunner) settleWithRetry(ctx context.Context, round *model.Round) {
	ctx, _ = logger.EnsureTraceID(ctx)
	cfg := r.s.game().SettleRetry
	backoff := time.Duration(cfg.BaseBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(cfg.MaxBackoffMs) * time.Millisecond

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		var cur *model.Round
		if cur, err = r.s.pipeline.Run(ctx, round.RoundID, service.OperatorSystem); err == nil {
			logger.InfoCtx(ctx, "[Scheduler] round finished",
				zap.String("round_id", cur.RoundID), zap.Int8("result", cur.ResultNumber))
			return
		}
		if errors.Is(err, service.ErrDraw) {
			break
		}
		stage := "pipeline"
		if cur != nil {
			stage = service.Stage(cur)
		}
		metrics.IncSettleRetry(r.track, stage)
		logger.WarnCtx(ctx, "[Scheduler] pipeline attempt failed",
			zap.String("round_id", round.RoundID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == cfg.MaxAttempts {
			break
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	if ctx.Err() != nil {
		return
	}
	r.flag(ctx, round.RoundID, err)
}

func (r *trackRunner) flag(ctx context.Context, roundID string, cause error) {
	reason := fmt.Sprintf("%v", cause)
	r.setHalted(roundID)
	metrics.SetFlagged(r.track, 1)
	if _, err := r.s.rounds.FlagRound(ctx, roundID, reason); err != nil {
		logger.ErrorCtx(ctx, "[Scheduler] flag round failed", zap.String("round_id", roundID), zap.Error(err))
	}
	logger.ErrorCtx(ctx, "[Scheduler] settlement stalled, track halted until operator retry",
		zap.String("track", r.track), zap.String("round_id", roundID), zap.String("reason", reason))
}

// resume 按期号顺序续跑未归档的对局；遇到被标记的对局暂停赛道
func (r *trackRunner) resume(ctx context.Context) error {
	if id := r.haltedRound(); id != "" {
		cur, err := r.s.rounds.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur.Flagged == 1 {
			return errHalted
		}
		r.setHalted("")
		metrics.SetFlagged(r.track, 0)
		logger.Info("[Scheduler] track resumed", zap.String("track", r.track), zap.String("round_id", id))
	}
	select {
	case <-r.prevDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	rounds, err := r.s.rounds.Unfinished(ctx, r.track)
	if err != nil {
		return err
	}
	for _, round := range rounds {
		if round.State == state.CodeOpen {
			continue
		}
		if round.Flagged == 1 {
			r.setHalted(round.RoundID)
			metrics.SetFlagged(r.track, 1)
			return errHalted
		}
		logger.Info("[Scheduler] resuming round",
			zap.String("round_id", round.RoundID), zap.String("state", round.StateName()))
		r.settleWithRetry(ctx, &round)
		if r.haltedRound() != "" {
			return errHalted
		}
	}
	return nil
}

func (r *trackRunner) holdLease(ctx context.Context) bool {
	if r.lease == nil {
		return true
	}
	if r.leading && time.Since(r.renewedAt) < r.leaseRetry() {
		return true
	}
	ok, err := r.lease.TryAcquire(ctx)
	if err != nil {
		logger.Warn("[Scheduler] lease renew failed", zap.String("track", r.track), zap.Error(err))
		ok = false
	}
	if ok != r.leading {
		logger.Info("[Scheduler] leadership changed", zap.String("track", r.track), zap.Bool("leading", ok))
	}
	r.leading = ok
	if ok {
		r.renewedAt = time.Now()
	}
	return ok
}

func (r *trackRunner) leaseRetry() time.Duration {
	sec := r.s.game().LeaderLeaseSec
	if sec <= 0 {
		sec = 10
	}
	return time.Duration(sec) * time.Second / 3
}

func (r *trackRunner) poll() time.Duration {
	ms := r.s.game().PollIntervalMs
	if ms <= 0 {
		ms = 500
	}
	return time.Duration(ms) * time.Millisecond
}

func (r *trackRunner) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-r.kick:
	}
}

func (r *trackRunner) haltedRound() string {
	r.haltMu.Lock()
	defer r.haltMu.Unlock()
	return r.halted
}

func (r *trackRunner) setHalted(roundID string) {
	r.haltMu.Lock()
	r.halted = roundID
	r.haltMu.Unlock()
}
