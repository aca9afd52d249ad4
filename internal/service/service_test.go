package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"color-server/internal/config"
	"color-server/internal/game"
	"color-server/internal/model"
	"color-server/internal/state"
	"color-server/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	st       *store.Memory
	clock    *fakeClock
	gen      *game.FixedGenerator
	cfg      config.GameConfig
	wallets  *WalletService
	bets     *BetService
	rounds   *RoundService
	settle   *SettleService
	pipeline *Pipeline
	admin    *AdminService
}

func testGame() config.GameConfig {
	g := config.DefaultGame()
	g.Tracks = []config.TrackConfig{{Name: "30s", DurationMs: 30_000}, {Name: "1m", DurationMs: 60_000}}
	return g
}

func newEnv(t *testing.T, numbers ...int) *env {
	t.Helper()
	return newEnvWith(t, testGame(), numbers...)
}

func newEnvWith(t *testing.T, cfg config.GameConfig, numbers ...int) *env {
	t.Helper()
	e := &env{
		st:    store.NewMemory(),
		clock: &fakeClock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)},
		gen:   &game.FixedGenerator{Numbers: numbers},
		cfg:   cfg,
	}
	opts := []Option{WithClock(e.clock.Now), WithGameConfig(cfg), WithGenerator(e.gen)}
	e.wallets = NewWalletService(e.st, opts...)
	e.bets = NewBetService(e.st, opts...)
	e.rounds = NewRoundService(e.st, opts...)
	e.settle = NewSettleService(e.st, opts...)
	e.pipeline = NewPipeline(e.rounds, e.settle)
	e.admin = NewAdminService(e.st, e.rounds, e.pipeline, e.wallets, opts...)
	return e
}

func (e *env) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	if _, err := e.wallets.Adjust(context.Background(), userID, amount, "test funding", OperatorAdmin); err != nil {
		t.Fatalf("fund user %d: %v", userID, err)
	}
}

func (e *env) open(t *testing.T, track string) *model.Round {
	t.Helper()
	r, err := e.rounds.OpenNextRound(context.Background(), track)
	if err != nil {
		t.Fatalf("open round: %v", err)
	}
	return r
}

func (e *env) place(t *testing.T, userID int64, roundID, kind, value string, stake int64) *PlaceBetOutput {
	t.Helper()
	out, err := e.bets.PlaceBet(context.Background(), PlaceBetInput{
		UserID: userID, RoundID: roundID, Kind: kind, Value: value, Stake: stake,
	})
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	return out
}

func (e *env) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	w, err := e.wallets.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return w.Balance
}

// lockDrawSettle 封盘 → 开奖 → 结算
func (e *env) lockDrawSettle(t *testing.T, roundID string) *SettleSummary {
	t.Helper()
	ctx := context.Background()
	if _, err := e.rounds.LockRound(ctx, roundID, OperatorSystem, "test"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := e.rounds.DrawRound(ctx, roundID, OperatorSystem); err != nil {
		t.Fatalf("draw: %v", err)
	}
	sum, err := e.settle.Settle(ctx, roundID, OperatorSystem)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	return sum
}

func TestSettleRedWinsOnFive(t *testing.T) {
	e := newEnv(t, 5)
	e.fund(t, 1, 100)
	r := e.open(t, "30s")

	out := e.place(t, 1, r.RoundID, game.KindColor, game.ColorRed, 20)
	if out.Balance != 80 || out.Bet.Multiplier != 2 || out.Bet.Outcome != model.OutcomePending {
		t.Fatalf("unexpected placement: %+v", out)
	}

	sum := e.lockDrawSettle(t, r.RoundID)
	if sum.Result.Number != 5 || sum.Result.Color != game.ColorRed || sum.Result.Size != game.SizeBig {
		t.Fatalf("result: %+v", sum.Result)
	}
	if sum.Winners != 1 || sum.TotalPayout != 40 || sum.TotalStake != 20 {
		t.Fatalf("summary: %+v", sum)
	}
	if got := e.balance(t, 1); got != 120 {
		t.Fatalf("balance = %d, want 120", got)
	}

	bets, err := e.bets.ListBetsForRound(context.Background(), r.RoundID)
	if err != nil || len(bets) != 1 {
		t.Fatalf("bets: %v %v", bets, err)
	}
	if bets[0].Outcome != model.OutcomeWon || bets[0].Payout != 40 {
		t.Fatalf("bet not won: %+v", bets[0])
	}

	ledger, err := e.wallets.Ledger(context.Background(), 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	// 倒序：派彩、下注、调账
	want := []struct {
		biz           int
		amount, after int64
	}{{model.BizSettle, 40, 120}, {model.BizBet, -20, 80}, {model.BizAdjust, 100, 100}}
	if len(ledger) != len(want) {
		t.Fatalf("ledger size = %d", len(ledger))
	}
	for i, w := range want {
		l := ledger[i]
		if l.BizType != w.biz || l.Amount != w.amount || l.AfterAmount != w.after {
			t.Fatalf("ledger[%d] = %+v, want %+v", i, l, w)
		}
		if l.AfterAmount-l.BeforeAmount != l.Amount {
			t.Fatalf("ledger[%d] before/after mismatch: %+v", i, l)
		}
	}
}

func TestSettleRedLosesOnFour(t *testing.T) {
	e := newEnv(t, 4)
	e.fund(t, 1, 100)
	r := e.open(t, "30s")
	e.place(t, 1, r.RoundID, game.KindColor, game.ColorRed, 20)

	sum := e.lockDrawSettle(t, r.RoundID)
	if sum.Winners != 0 || sum.TotalPayout != 0 {
		t.Fatalf("summary: %+v", sum)
	}
	if got := e.balance(t, 1); got != 80 {
		t.Fatalf("balance = %d, want 80", got)
	}
	bets, _ := e.bets.ListBetsForRound(context.Background(), r.RoundID)
	if bets[0].Outcome != model.OutcomeLost || bets[0].Payout != 0 {
		t.Fatalf("bet: %+v", bets[0])
	}
}

func TestPayoutTableByDimension(t *testing.T) {
	cases := []struct {
		name   string
		number int
		kind   string
		value  string
		payout int64
	}{
		{"green on zero", 0, game.KindColor, game.ColorGreen, 140},
		{"black on eight", 8, game.KindColor, game.ColorBlack, 20},
		{"number hit", 7, game.KindNumber, "7", 90},
		{"number miss", 6, game.KindNumber, "7", 0},
		{"small on zero", 0, game.KindSize, game.SizeSmall, 20},
		{"big on five", 5, game.KindSize, game.SizeBig, 20},
		{"red on zero loses", 0, game.KindColor, game.ColorRed, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, tc.number)
			e.fund(t, 7, 10)
			r := e.open(t, "30s")
			e.place(t, 7, r.RoundID, tc.kind, tc.value, 10)
			sum := e.lockDrawSettle(t, r.RoundID)
			if sum.TotalPayout != tc.payout {
				t.Fatalf("payout = %d, want %d", sum.TotalPayout, tc.payout)
			}
			if got := e.balance(t, 7); got != tc.payout {
				t.Fatalf("balance = %d, want %d", got, tc.payout)
			}
		})
	}
}

func TestPlaceBetAfterLockIsRejected(t *testing.T) {
	e := newEnv(t, 1)
	e.fund(t, 1, 100)
	r := e.open(t, "30s")
	if _, err := e.rounds.LockRound(context.Background(), r.RoundID, OperatorSystem, "test"); err != nil {
		t.Fatal(err)
	}
	_, err := e.bets.PlaceBet(context.Background(), PlaceBetInput{
		UserID: 1, RoundID: r.RoundID, Kind: game.KindColor, Value: game.ColorRed, Stake: 20,
	})
	if !errors.Is(err, ErrRoundClosed) {
		t.Fatalf("err = %v, want ErrRoundClosed", err)
	}
	if got := e.balance(t, 1); got != 100 {
		t.Fatalf("balance changed to %d", got)
	}
}

func TestPlaceBetWindow(t *testing.T) {
	cases := []struct {
		name    string
		advance time.Duration
		wantErr error
	}{
		{"inside window", 10 * time.Second, nil},
		{"within placement budget", 30*time.Second - 100*time.Millisecond, ErrRoundClosed},
		{"at lock time", 30 * time.Second, ErrRoundClosed},
		{"after lock time", 31 * time.Second, ErrRoundClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			e.fund(t, 1, 100)
			r := e.open(t, "30s")
			e.clock.Advance(tc.advance)
			_, err := e.bets.PlaceBet(context.Background(), PlaceBetInput{
				UserID: 1, RoundID: r.RoundID, Kind: game.KindSize, Value: game.SizeBig, Stake: 5,
			})
			if !errors.Is(err, tc.wantErr) && !(tc.wantErr == nil && err == nil) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestPlaceBetValidation(t *testing.T) {
	e := newEnv(t)
	e.fund(t, 1, 10_000_000)
	r := e.open(t, "30s")
	cases := []struct {
		name string
		in   PlaceBetInput
		want error
	}{
		{"unknown kind", PlaceBetInput{UserID: 1, RoundID: r.RoundID, Kind: "parity", Value: "odd", Stake: 5}, ErrValidation},
		{"bad color", PlaceBetInput{UserID: 1, RoundID: r.RoundID, Kind: "color", Value: "blue", Stake: 5}, ErrValidation},
		{"number out of range", PlaceBetInput{UserID: 1, RoundID: r.RoundID, Kind: "number", Value: "10", Stake: 5}, ErrValidation},
		{"zero stake", PlaceBetInput{UserID: 1, RoundID: r.RoundID, Kind: "size", Value: "big", Stake: 0}, ErrValidation},
		{"negative stake", PlaceBetInput{UserID: 1, RoundID: r.RoundID, Kind: "size", Value: "big", Stake: -3}, ErrValidation},
		{"above max", PlaceBetInput{UserID: 1, RoundID: r.RoundID, Kind: "size", Value: "big", Stake: 1_000_001}, ErrValidation},
		{"missing user", PlaceBetInput{RoundID: r.RoundID, Kind: "size", Value: "big", Stake: 5}, ErrValidation},
		{"unknown round", PlaceBetInput{UserID: 1, RoundID: "30s-99999999", Kind: "size", Value: "big", Stake: 5}, ErrRoundNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.bets.PlaceBet(context.Background(), tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if got := e.balance(t, 1); got != 10_000_000 {
		t.Fatalf("balance changed to %d", got)
	}
}

func TestPlaceBetStakeCappedWithoutMaxStake(t *testing.T) {
	cfg := testGame()
	cfg.MaxStake = 0
	e := newEnvWith(t, cfg, 0)
	ctx := context.Background()
	e.fund(t, 1, math.MaxInt64/2)
	r := e.open(t, "30s")

	_, err := e.bets.PlaceBet(ctx, PlaceBetInput{UserID: 1, RoundID: r.RoundID, Kind: game.KindColor, Value: game.ColorGreen, Stake: game.MaxSafeStake() + 1})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("oversized stake: %v", err)
	}
	e.place(t, 1, r.RoundID, game.KindColor, game.ColorGreen, game.MaxSafeStake())
	// 派彩后余额超出 int64，整笔结算回滚
	if _, err := e.rounds.LockRound(ctx, r.RoundID, OperatorSystem, "test"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.rounds.DrawRound(ctx, r.RoundID, OperatorSystem); err != nil {
		t.Fatal(err)
	}
	if _, err := e.settle.Settle(ctx, r.RoundID, OperatorSystem); !errors.Is(err, ErrLedger) {
		t.Fatalf("settle: %v", err)
	}
	got, _ := e.rounds.Get(ctx, r.RoundID)
	if got.State != state.CodeDrawn {
		t.Fatalf("round: %+v", got)
	}
	if _, err := e.wallets.Adjust(ctx, 1, math.MaxInt64, "overflow", OperatorAdmin); !errors.Is(err, ErrValidation) {
		t.Fatalf("adjust overflow: %v", err)
	}
}

func TestPlaceBetInsufficientFunds(t *testing.T) {
	e := newEnv(t)
	r := e.open(t, "30s")
	_, err := e.bets.PlaceBet(context.Background(), PlaceBetInput{
		UserID: 9, RoundID: r.RoundID, Kind: game.KindColor, Value: game.ColorRed, Stake: 1,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("no wallet: err = %v", err)
	}

	e.fund(t, 9, 10)
	_, err = e.bets.PlaceBet(context.Background(), PlaceBetInput{
		UserID: 9, RoundID: r.RoundID, Kind: game.KindColor, Value: game.ColorRed, Stake: 11,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("short balance: err = %v", err)
	}
	if got := e.balance(t, 9); got != 10 {
		t.Fatalf("balance = %d", got)
	}
	bets, _ := e.bets.ListBetsForRound(context.Background(), r.RoundID)
	if len(bets) != 0 {
		t.Fatalf("rejected bets were recorded: %+v", bets)
	}
}

func TestStakePolicy(t *testing.T) {
	t.Run("stack", func(t *testing.T) {
		e := newEnv(t)
		e.fund(t, 1, 100)
		r := e.open(t, "30s")
		e.place(t, 1, r.RoundID, game.KindNumber, "3", 10)
		e.place(t, 1, r.RoundID, game.KindNumber, "3", 10)
		bets, _ := e.bets.ListBetsForRound(context.Background(), r.RoundID)
		if len(bets) != 2 || bets[0].BetID == bets[1].BetID {
			t.Fatalf("bets: %+v", bets)
		}
	})
	t.Run("reject", func(t *testing.T) {
		cfg := testGame()
		cfg.StakePolicy = config.StakePolicyReject
		e := newEnvWith(t, cfg)
		e.fund(t, 1, 100)
		r := e.open(t, "30s")
		e.place(t, 1, r.RoundID, game.KindNumber, "3", 10)
		_, err := e.bets.PlaceBet(context.Background(), PlaceBetInput{
			UserID: 1, RoundID: r.RoundID, Kind: game.KindNumber, Value: "3", Stake: 10,
		})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("err = %v", err)
		}
		// 不同选项仍可下注
		e.place(t, 1, r.RoundID, game.KindNumber, "4", 10)
		if got := e.balance(t, 1); got != 80 {
			t.Fatalf("balance = %d", got)
		}
	})
}

func TestPlaceBetIdempotencyKey(t *testing.T) {
	e := newEnv(t)
	e.fund(t, 1, 100)
	r := e.open(t, "30s")
	in := PlaceBetInput{UserID: 1, RoundID: r.RoundID, Kind: "color", Value: "black", Stake: 30, IdempotencyKey: "k-1"}

	first, err := e.bets.PlaceBet(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.bets.PlaceBet(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Replayed || second.Bet.BetID != first.Bet.BetID {
		t.Fatalf("replay mismatch: first=%+v second=%+v", first, second)
	}
	if got := e.balance(t, 1); got != 70 {
		t.Fatalf("balance = %d, want 70", got)
	}

	// 同一个键换一个用户是另一笔
	e.fund(t, 2, 100)
	in.UserID = 2
	third, err := e.bets.PlaceBet(context.Background(), in)
	if err != nil || third.Replayed {
		t.Fatalf("other user: %+v %v", third, err)
	}
}

func TestConcurrentPlacementsKeepBalanceConsistent(t *testing.T) {
	e := newEnv(t, 3)
	e.fund(t, 1, 300)
	r := e.open(t, "30s")

	const workers = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		funds    int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.bets.PlaceBet(context.Background(), PlaceBetInput{
				UserID: 1, RoundID: r.RoundID, Kind: game.KindNumber, Value: "3", Stake: 10,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrInsufficientFunds):
				funds++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 30 || funds != 20 {
		t.Fatalf("accepted=%d insufficient=%d", accepted, funds)
	}
	if got := e.balance(t, 1); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}

	sum := e.lockDrawSettle(t, r.RoundID)
	if sum.TotalBets != accepted || sum.Winners != accepted {
		t.Fatalf("summary: %+v", sum)
	}
	if got := e.balance(t, 1); got != 300*9 {
		t.Fatalf("balance after settle = %d", got)
	}
}

func TestSettledCountMatchesAccepted(t *testing.T) {
	e := newEnv(t, 2)
	r := e.open(t, "1m")
	accepted := 0
	for uid := int64(1); uid <= 5; uid++ {
		e.fund(t, uid, 1000)
		for _, sel := range [][2]string{{"color", "black"}, {"number", "2"}, {"size", "big"}, {"color", "green"}} {
			e.place(t, uid, r.RoundID, sel[0], sel[1], uid*10)
			accepted++
		}
	}
	sum := e.lockDrawSettle(t, r.RoundID)
	if sum.TotalBets != accepted {
		t.Fatalf("settled %d of %d", sum.TotalBets, accepted)
	}
	bets, _ := e.bets.ListBetsForRound(context.Background(), r.RoundID)
	won := 0
	for _, b := range bets {
		if b.Outcome == model.OutcomePending {
			t.Fatalf("bet left pending: %+v", b)
		}
		if b.Outcome == model.OutcomeWon {
			won++
		}
	}
	// 2：黑、号码 2 中奖；大、绿不中
	if won != 10 || sum.Winners != 10 {
		t.Fatalf("won=%d summary=%+v", won, sum)
	}
	for uid := int64(1); uid <= 5; uid++ {
		stake := uid * 10
		want := 1000 - 4*stake + stake*2 + stake*9
		if got := e.balance(t, uid); got != want {
			t.Fatalf("user %d balance = %d, want %d", uid, got, want)
		}
	}
}

// ledgerFailStore 对指定用户的派彩记账返回错误
type ledgerFailStore struct {
	*store.Memory
	failUser int64
}

func (s *ledgerFailStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Memory.WithTx(ctx, func(tx store.Tx) error {
		return fn(&ledgerFailTx{Tx: tx, failUser: s.failUser})
	})
}

type ledgerFailTx struct {
	store.Tx
	failUser int64
}

func (t *ledgerFailTx) InsertLedger(ctx context.Context, l *model.WalletLedger) error {
	if l.UserID == t.failUser && l.BizType == model.BizSettle {
		return errors.New("ledger failure")
	}
	return t.Tx.InsertLedger(ctx, l)
}

func TestSettleFailureLeavesNoPartialState(t *testing.T) {
	e := newEnv(t, 5)
	ctx := context.Background()
	e.fund(t, 1, 100)
	e.fund(t, 2, 100)
	e.fund(t, 3, 50)
	r := e.open(t, "30s")
	e.place(t, 1, r.RoundID, game.KindColor, game.ColorRed, 30)
	e.place(t, 2, r.RoundID, game.KindColor, game.ColorRed, 20)
	e.place(t, 3, r.RoundID, game.KindColor, game.ColorBlack, 10)
	if _, err := e.rounds.LockRound(ctx, r.RoundID, OperatorSystem, "test"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.rounds.DrawRound(ctx, r.RoundID, OperatorSystem); err != nil {
		t.Fatal(err)
	}

	// 用户 1 先入账，用户 2 记账失败
	failing := NewSettleService(&ledgerFailStore{Memory: e.st, failUser: 2},
		WithClock(e.clock.Now), WithGameConfig(e.cfg), WithGenerator(e.gen))
	if _, err := failing.Settle(ctx, r.RoundID, OperatorSystem); err == nil {
		t.Fatal("settle should fail")
	}

	got, _ := e.rounds.Get(ctx, r.RoundID)
	if got.State != state.CodeDrawn || got.ResultNumber != 5 {
		t.Fatalf("round: %+v", got)
	}
	bets, _ := e.bets.ListBetsForRound(ctx, r.RoundID)
	for _, b := range bets {
		if b.Outcome != model.OutcomePending || b.Payout != 0 {
			t.Fatalf("bet touched: %+v", b)
		}
	}
	for uid, want := range map[int64]int64{1: 70, 2: 80, 3: 40} {
		if bal := e.balance(t, uid); bal != want {
			t.Fatalf("user %d balance = %d, want %d", uid, bal, want)
		}
	}
	ledger, _ := e.wallets.Ledger(ctx, 1, 10)
	for _, l := range ledger {
		if l.BizType == model.BizSettle {
			t.Fatalf("settle ledger left behind: %+v", l)
		}
	}
	if l, err := e.settle.Summary(ctx, r.RoundID); err != nil || l != nil {
		t.Fatalf("settlement log: %+v %v", l, err)
	}

	sum, err := e.settle.Settle(ctx, r.RoundID, OperatorSystem)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Winners != 2 || sum.TotalPayout != 100 {
		t.Fatalf("summary: %+v", sum)
	}
	for uid, want := range map[int64]int64{1: 130, 2: 120, 3: 40} {
		if bal := e.balance(t, uid); bal != want {
			t.Fatalf("user %d balance = %d, want %d", uid, bal, want)
		}
	}
	l, err := e.settle.Summary(ctx, r.RoundID)
	if err != nil || l == nil || l.TotalBets != 3 || l.Winners != 2 || l.TotalPayout != 100 {
		t.Fatalf("settlement log: %+v %v", l, err)
	}
	if _, err := e.settle.Settle(ctx, r.RoundID, OperatorSystem); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second settle: %v", err)
	}
	if bal := e.balance(t, 1); bal != 130 {
		t.Fatalf("paid twice: %d", bal)
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	e := newEnv(t, 5)
	e.fund(t, 1, 100)
	r := e.open(t, "30s")
	e.place(t, 1, r.RoundID, game.KindColor, game.ColorRed, 20)
	e.lockDrawSettle(t, r.RoundID)

	_, err := e.settle.Settle(context.Background(), r.RoundID, OperatorSystem)
	if !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second settle: %v", err)
	}
	if _, err := e.rounds.ArchiveRound(context.Background(), r.RoundID, OperatorSystem); err != nil {
		t.Fatal(err)
	}
	if _, err := e.settle.Settle(context.Background(), r.RoundID, OperatorSystem); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("settle archived: %v", err)
	}
	if got := e.balance(t, 1); got != 120 {
		t.Fatalf("balance = %d, want 120", got)
	}
}

func TestSettleRequiresDrawnRound(t *testing.T) {
	e := newEnv(t, 5)
	r := e.open(t, "30s")
	if _, err := e.settle.Settle(context.Background(), r.RoundID, OperatorSystem); !errors.Is(err, ErrConflict) {
		t.Fatalf("open round: %v", err)
	}
	if _, err := e.settle.Settle(context.Background(), "nope", OperatorSystem); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("missing round: %v", err)
	}
}

func TestOpenNextRound(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r1 := e.open(t, "30s")
	if r1.Period != 1 || r1.LockTime-r1.OpenTime != 30_000 || r1.State != state.CodeOpen {
		t.Fatalf("round: %+v", r1)
	}
	if _, err := e.rounds.OpenNextRound(ctx, "30s"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second open: %v", err)
	}
	if _, err := e.rounds.OpenNextRound(ctx, "2h"); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown track: %v", err)
	}

	// 另一条赛道独立编号
	other := e.open(t, "1m")
	if other.Period != 1 || other.RoundID == r1.RoundID {
		t.Fatalf("other track: %+v", other)
	}

	if _, err := e.rounds.LockRound(ctx, r1.RoundID, OperatorSystem, "test"); err != nil {
		t.Fatal(err)
	}
	r2 := e.open(t, "30s")
	if r2.Period != 2 {
		t.Fatalf("period = %d", r2.Period)
	}
}

func TestLockRoundIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.open(t, "30s")
	a, err := e.rounds.LockRound(ctx, r.RoundID, OperatorSystem, "test")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.rounds.LockRound(ctx, r.RoundID, OperatorAdmin, "force_end")
	if err != nil {
		t.Fatal(err)
	}
	if a.State != state.CodeLocked || b.Version != a.Version {
		t.Fatalf("a=%+v b=%+v", a, b)
	}
	locks := 0
	for _, ev := range e.st.Events() {
		if ev.RoundID == r.RoundID && ev.Event == state.EvtLock {
			locks++
		}
	}
	if locks != 1 {
		t.Fatalf("lock audited %d times", locks)
	}
}

func TestDrawRoundDoesNotRedraw(t *testing.T) {
	e := newEnv(t, 6, 1)
	ctx := context.Background()
	r := e.open(t, "30s")
	if _, err := e.rounds.DrawRound(ctx, r.RoundID, OperatorSystem); !errors.Is(err, ErrConflict) {
		t.Fatalf("draw open round: %v", err)
	}
	if _, err := e.rounds.LockRound(ctx, r.RoundID, OperatorSystem, "test"); err != nil {
		t.Fatal(err)
	}
	first, err := e.rounds.DrawRound(ctx, r.RoundID, OperatorSystem)
	if err != nil {
		t.Fatal(err)
	}
	again, err := e.rounds.DrawRound(ctx, r.RoundID, OperatorSystem)
	if err != nil {
		t.Fatal(err)
	}
	if first.ResultNumber != 6 || again.ResultNumber != 6 || e.gen.Calls() != 1 {
		t.Fatalf("first=%d again=%d calls=%d", first.ResultNumber, again.ResultNumber, e.gen.Calls())
	}
	if first.ResultColor != game.ColorBlack || first.ResultSize != game.SizeBig {
		t.Fatalf("derived result: %+v", first)
	}
}

func TestDrawFailureKeepsRoundLocked(t *testing.T) {
	e := newEnv(t) // 未预设号码，开奖失败
	ctx := context.Background()
	r := e.open(t, "30s")
	e.rounds.LockRound(ctx, r.RoundID, OperatorSystem, "test")
	if _, err := e.rounds.DrawRound(ctx, r.RoundID, OperatorSystem); !errors.Is(err, ErrDraw) {
		t.Fatalf("err = %v", err)
	}
	got, _ := e.rounds.Get(ctx, r.RoundID)
	if got.State != state.CodeLocked || got.HasResult() {
		t.Fatalf("round: %+v", got)
	}
}

func TestPipelineRunsToArchive(t *testing.T) {
	e := newEnv(t, 9)
	ctx := context.Background()
	e.fund(t, 1, 50)
	r := e.open(t, "30s")
	e.place(t, 1, r.RoundID, game.KindSize, game.SizeBig, 50)
	if _, err := e.pipeline.Run(ctx, r.RoundID, OperatorSystem); !errors.Is(err, ErrConflict) {
		t.Fatalf("pipeline on open round: %v", err)
	}
	e.rounds.LockRound(ctx, r.RoundID, OperatorSystem, "test")

	got, err := e.pipeline.Run(ctx, r.RoundID, OperatorSystem)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != state.CodeArchived || got.ResultNumber != 9 {
		t.Fatalf("round: %+v", got)
	}
	if bal := e.balance(t, 1); bal != 100 {
		t.Fatalf("balance = %d", bal)
	}
	// 再跑一次不产生任何变化
	if _, err := e.pipeline.Run(ctx, r.RoundID, OperatorSystem); err != nil {
		t.Fatal(err)
	}
	if bal := e.balance(t, 1); bal != 100 {
		t.Fatalf("balance after rerun = %d", bal)
	}

	var topics []string
	for _, o := range e.st.Outbox() {
		if o.BizKey == r.RoundID {
			topics = append(topics, o.Topic)
		}
	}
	want := []string{TopicRoundOpened, TopicRoundLocked, TopicRoundDrawn, TopicRoundSettled}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v", topics)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("topics = %v, want %v", topics, want)
		}
	}
}

func TestHistoryListsDrawnRoundsNewestFirst(t *testing.T) {
	e := newEnv(t, 3, 8)
	ctx := context.Background()
	r1 := e.open(t, "30s")
	e.rounds.LockRound(ctx, r1.RoundID, OperatorSystem, "test")
	if _, err := e.pipeline.Run(ctx, r1.RoundID, OperatorSystem); err != nil {
		t.Fatal(err)
	}
	r2 := e.open(t, "30s")
	e.rounds.LockRound(ctx, r2.RoundID, OperatorSystem, "test")
	if _, err := e.rounds.DrawRound(ctx, r2.RoundID, OperatorSystem); err != nil {
		t.Fatal(err)
	}
	e.open(t, "30s")

	got, err := e.rounds.History(ctx, "30s", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].RoundID != r2.RoundID || got[0].ResultNumber != 8 || got[1].ResultNumber != 3 {
		t.Fatalf("history: %+v", got)
	}
	if got, _ := e.rounds.History(ctx, "30s", 1); len(got) != 1 || got[0].RoundID != r2.RoundID {
		t.Fatalf("limited history: %+v", got)
	}
	if _, err := e.rounds.History(ctx, "5m", 10); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown track: %v", err)
	}
}

func TestForceEndRound(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	var kicked []string
	e.admin.SetNotifier(func(track string) { kicked = append(kicked, track) })

	if _, err := e.admin.ForceEndRound(ctx, "30s", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("no round: %v", err)
	}
	r := e.open(t, "30s")
	a, err := e.admin.ForceEndRound(ctx, "30s", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.admin.ForceEndRound(ctx, "30s", "")
	if err != nil {
		t.Fatal(err)
	}
	if a.RoundID != r.RoundID || b.RoundID != r.RoundID || b.State != state.CodeLocked {
		t.Fatalf("a=%+v b=%+v", a, b)
	}
	if len(kicked) != 1 || kicked[0] != "30s" {
		t.Fatalf("kicked = %v", kicked)
	}
	if _, err := e.admin.ForceEndRound(ctx, "nope", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown track: %v", err)
	}
}

func TestForceEndRoundWithExpectedRound(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	kicks := 0
	e.admin.SetNotifier(func(string) { kicks++ })

	r1 := e.open(t, "30s")
	if _, err := e.admin.ForceEndRound(ctx, "30s", r1.RoundID); err != nil {
		t.Fatal(err)
	}
	r2 := e.open(t, "30s")

	// 重复提交只返回第一局，不影响新开的一局
	got, err := e.admin.ForceEndRound(ctx, "30s", r1.RoundID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RoundID != r1.RoundID || got.State != state.CodeLocked {
		t.Fatalf("repeat: %+v", got)
	}
	if cur, _ := e.rounds.Get(ctx, r2.RoundID); cur.State != state.CodeOpen {
		t.Fatalf("next round touched: %+v", cur)
	}
	if kicks != 1 {
		t.Fatalf("kicks = %d", kicks)
	}

	cases := []struct {
		name, track, roundID string
		want                 error
	}{
		{"other track", "1m", r2.RoundID, ErrValidation},
		{"unknown round", "30s", "30s-99999999", ErrRoundNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.admin.ForceEndRound(ctx, tc.track, tc.roundID); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}

	got, err = e.admin.ForceEndRound(ctx, "30s", r2.RoundID)
	if err != nil || got.RoundID != r2.RoundID || got.State != state.CodeLocked {
		t.Fatalf("lock expected round: %+v %v", got, err)
	}
}

func TestRetrySettlementClearsFlag(t *testing.T) {
	e := newEnv(t, 3)
	ctx := context.Background()
	e.fund(t, 1, 10)
	r := e.open(t, "30s")
	e.place(t, 1, r.RoundID, game.KindNumber, "3", 10)
	e.rounds.LockRound(ctx, r.RoundID, OperatorSystem, "test")
	if _, err := e.rounds.FlagRound(ctx, r.RoundID, "draw failed"); err != nil {
		t.Fatal(err)
	}

	got, err := e.admin.RetrySettlement(ctx, r.RoundID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Flagged != 0 || got.State != state.CodeArchived {
		t.Fatalf("round: %+v", got)
	}
	if bal := e.balance(t, 1); bal != 90 {
		t.Fatalf("balance = %d", bal)
	}
}

func TestRetrySettlementStillFailing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.open(t, "30s")
	e.rounds.LockRound(ctx, r.RoundID, OperatorSystem, "test")
	e.rounds.FlagRound(ctx, r.RoundID, "draw failed")

	if _, err := e.admin.RetrySettlement(ctx, r.RoundID); !errors.Is(err, ErrSettlementStalled) || !errors.Is(err, ErrDraw) {
		t.Fatalf("err = %v", err)
	}
	got, _ := e.rounds.Get(ctx, r.RoundID)
	if got.Flagged != 1 {
		t.Fatalf("flag cleared on failure: %+v", got)
	}
}

func TestSnapshot(t *testing.T) {
	e := newEnv(t)
	e.fund(t, 1, 100)
	r := e.open(t, "30s")
	e.place(t, 1, r.RoundID, game.KindColor, game.ColorRed, 15)
	e.place(t, 1, r.RoundID, game.KindSize, game.SizeSmall, 25)
	e.clock.Advance(12 * time.Second)

	snaps, err := e.rounds.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshots: %+v", snaps)
	}
	s := snaps[0]
	if s.RoundID != r.RoundID || s.State != state.StateOpen || s.RemainingMs != 18_000 || s.BetCount != 2 || s.BetVolume != 40 {
		t.Fatalf("snapshot: %+v", s)
	}
	if snaps[1].Track != "1m" || snaps[1].RoundID != "" {
		t.Fatalf("empty track: %+v", snaps[1])
	}

	// 超过封盘时间剩余时间不为负
	e.clock.Advance(time.Minute)
	snaps, _ = e.rounds.Snapshot(context.Background())
	if snaps[0].RemainingMs != 0 {
		t.Fatalf("remaining = %d", snaps[0].RemainingMs)
	}
}

func TestBroadcastAndAdjust(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.admin.Broadcast(ctx, "  ", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty message: %v", err)
	}
	if err := e.admin.Broadcast(ctx, "maintenance at 02:00", map[string]any{"level": "info"}); err != nil {
		t.Fatal(err)
	}
	out := e.st.Outbox()
	if len(out) != 1 || out[0].Topic != TopicBroadcast || out[0].BizKey == "" {
		t.Fatalf("outbox: %+v", out)
	}

	if _, err := e.admin.AdjustWallet(ctx, 5, -1, "overdraw"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw: %v", err)
	}
	if _, err := e.admin.AdjustWallet(ctx, 5, 500, "top up"); err != nil {
		t.Fatal(err)
	}
	l, err := e.admin.AdjustWallet(ctx, 5, -200, "correction")
	if err != nil {
		t.Fatal(err)
	}
	if l.BeforeAmount != 500 || l.AfterAmount != 300 || l.BizType != model.BizAdjust {
		t.Fatalf("ledger: %+v", l)
	}
}
