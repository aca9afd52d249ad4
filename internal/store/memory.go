package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"color-server/internal/model"
	"color-server/internal/state"
)

var errReadOnly = errors.New("store: write in read-only view")

// Memory 进程内存储：单把锁串行化所有事务，失败时按 undo 日志回滚
// 仅用于单进程演示与测试，锁模式参数被忽略（事务本身已互斥）
type Memory struct {
	mu sync.RWMutex

	rounds      map[string]*model.Round
	trackPeriod map[string]string // track#period → round_id
	bets        []*model.Bet
	betIndex    map[string]int
	idemIndex   map[string]string // user#key → bet_id
	wallets     map[int64]*model.Wallet
	ledger      []model.WalletLedger
	settlements map[string]*model.SettlementLog
	outbox      []*model.Outbox
	events      []model.RoundEventAudit
	seq         int64
}

func NewMemory() *Memory {
	return &Memory{
		rounds:      make(map[string]*model.Round),
		trackPeriod: make(map[string]string),
		betIndex:    make(map[string]int),
		idemIndex:   make(map[string]string),
		wallets:     make(map[int64]*model.Wallet),
		settlements: make(map[string]*model.SettlementLog),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.rollback()
		return err
	}
	// 提交前上下文已超时视为提交失败
	if err = ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{m: m, readOnly: true})
}

// Events 审计记录副本，测试使用
func (m *Memory) Events() []model.RoundEventAudit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.RoundEventAudit(nil), m.events...)
}

// Outbox 全部消息副本（含已发送），测试使用
func (m *Memory) Outbox() []model.Outbox {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Outbox, 0, len(m.outbox))
	for _, o := range m.outbox {
		out = append(out, *o)
	}
	return out
}

type memTx struct {
	m        *Memory
	readOnly bool
	undo     []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) write() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *memTx) nextID() int64 {
	t.m.seq++
	return t.m.seq
}

func trackPeriodKey(track string, period int64) string { return fmt.Sprintf("%s#%d", track, period) }
func idemKey(userID int64, key string) string        { return fmt.Sprintf("%d#%s", userID, key) }

func (t *memTx) InsertRound(_ context.Context, r *model.Round) error {
	if err := t.write(); err != nil {
		return err
	}
	tp := trackPeriodKey(r.Track, r.Period)
	if _, ok := t.m.rounds[r.RoundID]; ok {
		return ErrDuplicate
	}
	if _, ok := t.m.trackPeriod[tp]; ok {
		return ErrDuplicate
	}
	r.ID = t.nextID()
	r.ResultNumber = model.NoResult
	r.UpdatedAt = r.CreatedAt
	cp := *r
	t.m.rounds[r.RoundID] = &cp
	t.m.trackPeriod[tp] = r.RoundID
	t.undo = append(t.undo, func() {
		delete(t.m.rounds, cp.RoundID)
		delete(t.m.trackPeriod, tp)
	})
	return nil
}

func (t *memTx) GetRound(_ context.Context, roundID string, _ LockMode) (*model.Round, error) {
	r, ok := t.m.rounds[roundID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) roundsOf(track string) []*model.Round {
	var out []*model.Round
	for _, r := range t.m.rounds {
		if r.Track == track {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

func (t *memTx) FindOpenRound(_ context.Context, track string, _ LockMode) (*model.Round, error) {
	rs := t.roundsOf(track)
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i].State == state.CodeOpen {
			cp := *rs[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) LatestRound(_ context.Context, track string) (*model.Round, error) {
	rs := t.roundsOf(track)
	if len(rs) == 0 {
		return nil, ErrNotFound
	}
	cp := *rs[len(rs)-1]
	return &cp, nil
}

func (t *memTx) ListUnfinishedRounds(_ context.Context, track string) ([]model.Round, error) {
	var out []model.Round
	for _, r := range t.roundsOf(track) {
		if r.State < state.CodeArchived {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (t *memTx) UpdateRound(_ context.Context, r *model.Round, expectVersion int64) error {
	if err := t.write(); err != nil {
		return err
	}
	cur, ok := t.m.rounds[r.RoundID]
	if !ok || cur.Version != expectVersion {
		return ErrVersionConflict
	}
	prev := *cur
	cur.State = r.State
	cur.DrawTime = r.DrawTime
	cur.SettleTime = r.SettleTime
	cur.ResultNumber = r.ResultNumber
	cur.ResultColor = r.ResultColor
	cur.ResultSize = r.ResultSize
	cur.Flagged = r.Flagged
	cur.FlagReason = r.FlagReason
	cur.UpdatedAt = r.UpdatedAt
	cur.Version = expectVersion + 1
	r.Version = cur.Version
	t.undo = append(t.undo, func() { *cur = prev })
	return nil
}

func (t *memTx) ListRecentRounds(_ context.Context, track string, limit int) ([]model.Round, error) {
	rs := t.roundsOf(track)
	var out []model.Round
	for i := len(rs) - 1; i >= 0 && len(out) < limit; i-- {
		if rs[i].State >= state.CodeDrawn && rs[i].HasResult() {
			out = append(out, *rs[i])
		}
	}
	return out, nil
}

func (t *memTx) InsertBet(_ context.Context, b *model.Bet) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.m.betIndex[b.BetID]; ok {
		return ErrDuplicate
	}
	ik := ""
	if b.IdempotencyKey != "" {
		ik = idemKey(b.UserID, b.IdempotencyKey)
		if _, ok := t.m.idemIndex[ik]; ok {
			return ErrDuplicate
		}
	}
	b.ID = t.nextID()
	b.Outcome = model.OutcomePending
	b.CreatedAt, b.UpdatedAt = b.PlacedAt, b.PlacedAt
	cp := *b
	t.m.bets = append(t.m.bets, &cp)
	t.m.betIndex[b.BetID] = len(t.m.bets) - 1
	if ik != "" {
		t.m.idemIndex[ik] = b.BetID
	}
	t.undo = append(t.undo, func() {
		t.m.bets = t.m.bets[:len(t.m.bets)-1]
		delete(t.m.betIndex, cp.BetID)
		if ik != "" {
			delete(t.m.idemIndex, ik)
		}
	})
	return nil
}

func (t *memTx) GetBetByIdempotencyKey(_ context.Context, userID int64, key string) (*model.Bet, error) {
	id, ok := t.m.idemIndex[idemKey(userID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t.m.bets[t.m.betIndex[id]]
	return &cp, nil
}

func (t *memTx) ListBetsForRound(_ context.Context, roundID string, _ LockMode) ([]model.Bet, error) {
	var out []model.Bet
	for _, b := range t.m.bets {
		if b.RoundID == roundID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (t *memTx) CountUserBets(_ context.Context, roundID string, userID int64, kind, value string) (int, error) {
	n := 0
	for _, b := range t.m.bets {
		if b.RoundID == roundID && b.UserID == userID && b.Kind == kind && b.Value == value {
			n++
		}
	}
	return n, nil
}

func (t *memTx) SettleBet(_ context.Context, betID string, outcome int8, payout, settledAt int64) error {
	if err := t.write(); err != nil {
		return err
	}
	i, ok := t.m.betIndex[betID]
	if !ok || t.m.bets[i].Outcome != model.OutcomePending {
		return ErrVersionConflict
	}
	b := t.m.bets[i]
	prev := *b
	b.Outcome, b.Payout, b.SettledAt, b.UpdatedAt = outcome, payout, settledAt, settledAt
	t.undo = append(t.undo, func() { *b = prev })
	return nil
}

func (t *memTx) RoundVolume(_ context.Context, roundID string) (int64, int64, error) {
	var count, stake int64
	for _, b := range t.m.bets {
		if b.RoundID == roundID {
			count++
			stake += b.Stake
		}
	}
	return count, stake, nil
}

func (t *memTx) ListUserBets(_ context.Context, userID int64, limit int) ([]model.Bet, error) {
	var out []model.Bet
	for i := len(t.m.bets) - 1; i >= 0 && len(out) < limit; i-- {
		if t.m.bets[i].UserID == userID {
			out = append(out, *t.m.bets[i])
		}
	}
	return out, nil
}

func (t *memTx) GetWallet(_ context.Context, userID int64, _ LockMode) (*model.Wallet, error) {
	w, ok := t.m.wallets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (t *memTx) InsertWallet(_ context.Context, w *model.Wallet) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.m.wallets[w.UserID]; ok {
		return ErrDuplicate
	}
	w.UpdatedAt = w.CreatedAt
	cp := *w
	t.m.wallets[w.UserID] = &cp
	t.undo = append(t.undo, func() { delete(t.m.wallets, cp.UserID) })
	return nil
}

func (t *memTx) UpdateWalletBalance(_ context.Context, userID, balance, expectVersion, now int64) error {
	if err := t.write(); err != nil {
		return err
	}
	w, ok := t.m.wallets[userID]
	if !ok || w.Version != expectVersion {
		return ErrVersionConflict
	}
	if balance < 0 {
		return fmt.Errorf("store: negative balance %d for user %d", balance, userID)
	}
	prev := *w
	w.Balance, w.Version, w.UpdatedAt = balance, expectVersion+1, now
	t.undo = append(t.undo, func() { *w = prev })
	return nil
}

func (t *memTx) InsertLedger(_ context.Context, l *model.WalletLedger) error {
	if err := t.write(); err != nil {
		return err
	}
	l.ID = t.nextID()
	if l.BizTypeStr == "" {
		l.BizTypeStr = model.BizTypeName(l.BizType)
	}
	t.m.ledger = append(t.m.ledger, *l)
	t.undo = append(t.undo, func() { t.m.ledger = t.m.ledger[:len(t.m.ledger)-1] })
	return nil
}

func (t *memTx) ListLedger(_ context.Context, userID int64, limit int) ([]model.WalletLedger, error) {
	var out []model.WalletLedger
	for i := len(t.m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if t.m.ledger[i].UserID == userID {
			out = append(out, t.m.ledger[i])
		}
	}
	return out, nil
}

func (t *memTx) InsertSettlementLog(_ context.Context, l *model.SettlementLog) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.m.settlements[l.RoundID]; ok {
		return ErrDuplicate
	}
	l.ID = t.nextID()
	cp := *l
	t.m.settlements[l.RoundID] = &cp
	t.undo = append(t.undo, func() { delete(t.m.settlements, cp.RoundID) })
	return nil
}

func (t *memTx) UpdateSettlementTotals(_ context.Context, l *model.SettlementLog) error {
	if err := t.write(); err != nil {
		return err
	}
	cur, ok := t.m.settlements[l.RoundID]
	if !ok {
		return ErrNotFound
	}
	prev := *cur
	cur.TotalBets, cur.Winners, cur.TotalStake, cur.TotalPayout = l.TotalBets, l.Winners, l.TotalStake, l.TotalPayout
	t.undo = append(t.undo, func() { *cur = prev })
	return nil
}

func (t *memTx) GetSettlementLog(_ context.Context, roundID string) (*model.SettlementLog, error) {
	l, ok := t.m.settlements[roundID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (t *memTx) InsertOutbox(_ context.Context, o *model.Outbox) error {
	if err := t.write(); err != nil {
		return err
	}
	o.ID = t.nextID()
	o.Status = model.OutboxPending
	o.UpdatedAt = o.CreatedAt
	cp := *o
	t.m.outbox = append(t.m.outbox, &cp)
	t.undo = append(t.undo, func() { t.m.outbox = t.m.outbox[:len(t.m.outbox)-1] })
	return nil
}

func (t *memTx) ListOutboxPending(_ context.Context, limit int) ([]model.OutboxRow, error) {
	var out []model.OutboxRow
	for _, o := range t.m.outbox {
		if len(out) >= limit {
			break
		}
		if o.Status == model.OutboxPending && o.RetryCount < model.OutboxMaxRetry {
			out = append(out, model.OutboxRow{ID: o.ID, Topic: o.Topic, BizKey: o.BizKey, Payload: o.Payload, RetryCount: o.RetryCount})
		}
	}
	return out, nil
}

func (t *memTx) findOutbox(id int64) *model.Outbox {
	for _, o := range t.m.outbox {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (t *memTx) MarkOutboxSent(_ context.Context, id int64) error {
	if err := t.write(); err != nil {
		return err
	}
	o := t.findOutbox(id)
	if o == nil {
		return ErrNotFound
	}
	prev := *o
	o.Status = model.OutboxSent
	t.undo = append(t.undo, func() { *o = prev })
	return nil
}

func (t *memTx) MarkOutboxFailed(_ context.Context, id int64, lastError string) error {
	if err := t.write(); err != nil {
		return err
	}
	o := t.findOutbox(id)
	if o == nil {
		return ErrNotFound
	}
	prev := *o
	if o.RetryCount >= model.OutboxMaxRetry-1 {
		o.Status = model.OutboxFailed
	}
	o.RetryCount++
	o.LastError = lastError
	t.undo = append(t.undo, func() { *o = prev })
	return nil
}

func (t *memTx) InsertRoundEvent(_ context.Context, e *model.RoundEventAudit) error {
	if err := t.write(); err != nil {
		return err
	}
	e.ID = t.nextID()
	t.m.events = append(t.m.events, *e)
	t.undo = append(t.undo, func() { t.m.events = t.m.events[:len(t.m.events)-1] })
	return nil
}
