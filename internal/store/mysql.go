package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"color-server/internal/model"

	mysqlerr "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// MySQL 基于 sqlx 的实现，SQL 见 internal/model
type MySQL struct {
	db *sqlx.DB
}

func NewMySQL(db *sqlx.DB) *MySQL { return &MySQL{db: db} }

func (s *MySQL) DB() *sqlx.DB { return s.db }

func (s *MySQL) Ping(ctx context.Context) error {
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(c)
}

// WithTx 开启事务，fn 返回错误或 panic 时回滚
func (s *MySQL) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(&mysqlTx{exec: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *MySQL) View(ctx context.Context, fn func(tx Tx) error) error {
	return fn(&mysqlTx{exec: s.db})
}

type mysqlTx struct {
	exec sqlx.ExtContext
}

// translate 将驱动错误转换为包内哨兵错误，其余附带上下文
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var me *mysqlerr.MySQLError
	if stderrors.As(err, &me) && me.Number == 1062 {
		return errors.Wrap(ErrDuplicate, op)
	}
	return errors.Wrap(err, op)
}

func affected(n int64, err error, op string) error {
	if err != nil {
		return translate(err, op)
	}
	if n == 0 {
		return errors.Wrap(ErrVersionConflict, op)
	}
	return nil
}

func (t *mysqlTx) InsertRound(ctx context.Context, r *model.Round) error {
	return translate(model.InsertRound(ctx, t.exec, r), "insert round")
}

func (t *mysqlTx) GetRound(ctx context.Context, roundID string, lock LockMode) (*model.Round, error) {
	r, err := model.GetRound(ctx, t.exec, roundID, lock.clause())
	return r, translate(err, "get round")
}

func (t *mysqlTx) FindOpenRound(ctx context.Context, track string, lock LockMode) (*model.Round, error) {
	r, err := model.FindOpenRound(ctx, t.exec, track, lock.clause())
	return r, translate(err, "find open round")
}

func (t *mysqlTx) LatestRound(ctx context.Context, track string) (*model.Round, error) {
	r, err := model.LatestRound(ctx, t.exec, track)
	return r, translate(err, "latest round")
}

func (t *mysqlTx) ListUnfinishedRounds(ctx context.Context, track string) ([]model.Round, error) {
	list, err := model.ListUnfinishedRounds(ctx, t.exec, track)
	return list, translate(err, "list unfinished rounds")
}

func (t *mysqlTx) UpdateRound(ctx context.Context, r *model.Round, expectVersion int64) error {
	n, err := model.UpdateRound(ctx, t.exec, r, expectVersion)
	if err := affected(n, err, "update round"); err != nil {
		return err
	}
	r.Version = expectVersion + 1
	return nil
}

func (t *mysqlTx) ListRecentRounds(ctx context.Context, track string, limit int) ([]model.Round, error) {
	list, err := model.ListRecentRounds(ctx, t.exec, track, uint(limit))
	return list, translate(err, "list recent rounds")
}

func (t *mysqlTx) InsertBet(ctx context.Context, b *model.Bet) error {
	return translate(model.InsertBet(ctx, t.exec, b), "insert bet")
}

func (t *mysqlTx) GetBetByIdempotencyKey(ctx context.Context, userID int64, key string) (*model.Bet, error) {
	b, err := model.GetBetByIdempotencyKey(ctx, t.exec, userID, key)
	return b, translate(err, "get bet by idempotency key")
}

func (t *mysqlTx) ListBetsForRound(ctx context.Context, roundID string, lock LockMode) ([]model.Bet, error) {
	list, err := model.ListBetsByRound(ctx, t.exec, roundID, lock.clause())
	return list, translate(err, "list bets")
}

func (t *mysqlTx) CountUserBets(ctx context.Context, roundID string, userID int64, kind, value string) (int, error) {
	n, err := model.CountUserBets(ctx, t.exec, roundID, userID, kind, value)
	return n, translate(err, "count user bets")
}

func (t *mysqlTx) SettleBet(ctx context.Context, betID string, outcome int8, payout, settledAt int64) error {
	n, err := model.SettleBet(ctx, t.exec, betID, outcome, payout, settledAt)
	return affected(n, err, "settle bet")
}

func (t *mysqlTx) RoundVolume(ctx context.Context, roundID string) (int64, int64, error) {
	c, s, err := model.RoundVolume(ctx, t.exec, roundID)
	return c, s, translate(err, "round volume")
}

func (t *mysqlTx) ListUserBets(ctx context.Context, userID int64, limit int) ([]model.Bet, error) {
	list, err := model.ListUserBets(ctx, t.exec, userID, limit)
	return list, translate(err, "list user bets")
}

func (t *mysqlTx) GetWallet(ctx context.Context, userID int64, lock LockMode) (*model.Wallet, error) {
	w, err := model.GetWallet(ctx, t.exec, userID, lock.clause())
	return w, translate(err, "get wallet")
}

func (t *mysqlTx) InsertWallet(ctx context.Context, w *model.Wallet) error {
	return translate(model.InsertWallet(ctx, t.exec, w), "insert wallet")
}

func (t *mysqlTx) UpdateWalletBalance(ctx context.Context, userID, balance, expectVersion, now int64) error {
	n, err := model.UpdateWalletBalance(ctx, t.exec, userID, balance, expectVersion, now)
	return affected(n, err, "update wallet balance")
}

func (t *mysqlTx) InsertLedger(ctx context.Context, l *model.WalletLedger) error {
	return translate(model.InsertLedger(ctx, t.exec, l), "insert ledger")
}

func (t *mysqlTx) ListLedger(ctx context.Context, userID int64, limit int) ([]model.WalletLedger, error) {
	list, err := model.ListLedger(ctx, t.exec, userID, uint(limit))
	return list, translate(err, "list ledger")
}

func (t *mysqlTx) InsertSettlementLog(ctx context.Context, l *model.SettlementLog) error {
	return translate(model.CreateSettlementLog(ctx, t.exec, l), "insert settlement log")
}

func (t *mysqlTx) UpdateSettlementTotals(ctx context.Context, l *model.SettlementLog) error {
	return translate(model.UpdateSettlementTotals(ctx, t.exec, l), "update settlement totals")
}

func (t *mysqlTx) GetSettlementLog(ctx context.Context, roundID string) (*model.SettlementLog, error) {
	l, err := model.GetSettlementLog(ctx, t.exec, roundID)
	return l, translate(err, "get settlement log")
}

func (t *mysqlTx) InsertOutbox(ctx context.Context, o *model.Outbox) error {
	return translate(model.InsertOutbox(ctx, t.exec, o), "insert outbox")
}

func (t *mysqlTx) ListOutboxPending(ctx context.Context, limit int) ([]model.OutboxRow, error) {
	list, err := model.ListOutboxPending(ctx, t.exec, limit)
	return list, translate(err, "list outbox")
}

func (t *mysqlTx) MarkOutboxSent(ctx context.Context, id int64) error {
	return translate(model.MarkOutboxSent(ctx, t.exec, id), "mark outbox sent")
}

func (t *mysqlTx) MarkOutboxFailed(ctx context.Context, id int64, lastError string) error {
	return translate(model.MarkOutboxFailed(ctx, t.exec, id, lastError), "mark outbox failed")
}

func (t *mysqlTx) InsertRoundEvent(ctx context.Context, e *model.RoundEventAudit) error {
	return translate(model.InsertRoundEvent(ctx, t.exec, e), "insert round event")
}
