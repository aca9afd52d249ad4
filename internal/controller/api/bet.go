package api

import (
	comhelper "color-server/common/helper"
	"color-server/common/logger"
	"color-server/internal/common/helper"
	"color-server/internal/common/response"
	"color-server/internal/middleware"
	"color-server/internal/model"
	"color-server/internal/service"

	beego "github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

type BetController struct{ beego.Controller }

// betView 下注展示结构，金额同时返回最小单位与两位小数字符串
type betView struct {
	model.Bet
	StakeDisplay  string `json:"stake_display"`
	PayoutDisplay string `json:"payout_display"`
	OutcomeName   string `json:"outcome_name"`
}

func toBetView(b model.Bet) betView {
	return betView{
		Bet:           b,
		StakeDisplay:  comhelper.FormatMinor(b.Stake),
		PayoutDisplay: comhelper.FormatMinor(b.Payout),
		OutcomeName:   model.OutcomeName(b.Outcome),
	}
}

func toBetViews(bets []model.Bet) []betView {
	out := make([]betView, 0, len(bets))
	for _, b := range bets {
		out = append(out, toBetView(b))
	}
	return out
}

// Bet POST /api/bet
// 幂等键可选；同一用户同一幂等键重复提交返回首次结果，并发重复返回 202
func (c *BetController) Bet() {
	traceID := helper.GetTraceID(c.Ctx)
	uid, ok := middleware.UserID(c.Ctx)
	if !ok {
		response.Error(&c.Controller, 401, response.CodeUnauthorized, traceID)
		return
	}
	req, err := helper.ParseBet(c.Ctx)
	if err != nil {
		response.BadRequest(&c.Controller, err.Error(), traceID)
		return
	}

	out, err := deps.Bets.PlaceBet(c.Ctx.Request.Context(), service.PlaceBetInput{
		UserID:         uid,
		RoundID:        req.RoundID,
		Kind:           req.Kind,
		Value:          req.Value,
		Stake:          req.Stake,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if status, _ := response.Status(err); status >= 500 {
			logger.Error("place bet failed", zap.String("trace_id", traceID), zap.Int64("user_id", uid), zap.Error(err))
		}
		response.FromError(&c.Controller, err, traceID)
		return
	}
	if out.Replayed {
		c.Ctx.Output.Header("Idempotent-Replayed", "true")
	}
	response.Success(&c.Controller, map[string]any{
		"bet":             toBetView(out.Bet),
		"balance":         out.Balance,
		"balance_display": comhelper.FormatMinor(out.Balance),
		"replayed":        out.Replayed,
	}, traceID)
}

// MyBets GET /api/user/bets?limit=
func (c *BetController) MyBets() {
	traceID := helper.GetTraceID(c.Ctx)
	uid, ok := middleware.UserID(c.Ctx)
	if !ok {
		response.Error(&c.Controller, 401, response.CodeUnauthorized, traceID)
		return
	}
	bets, err := deps.Bets.UserBets(c.Ctx.Request.Context(), uid, helper.QueryInt(c.Ctx, "limit", 20))
	if err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, toBetViews(bets), traceID)
}
