package api

import (
	"strings"

	"color-server/internal/common/helper"
	"color-server/internal/common/response"
	"color-server/internal/model"
	"color-server/internal/state"

	beego "github.com/beego/beego/v2/server/web"
)

// RoundController 对局查询：当前局快照、历史开奖、单局详情与下注列表
type RoundController struct {
	beego.Controller
}

type roundView struct {
	model.Round
	StateName string `json:"state_name"`
}

type roundDetail struct {
	roundView
	Settlement *model.SettlementLog `json:"settlement,omitempty"`
}

func toRoundView(r *model.Round) roundView {
	return roundView{Round: *r, StateName: r.StateName()}
}

// Current GET /api/rounds/current
func (c *RoundController) Current() {
	traceID := helper.GetTraceID(c.Ctx)
	snaps, err := deps.Rounds.Snapshot(c.Ctx.Request.Context())
	if err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, snaps, traceID)
}

// History GET /api/rounds/:track/history?limit=
func (c *RoundController) History() {
	traceID := helper.GetTraceID(c.Ctx)
	track := strings.TrimSpace(c.Ctx.Input.Param(":track"))
	rounds, err := deps.Rounds.History(c.Ctx.Request.Context(), track, helper.QueryInt(c.Ctx, "limit", 20))
	if err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	out := make([]roundView, 0, len(rounds))
	for i := range rounds {
		out = append(out, toRoundView(&rounds[i]))
	}
	response.Success(&c.Controller, out, traceID)
}

// Get GET /api/rounds/:round_id
// 已结算的对局附带结算汇总
func (c *RoundController) Get() {
	traceID := helper.GetTraceID(c.Ctx)
	ctx := c.Ctx.Request.Context()
	r, err := deps.Rounds.Get(ctx, c.Ctx.Input.Param(":round_id"))
	if err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	view := roundDetail{roundView: toRoundView(r)}
	if r.State >= state.CodeSettled {
		if view.Settlement, err = deps.Settle.Summary(ctx, r.RoundID); err != nil {
			response.FromError(&c.Controller, err, traceID)
			return
		}
	}
	response.Success(&c.Controller, view, traceID)
}

// Bets GET /api/rounds/:round_id/bets
func (c *RoundController) Bets() {
	traceID := helper.GetTraceID(c.Ctx)
	roundID := c.Ctx.Input.Param(":round_id")
	if _, err := deps.Rounds.Get(c.Ctx.Request.Context(), roundID); err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	bets, err := deps.Bets.ListBetsForRound(c.Ctx.Request.Context(), roundID)
	if err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, toBetViews(bets), traceID)
}
