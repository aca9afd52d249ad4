package api

import (
	"strings"

	comhelper "color-server/common/helper"
	"color-server/common/logger"
	"color-server/internal/common/helper"
	"color-server/internal/common/response"

	beego "github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

// AdminController 运营接口，由 AdminAuthFilter 保护
type AdminController struct{ beego.Controller }

// ForceEnd POST /api/admin/rounds/:track/force_end?round_id=
// 立即封盘当前局；带 round_id 时只封该局，重复提交返回该局当前状态
func (c *AdminController) ForceEnd() {
	traceID := helper.GetTraceID(c.Ctx)
	roundID := strings.TrimSpace(c.Ctx.Input.Query("round_id"))
	r, err := deps.Admin.ForceEndRound(c.Ctx.Request.Context(), c.Ctx.Input.Param(":track"), roundID)
	if err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, toRoundView(r), traceID)
}

// RetrySettle POST /api/admin/rounds/:round_id/retry_settle
func (c *AdminController) RetrySettle() {
	traceID := helper.GetTraceID(c.Ctx)
	r, err := deps.Admin.RetrySettlement(c.Ctx.Request.Context(), c.Ctx.Input.Param(":round_id"))
	if err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, toRoundView(r), traceID)
}

// Broadcast POST /api/admin/broadcast
func (c *AdminController) Broadcast() {
	traceID := helper.GetTraceID(c.Ctx)
	req, err := helper.ParseJSON[helper.BroadcastRequest](c.Ctx)
	if err != nil {
		response.BadRequest(&c.Controller, err.Error(), traceID)
		return
	}
	if err := deps.Admin.Broadcast(c.Ctx.Request.Context(), req.Message, req.Data); err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, map[string]any{"queued": true}, traceID)
}

// AdjustWallet POST /api/admin/wallet/adjust
func (c *AdminController) AdjustWallet() {
	traceID := helper.GetTraceID(c.Ctx)
	req, err := helper.ParseJSON[helper.AdjustRequest](c.Ctx)
	if err != nil {
		response.BadRequest(&c.Controller, err.Error(), traceID)
		return
	}
	l, err := deps.Admin.AdjustWallet(c.Ctx.Request.Context(), req.UserID, req.Amount, req.Remark)
	if err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	logger.Info("wallet adjusted", zap.String("trace_id", traceID),
		zap.Int64("user_id", req.UserID), zap.Int64("amount", req.Amount))
	response.Success(&c.Controller, map[string]any{
		"ledger":          l,
		"balance":         l.AfterAmount,
		"balance_display": comhelper.FormatMinor(l.AfterAmount),
	}, traceID)
}
