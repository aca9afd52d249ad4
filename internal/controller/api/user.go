package api

import (
	comhelper "color-server/common/helper"
	"color-server/internal/common/helper"
	"color-server/internal/common/response"
	"color-server/internal/middleware"
	"color-server/internal/model"

	beego "github.com/beego/beego/v2/server/web"
)

// UserController 用户自助查询（只能查询自己的数据）
type UserController struct{ beego.Controller }

// Balance GET /api/user/balance
func (c *UserController) Balance() {
	traceID := helper.GetTraceID(c.Ctx)
	uid, ok := middleware.UserID(c.Ctx)
	if !ok {
		response.Error(&c.Controller, 401, response.CodeUnauthorized, traceID)
		return
	}
	w, err := deps.Wallets.Balance(c.Ctx.Request.Context(), uid)
	if err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, map[string]any{
		"user_id":         uid,
		"balance":         w.Balance,
		"balance_display": comhelper.FormatMinor(w.Balance),
	}, traceID)
}

type ledgerView struct {
	model.WalletLedger
	AmountDisplay string `json:"amount_display"`
}

// Ledger GET /api/user/ledger?limit=
func (c *UserController) Ledger() {
	traceID := helper.GetTraceID(c.Ctx)
	uid, ok := middleware.UserID(c.Ctx)
	if !ok {
		response.Error(&c.Controller, 401, response.CodeUnauthorized, traceID)
		return
	}
	rows, err := deps.Wallets.Ledger(c.Ctx.Request.Context(), uid, helper.QueryInt(c.Ctx, "limit", 20))
	if err != nil {
		response.FromError(&c.Controller, err, traceID)
		return
	}
	out := make([]ledgerView, 0, len(rows))
	for _, l := range rows {
		out = append(out, ledgerView{
			WalletLedger:  l,
			AmountDisplay: comhelper.FormatMinor(l.Amount),
		})
	}
	response.Success(&c.Controller, out, traceID)
}
