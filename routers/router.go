package routers

import (
	"color-server/internal/config"
	"color-server/internal/controller/api"
	"color-server/internal/metrics"
	"color-server/internal/middleware"

	beego "github.com/beego/beego/v2/server/web"
)

// Register 注册HTTP路由与全局过滤器，需在 api.Bind 之后调用
func Register(cfg *config.Config) {
	// 全局过滤器（按执行顺序）
	beego.InsertFilterChain("/*", middleware.RecoveryChain)
	beego.InsertFilter("/*", beego.BeforeRouter, middleware.RequestIDFilter)
	beego.InsertFilter("/*", beego.BeforeExec, metrics.HTTPMetricsFilter)
	beego.InsertFilter("/*", beego.FinishRouter, metrics.HTTPMetricsAfter, beego.WithReturnOnOutput(false))

	// 健康检查（无需认证）
	beego.Router("/healthz", &api.HealthController{}, "get:Healthz")
	beego.Router("/readyz", &api.HealthController{}, "get:Readyz")

	// ========== 公共查询 ==========
	beego.Router("/api/rounds/current", &api.RoundController{}, "get:Current")
	beego.Router("/api/rounds/:track/history", &api.RoundController{}, "get:History")
	beego.Router("/api/rounds/:round_id", &api.RoundController{}, "get:Get")
	beego.Router("/api/rounds/:round_id/bets", &api.RoundController{}, "get:Bets")

	// ========== 用户 API（JWT / 演示模式 X-User-Id） ==========
	beego.InsertFilter("/api/bet", beego.BeforeExec, middleware.UserAuthFilter)
	beego.InsertFilter("/api/user/*", beego.BeforeExec, middleware.UserAuthFilter)
	if cfg != nil && cfg.RateLimit.Enabled {
		beego.InsertFilter("/api/bet", beego.BeforeExec, middleware.RateLimitFilter)
	}
	beego.Router("/api/bet", &api.BetController{}, "post:Bet")
	beego.Router("/api/user/bets", &api.BetController{}, "get:MyBets")
	beego.Router("/api/user/balance", &api.UserController{}, "get:Balance")
	beego.Router("/api/user/ledger", &api.UserController{}, "get:Ledger")

	// ========== 管理 API ==========
	if cfg != nil && cfg.Auth.Admin.Enabled {
		beego.InsertFilter("/api/admin/*", beego.BeforeExec, middleware.AdminAuthFilter)
	}
	beego.Router("/api/admin/rounds/:track/force_end", &api.AdminController{}, "post:ForceEnd")
	beego.Router("/api/admin/rounds/:round_id/retry_settle", &api.AdminController{}, "post:RetrySettle")
	beego.Router("/api/admin/broadcast", &api.AdminController{}, "post:Broadcast")
	beego.Router("/api/admin/wallet/adjust", &api.AdminController{}, "post:AdjustWallet")
}
