package api

import (
	"context"
	"time"

	infrds "color-server/internal/infra/redis"

	beego "github.com/beego/beego/v2/server/web"
)

// HealthController 提供健康检查端点：/healthz 与 /readyz
type HealthController struct{ beego.Controller }

// Healthz 存活探针：仅返回进程存活
func (c *HealthController) Healthz() {
	c.Ctx.Output.SetStatus(200)
	_ = c.Ctx.Output.Body([]byte("ok"))
}

// Readyz 就绪探针：存储不可用返回 503；Redis 为可选依赖，失败只体现在响应体
func (c *HealthController) Readyz() {
	ctx, cancel := context.WithTimeout(c.Ctx.Request.Context(), time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok", "redis": "ok"}
	status := 200
	if deps.Store == nil {
		checks["store"] = "not configured"
		status = 503
	} else if err := deps.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = 503
	}
	if infrds.Client() == nil {
		checks["redis"] = "disabled"
	} else if err := infrds.Ping(ctx, 500*time.Millisecond); err != nil {
		checks["redis"] = err.Error()
	}
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = checks
	_ = c.ServeJSON()
}
