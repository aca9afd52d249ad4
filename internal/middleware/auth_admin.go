package middleware

import (
	"crypto/subtle"
	"strings"

	"color-server/common/logger"
	"color-server/internal/common/helper"
	"color-server/internal/common/response"
	"color-server/internal/config"

	beegocontext "github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"
)

// AdminAuthFilter 管理员认证过滤器（静态 Token）
// 支持 X-Admin-Token 或 Authorization: Bearer <token>
func AdminAuthFilter(ctx *beegocontext.Context) {
	cfg := config.GetCurrent()
	traceID := helper.GetTraceID(ctx)

	if cfg == nil || !cfg.Auth.Admin.Enabled {
		logger.Debug("admin auth disabled, skip", zap.String("trace_id", traceID))
		return
	}

	token := strings.TrimSpace(ctx.Input.Header("X-Admin-Token"))
	if token == "" {
		if h := strings.TrimSpace(ctx.Input.Header("Authorization")); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if token == "" {
		logger.Warn("missing admin token", zap.String("trace_id", traceID))
		response.Abort(ctx, 401, response.CodeUnauthorized, "缺少管理员认证信息", traceID)
		return
	}
	want := cfg.Auth.Admin.Token
	if want == "" || subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
		logger.Warn("invalid admin token",
			zap.String("trace_id", traceID),
			zap.String("token_prefix", token[:min(len(token), 4)]+"..."))
		response.Abort(ctx, 401, response.CodeUnauthorized, "无效的管理员Token", traceID)
		return
	}

	ctx.Input.SetData("is_admin", true)
}
