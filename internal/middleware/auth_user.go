package middleware

import (
	"errors"

	"color-server/common/logger"
	"color-server/internal/auth"
	"color-server/internal/common/helper"
	"color-server/internal/common/response"
	"color-server/internal/config"

	beegocontext "github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"
)

const ctxUserID = "user_id"

// UserAuthFilter 用户认证：演示模式读取 X-User-Id，否则校验 JWT
func UserAuthFilter(ctx *beegocontext.Context) {
	cfg := config.GetCurrent()
	traceID := helper.GetTraceID(ctx)
	if cfg == nil {
		response.Abort(ctx, 503, response.CodeServiceUnavailable, "", traceID)
		return
	}

	if cfg.Auth.DemoMode {
		if h := ctx.Input.Header("X-User-Id"); h != "" {
			uid, err := auth.ParseDemoUser(h)
			if err != nil {
				response.Abort(ctx, 400, response.CodeBadRequest, err.Error(), traceID)
				return
			}
			ctx.Input.SetData(ctxUserID, uid)
			ctx.Input.SetData("demo_mode", true)
			logger.Debug("demo mode authentication", zap.String("trace_id", traceID), zap.Int64("user_id", uid))
			return
		}
	}

	claims, err := auth.NewVerifier(cfg.Auth.JWT.Secret, cfg.Auth.JWT.Issuer).Verify(ctx.Input.Header("Authorization"))
	if err != nil {
		logger.Warn("user authentication failed", zap.String("trace_id", traceID), zap.Error(err))
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			response.Abort(ctx, 401, response.CodeTokenExpired, "", traceID)
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidTokenFormat):
			response.Abort(ctx, 401, response.CodeInvalidToken, "", traceID)
		default:
			response.Abort(ctx, 401, response.CodeUnauthorized, "", traceID)
		}
		return
	}
	ctx.Input.SetData(ctxUserID, claims.UserID)
}

// UserID 读取认证过滤器注入的用户 ID
func UserID(ctx *beegocontext.Context) (int64, bool) {
	v, ok := ctx.Input.GetData(ctxUserID).(int64)
	return v, ok && v > 0
}
