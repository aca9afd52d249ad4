package middleware

import (
	"errors"
	"runtime/debug"

	"color-server/common/logger"
	"color-server/internal/common/helper"
	"color-server/internal/common/response"

	beego "github.com/beego/beego/v2/server/web"
	beegocontext "github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"
)

// RecoveryChain 捕获控制器中未处理的 panic，防止进程崩溃
// beego 的 StopRun 同样以 panic 实现，需要原样抛出
func RecoveryChain(next beego.FilterFunc) beego.FilterFunc {
	return func(ctx *beegocontext.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, beego.ErrAbort) {
				panic(rec)
			}
			traceID := helper.GetTraceID(ctx)
			logger.Error("panic recovered",
				zap.String("trace_id", traceID),
				zap.String("method", ctx.Request.Method),
				zap.String("path", ctx.Request.URL.Path),
				zap.Any("error", rec),
				zap.String("stack", string(debug.Stack())))
			if !ctx.ResponseWriter.Started {
				response.Abort(ctx, 500, response.CodeSystemError, "", traceID)
			}
		}()
		next(ctx)
	}
}
