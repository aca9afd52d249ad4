package middleware

import (
	"strings"

	"color-server/common/logger"

	"github.com/beego/beego/v2/server/web/context"
	"github.com/google/uuid"
)

// RequestIDFilter 为每个请求注入 X-Request-Id，并写入 request context 供服务层日志携带
func RequestIDFilter(ctx *context.Context) {
	id := strings.TrimSpace(ctx.Input.Header("X-Request-Id"))
	if id == "" || len(id) > 64 {
		id = uuid.NewString()
	}
	ctx.Input.SetData("trace_id", id)
	ctx.Output.Header("X-Request-Id", id)
	ctx.Request = ctx.Request.WithContext(logger.WithTraceID(ctx.Request.Context(), id))
}
