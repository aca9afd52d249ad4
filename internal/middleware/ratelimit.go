package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"color-server/common/logger"
	"color-server/internal/common/helper"
	"color-server/internal/common/response"
	"color-server/internal/config"
	infrds "color-server/internal/infra/redis"

	beegocontext "github.com/beego/beego/v2/server/web/context"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitFilter 按用户限流，需挂在 UserAuthFilter 之后
// Redis 不可用时跳过（降级）
func RateLimitFilter(ctx *beegocontext.Context) {
	cfg := config.GetCurrent()
	if cfg == nil || !cfg.RateLimit.Enabled || cfg.RateLimit.ByUser.RequestsPerSecond <= 0 {
		return
	}
	traceID := helper.GetTraceID(ctx)
	rdb := infrds.Client()
	if rdb == nil {
		logger.Warn("redis not available, skip rate limit", zap.String("trace_id", traceID))
		return
	}
	uid, ok := UserID(ctx)
	if !ok {
		return
	}

	window := cfg.RateLimit.ByUser.WindowSeconds
	if window <= 0 {
		window = 1
	}
	limit := cfg.RateLimit.ByUser.RequestsPerSecond * window
	key := infrds.RateLimitUserKey(strconv.FormatInt(uid, 10))
	if !checkRateLimit(ctx.Request.Context(), rdb, key, limit, window) {
		logger.Warn("user rate limit exceeded", zap.String("trace_id", traceID), zap.Int64("user_id", uid))
		response.Abort(ctx, 429, response.CodeRateLimitExceeded, "", traceID)
	}
}

// checkRateLimit 滑动窗口：Sorted Set 以请求时间为分值
func checkRateLimit(ctx context.Context, rdb *redis.Client, key string, limit int, windowSeconds int) bool {
	now := time.Now()
	windowStart := now.Add(-time.Duration(windowSeconds) * time.Second).UnixMilli()

	pipe := rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCount(ctx, key, strconv.FormatInt(windowStart, 10), "+inf")
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d_%s", now.UnixNano(), uuid.NewString()[:8]),
	})
	pipe.Expire(ctx, key, time.Duration(windowSeconds+10)*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("rate limit check failed", zap.Error(err))
		return true
	}
	count, err := countCmd.Result()
	if err != nil {
		logger.Warn("rate limit count failed", zap.Error(err))
		return true
	}
	return count < int64(limit)
}
