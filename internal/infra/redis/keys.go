package redis

import "strconv"

// Redis Key 定义与构造器，统一管理避免散落的魔法字符串

const (
	// PrefixBetIdemResult 投注幂等结果缓存，值为首次成功的注单 JSON
	PrefixBetIdemResult = "color:bet:idem:result:"
	// PrefixBetIdemLock 投注幂等进行中锁（SETNX + TTL）
	PrefixBetIdemLock = "color:bet:idem:lock:"

	// PrefixRoundSnapshot 赛道当前局快照
	PrefixRoundSnapshot = "color:round:snapshot:"
	// PrefixRoundResult 开奖结果缓存
	PrefixRoundResult = "color:round:result:"

	// PrefixSchedLeader 赛道调度主节点租约
	PrefixSchedLeader = "color:sched:leader:"

	// PrefixEvents pub/sub 事件频道
	PrefixEvents = "color:events:"

	// PrefixRateLimitUser 用户限流滑动窗口
	PrefixRateLimitUser = "color:ratelimit:user:"
)

// IdemResultKey 形如：color:bet:idem:result:{user_id}:{idempotency_key}
func IdemResultKey(userID int64, k string) string {
	return PrefixBetIdemResult + strconv.FormatInt(userID, 10) + ":" + k
}

// IdemLockKey 形如：color:bet:idem:lock:{user_id}:{idempotency_key}
func IdemLockKey(userID int64, k string) string {
	return PrefixBetIdemLock + strconv.FormatInt(userID, 10) + ":" + k
}

// RoundSnapshotKey 形如：color:round:snapshot:{track}
func RoundSnapshotKey(track string) string { return PrefixRoundSnapshot + track }

// RoundResultKey 形如：color:round:result:{round_id}
func RoundResultKey(roundID string) string { return PrefixRoundResult + roundID }

// SchedLeaderKey 形如：color:sched:leader:{track}
func SchedLeaderKey(track string) string { return PrefixSchedLeader + track }

// EventChannel 形如：color:events:{topic}
func EventChannel(topic string) string { return PrefixEvents + topic }

// RateLimitUserKey 形如：color:ratelimit:user:{user_id}
func RateLimitUserKey(userID string) string { return PrefixRateLimitUser + userID }
