package service

import (
	"context"

	"color-server/common"
	"color-server/common/logger"
	"color-server/internal/model"
	"color-server/internal/state"
	"color-server/internal/store"
)

// Outbox 主题，RocketMQ 与 Redis 频道同名
const (
	TopicRoundOpened  = "round_opened"
	TopicRoundLocked  = "round_locked"
	TopicRoundDrawn   = "round_drawn"
	TopicRoundSettled = "round_settled"
	TopicBetPlaced    = "bet_placed"
	TopicBroadcast    = "broadcast"
)

// Topics 所有对外主题
func Topics() []string {
	return []string{TopicRoundOpened, TopicRoundLocked, TopicRoundDrawn, TopicRoundSettled, TopicBetPlaced, TopicBroadcast}
}

var eventTopic = map[string]string{
	state.EvtLock:   TopicRoundLocked,
	state.EvtDraw:   TopicRoundDrawn,
	state.EvtSettle: TopicRoundSettled,
}

const evtOpen = "open"

// emit 在当前事务内写入 outbox，payload 统一带 event 字段
func emit(ctx context.Context, tx store.Tx, topic, bizKey string, payload map[string]any, now int64) error {
	payload["event"] = topic
	if tid := logger.GetTraceID(ctx); tid != "" {
		payload["trace_id"] = tid
	}
	body, err := common.JsonMarshalToString(payload)
	if err != nil {
		return err
	}
	return tx.InsertOutbox(ctx, &model.Outbox{Topic: topic, BizKey: bizKey, Payload: body, CreatedAt: now})
}

// audit 写状态机审计
func audit(ctx context.Context, tx store.Tx, r *model.Round, evt, prev, operator, source string, payload map[string]any, now int64) error {
	e := &model.RoundEventAudit{
		RoundID:   r.RoundID,
		Track:     r.Track,
		Event:     evt,
		PrevState: prev,
		NextState: r.StateName(),
		Operator:  operator,
		Source:    source,
		TraceID:   logger.GetTraceID(ctx),
		CreatedAt: now,
	}
	if len(payload) > 0 {
		s, err := common.JsonMarshalToString(payload)
		if err != nil {
			return err
		}
		e.Payload = s
	}
	return tx.InsertRoundEvent(ctx, e)
}

// roundPayload 对局事件公共字段
func roundPayload(r *model.Round) map[string]any {
	p := map[string]any{
		"round_id":  r.RoundID,
		"track":     r.Track,
		"period":    r.Period,
		"state":     r.StateName(),
		"open_time": r.OpenTime,
		"lock_time": r.LockTime,
	}
	if res, ok := r.Result(); ok {
		p["result"] = res
	}
	return p
}
